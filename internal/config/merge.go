package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// placeholderPattern matches an unexpanded shell placeholder like
// "${ADMIN_KEY}" (spec §6.2: "placeholder strings ... that survive shell
// expansion are treated as unset").
var placeholderPattern = regexp.MustCompile(`^\$\{[A-Za-z_][A-Za-z0-9_]*\}$`)

// isPlaceholder reports whether a raw config value is an unexpanded
// ${NAME} placeholder and should be treated as if it were empty.
func isPlaceholder(v string) bool {
	return placeholderPattern.MatchString(strings.TrimSpace(v))
}

func clean(v string) string {
	if isPlaceholder(v) {
		return ""
	}
	return v
}

// EnvOverrides captures the subset of Global that environment variables
// may override (spec §6.2: "CLI > environment variables > persisted DB
// config").
type EnvOverrides struct {
	Host                 string
	Port                 int
	AdminKey             string
	DSN                  string
	Proxy                string
	EventRedactSensitive *bool
}

// LoadEnvOverrides reads the recognized environment variables.
func LoadEnvOverrides() EnvOverrides {
	var eo EnvOverrides
	eo.Host = clean(os.Getenv("GATEWAY_HOST"))
	if p := clean(os.Getenv("GATEWAY_PORT")); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			eo.Port = n
		}
	}
	eo.AdminKey = clean(os.Getenv("GATEWAY_ADMIN_KEY"))
	eo.DSN = clean(os.Getenv("GATEWAY_DSN"))
	eo.Proxy = clean(os.Getenv("GATEWAY_PROXY"))
	if v := clean(os.Getenv("GATEWAY_EVENT_REDACT_SENSITIVE")); v != "" {
		b := strings.EqualFold(v, "true") || v == "1"
		eo.EventRedactSensitive = &b
	}
	return eo
}

// CLIOverrides captures the subset of Global that command-line flags may
// override; it takes precedence over everything else.
type CLIOverrides struct {
	Host     string
	Port     int
	AdminKey string
	DSN      string
	Proxy    string
}

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8787
)

// Merge builds the effective Config by layering, from lowest to highest
// priority: persisted < env < cli, then writes the merged Global back to
// the persisted store so the next boot sees the resolved values (spec
// §6.2: "Startup merges CLI > environment variables > persisted DB
// config, and writes the merged value back").
func Merge(ctx context.Context, persisted PersistedStore, env EnvOverrides, cli CLIOverrides) (*Config, error) {
	cfg, err := persisted.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &Config{}
	}

	g := &cfg.Global
	applyIfSet(&g.Host, env.Host)
	applyIfSet(&g.Host, cli.Host)
	applyIntIfSet(&g.Port, env.Port)
	applyIntIfSet(&g.Port, cli.Port)
	applyIfSet(&g.AdminKey, env.AdminKey)
	applyIfSet(&g.AdminKey, cli.AdminKey)
	applyIfSet(&g.DSN, env.DSN)
	applyIfSet(&g.DSN, cli.DSN)
	applyIfSet(&g.Proxy, env.Proxy)
	applyIfSet(&g.Proxy, cli.Proxy)
	if env.EventRedactSensitive != nil {
		g.EventRedactSensitive = *env.EventRedactSensitive
	}

	if g.Host == "" {
		g.Host = defaultHost
	}
	if g.Port == 0 {
		g.Port = defaultPort
	}
	if g.DSN == "" {
		g.DSN = "sqlite://./data/gateway.db"
	}
	// EventRedactSensitive defaults to true (spec §6.2) unless it was ever
	// explicitly persisted or overridden above. We can't distinguish
	// "zero value" from "explicitly false" in a plain bool, so the
	// persisted store is expected to have already set this from its own
	// prior save; a brand-new Config (no providers, no prior save) is the
	// only case treated as "first boot" and gets the secure default.
	if env.EventRedactSensitive == nil && len(cfg.Providers) == 0 && len(cfg.Credentials) == 0 {
		g.EventRedactSensitive = true
	}

	if g.AdminKey == "" {
		key, err := generateAdminKey()
		if err != nil {
			return nil, fmt.Errorf("config: generate admin key: %w", err)
		}
		g.AdminKey = key
		log.Warnf("generated admin_key: %s (store this; it will not be logged again)", key)
	}

	seedBuiltinProviders(cfg)

	if err := persisted.Save(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyIfSet(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyIntIfSet(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// seedBuiltinProviders ensures every built-in provider kind has a
// corresponding Provider row on first boot (spec §3: "Built-in providers
// are seeded on first boot"). Seeding never overwrites an existing row
// for that kind's canonical name, and never deletes one either -- built-in
// providers can only be disabled, never removed, by the core.
func seedBuiltinProviders(cfg *Config) {
	existing := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		existing[p.Name] = true
	}
	for _, kind := range BuiltinKinds {
		name := string(kind)
		if existing[name] {
			continue
		}
		cfg.Providers = append(cfg.Providers, Provider{
			Name:    name,
			Kind:    kind,
			Enabled: false,
			Builtin: true,
			BaseURL: defaultBaseURL(kind),
		})
	}
}

// generateAdminKey mints a fresh admin key (spec §6.2: "generated and
// logged once if absent").
func generateAdminKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func defaultBaseURL(kind ProviderKind) string {
	switch kind {
	case KindOpenAI, KindCodex:
		return "https://api.openai.com"
	case KindClaude, KindClaudeCode:
		return "https://api.anthropic.com"
	case KindAIStudio:
		return "https://generativelanguage.googleapis.com"
	case KindVertexExpress, KindVertex:
		return "https://aiplatform.googleapis.com"
	case KindGeminiCLI, KindAntigravity:
		return "https://cloudcode-pa.googleapis.com"
	case KindNvidia:
		return "https://integrate.api.nvidia.com"
	case KindDeepSeek:
		return "https://api.deepseek.com"
	default:
		return ""
	}
}
