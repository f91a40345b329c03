// Package config holds the Configuration Snapshot (spec §2.1, §3, §6.2):
// an immutable in-memory view of global settings, providers, credentials,
// users and user keys, atomically swapped whenever the admin layer (or an
// on-disk edit, via the file watcher) mutates it.
package config

import (
	"encoding/json"
	"time"

	"github.com/tidwall/sjson"
)

// ProviderKind enumerates the built-in provider dialects plus "custom".
type ProviderKind string

const (
	KindOpenAI        ProviderKind = "openai"
	KindClaude        ProviderKind = "claude"
	KindAIStudio      ProviderKind = "aistudio"
	KindVertexExpress ProviderKind = "vertexexpress"
	KindVertex        ProviderKind = "vertex"
	KindGeminiCLI     ProviderKind = "geminicli"
	KindClaudeCode    ProviderKind = "claudecode"
	KindCodex         ProviderKind = "codex"
	KindAntigravity   ProviderKind = "antigravity"
	KindNvidia        ProviderKind = "nvidia"
	KindDeepSeek      ProviderKind = "deepseek"
	KindCustom        ProviderKind = "custom"
)

// BuiltinKinds lists every kind except KindCustom, the fixed 11 rows of
// the dispatch matrix in spec §9.
var BuiltinKinds = []ProviderKind{
	KindOpenAI, KindClaude, KindAIStudio, KindVertexExpress, KindVertex,
	KindGeminiCLI, KindClaudeCode, KindCodex, KindAntigravity, KindNvidia,
	KindDeepSeek,
}

// Provider is a named upstream target (spec §3).
type Provider struct {
	Name             string         `json:"name" yaml:"name"`
	Kind             ProviderKind   `json:"kind" yaml:"kind"`
	Enabled          bool           `json:"enabled" yaml:"enabled"`
	Builtin          bool           `json:"builtin" yaml:"builtin"`
	BaseURL          string         `json:"base_url" yaml:"base-url"`
	ChannelSettings  map[string]any `json:"channel_settings,omitempty" yaml:"channel-settings,omitempty"`
}

// DispatchOp is one entry of a custom provider's declared dispatch table
// (spec §4.3): "channel_settings.dispatch.ops".
type DispatchOp struct {
	Operation string `json:"operation" yaml:"operation"`
	Mode      string `json:"mode" yaml:"mode"` // "native" | "transform" | "unsupported"
	Target    string `json:"target,omitempty" yaml:"target,omitempty"`
}

// JSONParamMask returns the custom provider's json_param_mask entry, if any.
func (p Provider) JSONParamMask() []string {
	raw, ok := p.ChannelSettings["json_param_mask"]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, ok2 := raw.([]string); ok2 {
			return strs
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DispatchOps returns a custom provider's declared 20-entry dispatch list.
func (p Provider) DispatchOps() []DispatchOp {
	raw, ok := p.ChannelSettings["dispatch"]
	if !ok {
		return nil
	}
	dispatchMap, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	opsRaw, ok := dispatchMap["ops"]
	if !ok {
		return nil
	}
	opsList, ok := opsRaw.([]any)
	if !ok {
		return nil
	}
	out := make([]DispatchOp, 0, len(opsList))
	for _, item := range opsList {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		op := DispatchOp{}
		if v, ok := m["operation"].(string); ok {
			op.Operation = v
		}
		if v, ok := m["mode"].(string); ok {
			op.Mode = v
		}
		if v, ok := m["target"].(string); ok {
			op.Target = v
		}
		out = append(out, op)
	}
	return out
}

// ClaudeCode1MBetaHeaders returns the configured beta header tokens for
// claudecode 1M-context credentials. Treated as data, not code, per spec §9(iii).
func (p Provider) ClaudeCode1MBetaHeaders() []string {
	raw, ok := p.ChannelSettings["claude_1m_beta_headers"]
	if !ok {
		return []string{"context-1m-2025-08-07"}
	}
	items, ok := raw.([]any)
	if !ok {
		return []string{"context-1m-2025-08-07"}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Credential is a single upstream secret bound to a provider (spec §3).
// SecretJSON is a single-key wrapper, e.g. {"OpenAI": {"api_key": "..."}},
// whose key identifies the credential dialect.
type Credential struct {
	ID              int64           `json:"id" yaml:"id"`
	ProviderName    string          `json:"provider_name" yaml:"provider-name"`
	Name            string          `json:"name,omitempty" yaml:"name,omitempty"`
	SecretJSON      json.RawMessage `json:"secret_json" yaml:"secret-json"`
	Enabled         bool            `json:"enabled" yaml:"enabled"`
	CreatedAt       time.Time       `json:"created_at" yaml:"created-at"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"updated-at"`
	// Model availability flags used by the ClaudeCode dispatch rewrite (§4.3.3).
	EnableClaude1MSonnet  bool `json:"enable_claude_1m_sonnet,omitempty" yaml:"enable-claude-1m-sonnet,omitempty"`
	EnableClaude1MOpus    bool `json:"enable_claude_1m_opus,omitempty" yaml:"enable-claude-1m-opus,omitempty"`
	SupportsClaude1MSonnet bool `json:"supports_claude_1m_sonnet,omitempty" yaml:"supports-claude-1m-sonnet,omitempty"`
	SupportsClaude1MOpus   bool `json:"supports_claude_1m_opus,omitempty" yaml:"supports-claude-1m-opus,omitempty"`
}

// SecretDialect returns the single key of the SecretJSON wrapper, e.g. "OpenAI".
func (c Credential) SecretDialect() string {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(c.SecretJSON, &wrapper); err != nil {
		return ""
	}
	for k := range wrapper {
		return k
	}
	return ""
}

// SecretPayload unmarshals the inner secret payload into dst.
func (c Credential) SecretPayload(dst any) error {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(c.SecretJSON, &wrapper); err != nil {
		return err
	}
	for _, raw := range wrapper {
		return json.Unmarshal(raw, dst)
	}
	return nil
}

// WithRefreshedToken returns a copy of the credential with its stored
// access_token/refresh_token/expiry fields updated in place, leaving the
// wrapper's dialect key and every other field untouched. Used when a
// dispatch-time refresh of an OAuth-secret credential (ClaudeCode,
// GeminiCLI, Antigravity) succeeds, so the rotated token is persisted
// instead of being thrown away (spec §4.3 point 2: "a refreshed token is
// persisted"); refreshToken is left as-is when the upstream exchange did
// not rotate it.
func (c Credential) WithRefreshedToken(accessToken, refreshToken string, expiry time.Time) (Credential, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(c.SecretJSON, &wrapper); err != nil {
		return c, err
	}
	var dialect string
	var raw json.RawMessage
	for k, v := range wrapper {
		dialect, raw = k, v
		break
	}
	if dialect == "" {
		return c, nil
	}

	updated, err := sjson.SetBytes(raw, "access_token", accessToken)
	if err != nil {
		return c, err
	}
	if refreshToken != "" {
		if updated, err = sjson.SetBytes(updated, "refresh_token", refreshToken); err != nil {
			return c, err
		}
	}
	if updated, err = sjson.SetBytes(updated, "expiry", expiry.Format(time.RFC3339Nano)); err != nil {
		return c, err
	}
	wrapper[dialect] = updated

	out, err := json.Marshal(wrapper)
	if err != nil {
		return c, err
	}
	c.SecretJSON = out
	c.UpdatedAt = time.Now()
	return c, nil
}

// User is a local principal (spec §3).
type User struct {
	ID        int64     `json:"id" yaml:"id"`
	Username  string    `json:"username" yaml:"username"`
	CreatedAt time.Time `json:"created_at" yaml:"created-at"`
}

// UserKey is a hashed downstream API key bound to a User.
type UserKey struct {
	ID         int64     `json:"id" yaml:"id"`
	UserID     int64     `json:"user_id" yaml:"user-id"`
	HashedKey  string    `json:"hashed_key" yaml:"hashed-key"`
	Label      string    `json:"label,omitempty" yaml:"label,omitempty"`
	Enabled    bool      `json:"enabled" yaml:"enabled"`
	CreatedAt  time.Time `json:"created_at" yaml:"created-at"`
}

// Global holds process-wide settings (spec §6.2).
type Global struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	AdminKey             string `yaml:"admin-key"`
	DSN                  string `yaml:"dsn"`
	Proxy                string `yaml:"proxy"`
	EventRedactSensitive bool   `yaml:"event-redact-sensitive"`
	// UpstreamTimeoutSeconds bounds non-streaming upstream calls (§5); 0 means the default (120s) applies.
	UpstreamTimeoutSeconds int `yaml:"upstream-timeout-seconds"`
	// AttemptBudget bounds dispatch retries (§4.3, §9(i)); 0 means the default (4) applies.
	AttemptBudget int `yaml:"attempt-budget"`
}

// Config is the full, YAML-serialisable source of a Snapshot.
type Config struct {
	Global      Global       `yaml:"global"`
	Providers   []Provider   `yaml:"providers"`
	Credentials []Credential `yaml:"credentials"`
	Users       []User       `yaml:"users"`
	UserKeys    []UserKey    `yaml:"user-keys"`
}

// ReplaceCredential swaps in an updated Credential by id, leaving every
// other credential untouched. It reports whether a matching credential
// was found.
func (cfg *Config) ReplaceCredential(updated Credential) bool {
	for i, c := range cfg.Credentials {
		if c.ID == updated.ID {
			cfg.Credentials[i] = updated
			return true
		}
	}
	return false
}

// DefaultAttemptBudget is the implementation-defined small constant from
// spec §4.3 / §9(i).
const DefaultAttemptBudget = 4

// DefaultUpstreamTimeout is the default non-streaming upstream timeout
// from spec §5.
const DefaultUpstreamTimeout = 120 * time.Second

func (g Global) AttemptBudgetOrDefault() int {
	if g.AttemptBudget > 0 {
		return g.AttemptBudget
	}
	return DefaultAttemptBudget
}

func (g Global) UpstreamTimeoutOrDefault() time.Duration {
	if g.UpstreamTimeoutSeconds > 0 {
		return time.Duration(g.UpstreamTimeoutSeconds) * time.Second
	}
	return DefaultUpstreamTimeout
}
