package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
	"github.com/router-for-me/llmgateway/internal/oauthflow"
	"github.com/router-for-me/llmgateway/internal/route"
)

// handleOAuthStart implements GET /{provider}/oauth (spec §4.7): device
// mode kicks off an RFC 8628 device-authorization request upstream
// immediately, so a misconfigured client_id surfaces before the caller is
// told to poll; manual mode mints an authorize_url for the caller (or
// browser) to visit.
func (s *Server) handleOAuthStart(c *gin.Context, class route.Classification) {
	snap := s.deps.Snapshots.Current()
	p, ok := snap.Provider(class.Provider)
	if !ok {
		writeError(c, gwerr.New(gwerr.UnknownProvider, "unknown provider "+class.Provider))
		return
	}

	if p.Kind == config.KindCodex {
		cfg := deviceConfigFor(p)
		pending, err := s.deps.OAuth.StartDevice(c.Request.Context(), http.DefaultClient, p.Name, cfg)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"mode":      "device",
			"state":     pending.State,
			"user_code": pending.UserCode,
			"auth_url":  pending.AuthURL,
		})
		return
	}

	pending, err := s.deps.OAuth.Start(p.Name, p.Kind, func(state string) string { return manualAuthURL(p, state) })
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":         "manual",
		"auth_url":     pending.AuthURL,
		"state":        pending.State,
		"redirect_uri": stringSetting(p, "redirect_uri"),
	})
}

// handleOAuthCallback implements GET /{provider}/oauth/callback (spec
// §4.7): device mode makes one poll attempt and returns
// authorization_pending until the upstream grants the token; manual mode
// accepts either ?code= or ?callback_url= (code takes precedence) and
// exchanges it for a token. Either path, once it resolves, persists the
// result as a new enabled credential.
func (s *Server) handleOAuthCallback(c *gin.Context, class route.Classification) {
	snap := s.deps.Snapshots.Current()
	p, ok := snap.Provider(class.Provider)
	if !ok {
		writeError(c, gwerr.New(gwerr.UnknownProvider, "unknown provider "+class.Provider))
		return
	}
	state := c.Query("state")

	if p.Kind == config.KindCodex {
		pend, err := s.deps.OAuth.Resolve(p.Name, state)
		if err != nil {
			writeError(c, err)
			return
		}
		result, err := s.deps.OAuth.PollDeviceUpstream(c.Request.Context(), http.DefaultClient, pend.State)
		if err != nil {
			writeError(c, err)
			return
		}
		cred, err := s.persistOAuthCredential(c.Request.Context(), p, codexSecretKey, codexSecretJSON{
			AccessToken:  result.AccessToken,
			RefreshToken: result.RefreshToken,
			Expiry:       result.Expiry,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "credential_id": cred.ID})
		return
	}

	pend, err := s.deps.OAuth.Resolve(p.Name, state)
	if err != nil {
		writeError(c, err)
		return
	}

	code := c.Query("code")
	if code == "" {
		if cbURL := c.Query("callback_url"); cbURL != "" {
			if u, perr := url.Parse(cbURL); perr == nil {
				code = u.Query().Get("code")
			}
		}
	}
	if code == "" {
		writeError(c, gwerr.New(gwerr.InvalidRequest, "missing authorization code"))
		return
	}

	mcfg := manualConfigFor(p)
	result, err := oauthflow.ExchangeManualCode(c.Request.Context(), http.DefaultClient, mcfg, code)
	if err != nil {
		writeError(c, err)
		return
	}
	s.deps.OAuth.Complete(pend.State, *result)

	cred, err := s.persistOAuthCredential(c.Request.Context(), p, providerSecretKey(p.Kind), manualSecretJSON{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    result.TokenType,
		Expiry:       result.Expiry,
		ClientID:     mcfg.ClientID,
		ClientSecret: mcfg.ClientSecret,
		TokenURL:     mcfg.TokenURL,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "credential_id": cred.ID})
}

// codexSecretKey is the SecretJSON wrapper key for device-flow (Codex)
// credentials, matching internal/dispatch/auth.go's deviceAuthSecret
// dialect name.
const codexSecretKey = "Codex"

// codexSecretJSON mirrors internal/dispatch/auth.go's unexported
// deviceAuthSecret field names; duplicated here (rather than exported
// from dispatch) because httpapi only ever needs to marshal it, never
// dispatch against it directly.
type codexSecretJSON struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// manualSecretJSON mirrors internal/dispatch/auth.go's unexported
// oauthSecret shape for the three manual-mode dialects.
type manualSecretJSON struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	TokenURL     string    `json:"token_url,omitempty"`
}

func providerSecretKey(kind config.ProviderKind) string {
	switch kind {
	case config.KindClaudeCode:
		return "ClaudeCode"
	case config.KindGeminiCLI:
		return "GeminiCLI"
	case config.KindAntigravity:
		return "Antigravity"
	default:
		return string(kind)
	}
}

// deviceConfigFor reads a Codex provider's device-authorization endpoint
// and client identity out of its channel_settings (spec §9(iii): treated
// as data, not code).
func deviceConfigFor(p config.Provider) oauthflow.DeviceAuthConfig {
	return oauthflow.DeviceAuthConfig{
		DeviceAuthURL: stringSetting(p, "device_auth_url"),
		TokenURL:      stringSetting(p, "token_url"),
		ClientID:      stringSetting(p, "client_id"),
		Scope:         stringSetting(p, "scope"),
	}
}

// manualConfigFor reads a manual-mode provider's authorization_code
// exchange endpoint and client identity out of its channel_settings.
func manualConfigFor(p config.Provider) oauthflow.ManualConfig {
	return oauthflow.ManualConfig{
		ClientID:     stringSetting(p, "client_id"),
		ClientSecret: stringSetting(p, "client_secret"),
		TokenURL:     stringSetting(p, "token_url"),
		RedirectURI:  stringSetting(p, "redirect_uri"),
	}
}

// manualAuthURL builds the browser-facing authorize_url for a manual-mode
// provider from its configured authorize_url base plus client identity.
func manualAuthURL(p config.Provider, state string) string {
	base := stringSetting(p, "authorize_url")
	v := url.Values{}
	v.Set("client_id", stringSetting(p, "client_id"))
	v.Set("redirect_uri", stringSetting(p, "redirect_uri"))
	v.Set("response_type", "code")
	v.Set("state", state)
	if scope := stringSetting(p, "scope"); scope != "" {
		v.Set("scope", scope)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + v.Encode()
}

func stringSetting(p config.Provider, key string) string {
	if v, ok := p.ChannelSettings[key].(string); ok {
		return v
	}
	return ""
}

// persistOAuthCredential wraps a freshly exchanged token into a
// config.Credential, appends it to the persisted config, and swaps the
// in-memory snapshot so the new credential is immediately selectable
// (spec §4.7: "on success it creates a credential").
func (s *Server) persistOAuthCredential(ctx context.Context, p config.Provider, secretKey string, secret any) (config.Credential, error) {
	payload, err := json.Marshal(secret)
	if err != nil {
		return config.Credential{}, gwerr.Wrap(gwerr.InvalidRequest, err)
	}
	wrapper, err := json.Marshal(map[string]json.RawMessage{secretKey: payload})
	if err != nil {
		return config.Credential{}, gwerr.Wrap(gwerr.InvalidRequest, err)
	}

	snap := s.deps.Snapshots.Current()
	cfg := *snap.Config()
	cfg.Credentials = append([]config.Credential(nil), cfg.Credentials...)

	now := time.Now()
	cred := config.Credential{
		ID:           nextCredentialID(cfg.Credentials),
		ProviderName: p.Name,
		SecretJSON:   wrapper,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	cfg.Credentials = append(cfg.Credentials, cred)

	if err := s.deps.Persisted.Save(ctx, &cfg); err != nil {
		return config.Credential{}, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	s.deps.Snapshots.Swap(&cfg)
	return cred, nil
}

func nextCredentialID(creds []config.Credential) int64 {
	ids := make([]int64, len(creds))
	for i, c := range creds {
		ids[i] = c.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) == 0 {
		return 1
	}
	return ids[len(ids)-1] + 1
}
