package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/router-for-me/llmgateway/internal/config"
)

func TestAuthenticateRefreshesExpiredOAuthTokenAndPersists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	secret := oauthSecret{
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Hour),
		TokenURL:     srv.URL,
	}
	raw, _ := json.Marshal(secret)
	wrapper, _ := json.Marshal(map[string]json.RawMessage{"ClaudeCode": raw})
	cred := config.Credential{ID: 42, SecretJSON: wrapper}

	var gotCredID int64
	var gotAccess, gotRefresh string
	persist := TokenPersister(func(ctx context.Context, credentialID int64, accessToken, refreshToken string, expiry time.Time) {
		gotCredID = credentialID
		gotAccess = accessToken
		gotRefresh = refreshToken
	})

	req, err := http.NewRequest(http.MethodPost, "https://example.invalid/v1/messages", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	if err := Authenticate(context.Background(), req, cred, persist); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if got := req.Header.Get("Authorization"); got != "Bearer new-access" {
		t.Fatalf("expected refreshed access token on request, got %q", got)
	}
	if gotCredID != 42 {
		t.Fatalf("expected persist called with credential id 42, got %d", gotCredID)
	}
	if gotAccess != "new-access" {
		t.Fatalf("expected persisted access token new-access, got %q", gotAccess)
	}
	if gotRefresh != "new-refresh" {
		t.Fatalf("expected persisted rotated refresh token, got %q", gotRefresh)
	}
}

func TestAuthenticateSkipsRefreshWhenTokenStillValid(t *testing.T) {
	secret := oauthSecret{
		AccessToken:  "still-good",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(time.Hour),
		TokenURL:     "https://example.invalid/token",
	}
	raw, _ := json.Marshal(secret)
	wrapper, _ := json.Marshal(map[string]json.RawMessage{"GeminiCLI": raw})
	cred := config.Credential{ID: 1, SecretJSON: wrapper}

	persisted := false
	persist := TokenPersister(func(ctx context.Context, credentialID int64, accessToken, refreshToken string, expiry time.Time) {
		persisted = true
	})

	req, _ := http.NewRequest(http.MethodPost, "https://example.invalid/v1/messages", nil)
	if err := Authenticate(context.Background(), req, cred, persist); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer still-good" {
		t.Fatalf("expected unrefreshed access token, got %q", got)
	}
	if persisted {
		t.Fatal("expected no persist call when the cached token is still valid")
	}
}
