package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestWithRefreshedTokenUpdatesAccessAndExpiryOnly(t *testing.T) {
	secret := `{"ClaudeCode":{"access_token":"old-access","refresh_token":"old-refresh","token_type":"Bearer","expiry":"2020-01-01T00:00:00Z","client_id":"cid"}}`
	cred := Credential{ID: 7, SecretJSON: json.RawMessage(secret)}

	newExpiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	updated, err := cred.WithRefreshedToken("new-access", "", newExpiry)
	if err != nil {
		t.Fatalf("WithRefreshedToken: %v", err)
	}

	if updated.SecretDialect() != "ClaudeCode" {
		t.Fatalf("expected dialect preserved, got %q", updated.SecretDialect())
	}

	var payload struct {
		AccessToken  string    `json:"access_token"`
		RefreshToken string    `json:"refresh_token"`
		ClientID     string    `json:"client_id"`
		Expiry       time.Time `json:"expiry"`
	}
	if err := updated.SecretPayload(&payload); err != nil {
		t.Fatalf("SecretPayload: %v", err)
	}
	if payload.AccessToken != "new-access" {
		t.Fatalf("expected access_token updated, got %q", payload.AccessToken)
	}
	if payload.RefreshToken != "old-refresh" {
		t.Fatalf("expected refresh_token left untouched when not rotated, got %q", payload.RefreshToken)
	}
	if payload.ClientID != "cid" {
		t.Fatalf("expected unrelated fields preserved, got %q", payload.ClientID)
	}
	if !payload.Expiry.Equal(newExpiry) {
		t.Fatalf("expected expiry updated to %v, got %v", newExpiry, payload.Expiry)
	}
}

func TestWithRefreshedTokenRotatesRefreshTokenWhenProvided(t *testing.T) {
	secret := `{"GeminiCLI":{"access_token":"old","refresh_token":"old-refresh"}}`
	cred := Credential{ID: 1, SecretJSON: json.RawMessage(secret)}

	updated, err := cred.WithRefreshedToken("new-access", "new-refresh", time.Now())
	if err != nil {
		t.Fatalf("WithRefreshedToken: %v", err)
	}
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := updated.SecretPayload(&payload); err != nil {
		t.Fatalf("SecretPayload: %v", err)
	}
	if payload.RefreshToken != "new-refresh" {
		t.Fatalf("expected rotated refresh_token, got %q", payload.RefreshToken)
	}
}

func TestReplaceCredentialUpdatesOnlyMatchingID(t *testing.T) {
	cfg := &Config{Credentials: []Credential{
		{ID: 1, Name: "a"},
		{ID: 2, Name: "b"},
	}}
	ok := cfg.ReplaceCredential(Credential{ID: 2, Name: "b-updated"})
	if !ok {
		t.Fatal("expected ReplaceCredential to find id 2")
	}
	if cfg.Credentials[0].Name != "a" || cfg.Credentials[1].Name != "b-updated" {
		t.Fatalf("unexpected credentials after replace: %+v", cfg.Credentials)
	}
}

func TestReplaceCredentialMissingIDReturnsFalse(t *testing.T) {
	cfg := &Config{Credentials: []Credential{{ID: 1}}}
	if cfg.ReplaceCredential(Credential{ID: 99}) {
		t.Fatal("expected false for a non-existent credential id")
	}
}
