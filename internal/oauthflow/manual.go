package oauthflow

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// ManualConfig names the authorization_code exchange endpoint and client
// identity for a manual-mode provider (Claude Code, Gemini CLI,
// Antigravity), carried as provider channel_settings data the same way
// DeviceAuthConfig is for Codex.
type ManualConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RedirectURI  string
}

// ExchangeManualCode trades a callback authorization code for a token
// using the standard OAuth2 authorization_code grant (spec §4.7 "manual"
// mode), via golang.org/x/oauth2's Config.Exchange rather than a
// hand-rolled form post, mirroring the refresh path in
// internal/dispatch/auth.go's refreshIfNeeded.
func ExchangeManualCode(ctx context.Context, client *http.Client, cfg ManualConfig, code string) (*Result, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
		RedirectURL:  cfg.RedirectURI,
	}
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	return &Result{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}, nil
}
