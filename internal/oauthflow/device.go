package oauthflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// DeviceAuthConfig names the upstream endpoints and client identity for a
// device-flow provider (Codex), grounded on the teacher's Qwen device-flow
// auth client (internal/auth/qwen/qwen_auth.go): a device-authorization
// endpoint, a token endpoint, and a client_id/scope pair, all carried as
// provider channel_settings data rather than hardcoded per spec §9(iii)'s
// "treat as data, not code" guidance generalized to OAuth endpoints.
type DeviceAuthConfig struct {
	DeviceAuthURL string
	TokenURL      string
	ClientID      string
	Scope         string
}

// deviceCodeResponse is the standard RFC 8628 device authorization
// response shape.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// RequestDeviceCode starts an RFC 8628 device authorization grant upstream
// and returns the device_code/user_code pair the caller presents to the
// end user.
func RequestDeviceCode(ctx context.Context, client *http.Client, cfg DeviceAuthConfig) (*deviceCodeResponse, error) {
	form := url.Values{}
	form.Set("client_id", cfg.ClientID)
	if cfg.Scope != "" {
		form.Set("scope", cfg.Scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.DeviceAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, gwerr.New(gwerr.UpstreamStatus, fmt.Sprintf("device authorization failed: %s", string(body))).WithStatus(resp.StatusCode)
	}

	var out deviceCodeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamParse, err)
	}
	if out.DeviceCode == "" {
		return nil, gwerr.New(gwerr.UpstreamParse, "device authorization response missing device_code")
	}
	return &out, nil
}

// PollOnce makes a single RFC 8628 token-poll attempt, used by the
// /oauth/callback handler (spec §4.7: "Immediate GET .../callback?state=S
// returns 409 authorization_pending"), rather than blocking server-side
// for the whole device-flow window. intervalSec is the upstream-advertised
// poll interval (RFC 8628 "interval", defaulted upstream if the device
// authorization response omitted it); it is surfaced on the
// AuthorizationPending error via WithRetry so the HTTP layer can emit
// both a Retry-After header and a retry_after body field, per spec §4.7
// scenario 5 ("returns 409 authorization_pending: retry after 5s").
func PollOnce(ctx context.Context, client *http.Client, cfg DeviceAuthConfig, deviceCode string, intervalSec int) (*Result, error) {
	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:device_code")
	form.Set("client_id", cfg.ClientID)
	form.Set("device_code", deviceCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errBody)
		switch errBody.Error {
		case "authorization_pending", "slow_down":
			return nil, gwerr.New(gwerr.AuthorizationPending, "authorization_pending").WithRetry(intervalSec)
		default:
			return nil, gwerr.New(gwerr.UpstreamStatus, "device token exchange failed: "+string(body)).WithStatus(resp.StatusCode)
		}
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamParse, err)
	}
	return &Result{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}
