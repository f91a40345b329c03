package dispatch

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jws"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// bearerSecret is the payload shape shared by every dialect that
// authenticates with a single static bearer token (OpenAI, Claude,
// Nvidia, DeepSeek, custom providers with a plain api_key).
type bearerSecret struct {
	APIKey string `json:"api_key"`
}

// googKeySecret is the payload shape for AI Studio / Vertex Express,
// which authenticate via a query-string or x-goog-api-key token rather
// than an Authorization header.
type googKeySecret struct {
	APIKey string `json:"api_key"`
}

// oauthSecret is the payload shape for manual-OAuth dialects (Claude
// Code, Gemini CLI, Antigravity): a refreshable access/refresh token
// pair obtained through internal/oauthflow.
type oauthSecret struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	ClientID     string    `json:"client_id,omitempty"`
	ClientSecret string    `json:"client_secret,omitempty"`
	TokenURL     string    `json:"token_url,omitempty"`
}

// deviceAuthSecret is the payload shape for device-flow dialects (Codex),
// which also carry a bearer access token but were obtained by polling
// rather than a redirect callback.
type deviceAuthSecret struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
}

// vertexServiceAccountSecret is the payload shape for full Vertex AI:
// a GCP service-account key, signed into a JWT bearer assertion and
// exchanged for an access token per Google's JWT-bearer OAuth flow.
type vertexServiceAccountSecret struct {
	ProjectID    string `json:"project_id"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// tokenCache memoizes exchanged Vertex access tokens per credential id so
// every request doesn't re-sign and re-exchange a fresh JWT.
type tokenCache struct {
	mu     sync.Mutex
	tokens map[int64]*oauth2.Token
}

var vertexTokenCache = &tokenCache{tokens: make(map[int64]*oauth2.Token)}

// TokenPersister writes a dispatch-time-refreshed OAuth token back
// through the Configuration Snapshot's write path (spec §4.3 point 2: "a
// refreshed token is persisted"), so the next dispatch doesn't reuse an
// already-consumed refresh token. Persistence is best-effort: a failure
// is logged by the implementation and does not fail the in-flight
// request, since the access token already obtained is still valid for
// this one call.
type TokenPersister func(ctx context.Context, credentialID int64, accessToken, refreshToken string, expiry time.Time)

// Authenticate injects the credential's auth material into the outbound
// upstream request, dispatching on the credential's secret dialect key
// (spec §3 Credential, §4.3 "credential-dialect auth injection"). persist
// may be nil; when set, it is invoked after a successful dispatch-time
// token refresh for the manual-OAuth dialects.
func Authenticate(ctx context.Context, req *http.Request, cred config.Credential, persist TokenPersister) error {
	switch cred.SecretDialect() {
	case "OpenAI", "Claude", "Nvidia", "DeepSeek", "Custom":
		var s bearerSecret
		if err := cred.SecretPayload(&s); err != nil {
			return gwerr.Wrap(gwerr.Unauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
		return nil

	case "AIStudio", "VertexExpress":
		var s googKeySecret
		if err := cred.SecretPayload(&s); err != nil {
			return gwerr.Wrap(gwerr.Unauthorized, err)
		}
		req.Header.Set("x-goog-api-key", s.APIKey)
		return nil

	case "ClaudeCode", "GeminiCLI", "Antigravity":
		var s oauthSecret
		if err := cred.SecretPayload(&s); err != nil {
			return gwerr.Wrap(gwerr.Unauthorized, err)
		}
		tok, err := refreshIfNeeded(ctx, cred.ID, s, persist)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return nil

	case "Codex":
		var s deviceAuthSecret
		if err := cred.SecretPayload(&s); err != nil {
			return gwerr.Wrap(gwerr.Unauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
		return nil

	case "Vertex":
		var s vertexServiceAccountSecret
		if err := cred.SecretPayload(&s); err != nil {
			return gwerr.Wrap(gwerr.Unauthorized, err)
		}
		tok, err := vertexAccessToken(ctx, cred.ID, s)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		if s.ProjectID != "" {
			q := req.URL.Query()
			if q.Get("project") == "" {
				q.Set("project", s.ProjectID)
				req.URL.RawQuery = q.Encode()
			}
		}
		return nil

	default:
		return gwerr.New(gwerr.Unauthorized, "unrecognized credential secret dialect: "+cred.SecretDialect())
	}
}

// ApplyQueryKey appends a credential's API key as a query parameter
// instead of a header, for upstreams (Gemini-family) that accept either.
func ApplyQueryKey(req *http.Request, key string) {
	q := req.URL.Query()
	q.Set("key", key)
	req.URL.RawQuery = q.Encode()
}

// refreshIfNeeded returns a still-valid access token for a manual-OAuth
// credential, refreshing it against the stored token URL when expired and
// handing the rotated token to persist (spec §4.3 point 2: "a refreshed
// token is persisted"), so a later dispatch reads the new token/refresh
// token from the snapshot instead of re-exchanging an already-consumed
// refresh token.
func refreshIfNeeded(ctx context.Context, credentialID int64, s oauthSecret, persist TokenPersister) (string, error) {
	if time.Now().Before(s.Expiry.Add(-30 * time.Second)) {
		return s.AccessToken, nil
	}
	if s.RefreshToken == "" || s.TokenURL == "" {
		return s.AccessToken, nil
	}
	conf := &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: s.TokenURL},
	}
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: s.RefreshToken}).Token()
	if err != nil {
		return "", gwerr.Wrap(gwerr.Unauthorized, err)
	}
	if persist != nil {
		refreshToken := tok.RefreshToken
		if refreshToken == "" {
			refreshToken = s.RefreshToken
		}
		persist(ctx, credentialID, tok.AccessToken, refreshToken, tok.Expiry)
	}
	return tok.AccessToken, nil
}

// vertexAccessToken signs a JWT-bearer assertion from the service
// account's private key and exchanges it for an access token, caching
// the result until shortly before expiry.
func vertexAccessToken(ctx context.Context, credentialID int64, s vertexServiceAccountSecret) (string, error) {
	vertexTokenCache.mu.Lock()
	if tok, ok := vertexTokenCache.tokens[credentialID]; ok && tok.Valid() {
		vertexTokenCache.mu.Unlock()
		return tok.AccessToken, nil
	}
	vertexTokenCache.mu.Unlock()

	block, _ := pem.Decode([]byte(s.PrivateKey))
	if block == nil {
		return "", gwerr.New(gwerr.Unauthorized, "vertex credential private_key is not valid PEM")
	}
	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return "", gwerr.Wrap(gwerr.Unauthorized, err)
	}

	now := time.Now()
	claims := &jws.ClaimSet{
		Iss:   s.ClientEmail,
		Scope: "https://www.googleapis.com/auth/cloud-platform",
		Aud:   s.TokenURI,
		Iat:   now.Unix(),
		Exp:   now.Add(time.Hour).Unix(),
	}
	header := &jws.Header{Algorithm: "RS256", Typ: "JWT"}
	assertion, err := jws.Encode(header, claims, key)
	if err != nil {
		return "", gwerr.Wrap(gwerr.Unauthorized, err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	tokenURI := s.TokenURI
	if tokenURI == "" {
		tokenURI = "https://oauth2.googleapis.com/token"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := exchangeToken(httpReq)
	if err != nil {
		return "", err
	}

	vertexTokenCache.mu.Lock()
	vertexTokenCache.tokens[credentialID] = resp
	vertexTokenCache.mu.Unlock()
	return resp.AccessToken, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("vertex private key is not RSA")
	}
	return key, nil
}

// exchangeToken posts the signed JWT assertion to Google's token
// endpoint. Kept as a variable (rather than calling http.DefaultClient
// directly inline) so tests can substitute a fake token server.
var httpDo = func(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

func exchangeToken(req *http.Request) (*oauth2.Token, error) {
	resp, err := httpDo(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	defer resp.Body.Close()
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamParse, err)
	}
	if body.AccessToken == "" {
		return nil, gwerr.New(gwerr.Unauthorized, "vertex token exchange returned no access_token")
	}
	return &oauth2.Token{
		AccessToken: body.AccessToken,
		Expiry:      time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}
