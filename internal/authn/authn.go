// Package authn implements the Downstream Authenticator (spec §4.1):
// extracting a caller-supplied key from one of four fixed-order sources,
// resolving it against the local user/key registry, and stripping the
// credential material from the request before any upstream call is made.
//
// Grounded on the teacher's sdk/access package: a small Provider interface
// plus sentinel errors (ErrNoCredentials / ErrInvalidCredential), here
// specialised to the fixed four-source extraction order the spec mandates
// instead of a pluggable provider chain.
package authn

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
	"github.com/router-for-me/llmgateway/internal/route"
)

// PeekKeySource reports which of the four fixed-order sources carries the
// caller's key, without consuming it, mirroring ExtractKey's precedence.
// The route classifier needs the source to disambiguate GET /v1/models
// (spec §4.2), but must see it before ExtractKey strips the header or
// query parameter away.
func PeekKeySource(r *http.Request) route.KeySource {
	if bearer(r.Header.Get("Authorization")) != "" {
		return route.KeySourceBearer
	}
	if r.Header.Get("x-api-key") != "" {
		return route.KeySourceAPIKey
	}
	if r.Header.Get("x-goog-api-key") != "" {
		return route.KeySourceGoogKey
	}
	if r.URL.Query().Get("key") != "" {
		return route.KeySourceQuery
	}
	return route.KeySourceNone
}

// Identity is the resolved downstream principal (spec §4.1).
type Identity struct {
	UserID    int64
	UserKeyID int64
}

// ExtractKey pulls the caller's key from, in order: Authorization: Bearer,
// x-api-key, x-goog-api-key, query ?key=. The first non-empty value wins.
// It also strips the located header/query parameter from the request so
// downstream dispatch never forwards caller credential material upstream
// (spec §8 "Auth strip" property).
func ExtractKey(r *http.Request) string {
	if v := bearer(r.Header.Get("Authorization")); v != "" {
		r.Header.Del("Authorization")
		return v
	}
	if v := r.Header.Get("x-api-key"); v != "" {
		r.Header.Del("x-api-key")
		return v
	}
	if v := r.Header.Get("x-goog-api-key"); v != "" {
		r.Header.Del("x-goog-api-key")
		return v
	}
	q := r.URL.Query()
	if v := q.Get("key"); v != "" {
		q.Del("key")
		r.URL.RawQuery = q.Encode()
		return v
	}
	return ""
}

func bearer(v string) string {
	const prefix = "Bearer "
	if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
		return strings.TrimSpace(v[len(prefix):])
	}
	return ""
}

// Authenticate resolves an extracted key against the snapshot's user-key
// registry using constant-time bcrypt comparison (spec §3: "hashed on
// storage and verified by constant-time equality").
func Authenticate(snap *config.Snapshot, key string) (Identity, error) {
	if key == "" {
		return Identity{}, gwerr.New(gwerr.Unauthorized, "missing downstream API key")
	}
	for _, uk := range snap.Config().UserKeys {
		if !uk.Enabled {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(uk.HashedKey), []byte(key)) == nil {
			return Identity{UserID: uk.UserID, UserKeyID: uk.ID}, nil
		}
	}
	return Identity{}, gwerr.New(gwerr.Unauthorized, "invalid downstream API key")
}

// ExtractAdminKey extracts the admin key from x-admin-key, Authorization:
// Bearer, or ?admin_key=, per spec §4.1's "parallel extractor" for admin
// endpoints.
func ExtractAdminKey(r *http.Request) string {
	if v := r.Header.Get("x-admin-key"); v != "" {
		return v
	}
	if v := bearer(r.Header.Get("Authorization")); v != "" {
		return v
	}
	return r.URL.Query().Get("admin_key")
}

// AuthenticateAdmin compares the extracted admin key to the configured
// admin key using constant-time comparison.
func AuthenticateAdmin(snap *config.Snapshot, key string) error {
	want := snap.Global().AdminKey
	if want == "" || key == "" || !constantTimeEqual(key, want) {
		return gwerr.New(gwerr.Unauthorized, "invalid admin key")
	}
	return nil
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

// HashKey hashes a plaintext downstream key for storage (spec §3: "a
// plaintext value is returned only at creation time").
func HashKey(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
