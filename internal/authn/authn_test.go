package authn

import (
	"net/http/httptest"
	"testing"

	"github.com/router-for-me/llmgateway/internal/route"
)

func TestExtractKeyOrderAndStrip(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/chat/completions?key=querykey", nil)
	req.Header.Set("Authorization", "Bearer bearerkey")
	req.Header.Set("x-api-key", "apikey")
	req.Header.Set("x-goog-api-key", "googkey")

	if src := PeekKeySource(req); src != route.KeySourceBearer {
		t.Fatalf("expected bearer to win precedence, got %v", src)
	}

	key := ExtractKey(req)
	if key != "bearerkey" {
		t.Fatalf("expected bearerkey, got %q", key)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("Authorization header must be stripped after extraction")
	}
	// the other three sources were present but unused; they remain on the
	// request object only because Bearer took precedence and ExtractKey
	// only strips the source it actually consumed.
	if req.Header.Get("x-api-key") != "apikey" {
		t.Fatal("unrelated headers must not be touched")
	}
}

func TestExtractKeyFallsBackToAPIKeyAndStrips(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/messages", nil)
	req.Header.Set("x-api-key", "apikey")

	key := ExtractKey(req)
	if key != "apikey" {
		t.Fatalf("expected apikey, got %q", key)
	}
	if req.Header.Get("x-api-key") != "" {
		t.Fatal("x-api-key must be stripped after extraction")
	}
}

func TestExtractKeyFallsBackToGoogKeyAndStrips(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1beta/models/gemini-1.5-pro:generateContent", nil)
	req.Header.Set("x-goog-api-key", "googkey")

	key := ExtractKey(req)
	if key != "googkey" {
		t.Fatalf("expected googkey, got %q", key)
	}
	if req.Header.Get("x-goog-api-key") != "" {
		t.Fatal("x-goog-api-key must be stripped after extraction")
	}
}

func TestExtractKeyFallsBackToQueryAndStrips(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/models?key=querykey", nil)

	key := ExtractKey(req)
	if key != "querykey" {
		t.Fatalf("expected querykey, got %q", key)
	}
	if req.URL.Query().Get("key") != "" {
		t.Fatal("query key= must be stripped after extraction")
	}
}

func TestExtractAdminKeyPrecedence(t *testing.T) {
	req := httptest.NewRequest("GET", "/admin/logs?admin_key=fromquery", nil)
	req.Header.Set("x-admin-key", "fromheader")

	if got := ExtractAdminKey(req); got != "fromheader" {
		t.Fatalf("expected x-admin-key to win, got %q", got)
	}
}
