package aggregate

import (
	"strings"
	"testing"

	"github.com/router-for-me/llmgateway/internal/gwerr"
	"github.com/router-for-me/llmgateway/internal/translator"
)

func TestSilentSkipKinds(t *testing.T) {
	for _, kind := range []gwerr.Kind{gwerr.NoActiveCredentials, gwerr.UnsupportedOperation, gwerr.ProviderDisabled} {
		if !silentSkip(gwerr.New(kind, "x")) {
			t.Fatalf("expected %v to be silently skipped", kind)
		}
	}
}

func TestSilentSkipOtherKindNotSkipped(t *testing.T) {
	if silentSkip(gwerr.New(gwerr.UpstreamStatus, "boom")) {
		t.Fatal("upstream_status should not be silently skipped")
	}
}

func TestMergeBodiesPreservesOrderOpenAI(t *testing.T) {
	a := []byte(`{"object":"list","data":[{"id":"providerA/gpt-4"}]}`)
	b := []byte(`{"object":"list","data":[{"id":"providerB/claude-3"}]}`)
	out := mergeBodies(translator.DialectOpenAIChat, [][]byte{a, b})
	s := string(out)
	if strings.Index(s, "providerA/gpt-4") > strings.Index(s, "providerB/claude-3") {
		t.Fatalf("expected providerA before providerB, got %s", s)
	}
}

func TestMergeBodiesGeminiField(t *testing.T) {
	a := []byte(`{"models":[{"name":"models/providerA/gemini-pro"}]}`)
	out := mergeBodies(translator.DialectGemini, [][]byte{a})
	if !strings.Contains(string(out), `"models/providerA/gemini-pro"`) {
		t.Fatalf("expected gemini entry preserved, got %s", out)
	}
	if strings.Contains(string(out), `"object"`) {
		t.Fatal("gemini envelope should not carry an object field")
	}
}

func TestMergeBodiesEmpty(t *testing.T) {
	out := mergeBodies(translator.DialectOpenAIChat, nil)
	if string(out) != `{"object":"list","data":[]}` {
		t.Fatalf("expected empty list envelope, got %s", out)
	}
}
