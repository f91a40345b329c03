package route

import (
	"net/http"
	"testing"

	"github.com/router-for-me/llmgateway/internal/gwerr"
)

func TestSplitModelPrefixBasic(t *testing.T) {
	provider, model, err := SplitModelPrefix("openai/gpt-4o-mini")
	if err != nil {
		t.Fatalf("SplitModelPrefix: %v", err)
	}
	if provider != "openai" || model != "gpt-4o-mini" {
		t.Fatalf("got provider=%q model=%q", provider, model)
	}
}

func TestSplitModelPrefixMissingIsError(t *testing.T) {
	_, _, err := SplitModelPrefix("gpt-4o")
	gerr, ok := gwerr.As(err)
	if !ok || gerr.Kind != gwerr.MissingProviderPrefix {
		t.Fatalf("expected missing_provider_prefix, got %v", err)
	}
}

func TestSplitModelPrefixFirstSlashOnly(t *testing.T) {
	provider, model, err := SplitModelPrefix("openai/org/custom-model")
	if err != nil {
		t.Fatalf("SplitModelPrefix: %v", err)
	}
	if provider != "openai" || model != "org/custom-model" {
		t.Fatalf("got provider=%q model=%q", provider, model)
	}
}

func TestClassifyAggregateChatCompletions(t *testing.T) {
	c, err := Classify(http.MethodPost, "/v1/chat/completions", http.Header{}, KeySourceBearer)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Operation != OpOpenAIChatGenerate || !c.Aggregate || c.Provider != "" {
		t.Fatalf("got %+v", c)
	}
}

func TestClassifyProviderPrefixedMessages(t *testing.T) {
	c, err := Classify(http.MethodPost, "/claude/v1/messages", http.Header{}, KeySourceAPIKey)
	if err == nil {
		t.Fatalf("expected an error for an unrecognized provider-prefixed shape, got %+v", c)
	}
}

func TestClassifyProviderPrefixedShape(t *testing.T) {
	c, err := Classify(http.MethodPost, "/anthropic/messages", http.Header{}, KeySourceAPIKey)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Operation != OpClaudeGenerate || c.Aggregate || c.Provider != "anthropic" {
		t.Fatalf("got %+v", c)
	}
}

func TestDisambiguateModelsListClaude(t *testing.T) {
	h := http.Header{}
	h.Set("anthropic-version", "2023-06-01")
	c, err := Classify(http.MethodGet, "/v1/models", h, KeySourceBearer)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Operation != OpClaudeModelsList {
		t.Fatalf("expected claude_models_list, got %v", c.Operation)
	}
}

func TestDisambiguateModelsListGemini(t *testing.T) {
	c, err := Classify(http.MethodGet, "/v1/models", http.Header{}, KeySourceGoogKey)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Operation != OpGeminiModelsList {
		t.Fatalf("expected gemini_models_list, got %v", c.Operation)
	}
}

func TestDisambiguateModelsListOpenAIDefault(t *testing.T) {
	c, err := Classify(http.MethodGet, "/v1/models", http.Header{}, KeySourceBearer)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Operation != OpOpenAIModelsList {
		t.Fatalf("expected openai_models_list, got %v", c.Operation)
	}
}

func TestClassifyGeminiStreamActionSuffix(t *testing.T) {
	c, err := Classify(http.MethodPost, "/v1/models/gemini-1.5-pro:streamGenerateContent", http.Header{}, KeySourceGoogKey)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.Operation != OpGeminiStream || c.ModelSegment != "gemini-1.5-pro" {
		t.Fatalf("got %+v", c)
	}
}

func TestUpgradeForStreamPromotesGenerateOps(t *testing.T) {
	if got := UpgradeForStream(OpClaudeGenerate, true); got != OpClaudeStream {
		t.Fatalf("expected claude_stream, got %v", got)
	}
	if got := UpgradeForStream(OpClaudeGenerate, false); got != OpClaudeGenerate {
		t.Fatalf("expected claude_generate unchanged, got %v", got)
	}
	if got := UpgradeForStream(OpOpenAIModelsList, true); got != OpOpenAIModelsList {
		t.Fatalf("non-generate ops must not be promoted, got %v", got)
	}
}
