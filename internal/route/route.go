// Package route implements the Route Classifier (spec §4.2): mapping
// (method, path, headers, key source) to one of a closed set of operation
// identifiers, handling both aggregate (/v1/..., /v1beta/...) and
// provider-prefixed (/{provider}/...) paths, plus the GET /v1/models
// Claude/Gemini/OpenAI disambiguation rule.
package route

import (
	"net/http"
	"strings"

	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// Operation is one of the closed set of ~20 operations from spec §4.2.
type Operation string

const (
	OpClaudeGenerate     Operation = "claude_generate"
	OpClaudeStream       Operation = "claude_stream"
	OpClaudeCountTokens  Operation = "claude_count_tokens"
	OpClaudeModelsList   Operation = "claude_models_list"
	OpClaudeModelsGet    Operation = "claude_models_get"
	OpGeminiGenerate     Operation = "gemini_generate"
	OpGeminiStream       Operation = "gemini_stream"
	OpGeminiCountTokens  Operation = "gemini_count_tokens"
	OpGeminiModelsList   Operation = "gemini_models_list"
	OpGeminiModelsGet    Operation = "gemini_models_get"
	OpOpenAIChatGenerate Operation = "openai_chat_generate"
	OpOpenAIChatStream   Operation = "openai_chat_stream"
	OpOpenAIRespGenerate Operation = "openai_responses_generate"
	OpOpenAIRespStream   Operation = "openai_responses_stream"
	OpOpenAIRespCompact  Operation = "openai_responses_compact"
	OpOpenAIRespInputTok Operation = "openai_responses_input_tokens"
	OpOpenAIModelsList   Operation = "openai_models_list"
	OpOpenAIModelsGet    Operation = "openai_models_get"
	OpUsage              Operation = "usage"
	OpOAuthStart         Operation = "oauth_start"
	OpOAuthCallback      Operation = "oauth_callback"
)

// KeySource identifies which of the four downstream credential channels a
// request used; it drives the GET /v1/models disambiguation rule.
type KeySource string

const (
	KeySourceBearer  KeySource = "bearer"
	KeySourceAPIKey  KeySource = "x-api-key"
	KeySourceGoogKey KeySource = "x-goog-api-key"
	KeySourceQuery   KeySource = "query"
	KeySourceNone    KeySource = ""
)

// Classification is the Route Classifier's output.
type Classification struct {
	Operation Operation
	// Provider is set for provider-prefixed routes ("/{provider}/...");
	// empty for aggregate routes where the provider comes from the body's
	// model field (spec §4.2 "model prefix rule").
	Provider  string
	Aggregate bool
	// GeminiBetaPath records whether the request used the /v1beta prefix,
	// needed by handlers that must echo the same version back.
	GeminiBetaPath bool
	// ModelSegment carries the raw "{model}" (or "{model}:action") path
	// segment for Gemini-dialect operations, whose model travels in the
	// URL rather than the request body. For aggregate Gemini routes this
	// is where the "provider/model" prefix rule (spec §4.2) must be
	// applied; for provider-prefixed routes it is the bare upstream model.
	// Empty for every non-Gemini operation (their model lives in the body).
	ModelSegment string
}

// Classify maps a request's shape to an operation identifier.
func Classify(method, path string, headers http.Header, keySource KeySource) (Classification, error) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return Classification{}, gwerr.New(gwerr.UnknownProvider, "empty path")
	}

	switch segs[0] {
	case "v1", "v1beta":
		c, err := classifyAggregate(method, segs, headers, keySource)
		return c, err
	default:
		// Provider-prefixed: "/{provider}/..." reuses the same suffix shapes.
		provider := segs[0]
		rest := segs[1:]
		c, err := classifySuffix(method, rest, headers, keySource, true)
		if err != nil {
			return Classification{}, err
		}
		c.Provider = provider
		return c, nil
	}
}

func classifyAggregate(method string, segs []string, headers http.Header, keySource KeySource) (Classification, error) {
	beta := segs[0] == "v1beta"
	c, err := classifySuffix(method, segs[1:], headers, keySource, false)
	c.GeminiBetaPath = beta
	return c, err
}

// classifySuffix classifies the portion of the path after the version (or
// provider) segment. withProvider indicates a provider-prefixed route,
// which additionally exposes oauth and usage endpoints (spec §6.1).
func classifySuffix(method string, segs []string, headers http.Header, keySource KeySource, withProvider bool) (Classification, error) {
	if withProvider && len(segs) >= 1 {
		switch segs[0] {
		case "oauth":
			if len(segs) >= 2 && segs[1] == "callback" {
				return Classification{Operation: OpOAuthCallback, Aggregate: false}, nil
			}
			return Classification{Operation: OpOAuthStart, Aggregate: false}, nil
		case "usage":
			return Classification{Operation: OpUsage, Aggregate: false}, nil
		}
	}

	if len(segs) == 0 {
		return Classification{}, gwerr.New(gwerr.UnknownProvider, "missing operation path")
	}

	switch segs[0] {
	case "messages":
		if len(segs) >= 2 && segs[1] == "count_tokens" {
			return Classification{Operation: OpClaudeCountTokens, Aggregate: !withProvider}, nil
		}
		return Classification{Operation: OpClaudeGenerate, Aggregate: !withProvider}, nil
	case "chat":
		if len(segs) >= 2 && segs[1] == "completions" {
			return Classification{Operation: OpOpenAIChatGenerate, Aggregate: !withProvider}, nil
		}
	case "responses":
		if len(segs) >= 2 && segs[1] == "compact" {
			return Classification{Operation: OpOpenAIRespCompact, Aggregate: !withProvider}, nil
		}
		if len(segs) >= 2 && segs[1] == "input_tokens" {
			return Classification{Operation: OpOpenAIRespInputTok, Aggregate: !withProvider}, nil
		}
		return Classification{Operation: OpOpenAIRespGenerate, Aggregate: !withProvider}, nil
	case "models":
		return classifyModelsPath(method, segs[1:], headers, keySource, !withProvider)
	}
	return Classification{}, gwerr.New(gwerr.UnknownProvider, "unrecognized operation path")
}

// classifyModelsPath handles both "models" (GET list) and
// "models/{model}:action" (Gemini-style action suffix).
func classifyModelsPath(method string, rest []string, headers http.Header, keySource KeySource, aggregate bool) (Classification, error) {
	if len(rest) == 0 {
		if method != http.MethodGet {
			return Classification{}, gwerr.New(gwerr.UnknownProvider, "unsupported models method")
		}
		return disambiguateModelsList(headers, keySource, aggregate)
	}

	// rest may carry further path segments when a model name itself
	// contains slashes (spec §4.2 "model with slash"); everything after
	// the leading "models" segment up to a trailing ":action" belongs to
	// the model identifier.
	joined := strings.Join(rest, "/")

	last := rest[len(rest)-1]
	if idx := strings.LastIndexByte(last, ':'); idx >= 0 {
		action := last[idx+1:]
		segment := joined[:len(joined)-(len(last)-idx)]
		switch action {
		case "generateContent":
			return Classification{Operation: OpGeminiGenerate, Aggregate: aggregate, ModelSegment: segment}, nil
		case "streamGenerateContent":
			return Classification{Operation: OpGeminiStream, Aggregate: aggregate, ModelSegment: segment}, nil
		case "countTokens":
			return Classification{Operation: OpGeminiCountTokens, Aggregate: aggregate, ModelSegment: segment}, nil
		}
		return Classification{}, gwerr.New(gwerr.UnknownProvider, "unrecognized gemini action")
	}

	if method != http.MethodGet {
		return Classification{}, gwerr.New(gwerr.UnknownProvider, "unsupported models method")
	}
	c, err := disambiguateModelsGet(headers, keySource, aggregate)
	c.ModelSegment = joined
	return c, err
}

// disambiguateModelsList implements the GET /v1/models disambiguation
// rule from spec §4.2: anthropic-version header -> Claude; x-goog-api-key
// or query key -> Gemini v1; else OpenAI.
func disambiguateModelsList(headers http.Header, keySource KeySource, aggregate bool) (Classification, error) {
	switch {
	case headers.Get("anthropic-version") != "":
		return Classification{Operation: OpClaudeModelsList, Aggregate: aggregate}, nil
	case keySource == KeySourceGoogKey || keySource == KeySourceQuery:
		return Classification{Operation: OpGeminiModelsList, Aggregate: aggregate}, nil
	default:
		return Classification{Operation: OpOpenAIModelsList, Aggregate: aggregate}, nil
	}
}

func disambiguateModelsGet(headers http.Header, keySource KeySource, aggregate bool) (Classification, error) {
	switch {
	case headers.Get("anthropic-version") != "":
		return Classification{Operation: OpClaudeModelsGet, Aggregate: aggregate}, nil
	case keySource == KeySourceGoogKey || keySource == KeySourceQuery:
		return Classification{Operation: OpGeminiModelsGet, Aggregate: aggregate}, nil
	default:
		return Classification{Operation: OpOpenAIModelsGet, Aggregate: aggregate}, nil
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// UpgradeForStream promotes a generate-family operation to its streaming
// counterpart when the downstream caller's request body set "stream":
// true (spec §4.3 point 4: "stream=true in body or Gemini
// :streamGenerateContent"). Gemini operations are already split by URL
// action suffix at classification time and pass through unchanged; every
// other operation (including non-generate ones like models-list) is
// unaffected.
func UpgradeForStream(op Operation, bodyWantsStream bool) Operation {
	if !bodyWantsStream {
		return op
	}
	switch op {
	case OpClaudeGenerate:
		return OpClaudeStream
	case OpOpenAIChatGenerate:
		return OpOpenAIChatStream
	case OpOpenAIRespGenerate:
		return OpOpenAIRespStream
	default:
		return op
	}
}

// IsStreamOperation reports whether op is one of the streaming variants.
func IsStreamOperation(op Operation) bool {
	switch op {
	case OpClaudeStream, OpGeminiStream, OpOpenAIChatStream, OpOpenAIRespStream:
		return true
	default:
		return false
	}
}

// SplitModelPrefix applies the "model prefix rule" from spec §4.2: the
// request model field must be "provider/model"; splitting uses the first
// "/" only so model names may contain additional slashes.
func SplitModelPrefix(model string) (provider, upstreamModel string, err error) {
	idx := strings.IndexByte(model, '/')
	if idx <= 0 || idx == len(model)-1 {
		return "", "", gwerr.New(gwerr.MissingProviderPrefix, "model field must be provider/model")
	}
	return model[:idx], model[idx+1:], nil
}
