package dispatch

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/router-for-me/llmgateway/internal/route"
)

// endpointFor returns the method and path (relative to the provider's
// base_url) that realizes an operation against its native dialect.
// dialect is the dispatch target (native family or transform target);
// model is the upstream model identifier, already stripped of any
// "provider/" prefix (spec §4.2 "model prefix rule").
func endpointFor(op route.Operation, model string) (method, path string, err error) {
	switch op {
	case route.OpClaudeGenerate, route.OpClaudeStream:
		return http.MethodPost, "/v1/messages", nil
	case route.OpClaudeCountTokens:
		return http.MethodPost, "/v1/messages/count_tokens", nil
	case route.OpClaudeModelsList:
		return http.MethodGet, "/v1/models", nil
	case route.OpClaudeModelsGet:
		return http.MethodGet, "/v1/models/" + model, nil

	case route.OpGeminiGenerate:
		return http.MethodPost, "/v1beta/models/" + model + ":generateContent", nil
	case route.OpGeminiStream:
		return http.MethodPost, "/v1beta/models/" + model + ":streamGenerateContent?alt=sse", nil
	case route.OpGeminiCountTokens:
		return http.MethodPost, "/v1beta/models/" + model + ":countTokens", nil
	case route.OpGeminiModelsList:
		return http.MethodGet, "/v1beta/models", nil
	case route.OpGeminiModelsGet:
		return http.MethodGet, "/v1beta/models/" + model, nil

	case route.OpOpenAIChatGenerate, route.OpOpenAIChatStream:
		return http.MethodPost, "/v1/chat/completions", nil
	case route.OpOpenAIRespGenerate, route.OpOpenAIRespStream:
		return http.MethodPost, "/v1/responses", nil
	case route.OpOpenAIRespCompact:
		return http.MethodPost, "/v1/responses/compact", nil
	case route.OpOpenAIRespInputTok:
		return http.MethodPost, "/v1/responses/input_tokens", nil
	case route.OpOpenAIModelsList:
		return http.MethodGet, "/v1/models", nil
	case route.OpOpenAIModelsGet:
		return http.MethodGet, "/v1/models/" + model, nil
	}
	return "", "", fmt.Errorf("dispatch: no endpoint mapping for operation %q", op)
}

// joinURL concatenates a provider base_url with an endpoint path,
// tolerating a trailing slash on the base or a missing leading slash on
// the path.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
