package dispatch

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/route"
)

// RewriteRequest applies the provider_kind-specific request rewrites from
// spec §4.3(iii) before the body is sent upstream. body is the payload
// already translated into the upstream dialect, if a transform applied.
func RewriteRequest(provider config.Provider, cred config.Credential, op route.Operation, body []byte) []byte {
	if provider.Kind == config.KindCodex {
		body = codexRewrite(op, body)
	}
	if mask := provider.JSONParamMask(); len(mask) > 0 && gjson.ValidBytes(body) {
		body = applyParamMask(body, mask)
	}
	return body
}

// RewriteHeaders applies header-level rewrites, namely ClaudeCode's
// conditional 1M-context beta headers, which depend on both the
// provider's configured header set and the credential's per-model
// entitlement flags (spec §4.3(iii), §9).
func RewriteHeaders(provider config.Provider, cred config.Credential, model string, header http.Header) {
	if provider.Kind != config.KindClaudeCode {
		return
	}
	wantsSonnet := cred.EnableClaude1MSonnet && cred.SupportsClaude1MSonnet && isSonnetModel(model)
	wantsOpus := cred.EnableClaude1MOpus && cred.SupportsClaude1MOpus && isOpusModel(model)
	if !wantsSonnet && !wantsOpus {
		return
	}
	for _, beta := range provider.ClaudeCode1MBetaHeaders() {
		header.Add("anthropic-beta", beta)
	}
}

func isSonnetModel(model string) bool {
	return containsFold(model, "sonnet")
}

func isOpusModel(model string) bool {
	return containsFold(model, "opus")
}

func containsFold(s, substr string) bool {
	sl, subl := len(s), len(substr)
	if subl == 0 {
		return true
	}
	for i := 0; i+subl <= sl; i++ {
		if equalFold(s[i:i+subl], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// codexRewrite implements the Codex-specific body quirks (spec §4.3(iii)):
// system prompt travels as top-level "instructions" rather than an
// input message ("instructions" defaults to "" when neither is present),
// and "temperature"/"top_p" are stripped because Codex rejects them. op is
// not consulted here; the compact endpoint path comes from endpointFor.
func codexRewrite(op route.Operation, body []byte) []byte {
	if sys := gjson.GetBytes(body, "system"); sys.Exists() {
		body, _ = sjson.SetBytes(body, "instructions", sys.String())
		body, _ = sjson.DeleteBytes(body, "system")
	} else if !gjson.GetBytes(body, "instructions").Exists() {
		body, _ = sjson.SetBytes(body, "instructions", "")
	}
	body, _ = sjson.DeleteBytes(body, "temperature")
	body, _ = sjson.DeleteBytes(body, "top_p")
	return body
}

// applyParamMask nulls every field path listed in a custom provider's
// json_param_mask (spec §4.3(iii), §8 "Custom mask"): a dotted path such
// as "temperature" is set to null directly; a wildcard path such as
// "messages[*].content" is expanded against the array's actual length so
// every element's field is nulled; a JSON Pointer ("/messages/0/content")
// is accepted too, normalized to dot-path first.
func applyParamMask(body []byte, mask []string) []byte {
	for _, path := range mask {
		for _, concrete := range expandMaskPath(body, normalizeMaskPath(path)) {
			body, _ = sjson.SetRawBytes(body, concrete, []byte("null"))
		}
	}
	return body
}

// normalizeMaskPath accepts either sjson dot-path syntax or a JSON
// Pointer ("/a/0/b") and returns the bracket-wildcard dot-path form
// expandMaskPath expects.
func normalizeMaskPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return path
	}
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segs {
		segs[i] = strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
	}
	return strings.Join(segs, ".")
}

// expandMaskPath walks a dotted path, expanding any "[*]" wildcard
// segment (e.g. "messages[*].content") into one concrete sjson path per
// element currently present in body's array at that position. Paths with
// no wildcard are returned unchanged as a single-element slice.
func expandMaskPath(body []byte, path string) []string {
	idx := strings.Index(path, "[*]")
	if idx < 0 {
		return []string{path}
	}
	arrayPath := path[:idx]
	rest := strings.TrimPrefix(path[idx+len("[*]"):], ".")

	n := gjson.GetBytes(body, arrayPath).Array()
	out := make([]string, 0, len(n))
	for i := range n {
		elementPath := arrayPath + "." + strconv.Itoa(i)
		if rest != "" {
			elementPath += "." + rest
		}
		out = append(out, expandMaskPath(body, elementPath)...)
	}
	return out
}
