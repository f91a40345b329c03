// Package dispatch implements the Dispatch Engine (spec §4.3, §9): it
// resolves a (provider_kind, operation) pair to a dispatch mode —
// native, transform{target}, or unsupported — then drives the upstream
// call, credential-dialect auth injection, provider-specific request
// rewrites, retry/failover, and response normalization.
//
// Grounded on the teacher's internal/runtime/executor/claude_executor.go
// (the Execute/ExecuteStream shape, credential fallback loop, translator
// invocation, and header injection) generalized from one hardcoded
// provider to the full matrix.
package dispatch

import (
	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/route"
	"github.com/router-for-me/llmgateway/internal/translator"
)

// Mode is one of the three dispatch outcomes from spec §4.3.
type Mode string

const (
	ModeNative      Mode = "native"
	ModeTransform   Mode = "transform"
	ModeUnsupported Mode = "unsupported"
)

// Decision is the resolved dispatch outcome for one (provider_kind,
// operation) pair. TargetDialect is only meaningful when Mode is
// ModeTransform: it names the upstream wire dialect the request must be
// translated into (and the response translated back from).
type Decision struct {
	Mode          Mode
	TargetDialect translator.Dialect
}

// operationFamily names the wire dialect an operation is naturally
// expressed in. Usage and OAuth operations have no dialect: the dispatch
// engine services them directly rather than routing them through a
// translator, so they always resolve native.
func operationFamily(op route.Operation) (translator.Dialect, bool) {
	switch op {
	case route.OpClaudeGenerate, route.OpClaudeStream, route.OpClaudeCountTokens,
		route.OpClaudeModelsList, route.OpClaudeModelsGet:
		return translator.DialectClaude, true
	case route.OpGeminiGenerate, route.OpGeminiStream, route.OpGeminiCountTokens,
		route.OpGeminiModelsList, route.OpGeminiModelsGet:
		return translator.DialectGemini, true
	case route.OpOpenAIChatGenerate, route.OpOpenAIChatStream,
		route.OpOpenAIModelsList, route.OpOpenAIModelsGet:
		return translator.DialectOpenAIChat, true
	case route.OpOpenAIRespGenerate, route.OpOpenAIRespStream,
		route.OpOpenAIRespCompact, route.OpOpenAIRespInputTok:
		return translator.DialectOpenAIResponses, true
	default:
		return "", false
	}
}

// nativeFamilies lists, in preference order, the dialects a built-in
// provider kind speaks natively upstream. The first entry is the target
// used when a transform is required and more than one family applies.
func nativeFamilies(kind config.ProviderKind) []translator.Dialect {
	switch kind {
	case config.KindClaude, config.KindClaudeCode:
		return []translator.Dialect{translator.DialectClaude}
	case config.KindAIStudio, config.KindVertexExpress, config.KindVertex,
		config.KindGeminiCLI, config.KindAntigravity:
		return []translator.Dialect{translator.DialectGemini}
	case config.KindCodex:
		return []translator.Dialect{translator.DialectOpenAIResponses}
	case config.KindNvidia, config.KindDeepSeek:
		return []translator.Dialect{translator.DialectOpenAIChat}
	case config.KindOpenAI:
		return []translator.Dialect{translator.DialectOpenAIChat, translator.DialectOpenAIResponses}
	default:
		return nil
	}
}

// responsesOnlyOp reports whether op only makes sense against a provider
// whose native family is openai_responses (Codex's compact/input_tokens
// endpoints have no equivalent on any other dialect, so no transform
// target exists for them).
func responsesOnlyOp(op route.Operation) bool {
	return op == route.OpOpenAIRespCompact || op == route.OpOpenAIRespInputTok
}

// countTokensOp reports whether op is a dedicated token-counting call.
// These only resolve natively: no provider exposes a standalone counting
// endpoint for another dialect's tokenizer, so cross-family requests are
// unsupported rather than transformed.
func countTokensOp(op route.Operation) bool {
	return op == route.OpClaudeCountTokens || op == route.OpGeminiCountTokens
}

// Resolve computes the dispatch Decision for a built-in or custom
// provider kind and operation, per the matrix in spec §9.
func Resolve(provider config.Provider, op route.Operation) Decision {
	if provider.Kind == config.KindCustom {
		return resolveCustom(provider, op)
	}

	families := nativeFamilies(provider.Kind)
	fam, hasFamily := operationFamily(op)
	if !hasFamily {
		return Decision{Mode: ModeNative}
	}
	for _, nf := range families {
		if nf == fam {
			return Decision{Mode: ModeNative}
		}
	}
	if responsesOnlyOp(op) || countTokensOp(op) {
		return Decision{Mode: ModeUnsupported}
	}
	if len(families) == 0 {
		return Decision{Mode: ModeUnsupported}
	}
	return Decision{Mode: ModeTransform, TargetDialect: families[0]}
}

// OperationDialect exposes operationFamily to callers outside this
// package (the Aggregate Models Fan-out needs it to translate a
// provider's native-dialect list response into the aggregate route's
// dialect once dispatch itself has already treated the call as native).
func OperationDialect(op route.Operation) (translator.Dialect, bool) {
	return operationFamily(op)
}

// NativeListOp returns the models-list operation that matches a
// provider's native dialect, used by the Aggregate Models Fan-out (spec
// §4.6): the fan-out always calls a provider's own native listing, never
// a cross-dialect transform of one, since a models list's shape does not
// survive translation meaningfully. ok is false when no list operation
// applies (an unsupported-operation silent skip for that provider).
func NativeListOp(provider config.Provider) (op route.Operation, ok bool) {
	if provider.Kind == config.KindCustom {
		for _, d := range provider.DispatchOps() {
			if d.Mode != "native" {
				continue
			}
			switch route.Operation(d.Operation) {
			case route.OpOpenAIModelsList, route.OpClaudeModelsList, route.OpGeminiModelsList:
				return route.Operation(d.Operation), true
			}
		}
		return "", false
	}
	families := nativeFamilies(provider.Kind)
	if len(families) == 0 {
		return "", false
	}
	switch families[0] {
	case translator.DialectClaude:
		return route.OpClaudeModelsList, true
	case translator.DialectGemini:
		return route.OpGeminiModelsList, true
	default:
		return route.OpOpenAIModelsList, true
	}
}

// resolveCustom looks up a custom provider's declared dispatch.ops entry
// (spec §4.3's "custom provider declared ops"), defaulting to unsupported
// when the provider never mentions the operation.
func resolveCustom(provider config.Provider, op route.Operation) Decision {
	for _, d := range provider.DispatchOps() {
		if d.Operation != string(op) {
			continue
		}
		switch d.Mode {
		case "native":
			return Decision{Mode: ModeNative}
		case "transform":
			return Decision{Mode: ModeTransform, TargetDialect: translator.Dialect(d.Target)}
		default:
			return Decision{Mode: ModeUnsupported}
		}
	}
	return Decision{Mode: ModeUnsupported}
}
