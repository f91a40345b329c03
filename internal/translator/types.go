// Package translator implements the protocol-translation matrix the
// Dispatch Engine uses when a (provider_kind, operation) pair's mode is
// transform{target} (spec §4.3, §9 "Protocol translation"). Converters are
// pure, total functions that compose a request_in -> request_upstream step
// and a response_upstream -> response_out step, preserving model
// identifier, tool calls, streaming framing, and usage fields as far as
// possible, per spec §9.
//
// Grounded on the teacher's sdk/translator/types.go function-type shapes
// (RequestTransform / ResponseStreamTransform / ResponseNonStreamTransform)
// and internal/translator/init.go's blank-import registration pattern; the
// actual Register/Lookup pair was not present in the retrieved pack and is
// reconstructed here to match the shapes it already defined.
package translator

import "context"

// Dialect identifies a wire format this gateway understands.
type Dialect string

const (
	DialectOpenAIChat      Dialect = "openai_chat"
	DialectOpenAIResponses Dialect = "openai_response"
	DialectClaude          Dialect = "claude"
	DialectGemini          Dialect = "gemini"
)

// RequestTransform converts a request payload from one dialect to
// another. stream indicates whether the downstream caller asked for a
// streaming response, which some dialects encode differently in the body.
type RequestTransform func(model string, rawJSON []byte, stream bool) []byte

// StreamTransform converts one upstream SSE data chunk into zero or more
// downstream SSE data chunks (dialects don't always have a 1:1 event
// mapping, e.g. Claude's content_block_delta vs OpenAI's single delta).
type StreamTransform func(ctx context.Context, model string, rawJSON []byte) []string

// NonStreamTransform converts a complete upstream JSON body into a
// complete downstream JSON body.
type NonStreamTransform func(ctx context.Context, model string, rawJSON []byte) []byte

// ResponseTransform groups the streaming and non-streaming response
// converters for one (source, target) pair.
type ResponseTransform struct {
	Stream    StreamTransform
	NonStream NonStreamTransform
}

// Converter is the full request+response pair registered for one
// (source, target) dialect pair, where source is the wire format the
// *downstream caller* used and target is the wire format the *upstream
// provider* speaks.
type Converter struct {
	Request  RequestTransform
	Response ResponseTransform
}
