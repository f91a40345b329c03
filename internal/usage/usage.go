// Package usage implements the Usage Extractor and Writer (spec §4.9):
// four-dialect token-count extraction plus a buffered, asynchronous
// writer so recording usage never blocks the response path.
//
// Grounded on the teacher's sdk/cliproxy/usage/manager.go (buffered
// channel + Start/Stop/Register/Publish shape), generalized from one
// provider's usage fields to all four supported dialects.
package usage

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"github.com/router-for-me/llmgateway/internal/translator"
)

// Detail is the normalized token accounting for one completed call,
// regardless of which upstream dialect produced it.
type Detail struct {
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	TotalTokens  int64
}

// Record is one persisted usage row (spec §4.9's write-side contract).
type Record struct {
	CredentialID int64
	Provider     string
	Model        string
	Operation    string
	Detail       Detail
	TraceID      string
	RecordedAt   time.Time
}

// ExtractOpenAIChat reads usage fields from a non-streaming OpenAI
// chat.completion body.
func ExtractOpenAIChat(body []byte) Detail {
	u := gjson.GetBytes(body, "usage")
	return Detail{
		InputTokens:  u.Get("prompt_tokens").Int(),
		OutputTokens: u.Get("completion_tokens").Int(),
		CachedTokens: u.Get("prompt_tokens_details.cached_tokens").Int(),
		TotalTokens:  u.Get("total_tokens").Int(),
	}
}

// ExtractOpenAIResponses reads usage fields from a non-streaming OpenAI
// Responses object.
func ExtractOpenAIResponses(body []byte) Detail {
	u := gjson.GetBytes(body, "usage")
	return Detail{
		InputTokens:  u.Get("input_tokens").Int(),
		OutputTokens: u.Get("output_tokens").Int(),
		CachedTokens: u.Get("input_tokens_details.cached_tokens").Int(),
		TotalTokens:  u.Get("total_tokens").Int(),
	}
}

// ExtractClaude reads usage fields from a non-streaming Claude Messages
// body.
func ExtractClaude(body []byte) Detail {
	u := gjson.GetBytes(body, "usage")
	in := u.Get("input_tokens").Int()
	out := u.Get("output_tokens").Int()
	return Detail{
		InputTokens:  in,
		OutputTokens: out,
		CachedTokens: u.Get("cache_read_input_tokens").Int(),
		TotalTokens:  in + out,
	}
}

// ExtractGemini reads usage fields from a non-streaming Gemini
// generateContent body.
func ExtractGemini(body []byte) Detail {
	u := gjson.GetBytes(body, "usageMetadata")
	return Detail{
		InputTokens:  u.Get("promptTokenCount").Int(),
		OutputTokens: u.Get("candidatesTokenCount").Int(),
		CachedTokens: u.Get("cachedContentTokenCount").Int(),
		TotalTokens:  u.Get("totalTokenCount").Int(),
	}
}

// Extract dispatches to the dialect-specific extractor for a
// non-streaming response body, keyed by the dialect the body is written in.
func Extract(dialect translator.Dialect, body []byte) Detail {
	switch dialect {
	case translator.DialectOpenAIChat:
		return ExtractOpenAIChat(body)
	case translator.DialectOpenAIResponses:
		return ExtractOpenAIResponses(body)
	case translator.DialectClaude:
		return ExtractClaude(body)
	case translator.DialectGemini:
		return ExtractGemini(body)
	default:
		return Detail{}
	}
}

// StreamAccumulator buffers usage fields seen across a streamed
// response's terminal event, since usage is only ever attached to the
// last SSE event for every dialect (spec §4.9 "terminal-event buffering").
type StreamAccumulator struct {
	dialect translator.Dialect
	latest  Detail
	seen    bool
}

// NewStreamAccumulator constructs an accumulator for one streamed call.
func NewStreamAccumulator(dialect translator.Dialect) *StreamAccumulator {
	return &StreamAccumulator{dialect: dialect}
}

// Observe inspects one raw upstream SSE data payload (pre-translation)
// and records usage fields if present.
func (a *StreamAccumulator) Observe(rawJSON []byte) {
	var d Detail
	switch a.dialect {
	case translator.DialectOpenAIChat:
		u := gjson.GetBytes(rawJSON, "usage")
		if !u.Exists() {
			return
		}
		d = ExtractOpenAIChat(rawJSON)
	case translator.DialectOpenAIResponses:
		if gjson.GetBytes(rawJSON, "type").String() != "response.completed" {
			return
		}
		d = ExtractOpenAIResponses([]byte(gjson.GetBytes(rawJSON, "response").Raw))
	case translator.DialectClaude:
		if gjson.GetBytes(rawJSON, "type").String() != "message_delta" {
			return
		}
		u := gjson.GetBytes(rawJSON, "usage")
		d = Detail{OutputTokens: u.Get("output_tokens").Int(), InputTokens: u.Get("input_tokens").Int()}
		d.TotalTokens = d.InputTokens + d.OutputTokens
		if a.seen {
			// Claude streams cumulative output token counts on every
			// message_delta; input_tokens is only sent once up front, so
			// preserve it across deltas.
			if d.InputTokens == 0 {
				d.InputTokens = a.latest.InputTokens
				d.TotalTokens = d.InputTokens + d.OutputTokens
			}
		}
	case translator.DialectGemini:
		u := gjson.GetBytes(rawJSON, "usageMetadata")
		if !u.Exists() {
			return
		}
		d = ExtractGemini(rawJSON)
	default:
		return
	}
	a.latest = d
	a.seen = true
}

// Final returns the last-observed usage Detail, or the zero value if the
// stream never carried one.
func (a *StreamAccumulator) Final() (Detail, bool) {
	return a.latest, a.seen
}

// Writer persists usage Records asynchronously. Grounded on the
// teacher's buffered-channel Manager: a bounded queue plus a drain loop,
// so a slow store never backs up the request path.
type Writer interface {
	Write(Record)
}

// Plugin receives every completed Record, for pluggable enrichment
// (e.g. a billing exporter) without changing the core writer.
type Plugin interface {
	OnRecord(Record)
}

// Manager is the default Writer: a bounded channel drained by one
// goroutine into a backing store plus any registered Plugins.
type Manager struct {
	ch      chan Record
	store   Store
	plugins []Plugin
	done    chan struct{}
}

// Store is the persistence boundary a Manager writes through.
type Store interface {
	InsertUsage(ctx context.Context, r Record) error
}

// Querier is the read-side boundary the provider-scoped usage endpoint
// queries (spec §6.1: "GET /{provider}/usage?credential_id=<id>"), kept
// separate from Store the same way eventlog splits its write and
// cursor-paginated read boundaries.
type Querier interface {
	QueryByCredential(ctx context.Context, credentialID int64) ([]Record, error)
}

// NewManager constructs a Manager with the given queue depth.
func NewManager(store Store, queueDepth int) *Manager {
	return &Manager{ch: make(chan Record, queueDepth), store: store, done: make(chan struct{})}
}

// Register adds a Plugin invoked on every drained Record.
func (m *Manager) Register(p Plugin) { m.plugins = append(m.plugins, p) }

// Start begins the drain loop; it returns once ctx is canceled and the
// queue is empty.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		for {
			select {
			case r := <-m.ch:
				m.drain(ctx, r)
			case <-ctx.Done():
				for {
					select {
					case r := <-m.ch:
						m.drain(ctx, r)
					default:
						return
					}
				}
			}
		}
	}()
}

func (m *Manager) drain(ctx context.Context, r Record) {
	if m.store != nil {
		_ = m.store.InsertUsage(ctx, r)
	}
	for _, p := range m.plugins {
		p.OnRecord(r)
	}
}

// Stop blocks until the drain loop has exited.
func (m *Manager) Stop() { <-m.done }

// Write enqueues a Record without blocking the caller; if the queue is
// full the record is dropped rather than stalling the response path,
// matching the teacher's "usage recording never blocks a request" rule.
func (m *Manager) Write(r Record) {
	select {
	case m.ch <- r:
	default:
	}
}
