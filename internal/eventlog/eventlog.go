// Package eventlog implements the Event/Log Sink (spec §2.11, §4.9): one
// downstream envelope and one upstream envelope persisted per attempt,
// with optional request/response body capture gated by the global
// event_redact_sensitive flag, plus the cursor-paginated query contract
// the admin log endpoint reads through.
//
// Grounded on the teacher's internal/logging request-logger shape
// (enabled flag, async write path) and, for the queueing mechanics,
// sdk/cliproxy/usage/manager.go's buffered-channel drain loop, reused
// here for log envelopes instead of usage rows.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes the two envelope shapes from spec §3 LogRecord.
type Kind string

const (
	KindDownstream Kind = "downstream"
	KindUpstream   Kind = "upstream"
)

// Record is one persisted log envelope (spec §3 LogRecord).
type Record struct {
	ID              string
	Kind            Kind
	At              time.Time
	TraceID         string
	Provider        string
	CredentialID    int64
	UserID          int64
	UserKeyID       int64
	AttemptNo       int
	Operation       string
	Method          string
	Path            string
	Status          int
	ErrorKind       string
	ErrorMessage    string
	RequestBody     []byte
	ResponseBody    []byte
	RequestHeaders  map[string][]string
	ResponseHeaders map[string][]string
}

// NewID mints a record id; split out so it's easy to stub in tests that
// care about deterministic ids.
func NewID() string { return uuid.NewString() }

// Store is the external persistence boundary this core writes through
// and the admin log-query endpoint reads through (spec §1: storage
// implementation is an external collaborator; spec §4.9, §6.3: one
// relational table, cursor-paginated reads).
type Store interface {
	InsertLog(ctx context.Context, r Record) error
	QueryLogs(ctx context.Context, q Query) ([]Record, error)
}

// Query is the admin log-query endpoint's cursor-paginated request shape
// (spec §4.9: "cursor pagination (cursor_at, cursor_id); offset>0 is
// rejected", §6.1 GET /admin/logs).
type Query struct {
	CursorAt    time.Time
	CursorID    string
	Limit       int
	IncludeBody bool // defaults to false per spec §4.9
	Kind        Kind // empty means both kinds
	Provider    string
	TraceID     string
}

// DefaultLimit bounds an unpaginated query to a sane page size.
const DefaultLimit = 100

// Sink is the write-side API the dispatch pipeline calls after every
// attempt. Redact controls whether request/response bodies are ever
// attached to a Record before it reaches the Store (spec §4.9: "when
// true, request and response bodies are omitted from persisted
// records").
type Sink struct {
	ch     chan Record
	store  Store
	redact func() bool
	done   chan struct{}
}

// NewSink constructs a Sink with a bounded queue. redact is read fresh
// for every record (rather than captured once) so a live config reload
// of event_redact_sensitive takes effect immediately.
func NewSink(store Store, queueDepth int, redact func() bool) *Sink {
	return &Sink{ch: make(chan Record, queueDepth), store: store, redact: redact, done: make(chan struct{})}
}

// Start launches the drain loop in a goroutine and returns immediately;
// the loop exits once ctx is canceled and the queue has been flushed.
func (s *Sink) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		for {
			select {
			case r := <-s.ch:
				s.persist(ctx, r)
			case <-ctx.Done():
				for {
					select {
					case r := <-s.ch:
						s.persist(ctx, r)
					default:
						return
					}
				}
			}
		}
	}()
}

// Stop blocks until the drain loop exits.
func (s *Sink) Stop() { <-s.done }

func (s *Sink) persist(ctx context.Context, r Record) {
	if s.store == nil {
		return
	}
	if s.redact != nil && s.redact() {
		r.RequestBody = nil
		r.ResponseBody = nil
	}
	_ = s.store.InsertLog(ctx, r)
}

// Record enqueues a Record without blocking the request path; a full
// queue drops the record rather than stalling the response, matching
// the usage Writer's drop-on-backpressure policy.
func (s *Sink) Record(r Record) {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	select {
	case s.ch <- r:
	default:
	}
}

// WriteDownstreamCancelled records the upstream envelope for a task
// cancelled mid-flight, per spec §5's cancellation invariant: "persist
// the upstream log record with error_kind=downstream_cancelled if at
// least one upstream byte was sent".
func (s *Sink) WriteDownstreamCancelled(traceID, provider string, credentialID int64, attemptNo int, operation, method, path string) {
	s.Record(Record{
		Kind:         KindUpstream,
		TraceID:      traceID,
		Provider:     provider,
		CredentialID: credentialID,
		AttemptNo:    attemptNo,
		Operation:    operation,
		Method:       method,
		Path:         path,
		ErrorKind:    "downstream_cancelled",
	})
}
