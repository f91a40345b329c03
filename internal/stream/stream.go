// Package stream implements the Streaming Normalizer (spec §4.3, §5): it
// relays an upstream SSE response to the downstream caller, translating
// each event through the dispatch dialect pair, rewriting aggregate
// model identifiers, and injecting an idle heartbeat so long-lived
// connections survive intermediary timeouts.
//
// Grounded on the teacher's SSE relay in
// internal/runtime/executor/claude_executor.go's ExecuteStream, adapted
// from gin-contrib/sse framing (the teacher's chosen SSE library) to the
// full translation pipeline.
package stream

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/llmgateway/internal/translator"
)

// HeartbeatInterval is the idle keep-alive period from spec §5.
const HeartbeatInterval = 15 * time.Second

// Options configures one relay.
type Options struct {
	// SourceDialect is the upstream provider's wire dialect.
	SourceDialect translator.Dialect
	// TargetDialect is the downstream caller's expected wire dialect.
	TargetDialect translator.Dialect
	Model         string
	// RewriteModel, if set, is applied to each translated chunk's model
	// field, used by aggregate routes to echo back "provider/model"
	// instead of the bare upstream model identifier (spec §4.6).
	RewriteModel string
	// Observe, if set, is called with each raw (pre-translation) upstream
	// SSE payload, letting the caller feed a usage.StreamAccumulator
	// without the relay itself knowing about usage extraction.
	Observe func(rawJSON []byte)
}

// Outcome reports what happened over the lifetime of one Relay call, so
// the caller can decide whether to persist a downstream_cancelled upstream
// log record (spec §5: "if at least one upstream byte was sent").
type Outcome struct {
	BytesSent bool
	Cancelled bool
}

// Relay reads Server-Sent Events from the upstream body, translates each
// data payload, and writes them to the downstream ResponseWriter,
// heartbeating on idle per spec §5. It returns when the upstream body
// closes or ctx is canceled (the latter logging "downstream_cancelled",
// spec §5's cancellation invariant).
func Relay(ctx context.Context, c *gin.Context, upstreamBody io.Reader, opts Options) Outcome {
	w := c.Writer
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flush(w)

	events := make(chan string)
	go scanSSE(upstreamBody, events)

	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	var out Outcome
	for {
		select {
		case payload, ok := <-events:
			if !ok {
				return out
			}
			if opts.Observe != nil {
				opts.Observe([]byte(payload))
			}
			if strings.TrimSpace(payload) == "[DONE]" {
				writeRaw(w, "[DONE]")
				flush(w)
				out.BytesSent = true
				return out
			}
			for _, translatedPayload := range translator.TranslateStreamChunk(ctx, opts.SourceDialect, opts.TargetDialect, opts.Model, []byte(payload)) {
				if opts.RewriteModel != "" {
					translatedPayload = rewriteModelField(translatedPayload, opts.RewriteModel)
				}
				writeRaw(w, translatedPayload)
				out.BytesSent = true
			}
			flush(w)
			heartbeat.Reset(HeartbeatInterval)
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": heartbeat\n\n"))
			flush(w)
		case <-ctx.Done():
			logrus.WithField("event", "downstream_cancelled").Debug("stream relay canceled")
			out.Cancelled = true
			return out
		}
	}
}

// scanSSE reads "data: ..." lines from r, joining multi-line data blocks
// on blank-line boundaries per the SSE wire format, and emits each
// complete payload on events. Closes events when r is exhausted.
func scanSSE(r io.Reader, events chan<- string) {
	defer close(events)
	br := bufio.NewReader(r)
	var dataBuf strings.Builder
	for {
		line, err := br.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case trimmed == "":
			if dataBuf.Len() > 0 {
				events <- dataBuf.String()
				dataBuf.Reset()
			}
		case strings.HasPrefix(trimmed, "data:"):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		}
		if err != nil {
			if dataBuf.Len() > 0 {
				events <- dataBuf.String()
			}
			return
		}
	}
}

func writeRaw(w http.ResponseWriter, payload string) {
	_ = sse.Encode(w, sse.Event{Data: payload})
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// rewriteModelField overwrites a streamed chunk's "model" field with the
// aggregate-route "provider/model" identifier the downstream caller
// expects back (spec §4.6).
func rewriteModelField(payload, model string) string {
	out, err := sjson.Set(payload, "model", model)
	if err != nil {
		return payload
	}
	return out
}
