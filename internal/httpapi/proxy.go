package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/llmgateway/internal/aggregate"
	"github.com/router-for-me/llmgateway/internal/authn"
	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/dispatch"
	"github.com/router-for-me/llmgateway/internal/eventlog"
	"github.com/router-for-me/llmgateway/internal/gwerr"
	"github.com/router-for-me/llmgateway/internal/route"
	"github.com/router-for-me/llmgateway/internal/stream"
	"github.com/router-for-me/llmgateway/internal/traceid"
	"github.com/router-for-me/llmgateway/internal/translator"
	"github.com/router-for-me/llmgateway/internal/usage"
)

// handleProxy is the single entry point every downstream wildcard route
// funnels into (spec §4.2-§4.6): it classifies the request, branches to
// OAuth/usage/aggregate-listing handling where the operation calls for
// it, and otherwise resolves a provider+model and runs one dispatch.
func (s *Server) handleProxy(c *gin.Context) {
	snap := s.deps.Snapshots.Current()
	ks := keySourceFromContext(c)
	identity := identityFromContext(c)

	class, err := route.Classify(c.Request.Method, c.Request.URL.Path, c.Request.Header, ks)
	if err != nil {
		writeError(c, err)
		return
	}

	switch class.Operation {
	case route.OpOAuthStart:
		s.handleOAuthStart(c, class)
		return
	case route.OpOAuthCallback:
		s.handleOAuthCallback(c, class)
		return
	case route.OpUsage:
		s.handleUsage(c, class)
		return
	}

	body, _ := io.ReadAll(c.Request.Body)
	if len(body) == 0 {
		body = []byte(`{}`)
	}

	downstreamDialect, ok := dispatch.OperationDialect(class.Operation)
	if !ok {
		writeError(c, gwerr.New(gwerr.UnsupportedOperation, "operation has no associated dialect"))
		return
	}

	if class.Aggregate && isModelsListOp(class.Operation) {
		s.handleAggregateList(c, snap, class.Operation, downstreamDialect)
		return
	}

	provider, model, err := resolveProviderModel(snap, class, body)
	if err != nil {
		writeError(c, err)
		return
	}

	op := route.UpgradeForStream(class.Operation, wantsStream(body))
	body = rewriteOutboundModel(downstreamDialect, model, body)

	s.dispatchSingle(c, snap, class, provider, op, downstreamDialect, model, body, identity)
}

// resolveProviderModel implements spec §4.2's "model prefix rule": for a
// provider-prefixed route the provider is already known from the path and
// the model comes from the URL segment (Gemini) or the body (everything
// else); for an aggregate route the model field (wherever it lives) must
// carry an explicit "provider/model" prefix that is split and resolved
// against the snapshot.
func resolveProviderModel(snap *config.Snapshot, class route.Classification, body []byte) (config.Provider, string, error) {
	if class.Provider != "" {
		p, ok := snap.Provider(class.Provider)
		if !ok {
			return config.Provider{}, "", gwerr.New(gwerr.UnknownProvider, "unknown provider "+class.Provider)
		}
		if !p.Enabled {
			return config.Provider{}, "", gwerr.New(gwerr.ProviderDisabled, "provider disabled: "+class.Provider)
		}
		model := class.ModelSegment
		if model == "" {
			model = gjson.GetBytes(body, "model").String()
		}
		return p, model, nil
	}

	raw := class.ModelSegment
	if raw == "" {
		raw = gjson.GetBytes(body, "model").String()
	}
	providerName, upstreamModel, err := route.SplitModelPrefix(raw)
	if err != nil {
		return config.Provider{}, "", err
	}
	p, ok := snap.Provider(providerName)
	if !ok {
		return config.Provider{}, "", gwerr.New(gwerr.UnknownProvider, "unknown provider "+providerName)
	}
	if !p.Enabled {
		return config.Provider{}, "", gwerr.New(gwerr.ProviderDisabled, "provider disabled: "+providerName)
	}
	return p, upstreamModel, nil
}

// rewriteOutboundModel replaces a downstream body's "model" field (which,
// on an aggregate route, still carries the "provider/" prefix) with the
// bare upstream model identifier before the body is translated and sent
// upstream. Gemini carries its model in the URL rather than the body, so
// this is a no-op for that dialect.
func rewriteOutboundModel(dialect translator.Dialect, model string, body []byte) []byte {
	switch dialect {
	case translator.DialectOpenAIChat, translator.DialectOpenAIResponses, translator.DialectClaude:
		if !gjson.GetBytes(body, "model").Exists() {
			return body
		}
		out, err := sjson.SetBytes(body, "model", model)
		if err != nil {
			return body
		}
		return out
	default:
		return body
	}
}

func wantsStream(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

func isModelsListOp(op route.Operation) bool {
	switch op {
	case route.OpClaudeModelsList, route.OpGeminiModelsList, route.OpOpenAIModelsList:
		return true
	default:
		return false
	}
}

func isModelsGetOp(op route.Operation) bool {
	switch op {
	case route.OpClaudeModelsGet, route.OpGeminiModelsGet, route.OpOpenAIModelsGet:
		return true
	default:
		return false
	}
}

func isGenerateOp(op route.Operation) bool {
	switch op {
	case route.OpClaudeGenerate, route.OpGeminiGenerate, route.OpOpenAIChatGenerate, route.OpOpenAIRespGenerate:
		return true
	default:
		return false
	}
}

// handleAggregateList implements the Aggregate Models Fan-out (spec
// §4.6): GET /v1/models and its Gemini/v1beta counterpart, which is the
// one shape classified as Aggregate that does not resolve to a single
// provider.
func (s *Server) handleAggregateList(c *gin.Context, snap *config.Snapshot, op route.Operation, downstreamDialect translator.Dialect) {
	result := aggregate.FanOut(c.Request.Context(), snap, s.deps.Engine, downstreamDialect)
	body := result.Body
	if result.Partial {
		body, _ = sjson.SetBytes(body, "partial", true)
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// dispatchSingle runs one provider dispatch to completion: downstream
// log record, the dispatch call itself (streaming or not), aggregate
// model-identifier rewriting, and usage/upstream log persistence.
func (s *Server) dispatchSingle(c *gin.Context, snap *config.Snapshot, class route.Classification, provider config.Provider, op route.Operation, downstreamDialect translator.Dialect, model string, body []byte, identity authn.Identity) {
	trace := traceid.New()
	ctx := c.Request.Context()

	s.deps.EventSink.Record(eventlog.Record{
		Kind:           eventlog.KindDownstream,
		TraceID:        trace,
		Provider:       provider.Name,
		UserID:         identity.UserID,
		UserKeyID:      identity.UserKeyID,
		Operation:      string(op),
		Method:         c.Request.Method,
		Path:           c.Request.URL.Path,
		RequestBody:    body,
		RequestHeaders: map[string][]string(c.Request.Header),
	})

	if route.IsStreamOperation(op) {
		s.dispatchStream(c, ctx, snap, class, provider, op, downstreamDialect, model, body, trace)
		return
	}

	call, err := s.deps.Engine.Dispatch(ctx, snap, provider, op, downstreamDialect, model, body, c.Request.Header)
	if err != nil {
		s.recordUpstreamError(trace, provider.Name, op, c.Request.Method, c.Request.URL.Path, err)
		writeError(c, err)
		return
	}

	respBody := call.Body
	switch {
	case class.Aggregate && isGenerateOp(op):
		respBody = stream.RewriteGenerateModel(downstreamDialect, provider.Name, model, respBody)
	case class.Aggregate && isModelsGetOp(op):
		respBody = stream.RewriteModelGetBody(downstreamDialect, provider.Name, respBody)
	}

	if isGenerateOp(op) {
		detail := usage.Extract(downstreamDialect, call.Body)
		s.deps.UsageWrite.Write(usage.Record{
			CredentialID: call.Credential.ID,
			Provider:     provider.Name,
			Model:        model,
			Operation:    string(op),
			Detail:       detail,
			TraceID:      trace,
			RecordedAt:   time.Now(),
		})
	}

	s.deps.EventSink.Record(eventlog.Record{
		Kind:         eventlog.KindUpstream,
		TraceID:      trace,
		Provider:     provider.Name,
		CredentialID: call.Credential.ID,
		Operation:    string(op),
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		Status:       call.StatusCode,
		ResponseBody: call.Body,
	})

	c.Data(call.StatusCode, "application/json; charset=utf-8", respBody)
}

// dispatchStream runs the streaming counterpart (spec §4.3, §5): it
// opens the upstream connection, relays translated SSE chunks back to
// the caller, and persists usage/log records once the stream ends,
// distinguishing a clean finish from a downstream cancellation.
func (s *Server) dispatchStream(c *gin.Context, ctx context.Context, snap *config.Snapshot, class route.Classification, provider config.Provider, op route.Operation, downstreamDialect translator.Dialect, model string, body []byte, trace string) {
	upstream, err := s.deps.Engine.DispatchStream(ctx, snap, provider, op, downstreamDialect, model, body, c.Request.Header)
	if err != nil {
		s.recordUpstreamError(trace, provider.Name, op, c.Request.Method, c.Request.URL.Path, err)
		writeError(c, err)
		return
	}
	defer upstream.Response.Body.Close()

	upstreamDialect := downstreamDialect
	if upstream.Decision.Mode == dispatch.ModeTransform {
		upstreamDialect = upstream.Decision.TargetDialect
	}

	rewriteModel := ""
	if class.Aggregate {
		rewriteModel = provider.Name + "/" + model
	}

	acc := usage.NewStreamAccumulator(upstreamDialect)
	outcome := stream.Relay(ctx, c, upstream.Response.Body, stream.Options{
		SourceDialect: upstreamDialect,
		TargetDialect: downstreamDialect,
		Model:         model,
		RewriteModel:  rewriteModel,
		Observe:       acc.Observe,
	})

	if outcome.Cancelled {
		if outcome.BytesSent {
			s.deps.EventSink.WriteDownstreamCancelled(trace, provider.Name, upstream.Credential.ID, 1, string(op), c.Request.Method, c.Request.URL.Path)
		}
		return
	}

	if detail, ok := acc.Final(); ok {
		s.deps.UsageWrite.Write(usage.Record{
			CredentialID: upstream.Credential.ID,
			Provider:     provider.Name,
			Model:        model,
			Operation:    string(op),
			Detail:       detail,
			TraceID:      trace,
			RecordedAt:   time.Now(),
		})
	}

	s.deps.EventSink.Record(eventlog.Record{
		Kind:         eventlog.KindUpstream,
		TraceID:      trace,
		Provider:     provider.Name,
		CredentialID: upstream.Credential.ID,
		Operation:    string(op),
		Method:       c.Request.Method,
		Path:         c.Request.URL.Path,
		Status:       http.StatusOK,
	})
}

func (s *Server) recordUpstreamError(trace, provider string, op route.Operation, method, path string, err error) {
	rec := eventlog.Record{
		Kind:      eventlog.KindUpstream,
		TraceID:   trace,
		Provider:  provider,
		Operation: string(op),
		Method:    method,
		Path:      path,
	}
	if gerr, ok := gwerr.As(err); ok {
		rec.Status = gerr.Status
		rec.ErrorKind = string(gerr.Kind)
		rec.ErrorMessage = gerr.Message
	} else {
		rec.ErrorMessage = err.Error()
	}
	s.deps.EventSink.Record(rec)
}

// handleUsage serves GET /{provider}/usage?credential_id=<id> (spec
// §6.1), the per-credential read side of the Usage Extractor & Writer.
func (s *Server) handleUsage(c *gin.Context, class route.Classification) {
	credIDStr := c.Query("credential_id")
	if credIDStr == "" {
		writeError(c, gwerr.New(gwerr.InvalidRequest, "missing credential_id query parameter"))
		return
	}
	credID, perr := strconv.ParseInt(credIDStr, 10, 64)
	if perr != nil {
		writeError(c, gwerr.New(gwerr.InvalidRequest, "invalid credential_id"))
		return
	}

	records, err := s.deps.UsageRead.QueryByCredential(c.Request.Context(), credID)
	if err != nil {
		writeError(c, gwerr.Wrap(gwerr.UpstreamTransport, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": class.Provider, "credential_id": credID, "records": records})
}
