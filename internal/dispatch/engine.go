package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/credential"
	"github.com/router-for-me/llmgateway/internal/gwerr"
	"github.com/router-for-me/llmgateway/internal/route"
	"github.com/router-for-me/llmgateway/internal/translator"
)

// Engine drives one downstream call through credential selection,
// protocol translation, provider-specific rewrites, the upstream HTTP
// call, and failover across credentials. Grounded on the teacher's
// internal/runtime/executor/claude_executor.go Execute/ExecuteStream
// loop, generalized from one provider to the full dispatch matrix.
type Engine struct {
	Registry *credential.Registry
	Selector *credential.Selector
	// Client is used for non-streaming dispatch; it carries the
	// configured upstream timeout bounding the full round trip.
	Client *http.Client
	// StreamClient is used for streaming dispatch; it shares Client's
	// transport but carries no http.Client.Timeout, since spec §5
	// requires streaming calls to be unbounded (bounded only by context
	// cancellation, i.e. downstream disconnect).
	StreamClient *http.Client
	// PersistToken, if set, receives any OAuth token refreshed during
	// auth injection so it survives past this one request (spec §4.3
	// point 2).
	PersistToken TokenPersister
}

// NewEngine constructs an Engine. client bounds non-streaming calls;
// streamClient must not carry a blanket http.Client.Timeout.
func NewEngine(registry *credential.Registry, selector *credential.Selector, client, streamClient *http.Client) *Engine {
	return &Engine{Registry: registry, Selector: selector, Client: client, StreamClient: streamClient}
}

// Call is the outcome of one successful non-streaming dispatch.
type Call struct {
	StatusCode int
	Body       []byte
	Credential config.Credential
}

// UpstreamResponse is the outcome of a streaming dispatch: the caller
// (internal/stream) consumes resp.Body as SSE and must close it.
type UpstreamResponse struct {
	Response   *http.Response
	Credential config.Credential
	Decision   Decision
}

// Dispatch resolves the provider's dispatch mode, then tries up to the
// configured attempt budget's worth of credentials (spec §4.3(i), §9(i)):
// each attempt picks the next eligible credential and retries only on a
// retryable upstream error, marking the exhausted credential's cooldown
// before moving to the next one.
func (e *Engine) Dispatch(ctx context.Context, snap *config.Snapshot, provider config.Provider, op route.Operation, downstreamDialect translator.Dialect, model string, rawBody []byte, downstreamHeader http.Header) (*Call, error) {
	decision := Resolve(provider, op)
	if decision.Mode == ModeUnsupported {
		return nil, gwerr.New(gwerr.UnsupportedOperation, "operation not supported by provider "+provider.Name)
	}

	budget := snap.Global().AttemptBudgetOrDefault()
	creds := snap.CredentialsFor(provider.Name)
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		cred, err := e.Selector.Pick(e.Registry, provider.Name, model, creds)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		call, err := e.attempt(ctx, provider, cred, op, decision, downstreamDialect, model, rawBody, downstreamHeader)
		if err == nil {
			return call, nil
		}

		gerr, ok := gwerr.As(err)
		if !ok || !gerr.Retryable {
			return nil, err
		}
		lastErr = err
		until := time.Now().Add(time.Duration(gerr.RetryAfterSec) * time.Second)
		if gerr.RetryAfterSec == 0 {
			until = time.Now().Add(30 * time.Second)
		}
		e.Registry.MarkCooldown(cred.ID, until)
	}
	return nil, lastErr
}

// DispatchStream is Dispatch's streaming counterpart: it returns the
// live upstream *http.Response for internal/stream to relay, still
// honoring the attempt budget for the connection-establishment phase
// (a failure mid-stream is not retried, since bytes may already have
// reached the downstream caller).
func (e *Engine) DispatchStream(ctx context.Context, snap *config.Snapshot, provider config.Provider, op route.Operation, downstreamDialect translator.Dialect, model string, rawBody []byte, downstreamHeader http.Header) (*UpstreamResponse, error) {
	decision := Resolve(provider, op)
	if decision.Mode == ModeUnsupported {
		return nil, gwerr.New(gwerr.UnsupportedOperation, "operation not supported by provider "+provider.Name)
	}

	budget := snap.Global().AttemptBudgetOrDefault()
	creds := snap.CredentialsFor(provider.Name)
	var lastErr error

	for attempt := 0; attempt < budget; attempt++ {
		cred, err := e.Selector.Pick(e.Registry, provider.Name, model, creds)
		if err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		req, err := e.buildRequest(ctx, provider, cred, op, decision, downstreamDialect, model, rawBody, downstreamHeader, true)
		if err != nil {
			return nil, err
		}
		resp, err := e.StreamClient.Do(req)
		if err != nil {
			lastErr = gwerr.Wrap(gwerr.UpstreamTransport, err).WithRetry(0)
			e.Registry.MarkCooldown(cred.ID, time.Now().Add(30*time.Second))
			continue
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			gerr := classifyUpstreamError(resp.StatusCode, resp.Header, body)
			if gerr.Retryable {
				lastErr = gerr
				e.Registry.MarkCooldown(cred.ID, cooldownUntil(gerr))
				continue
			}
			return nil, gerr
		}
		return &UpstreamResponse{Response: resp, Credential: cred, Decision: decision}, nil
	}
	return nil, lastErr
}

func (e *Engine) attempt(ctx context.Context, provider config.Provider, cred config.Credential, op route.Operation, decision Decision, downstreamDialect translator.Dialect, model string, rawBody []byte, downstreamHeader http.Header) (*Call, error) {
	req, err := e.buildRequest(ctx, provider, cred, op, decision, downstreamDialect, model, rawBody, downstreamHeader, false)
	if err != nil {
		return nil, err
	}

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err).WithRetry(0)
	}
	defer resp.Body.Close()

	bodyReader, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamParse, err)
	}
	body, err := io.ReadAll(bodyReader)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}

	if resp.StatusCode >= 400 {
		return nil, classifyUpstreamError(resp.StatusCode, resp.Header, body)
	}

	upstreamDialect := downstreamDialect
	if decision.Mode == ModeTransform {
		upstreamDialect = decision.TargetDialect
	}
	translated := translator.TranslateNonStream(ctx, upstreamDialect, downstreamDialect, model, body)
	return &Call{StatusCode: resp.StatusCode, Body: translated, Credential: cred}, nil
}

func (e *Engine) buildRequest(ctx context.Context, provider config.Provider, cred config.Credential, op route.Operation, decision Decision, downstreamDialect translator.Dialect, model string, rawBody []byte, downstreamHeader http.Header, stream bool) (*http.Request, error) {
	upstreamDialect := downstreamDialect
	if decision.Mode == ModeTransform {
		upstreamDialect = decision.TargetDialect
	}
	translatedBody := translator.TranslateRequest(downstreamDialect, upstreamDialect, model, rawBody, stream)
	translatedBody = RewriteRequest(provider, cred, op, translatedBody)

	method, path, err := endpointFor(op, model)
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UnsupportedOperation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, joinURL(provider.BaseURL, path), bytes.NewReader(translatedBody))
	if err != nil {
		return nil, gwerr.Wrap(gwerr.UpstreamTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	if v := downstreamHeader.Get("anthropic-version"); v != "" {
		req.Header.Set("anthropic-version", v)
	}

	if err := Authenticate(ctx, req, cred, e.PersistToken); err != nil {
		return nil, err
	}
	RewriteHeaders(provider, cred, model, req.Header)
	return req, nil
}

// classifyUpstreamError normalizes an upstream error response, including
// non-JSON bodies (plain text, HTML error pages from a misconfigured
// proxy), into a *gwerr.Error, marking 401, 429 and every 5xx as
// retryable (carrying any numeric Retry-After as the cooldown hint).
func classifyUpstreamError(status int, header http.Header, body []byte) *gwerr.Error {
	message := string(body)
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			message = msg.String()
		} else if msg := gjson.GetBytes(body, "message"); msg.Exists() {
			message = msg.String()
		}
	}
	gerr := gwerr.New(gwerr.UpstreamStatus, message).WithStatus(status)
	gerr.UpstreamBody = string(body)
	// spec §7: 401 and 429 retryable (with cooldown); other 4xx terminal;
	// 5xx retryable within budget.
	if status == http.StatusTooManyRequests || status == http.StatusUnauthorized || status >= 500 {
		gerr = gerr.WithRetry(retryAfterSeconds(header))
	}
	return gerr
}

func retryAfterSeconds(header http.Header) int {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	seconds := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		seconds = seconds*10 + int(c-'0')
	}
	return seconds
}

func cooldownUntil(gerr *gwerr.Error) time.Time {
	sec := gerr.RetryAfterSec
	if sec == 0 {
		sec = 30
	}
	return time.Now().Add(time.Duration(sec) * time.Second)
}
