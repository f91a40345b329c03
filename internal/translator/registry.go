package translator

import (
	"context"
	"sync"
)

type pairKey struct {
	source Dialect
	target Dialect
}

var (
	registryMu sync.RWMutex
	registry   = make(map[pairKey]Converter)
)

// Register binds a Converter for translating source (downstream) dialect
// requests/responses into target (upstream) dialect, and back. Called
// from each converter file's init(), mirroring the teacher's blank-import
// registration pattern.
func Register(source, target Dialect, req RequestTransform, resp ResponseTransform) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[pairKey{source, target}] = Converter{Request: req, Response: resp}
}

// Lookup returns the registered Converter for (source, target), if any.
func Lookup(source, target Dialect) (Converter, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[pairKey{source, target}]
	return c, ok
}

// TranslateRequest converts a downstream request body into the upstream
// dialect. If source == target it is returned unchanged (native passthrough).
func TranslateRequest(source, target Dialect, model string, rawJSON []byte, stream bool) []byte {
	if source == target {
		return rawJSON
	}
	c, ok := Lookup(source, target)
	if !ok || c.Request == nil {
		return rawJSON
	}
	return c.Request(model, rawJSON, stream)
}

// TranslateNonStream converts a complete upstream response body back into
// the downstream dialect. source is the upstream dialect and target the
// downstream one, so the converter registered for (target, source)
// supplies the response function.
func TranslateNonStream(ctx context.Context, source, target Dialect, model string, rawJSON []byte) []byte {
	if source == target {
		return rawJSON
	}
	c, ok := Lookup(target, source)
	if !ok || c.Response.NonStream == nil {
		return rawJSON
	}
	return c.Response.NonStream(ctx, model, rawJSON)
}

// TranslateStreamChunk converts one upstream SSE data payload into zero
// or more downstream SSE data payloads. As in TranslateNonStream, source
// is the upstream dialect and the (target, source) converter is used.
func TranslateStreamChunk(ctx context.Context, source, target Dialect, model string, rawJSON []byte) []string {
	if source == target {
		return []string{string(rawJSON)}
	}
	c, ok := Lookup(target, source)
	if !ok || c.Response.Stream == nil {
		return []string{string(rawJSON)}
	}
	return c.Response.Stream(ctx, model, rawJSON)
}
