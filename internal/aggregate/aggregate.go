// Package aggregate implements the Aggregate Models Fan-out (spec §4.6):
// GET /v1/models (and the Gemini /v1beta/models equivalent) queries every
// enabled provider concurrently using that provider's own native listing
// operation, merges the results preserving provider order, and silently
// skips providers that have nothing to contribute.
//
// Grounded on the teacher's cmd/service list-models handler, which fans a
// single "list all configured accounts' models" call out across
// credentials; generalized here to fan out across providers and dialects.
package aggregate

import (
	"context"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/dispatch"
	"github.com/router-for-me/llmgateway/internal/gwerr"
	"github.com/router-for-me/llmgateway/internal/stream"
	"github.com/router-for-me/llmgateway/internal/translator"
)

// Result is the fan-out's outcome, handed to the HTTP layer to render.
type Result struct {
	// Body is the merged models-list body in downstreamDialect's shape.
	Body []byte
	// Partial is true when at least one provider failed with something
	// other than a silent-skip error (spec §4.6: "the provider is
	// omitted and partial: true is set").
	Partial bool
}

// silentSkip reports whether a provider's list error should be dropped
// without affecting the aggregate response at all (spec §4.6).
func silentSkip(err error) bool {
	gerr, ok := gwerr.As(err)
	if !ok {
		return false
	}
	switch gerr.Kind {
	case gwerr.NoActiveCredentials, gwerr.UnsupportedOperation, gwerr.ProviderDisabled:
		return true
	default:
		return false
	}
}

type providerListing struct {
	provider string
	body     []byte
	err      error
}

// FanOut queries every enabled provider's native models-list operation
// concurrently and merges the results into downstreamDialect's list shape.
// downstreamDialect is the dialect the disambiguated aggregate operation
// implies (spec §4.2's GET /v1/models header/key disambiguation), not
// necessarily any one provider's native dialect: a provider whose native
// dialect differs is translated on the way in, exactly as a single-call
// dispatch would be.
func FanOut(ctx context.Context, snap *config.Snapshot, engine *dispatch.Engine, downstreamDialect translator.Dialect) Result {
	providers := snap.EnabledProviders()
	listings := make([]providerListing, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			listings[i] = fetchOne(ctx, snap, engine, p, downstreamDialect)
		}()
	}
	wg.Wait()

	return merge(downstreamDialect, listings)
}

func fetchOne(ctx context.Context, snap *config.Snapshot, engine *dispatch.Engine, p config.Provider, downstreamDialect translator.Dialect) providerListing {
	op, ok := dispatch.NativeListOp(p)
	if !ok {
		return providerListing{provider: p.Name, err: gwerr.New(gwerr.UnsupportedOperation, "no list operation for provider "+p.Name)}
	}
	// Dispatch with the op's own native dialect so the engine resolves a
	// native call rather than routing through the dispatch matrix's
	// transform path; the fan-out does its own translation below once it
	// knows the true aggregate-route dialect.
	nativeDialect, _ := dispatch.OperationDialect(op)
	call, err := engine.Dispatch(ctx, snap, p, op, nativeDialect, "", []byte(`{}`), emptyHeader)
	if err != nil {
		return providerListing{provider: p.Name, err: err}
	}
	body := call.Body
	if nativeDialect != downstreamDialect {
		body = translator.TranslateNonStream(ctx, nativeDialect, downstreamDialect, "", body)
	}
	body = stream.RewriteModelsListBody(downstreamDialect, p.Name, body)
	return providerListing{provider: p.Name, body: body}
}

var emptyHeader = http.Header{}

func merge(dialect translator.Dialect, listings []providerListing) Result {
	result := Result{}
	var all [][]byte
	for _, l := range listings {
		if l.err != nil {
			if !silentSkip(l.err) {
				result.Partial = true
			}
			continue
		}
		all = append(all, l.body)
	}
	result.Body = mergeBodies(dialect, all)
	return result
}

// mergeBodies concatenates each provider's already-prefixed list entries
// into one envelope in the downstream dialect's shape, preserving the
// per-provider order FanOut iterated in (spec §4.6 "preserving provider
// order").
func mergeBodies(dialect translator.Dialect, bodies [][]byte) []byte {
	field := "data"
	if dialect == translator.DialectGemini {
		field = "models"
	}

	merged := make([]byte, 0)
	for _, b := range bodies {
		for _, entry := range gjson.GetBytes(b, field).Array() {
			merged = append(merged, []byte(entry.Raw)...)
			merged = append(merged, ',')
		}
	}
	if len(merged) > 0 {
		merged = merged[:len(merged)-1]
	}
	arr := append(append([]byte{'['}, merged...), ']')

	out := []byte(`{}`)
	if dialect != translator.DialectGemini {
		out, _ = sjson.SetBytes(out, "object", "list")
	}
	out, _ = sjson.SetRawBytes(out, field, arr)
	return out
}
