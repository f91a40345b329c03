// Package traceid mints the single UUIDv7 trace identifier attached to a
// downstream request and propagated to every upstream event it produces.
package traceid

import "github.com/google/uuid"

// New returns a freshly minted UUIDv7 trace id. Inbound x-trace-id /
// x-request-id headers are intentionally never consulted here: the spec
// requires the gateway to mint its own id per downstream request and
// ignore caller-supplied ones.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the entropy source is broken; fall back
		// to a random v4 rather than propagate an error from a code path
		// that must never fail a request.
		return uuid.NewString()
	}
	return id.String()
}
