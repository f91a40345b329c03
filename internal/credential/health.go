// Package credential implements the Credential Health Registry (spec §2.2,
// §3 CredentialHealth, §4.4) and the Credential Selector (spec §4.5).
//
// The registry is the one writable shared structure on the hot path (spec
// §5): each credential id has its own entry guarded by a short mutex that
// both writers and readers take, and readers get a copied Health value, so
// updates to one credential are linearizable and never block another's.
package credential

import (
	"sync"
	"time"
)

// Summary is the derived health label from spec §3/§4.4.
type Summary string

const (
	Active             Summary = "active"
	PartialUnavailable Summary = "partial_unavailable"
	FullyUnavailable   Summary = "fully_unavailable"
	Disabled           Summary = "disabled"
)

// ModelWindow records a per-model unavailability window (spec §3 per_model).
type ModelWindow struct {
	Reason string
	Until  time.Time
}

// Health is the point-in-time derived state of one credential.
type Health struct {
	CredentialID  int64
	CooldownUntil time.Time
	PerModel      map[string]ModelWindow
	KnownModels   map[string]struct{}
}

func (h Health) modelUnavailable(model string, now time.Time) bool {
	w, ok := h.PerModel[model]
	return ok && w.Until.After(now)
}

// summary derives the label for this health entry given whether the
// credential itself is admin-enabled, per the state table in spec §4.4.
func (h Health) summary(enabled bool, now time.Time) Summary {
	if !enabled {
		return Disabled
	}
	if h.CooldownUntil.After(now) {
		return FullyUnavailable
	}
	if len(h.KnownModels) == 0 {
		return Active
	}
	unavailableCount := 0
	for model := range h.KnownModels {
		if h.modelUnavailable(model, now) {
			unavailableCount++
		}
	}
	switch {
	case unavailableCount == 0:
		return Active
	case unavailableCount == len(h.KnownModels):
		return FullyUnavailable
	default:
		return PartialUnavailable
	}
}

// entry is the mutable, lock-protected record backing one credential's
// Health. Writers update it in place while holding mu; readers also hold mu
// and receive a deep copy (cloneHealth), so a reader never sees a partial
// update.
type entry struct {
	mu     sync.Mutex
	health Health
}

// Registry tracks derived Health state for every known credential id.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*entry
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*entry)}
}

func (r *Registry) entryFor(id int64) *entry {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[id]; ok {
		return e
	}
	e = &entry{health: Health{CredentialID: id, PerModel: map[string]ModelWindow{}, KnownModels: map[string]struct{}{}}}
	r.entries[id] = e
	return e
}

// Snapshot returns a copy of the current Health for a credential, touching
// the model into KnownModels if provided so the fully/partial-unavailable
// computation can eventually consider it (spec: health is "rebuildable
// from recent upstream failures", i.e. it only knows about models it has
// actually seen traffic or failures for).
func (r *Registry) Snapshot(id int64, model string) Health {
	e := r.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if model != "" {
		if _, ok := e.health.KnownModels[model]; !ok {
			e.health.KnownModels[model] = struct{}{}
		}
	}
	return cloneHealth(e.health)
}

// Summary returns the derived label for a credential.
func (r *Registry) Summary(id int64, enabled bool) Summary {
	e := r.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health.summary(enabled, time.Now())
}

// MarkCooldown sets (or extends) the credential-wide cooldown window,
// triggered by a 429 with Retry-After or a persistent 401 (spec §4.4).
func (r *Registry) MarkCooldown(id int64, until time.Time) {
	e := r.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if until.After(e.health.CooldownUntil) {
		e.health.CooldownUntil = until
	}
}

// MarkModelUnavailable sets a per-model unavailability window (spec §4.4,
// upstream-specific quota signals per §4.7).
func (r *Registry) MarkModelUnavailable(id int64, model, reason string, until time.Time) {
	if model == "" {
		return
	}
	e := r.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.health.PerModel == nil {
		e.health.PerModel = map[string]ModelWindow{}
	}
	if e.health.KnownModels == nil {
		e.health.KnownModels = map[string]struct{}{}
	}
	e.health.KnownModels[model] = struct{}{}
	e.health.PerModel[model] = ModelWindow{Reason: reason, Until: until}
}

// Clear resets cooldown and per-model windows for a credential, used by
// admin "clear" actions (spec §4.4 exit condition).
func (r *Registry) Clear(id int64) {
	e := r.entryFor(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.health.CooldownUntil = time.Time{}
	e.health.PerModel = map[string]ModelWindow{}
}

func cloneHealth(h Health) Health {
	out := Health{CredentialID: h.CredentialID, CooldownUntil: h.CooldownUntil}
	out.PerModel = make(map[string]ModelWindow, len(h.PerModel))
	for k, v := range h.PerModel {
		out.PerModel[k] = v
	}
	out.KnownModels = make(map[string]struct{}, len(h.KnownModels))
	for k := range h.KnownModels {
		out.KnownModels[k] = struct{}{}
	}
	return out
}
