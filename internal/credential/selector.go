package credential

import (
	"sort"
	"sync"
	"time"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
)

// Selector picks one enabled, healthy credential for a provider and
// target model (spec §4.5), grounded on the teacher's
// sdk/cliproxy/auth/selector.go RoundRobinSelector but generalized to
// respect per-model partial availability and the "oldest updated_at
// first" fairness bias the spec calls for.
type Selector struct {
	mu      sync.Mutex
	cursors map[string]int
}

// NewSelector constructs a Selector.
func NewSelector() *Selector {
	return &Selector{cursors: make(map[string]int)}
}

// Pick returns one eligible credential for (provider, model), or
// gwerr.NoActiveCredentials if none qualify.
//
// Eligibility: enabled, and health summary is Active or
// PartialUnavailable-with-the-target-model-still-available.
//
// Ordering: candidates are sorted by (UpdatedAt ascending, ID ascending)
// before the round-robin cursor is applied, biasing selection toward
// credentials whose refresh-token rotation is furthest in the past (spec
// §4.5), with id-ascending as the final deterministic tie-break (spec §9(ii)).
func (s *Selector) Pick(registry *Registry, provider, model string, creds []config.Credential) (config.Credential, error) {
	now := time.Now()
	eligible := make([]config.Credential, 0, len(creds))
	for _, c := range creds {
		if !c.Enabled {
			continue
		}
		h := registry.Snapshot(c.ID, model)
		if h.CooldownUntil.After(now) {
			continue
		}
		if model != "" && h.modelUnavailable(model, now) {
			continue
		}
		eligible = append(eligible, c)
	}
	if len(eligible) == 0 {
		return config.Credential{}, gwerr.New(gwerr.NoActiveCredentials, "no active credentials for provider "+provider)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if !eligible[i].UpdatedAt.Equal(eligible[j].UpdatedAt) {
			return eligible[i].UpdatedAt.Before(eligible[j].UpdatedAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	key := provider + ":" + model
	s.mu.Lock()
	idx := s.cursors[key]
	s.cursors[key] = idx + 1
	s.mu.Unlock()

	return eligible[idx%len(eligible)], nil
}
