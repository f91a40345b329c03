package credential

import (
	"testing"
	"time"
)

func TestCooldownMakesFullyUnavailable(t *testing.T) {
	r := NewRegistry()
	r.MarkCooldown(1, time.Now().Add(60*time.Second))

	if got := r.Summary(1, true); got != FullyUnavailable {
		t.Fatalf("expected fully_unavailable during cooldown, got %v", got)
	}

	h := r.Snapshot(1, "")
	if !h.CooldownUntil.After(time.Now()) {
		t.Fatal("expected cooldown_until in the future")
	}
}

func TestPartialAvailabilitySelectableForOtherModel(t *testing.T) {
	r := NewRegistry()
	r.MarkModelUnavailable(1, "m1", "quota", time.Now().Add(time.Minute))
	// touch a second known model so only one of two is unavailable.
	r.Snapshot(1, "m2")

	if got := r.Summary(1, true); got != PartialUnavailable {
		t.Fatalf("expected partial_unavailable, got %v", got)
	}

	h := r.Snapshot(1, "")
	if h.modelUnavailable("m1", time.Now()) != true {
		t.Fatal("expected m1 to be unavailable")
	}
	if h.modelUnavailable("m2", time.Now()) {
		t.Fatal("expected m2 to remain available")
	}
}

func TestAllModelsUnavailableIsFullyUnavailable(t *testing.T) {
	r := NewRegistry()
	until := time.Now().Add(time.Minute)
	r.MarkModelUnavailable(1, "only-model", "quota", until)

	if got := r.Summary(1, true); got != FullyUnavailable {
		t.Fatalf("expected fully_unavailable when every known model is unavailable, got %v", got)
	}
}

func TestDisabledOverridesHealthSignals(t *testing.T) {
	r := NewRegistry()
	r.MarkCooldown(1, time.Now().Add(time.Minute))
	if got := r.Summary(1, false); got != Disabled {
		t.Fatalf("expected disabled to take precedence, got %v", got)
	}
}

func TestClearResetsCooldownAndPerModel(t *testing.T) {
	r := NewRegistry()
	r.MarkCooldown(1, time.Now().Add(time.Minute))
	r.MarkModelUnavailable(1, "m1", "quota", time.Now().Add(time.Minute))

	r.Clear(1)

	if got := r.Summary(1, true); got != Active {
		t.Fatalf("expected active after clear, got %v", got)
	}
}

func TestExpiredCooldownBecomesActiveAgain(t *testing.T) {
	r := NewRegistry()
	r.MarkCooldown(1, time.Now().Add(-time.Second))
	if got := r.Summary(1, true); got != Active {
		t.Fatalf("expected active once cooldown has elapsed, got %v", got)
	}
}
