package credential

import (
	"testing"
	"time"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
)

func TestSelectorReturnsNoActiveCredentialsWhenEmpty(t *testing.T) {
	sel := NewSelector()
	reg := NewRegistry()
	_, err := sel.Pick(reg, "openai", "gpt-4o-mini", nil)
	gerr, ok := gwerr.As(err)
	if !ok || gerr.Kind != gwerr.NoActiveCredentials {
		t.Fatalf("expected no_active_credentials, got %v", err)
	}
}

func TestSelectorSkipsCooldownedCredential(t *testing.T) {
	sel := NewSelector()
	reg := NewRegistry()
	reg.MarkCooldown(1, time.Now().Add(time.Minute))

	creds := []config.Credential{
		{ID: 1, ProviderName: "openai", Enabled: true},
		{ID: 2, ProviderName: "openai", Enabled: true},
	}

	got, err := sel.Pick(reg, "openai", "gpt-4o-mini", creds)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.ID != 2 {
		t.Fatalf("expected credential 2 to be chosen over cooled-down credential 1, got %d", got.ID)
	}
}

func TestSelectorSkipsDisabledCredential(t *testing.T) {
	sel := NewSelector()
	reg := NewRegistry()

	creds := []config.Credential{
		{ID: 1, ProviderName: "openai", Enabled: false},
		{ID: 2, ProviderName: "openai", Enabled: true},
	}

	got, err := sel.Pick(reg, "openai", "gpt-4o-mini", creds)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.ID != 2 {
		t.Fatalf("expected only the enabled credential 2, got %d", got.ID)
	}
}

func TestSelectorBiasesTowardOldestUpdatedAt(t *testing.T) {
	sel := NewSelector()
	reg := NewRegistry()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	creds := []config.Credential{
		{ID: 2, ProviderName: "openai", Enabled: true, UpdatedAt: newer},
		{ID: 1, ProviderName: "openai", Enabled: true, UpdatedAt: older},
	}

	got, err := sel.Pick(reg, "openai", "gpt-4o-mini", creds)
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected the credential with the oldest updated_at first, got %d", got.ID)
	}
}

func TestSelectorSkipsModelSpecificUnavailability(t *testing.T) {
	sel := NewSelector()
	reg := NewRegistry()
	reg.MarkModelUnavailable(1, "gpt-4o-mini", "quota", time.Now().Add(time.Minute))

	creds := []config.Credential{
		{ID: 1, ProviderName: "openai", Enabled: true},
	}

	// unavailable for the quota-hit model.
	if _, err := sel.Pick(reg, "openai", "gpt-4o-mini", creds); err == nil {
		t.Fatal("expected no_active_credentials for the unavailable model")
	}

	// still selectable for a different model.
	got, err := sel.Pick(reg, "openai", "gpt-4o", creds)
	if err != nil {
		t.Fatalf("Pick for other model: %v", err)
	}
	if got.ID != 1 {
		t.Fatalf("expected credential 1 selectable for an unaffected model, got %d", got.ID)
	}
}
