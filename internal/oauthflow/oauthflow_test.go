package oauthflow

import (
	"testing"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/gwerr"
)

func TestStartAndResolveByState(t *testing.T) {
	m := NewMachine()
	defer m.Stop()

	p, err := m.Start("claudecode-1", config.KindClaudeCode, func(state string) string {
		return "https://example.invalid/authorize?state=" + state
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := m.Resolve("claudecode-1", p.State)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.State != p.State {
		t.Fatalf("resolved wrong pending attempt")
	}
}

func TestResolveAmbiguousWithoutState(t *testing.T) {
	m := NewMachine()
	defer m.Stop()

	for i := 0; i < 2; i++ {
		if _, err := m.Start("geminicli-1", config.KindGeminiCLI, func(state string) string { return state }); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	_, err := m.Resolve("geminicli-1", "")
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.AmbiguousState {
		t.Fatalf("expected AmbiguousState, got %v", err)
	}
}

func TestPollDeviceBeforeCompletion(t *testing.T) {
	m := NewMachine()
	defer m.Stop()

	p, _ := m.Start("codex-1", config.KindCodex, func(state string) string { return state })
	_, err := m.PollDevice(p.State)
	ge, ok := gwerr.As(err)
	if !ok || ge.Kind != gwerr.AuthorizationPending {
		t.Fatalf("expected AuthorizationPending, got %v", err)
	}

	m.Complete(p.State, Result{AccessToken: "tok"})
	result, err := m.PollDevice(p.State)
	if err != nil {
		t.Fatalf("PollDevice after completion: %v", err)
	}
	if result.AccessToken != "tok" {
		t.Fatalf("got %+v", result)
	}
}
