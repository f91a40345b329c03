package dispatch

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/route"
)

func TestApplyParamMaskScalarAndWildcard(t *testing.T) {
	body := []byte(`{"temperature":0.7,"messages":[{"content":"a"},{"content":"b"}]}`)
	mask := []string{"temperature", "messages[*].content"}

	out := applyParamMask(body, mask)

	if gjson.GetBytes(out, "temperature").Type != gjson.Null {
		t.Fatalf("expected temperature to be masked to null, got %s", gjson.GetBytes(out, "temperature").Raw)
	}
	msgs := gjson.GetBytes(out, "messages").Array()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Get("content").Type != gjson.Null {
			t.Fatalf("expected messages[%d].content masked to null, got %s", i, m.Get("content").Raw)
		}
	}
}

func TestRewriteRequestLeavesNonJSONBodyUnchanged(t *testing.T) {
	provider := config.Provider{
		Kind: config.KindCustom,
		ChannelSettings: map[string]any{
			"json_param_mask": []any{"temperature", "messages[*].content"},
		},
	}
	body := []byte("not json at all")

	out := RewriteRequest(provider, config.Credential{}, route.OpClaudeGenerate, body)

	if string(out) != string(body) {
		t.Fatalf("expected non-JSON body forwarded unchanged, got %q", string(out))
	}
}

func TestApplyParamMaskJSONPointerSyntax(t *testing.T) {
	body := []byte(`{"messages":[{"content":"a"}]}`)
	out := applyParamMask(body, []string{"/messages/0/content"})
	if gjson.GetBytes(out, "messages.0.content").Type != gjson.Null {
		t.Fatalf("expected pointer-style path to mask the field, got %s", string(out))
	}
}

func TestCodexRewriteDefaultsEmptyInstructions(t *testing.T) {
	body := []byte(`{"model":"gpt-5-codex"}`)
	out := codexRewrite("openai_responses_generate", body)
	if gjson.GetBytes(out, "instructions").String() != "" {
		t.Fatalf("expected instructions defaulted to empty string, got %s", string(out))
	}
	if !gjson.GetBytes(out, "instructions").Exists() {
		t.Fatal("expected instructions field to be present")
	}
}

func TestCodexRewriteMovesSystemToInstructions(t *testing.T) {
	body := []byte(`{"system":"be terse","temperature":0.5,"top_p":0.9}`)
	out := codexRewrite("openai_responses_generate", body)
	if gjson.GetBytes(out, "instructions").String() != "be terse" {
		t.Fatalf("expected system moved to instructions, got %s", string(out))
	}
	if gjson.GetBytes(out, "system").Exists() {
		t.Fatal("expected system field removed")
	}
	if gjson.GetBytes(out, "temperature").Exists() || gjson.GetBytes(out, "top_p").Exists() {
		t.Fatal("expected temperature/top_p stripped")
	}
}
