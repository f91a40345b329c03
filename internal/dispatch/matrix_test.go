package dispatch

import (
	"testing"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/route"
	"github.com/router-for-me/llmgateway/internal/translator"
)

func TestResolveNativeClaude(t *testing.T) {
	p := config.Provider{Kind: config.KindClaude}
	d := Resolve(p, route.OpClaudeGenerate)
	if d.Mode != ModeNative {
		t.Fatalf("expected native, got %v", d.Mode)
	}
}

func TestResolveTransformOpenAIOnClaude(t *testing.T) {
	p := config.Provider{Kind: config.KindClaude}
	d := Resolve(p, route.OpOpenAIChatGenerate)
	if d.Mode != ModeTransform || d.TargetDialect != translator.DialectClaude {
		t.Fatalf("expected transform{claude}, got %+v", d)
	}
}

func TestResolveCodexCompactUnsupportedElsewhere(t *testing.T) {
	p := config.Provider{Kind: config.KindClaude}
	d := Resolve(p, route.OpOpenAIRespCompact)
	if d.Mode != ModeUnsupported {
		t.Fatalf("expected unsupported, got %+v", d)
	}
}

func TestResolveCodexCompactNativeOnCodex(t *testing.T) {
	p := config.Provider{Kind: config.KindCodex}
	d := Resolve(p, route.OpOpenAIRespCompact)
	if d.Mode != ModeNative {
		t.Fatalf("expected native, got %+v", d)
	}
}

func TestResolveCountTokensCrossFamilyUnsupported(t *testing.T) {
	p := config.Provider{Kind: config.KindOpenAI}
	d := Resolve(p, route.OpClaudeCountTokens)
	if d.Mode != ModeUnsupported {
		t.Fatalf("expected unsupported, got %+v", d)
	}
}

func TestResolveCustomProviderDeclaredOps(t *testing.T) {
	p := config.Provider{
		Kind: config.KindCustom,
		ChannelSettings: map[string]any{
			"dispatch": map[string]any{
				"ops": []any{
					map[string]any{"operation": string(route.OpClaudeGenerate), "mode": "transform", "target": "openai_chat"},
				},
			},
		},
	}
	d := Resolve(p, route.OpClaudeGenerate)
	if d.Mode != ModeTransform || d.TargetDialect != translator.DialectOpenAIChat {
		t.Fatalf("expected transform{openai_chat}, got %+v", d)
	}
	d2 := Resolve(p, route.OpGeminiGenerate)
	if d2.Mode != ModeUnsupported {
		t.Fatalf("expected unsupported for undeclared op, got %+v", d2)
	}
}
