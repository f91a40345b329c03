// Package geminiclaude converts between the Gemini generateContent
// dialect and the Anthropic Messages dialect, in both directions. Needed
// whenever a Gemini-family credential (aistudio, vertex, geminicli,
// antigravity) must serve a Claude-shaped operation, or a claude/claudecode
// credential must serve a Gemini-shaped one (spec §9 "Protocol
// translation").
package geminiclaude

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/llmgateway/internal/translator"
)

func init() {
	translator.Register(translator.DialectGemini, translator.DialectClaude, geminiRequestToClaude, translator.ResponseTransform{
		Stream:    claudeStreamToGemini,
		NonStream: claudeNonStreamToGemini,
	})
	translator.Register(translator.DialectClaude, translator.DialectGemini, claudeRequestToGemini, translator.ResponseTransform{
		Stream:    geminiStreamToClaude,
		NonStream: geminiNonStreamToClaude,
	})
}

func geminiRole(role string) string {
	if role == "model" {
		return "assistant"
	}
	return role
}

func claudeRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// geminiRequestToClaude converts a Gemini generateContent request body
// into a Claude Messages request body.
func geminiRequestToClaude(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	if maxTok := gjson.GetBytes(rawJSON, "generationConfig.maxOutputTokens"); maxTok.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_tokens", []byte(maxTok.Raw))
	} else {
		out, _ = sjson.SetBytes(out, "max_tokens", 4096)
	}
	if temp := gjson.GetBytes(rawJSON, "generationConfig.temperature"); temp.Exists() {
		out, _ = sjson.SetRawBytes(out, "temperature", []byte(temp.Raw))
	}
	if sys := gjson.GetBytes(rawJSON, "systemInstruction"); sys.Exists() {
		var parts []string
		for _, p := range sys.Get("parts").Array() {
			parts = append(parts, p.Get("text").String())
		}
		out, _ = sjson.SetBytes(out, "system", strings.Join(parts, ""))
	}

	messages := make([]map[string]any, 0)
	for _, c := range gjson.GetBytes(rawJSON, "contents").Array() {
		role := geminiRole(c.Get("role").String())
		content := make([]map[string]any, 0)
		for _, p := range c.Get("parts").Array() {
			if fc := p.Get("functionCall"); fc.Exists() {
				content = append(content, map[string]any{
					"type":  "tool_use",
					"id":    fc.Get("name").String(),
					"name":  fc.Get("name").String(),
					"input": json.RawMessage(fc.Get("args").Raw),
				})
				continue
			}
			if fr := p.Get("functionResponse"); fr.Exists() {
				content = append(content, map[string]any{
					"type":        "tool_result",
					"tool_use_id": fr.Get("name").String(),
					"content":     fr.Get("response").Raw,
				})
				continue
			}
			content = append(content, map[string]any{"type": "text", "text": p.Get("text").String()})
		}
		messages = append(messages, map[string]any{"role": role, "content": content})
	}
	msgBytes, _ := json.Marshal(messages)
	out, _ = sjson.SetRawBytes(out, "messages", msgBytes)

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.Exists() {
		converted := make([]map[string]any, 0)
		for _, t := range tools.Array() {
			for _, fn := range t.Get("functionDeclarations").Array() {
				converted = append(converted, map[string]any{
					"name":         fn.Get("name").String(),
					"description":  fn.Get("description").String(),
					"input_schema": json.RawMessage(fn.Get("parameters").Raw),
				})
			}
		}
		toolBytes, _ := json.Marshal(converted)
		out, _ = sjson.SetRawBytes(out, "tools", toolBytes)
	}
	return out
}

// claudeNonStreamToGemini converts a complete Claude Messages body into a
// Gemini generateContent response body.
func claudeNonStreamToGemini(_ context.Context, _ string, rawJSON []byte) []byte {
	out := []byte(`{}`)
	parts := make([]map[string]any, 0)
	for _, block := range gjson.GetBytes(rawJSON, "content").Array() {
		switch block.Get("type").String() {
		case "text":
			parts = append(parts, map[string]any{"text": block.Get("text").String()})
		case "tool_use":
			var args any
			_ = json.Unmarshal([]byte(block.Get("input").Raw), &args)
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{"name": block.Get("name").String(), "args": args},
			})
		}
	}
	partsBytes, _ := json.Marshal(parts)
	out, _ = sjson.SetRawBytes(out, "candidates.0.content.parts", partsBytes)
	out, _ = sjson.SetBytes(out, "candidates.0.content.role", "model")
	out, _ = sjson.SetBytes(out, "candidates.0.finishReason", mapStopReason(gjson.GetBytes(rawJSON, "stop_reason").String()))

	usage := gjson.GetBytes(rawJSON, "usage")
	in := usage.Get("input_tokens").Int()
	outTok := usage.Get("output_tokens").Int()
	out, _ = sjson.SetBytes(out, "usageMetadata.promptTokenCount", in)
	out, _ = sjson.SetBytes(out, "usageMetadata.candidatesTokenCount", outTok)
	out, _ = sjson.SetBytes(out, "usageMetadata.totalTokenCount", in+outTok)
	out, _ = sjson.SetBytes(out, "usageMetadata.cachedContentTokenCount", usage.Get("cache_read_input_tokens").Int())
	return out
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "STOP"
	case "max_tokens":
		return "MAX_TOKENS"
	case "tool_use":
		return "STOP"
	default:
		return strings.ToUpper(reason)
	}
}

func claudeStreamToGemini(_ context.Context, _ string, rawJSON []byte) []string {
	typ := gjson.GetBytes(rawJSON, "type").String()
	switch typ {
	case "content_block_delta":
		text := gjson.GetBytes(rawJSON, "delta.text").String()
		if text == "" {
			return nil
		}
		evt := fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%s}]}}]}`, jsonString(text))
		return []string{evt}
	case "message_delta":
		usage := gjson.GetBytes(rawJSON, "usage")
		in := usage.Get("input_tokens").Int()
		outTok := usage.Get("output_tokens").Int()
		evt := fmt.Sprintf(`{"usageMetadata":{"promptTokenCount":%d,"candidatesTokenCount":%d,"totalTokenCount":%d}}`, in, outTok, in+outTok)
		return []string{evt}
	}
	return nil
}

// claudeRequestToGemini converts a Claude Messages request body into a
// Gemini generateContent request body.
func claudeRequestToGemini(_ string, rawJSON []byte, _ bool) []byte {
	out := []byte(`{}`)
	if maxTok := gjson.GetBytes(rawJSON, "max_tokens"); maxTok.Exists() {
		out, _ = sjson.SetRawBytes(out, "generationConfig.maxOutputTokens", []byte(maxTok.Raw))
	}
	if temp := gjson.GetBytes(rawJSON, "temperature"); temp.Exists() {
		out, _ = sjson.SetRawBytes(out, "generationConfig.temperature", []byte(temp.Raw))
	}
	if sys := gjson.GetBytes(rawJSON, "system"); sys.Exists() {
		sysParts := []map[string]any{{"text": sys.String()}}
		sysBytes, _ := json.Marshal(sysParts)
		out, _ = sjson.SetRawBytes(out, "systemInstruction.parts", sysBytes)
	}

	contents := make([]map[string]any, 0)
	for _, m := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := claudeRole(m.Get("role").String())
		content := m.Get("content")
		parts := make([]map[string]any, 0)
		if content.IsArray() {
			for _, block := range content.Array() {
				switch block.Get("type").String() {
				case "text":
					parts = append(parts, map[string]any{"text": block.Get("text").String()})
				case "tool_use":
					parts = append(parts, map[string]any{
						"functionCall": map[string]any{
							"name": block.Get("name").String(),
							"args": json.RawMessage(block.Get("input").Raw),
						},
					})
				case "tool_result":
					parts = append(parts, map[string]any{
						"functionResponse": map[string]any{
							"name":     block.Get("tool_use_id").String(),
							"response": json.RawMessage(block.Get("content").Raw),
						},
					})
				}
			}
		} else {
			parts = append(parts, map[string]any{"text": content.String()})
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}
	contentsBytes, _ := json.Marshal(contents)
	out, _ = sjson.SetRawBytes(out, "contents", contentsBytes)

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.Exists() {
		decls := make([]map[string]any, 0)
		for _, t := range tools.Array() {
			decls = append(decls, map[string]any{
				"name":        t.Get("name").String(),
				"description": t.Get("description").String(),
				"parameters":  json.RawMessage(t.Get("input_schema").Raw),
			})
		}
		toolBytes, _ := json.Marshal([]map[string]any{{"functionDeclarations": decls}})
		out, _ = sjson.SetRawBytes(out, "tools", toolBytes)
	}
	return out
}

// geminiNonStreamToClaude converts a complete Gemini generateContent body
// into a Claude Messages body.
func geminiNonStreamToClaude(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"type":"message","role":"assistant"}`)
	out, _ = sjson.SetBytes(out, "model", model)

	candidate := gjson.GetBytes(rawJSON, "candidates.0")
	content := make([]map[string]any, 0)
	for _, p := range candidate.Get("content.parts").Array() {
		if fc := p.Get("functionCall"); fc.Exists() {
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    fc.Get("name").String(),
				"name":  fc.Get("name").String(),
				"input": json.RawMessage(fc.Get("args").Raw),
			})
			continue
		}
		content = append(content, map[string]any{"type": "text", "text": p.Get("text").String()})
	}
	contentBytes, _ := json.Marshal(content)
	out, _ = sjson.SetRawBytes(out, "content", contentBytes)
	out, _ = sjson.SetBytes(out, "stop_reason", mapFinishReason(candidate.Get("finishReason").String()))

	usage := gjson.GetBytes(rawJSON, "usageMetadata")
	out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("candidatesTokenCount").Int())
	out, _ = sjson.SetBytes(out, "usage.cache_read_input_tokens", usage.Get("cachedContentTokenCount").Int())
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return strings.ToLower(reason)
	}
}

func geminiStreamToClaude(_ context.Context, _ string, rawJSON []byte) []string {
	candidate := gjson.GetBytes(rawJSON, "candidates.0")
	if candidate.Exists() {
		var textParts []string
		for _, p := range candidate.Get("content.parts").Array() {
			textParts = append(textParts, p.Get("text").String())
		}
		text := strings.Join(textParts, "")
		if text == "" {
			return nil
		}
		evt := fmt.Sprintf(`{"type":"content_block_delta","delta":{"type":"text_delta","text":%s}}`, jsonString(text))
		return []string{evt}
	}
	if usage := gjson.GetBytes(rawJSON, "usageMetadata"); usage.Exists() {
		evt := fmt.Sprintf(`{"type":"message_delta","usage":{"input_tokens":%d,"output_tokens":%d}}`,
			usage.Get("promptTokenCount").Int(), usage.Get("candidatesTokenCount").Int())
		return []string{evt}
	}
	return nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
