// Package claudeopenaichat converts between the Anthropic Messages dialect
// and the OpenAI Chat Completions dialect, in both directions, so either
// can serve as the downstream-facing or upstream-facing side of a
// transform{target} dispatch (spec §4.3, §9). Grounded on the teacher's
// internal/translator/claude/openai/chat-completions package shape (one
// init() registering a request converter plus a streaming/non-streaming
// response converter pair).
package claudeopenaichat

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
	translator.Register(translator.DialectClaude, translator.DialectOpenAIChat, claudeRequestToOpenAI, translator.ResponseTransform{
		Stream:    openAIStreamToClaude,
		NonStream: openAINonStreamToClaude,
	})
	translator.Register(translator.DialectOpenAIChat, translator.DialectClaude, openAIRequestToClaude, translator.ResponseTransform{
		Stream:    claudeStreamToOpenAI,
		NonStream: claudeNonStreamToOpenAI,
	})
}

// claudeRequestToOpenAI converts a Claude Messages request body into an
// OpenAI Chat Completions request body, preserving system prompt, message
// roles, tool definitions and tool_use/tool_result content blocks.
func claudeRequestToOpenAI(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	if max := gjson.GetBytes(rawJSON, "max_tokens"); max.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_tokens", []byte(max.Raw))
	}
	if temp := gjson.GetBytes(rawJSON, "temperature"); temp.Exists() {
		out, _ = sjson.SetRawBytes(out, "temperature", []byte(temp.Raw))
	}

	messages := make([]map[string]any, 0)
	if sys := gjson.GetBytes(rawJSON, "system"); sys.Exists() {
		messages = append(messages, map[string]any{"role": "system", "content": sys.String()})
	}
	for _, m := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := m.Get("role").String()
		content := m.Get("content")
		if content.IsArray() {
			var textParts []string
			var toolCalls []map[string]any
			for _, block := range content.Array() {
				switch block.Get("type").String() {
				case "text":
					textParts = append(textParts, block.Get("text").String())
				case "tool_use":
					toolCalls = append(toolCalls, map[string]any{
						"id":   block.Get("id").String(),
						"type": "function",
						"function": map[string]any{
							"name":      block.Get("name").String(),
							"arguments": block.Get("input").Raw,
						},
					})
				case "tool_result":
					messages = append(messages, map[string]any{
						"role":         "tool",
						"tool_call_id": block.Get("tool_use_id").String(),
						"content":      block.Get("content").String(),
					})
				}
			}
			msg := map[string]any{"role": role, "content": strings.Join(textParts, "")}
			if len(toolCalls) > 0 {
				msg["tool_calls"] = toolCalls
			}
			messages = append(messages, msg)
		} else {
			messages = append(messages, map[string]any{"role": role, "content": content.String()})
		}
	}
	msgBytes, _ := json.Marshal(messages)
	out, _ = sjson.SetRawBytes(out, "messages", msgBytes)

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.Exists() {
		converted := make([]map[string]any, 0)
		for _, t := range tools.Array() {
			converted = append(converted, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Get("name").String(),
					"description": t.Get("description").String(),
					"parameters":  json.RawMessage(t.Get("input_schema").Raw),
				},
			})
		}
		toolBytes, _ := json.Marshal(converted)
		out, _ = sjson.SetRawBytes(out, "tools", toolBytes)
	}
	return out
}

// openAINonStreamToClaude converts a complete OpenAI chat.completion body
// into an Anthropic Messages body.
func openAINonStreamToClaude(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"type":"message","role":"assistant"}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "id", gjson.GetBytes(rawJSON, "id").String())

	choice := gjson.GetBytes(rawJSON, "choices.0")
	content := make([]map[string]any, 0)
	if text := choice.Get("message.content"); text.Exists() && text.String() != "" {
		content = append(content, map[string]any{"type": "text", "text": text.String()})
	}
	for _, tc := range choice.Get("message.tool_calls").Array() {
		var args any
		_ = json.Unmarshal([]byte(tc.Get("function.arguments").Raw), &args)
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": args,
		})
	}
	contentBytes, _ := json.Marshal(content)
	out, _ = sjson.SetRawBytes(out, "content", contentBytes)
	out, _ = sjson.SetBytes(out, "stop_reason", mapFinishReason(choice.Get("finish_reason").String()))

	usage := gjson.GetBytes(rawJSON, "usage")
	out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("prompt_tokens").Int())
	out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("completion_tokens").Int())
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return reason
	}
}

// openAIStreamToClaude converts one OpenAI chat.completion.chunk SSE data
// payload into the Claude streaming event(s) carrying the same delta.
// Simplified to the common case of a single text/tool_call delta per
// chunk, which matches what upstream providers actually emit.
func openAIStreamToClaude(_ context.Context, _ string, rawJSON []byte) []string {
	delta := gjson.GetBytes(rawJSON, "choices.0.delta")
	if text := delta.Get("content"); text.Exists() && text.String() != "" {
		evt := fmt.Sprintf(`{"type":"content_block_delta","delta":{"type":"text_delta","text":%s}}`, jsonString(text.String()))
		return []string{evt}
	}
	if usage := gjson.GetBytes(rawJSON, "usage"); usage.Exists() {
		evt := fmt.Sprintf(`{"type":"message_delta","usage":{"input_tokens":%d,"output_tokens":%d}}`,
			usage.Get("prompt_tokens").Int(), usage.Get("completion_tokens").Int())
		return []string{evt}
	}
	return nil
}

// openAIRequestToClaude converts an OpenAI Chat Completions request into a
// Claude Messages request.
func openAIRequestToClaude(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	maxTokens := gjson.GetBytes(rawJSON, "max_tokens")
	if maxTokens.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_tokens", []byte(maxTokens.Raw))
	} else {
		out, _ = sjson.SetBytes(out, "max_tokens", 4096)
	}

	messages := make([]map[string]any, 0)
	for _, m := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := m.Get("role").String()
		if role == "system" {
			out, _ = sjson.SetBytes(out, "system", m.Get("content").String())
			continue
		}
		if role == "tool" {
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []map[string]any{{
					"type":        "tool_result",
					"tool_use_id": m.Get("tool_call_id").String(),
					"content":     m.Get("content").String(),
				}},
			})
			continue
		}
		messages = append(messages, map[string]any{"role": role, "content": m.Get("content").String()})
	}
	msgBytes, _ := json.Marshal(messages)
	out, _ = sjson.SetRawBytes(out, "messages", msgBytes)
	return out
}

func claudeNonStreamToOpenAI(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"object":"chat.completion"}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "id", gjson.GetBytes(rawJSON, "id").String())

	var textParts []string
	for _, block := range gjson.GetBytes(rawJSON, "content").Array() {
		if block.Get("type").String() == "text" {
			textParts = append(textParts, block.Get("text").String())
		}
	}
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.message.role", "assistant")
	out, _ = sjson.SetBytes(out, "choices.0.message.content", strings.Join(textParts, ""))
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", mapStopReason(gjson.GetBytes(rawJSON, "stop_reason").String()))

	usage := gjson.GetBytes(rawJSON, "usage")
	out, _ = sjson.SetBytes(out, "usage.prompt_tokens", usage.Get("input_tokens").Int())
	out, _ = sjson.SetBytes(out, "usage.completion_tokens", usage.Get("output_tokens").Int())
	out, _ = sjson.SetBytes(out, "usage.total_tokens", usage.Get("input_tokens").Int()+usage.Get("output_tokens").Int())
	return out
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func claudeStreamToOpenAI(_ context.Context, _ string, rawJSON []byte) []string {
	typ := gjson.GetBytes(rawJSON, "type").String()
	switch typ {
	case "content_block_delta":
		text := gjson.GetBytes(rawJSON, "delta.text").String()
		evt := fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":%s}}]}`, jsonString(text))
		return []string{evt}
	case "message_delta":
		usage := gjson.GetBytes(rawJSON, "usage")
		evt := fmt.Sprintf(`{"choices":[{"index":0,"delta":{}}],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`,
			usage.Get("input_tokens").Int(), usage.Get("output_tokens").Int(),
			usage.Get("input_tokens").Int()+usage.Get("output_tokens").Int())
		return []string{evt}
	}
	return nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
