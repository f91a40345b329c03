// Package claudeopenairesponses converts between the Anthropic Messages
// dialect and the OpenAI Responses dialect. Needed whenever a custom
// provider declares openai_responses as its native wire format but the
// downstream caller is speaking Claude (spec §8 "custom provider
// transform" scenario, §9 "Protocol translation").
package claudeopenairesponses

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
	translator.Register(translator.DialectClaude, translator.DialectOpenAIResponses, claudeRequestToResponses, translator.ResponseTransform{
		Stream:    responsesStreamToClaude,
		NonStream: responsesNonStreamToClaude,
	})
	translator.Register(translator.DialectOpenAIResponses, translator.DialectClaude, responsesRequestToClaude, translator.ResponseTransform{
		Stream:    claudeStreamToResponses,
		NonStream: claudeNonStreamToResponses,
	})
}

// claudeRequestToResponses converts a Claude Messages request into an
// OpenAI Responses request: "system" becomes "instructions", and the
// message list becomes the flat "input" array of input_text items.
func claudeRequestToResponses(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	if sys := gjson.GetBytes(rawJSON, "system"); sys.Exists() {
		out, _ = sjson.SetBytes(out, "instructions", sys.String())
	}
	if max := gjson.GetBytes(rawJSON, "max_tokens"); max.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_output_tokens", []byte(max.Raw))
	}

	input := make([]map[string]any, 0)
	for _, m := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := m.Get("role").String()
		content := m.Get("content")
		if content.IsArray() {
			for _, block := range content.Array() {
				switch block.Get("type").String() {
				case "text":
					input = append(input, map[string]any{
						"role":    role,
						"content": []map[string]any{{"type": "input_text", "text": block.Get("text").String()}},
					})
				case "tool_use":
					input = append(input, map[string]any{
						"type":      "function_call",
						"call_id":   block.Get("id").String(),
						"name":      block.Get("name").String(),
						"arguments": block.Get("input").Raw,
					})
				case "tool_result":
					input = append(input, map[string]any{
						"type":    "function_call_output",
						"call_id": block.Get("tool_use_id").String(),
						"output":  block.Get("content").String(),
					})
				}
			}
			continue
		}
		input = append(input, map[string]any{
			"role":    role,
			"content": []map[string]any{{"type": "input_text", "text": content.String()}},
		})
	}
	inputBytes, _ := json.Marshal(input)
	out, _ = sjson.SetRawBytes(out, "input", inputBytes)

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.Exists() {
		converted := make([]map[string]any, 0)
		for _, t := range tools.Array() {
			converted = append(converted, map[string]any{
				"type":        "function",
				"name":        t.Get("name").String(),
				"description": t.Get("description").String(),
				"parameters":  json.RawMessage(t.Get("input_schema").Raw),
			})
		}
		toolBytes, _ := json.Marshal(converted)
		out, _ = sjson.SetRawBytes(out, "tools", toolBytes)
	}
	return out
}

// responsesNonStreamToClaude converts a complete OpenAI Responses object
// into an Anthropic Messages body.
func responsesNonStreamToClaude(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"type":"message","role":"assistant"}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "id", gjson.GetBytes(rawJSON, "id").String())

	content := make([]map[string]any, 0)
	for _, item := range gjson.GetBytes(rawJSON, "output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, c := range item.Get("content").Array() {
				if c.Get("type").String() == "output_text" {
					content = append(content, map[string]any{"type": "text", "text": c.Get("text").String()})
				}
			}
		case "function_call":
			var args any
			_ = json.Unmarshal([]byte(item.Get("arguments").Raw), &args)
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    item.Get("call_id").String(),
				"name":  item.Get("name").String(),
				"input": args,
			})
		}
	}
	contentBytes, _ := json.Marshal(content)
	out, _ = sjson.SetRawBytes(out, "content", contentBytes)

	usage := gjson.GetBytes(rawJSON, "usage")
	out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("input_tokens").Int())
	out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("output_tokens").Int())
	return out
}

// responsesStreamToClaude converts one OpenAI Responses SSE event into the
// corresponding Claude streaming event(s).
func responsesStreamToClaude(_ context.Context, _ string, rawJSON []byte) []string {
	typ := gjson.GetBytes(rawJSON, "type").String()
	switch typ {
	case "response.output_text.delta":
		text := gjson.GetBytes(rawJSON, "delta").String()
		evt := fmt.Sprintf(`{"type":"content_block_delta","delta":{"type":"text_delta","text":%s}}`, jsonString(text))
		return []string{evt}
	case "response.completed":
		usage := gjson.GetBytes(rawJSON, "response.usage")
		evt := fmt.Sprintf(`{"type":"message_delta","usage":{"input_tokens":%d,"output_tokens":%d}}`,
			usage.Get("input_tokens").Int(), usage.Get("output_tokens").Int())
		return []string{evt}
	}
	return nil
}

// responsesRequestToClaude converts an OpenAI Responses request into a
// Claude Messages request.
func responsesRequestToClaude(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	maxTokens := gjson.GetBytes(rawJSON, "max_output_tokens")
	if maxTokens.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_tokens", []byte(maxTokens.Raw))
	} else {
		out, _ = sjson.SetBytes(out, "max_tokens", 4096)
	}
	if instr := gjson.GetBytes(rawJSON, "instructions"); instr.Exists() {
		out, _ = sjson.SetBytes(out, "system", instr.String())
	}

	messages := make([]map[string]any, 0)
	input := gjson.GetBytes(rawJSON, "input")
	if input.IsArray() {
		for _, item := range input.Array() {
			switch item.Get("type").String() {
			case "function_call_output":
				messages = append(messages, map[string]any{
					"role": "user",
					"content": []map[string]any{{
						"type":        "tool_result",
						"tool_use_id": item.Get("call_id").String(),
						"content":     item.Get("output").String(),
					}},
				})
			default:
				var textParts []string
				for _, c := range item.Get("content").Array() {
					textParts = append(textParts, c.Get("text").String())
				}
				role := item.Get("role").String()
				if role == "" {
					role = "user"
				}
				messages = append(messages, map[string]any{"role": role, "content": strings.Join(textParts, "")})
			}
		}
	} else {
		messages = append(messages, map[string]any{"role": "user", "content": input.String()})
	}
	msgBytes, _ := json.Marshal(messages)
	out, _ = sjson.SetRawBytes(out, "messages", msgBytes)
	return out
}

func claudeNonStreamToResponses(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"object":"response"}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "id", gjson.GetBytes(rawJSON, "id").String())
	out, _ = sjson.SetBytes(out, "status", "completed")

	output := make([]map[string]any, 0)
	var textParts []string
	for _, block := range gjson.GetBytes(rawJSON, "content").Array() {
		switch block.Get("type").String() {
		case "text":
			textParts = append(textParts, block.Get("text").String())
		case "tool_use":
			output = append(output, map[string]any{
				"type":      "function_call",
				"call_id":   block.Get("id").String(),
				"name":      block.Get("name").String(),
				"arguments": block.Get("input").Raw,
			})
		}
	}
	if len(textParts) > 0 {
		output = append([]map[string]any{{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{{
				"type": "output_text",
				"text": strings.Join(textParts, ""),
			}},
		}}, output...)
	}
	outputBytes, _ := json.Marshal(output)
	out, _ = sjson.SetRawBytes(out, "output", outputBytes)

	usage := gjson.GetBytes(rawJSON, "usage")
	out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("input_tokens").Int())
	out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("output_tokens").Int())
	return out
}

func claudeStreamToResponses(_ context.Context, _ string, rawJSON []byte) []string {
	typ := gjson.GetBytes(rawJSON, "type").String()
	switch typ {
	case "content_block_delta":
		text := gjson.GetBytes(rawJSON, "delta.text").String()
		evt := fmt.Sprintf(`{"type":"response.output_text.delta","delta":%s}`, jsonString(text))
		return []string{evt}
	case "message_delta":
		usage := gjson.GetBytes(rawJSON, "usage")
		evt := fmt.Sprintf(`{"type":"response.completed","response":{"usage":{"input_tokens":%d,"output_tokens":%d}}}`,
			usage.Get("input_tokens").Int(), usage.Get("output_tokens").Int())
		return []string{evt}
	}
	return nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
