// Package geminiopenaichat converts between the Gemini generateContent
// dialect and the OpenAI Chat Completions dialect, in both directions
// (spec §9 "Protocol translation").
package geminiopenaichat

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
	translator.Register(translator.DialectGemini, translator.DialectOpenAIChat, geminiRequestToOpenAI, translator.ResponseTransform{
		Stream:    openAIStreamToGemini,
		NonStream: openAINonStreamToGemini,
	})
	translator.Register(translator.DialectOpenAIChat, translator.DialectGemini, openAIRequestToGemini, translator.ResponseTransform{
		Stream:    geminiStreamToOpenAI,
		NonStream: geminiNonStreamToOpenAI,
	})
}

func geminiRole(role string) string {
	if role == "model" {
		return "assistant"
	}
	return role
}

func openAIRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// geminiRequestToOpenAI converts a Gemini generateContent request body
// (with its "contents"/"systemInstruction" shape) into an OpenAI Chat
// Completions request body.
func geminiRequestToOpenAI(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	if maxTok := gjson.GetBytes(rawJSON, "generationConfig.maxOutputTokens"); maxTok.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_tokens", []byte(maxTok.Raw))
	}
	if temp := gjson.GetBytes(rawJSON, "generationConfig.temperature"); temp.Exists() {
		out, _ = sjson.SetRawBytes(out, "temperature", []byte(temp.Raw))
	}

	messages := make([]map[string]any, 0)
	if sys := gjson.GetBytes(rawJSON, "systemInstruction"); sys.Exists() {
		var parts []string
		for _, p := range sys.Get("parts").Array() {
			parts = append(parts, p.Get("text").String())
		}
		messages = append(messages, map[string]any{"role": "system", "content": strings.Join(parts, "")})
	}
	for _, c := range gjson.GetBytes(rawJSON, "contents").Array() {
		role := geminiRole(c.Get("role").String())
		var textParts []string
		var toolCalls []map[string]any
		for _, p := range c.Get("parts").Array() {
			if fc := p.Get("functionCall"); fc.Exists() {
				toolCalls = append(toolCalls, map[string]any{
					"id":   fc.Get("name").String(),
					"type": "function",
					"function": map[string]any{
						"name":      fc.Get("name").String(),
						"arguments": fc.Get("args").Raw,
					},
				})
				continue
			}
			if fr := p.Get("functionResponse"); fr.Exists() {
				messages = append(messages, map[string]any{
					"role":         "tool",
					"tool_call_id": fr.Get("name").String(),
					"content":      fr.Get("response").Raw,
				})
				continue
			}
			textParts = append(textParts, p.Get("text").String())
		}
		msg := map[string]any{"role": role, "content": strings.Join(textParts, "")}
		if len(toolCalls) > 0 {
			msg["tool_calls"] = toolCalls
		}
		messages = append(messages, msg)
	}
	msgBytes, _ := json.Marshal(messages)
	out, _ = sjson.SetRawBytes(out, "messages", msgBytes)

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.Exists() {
		converted := make([]map[string]any, 0)
		for _, t := range tools.Array() {
			for _, fn := range t.Get("functionDeclarations").Array() {
				converted = append(converted, map[string]any{
					"type": "function",
					"function": map[string]any{
						"name":        fn.Get("name").String(),
						"description": fn.Get("description").String(),
						"parameters":  json.RawMessage(fn.Get("parameters").Raw),
					},
				})
			}
		}
		toolBytes, _ := json.Marshal(converted)
		out, _ = sjson.SetRawBytes(out, "tools", toolBytes)
	}
	return out
}

func openAINonStreamToGemini(_ context.Context, _ string, rawJSON []byte) []byte {
	out := []byte(`{}`)
	choice := gjson.GetBytes(rawJSON, "choices.0")

	parts := make([]map[string]any, 0)
	if text := choice.Get("message.content"); text.Exists() && text.String() != "" {
		parts = append(parts, map[string]any{"text": text.String()})
	}
	for _, tc := range choice.Get("message.tool_calls").Array() {
		var args any
		_ = json.Unmarshal([]byte(tc.Get("function.arguments").Raw), &args)
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": tc.Get("function.name").String(),
				"args": args,
			},
		})
	}
	partsBytes, _ := json.Marshal(parts)
	out, _ = sjson.SetRawBytes(out, "candidates.0.content.parts", partsBytes)
	out, _ = sjson.SetBytes(out, "candidates.0.content.role", "model")
	out, _ = sjson.SetBytes(out, "candidates.0.finishReason", mapFinishReason(choice.Get("finish_reason").String()))

	usage := gjson.GetBytes(rawJSON, "usage")
	out, _ = sjson.SetBytes(out, "usageMetadata.promptTokenCount", usage.Get("prompt_tokens").Int())
	out, _ = sjson.SetBytes(out, "usageMetadata.candidatesTokenCount", usage.Get("completion_tokens").Int())
	out, _ = sjson.SetBytes(out, "usageMetadata.totalTokenCount", usage.Get("total_tokens").Int())
	return out
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "STOP"
	case "length":
		return "MAX_TOKENS"
	case "tool_calls":
		return "STOP"
	default:
		return strings.ToUpper(reason)
	}
}

func openAIStreamToGemini(_ context.Context, _ string, rawJSON []byte) []string {
	delta := gjson.GetBytes(rawJSON, "choices.0.delta")
	if text := delta.Get("content"); text.Exists() && text.String() != "" {
		evt := fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%s}]}}]}`, jsonString(text.String()))
		return []string{evt}
	}
	if usage := gjson.GetBytes(rawJSON, "usage"); usage.Exists() {
		evt := fmt.Sprintf(`{"usageMetadata":{"promptTokenCount":%d,"candidatesTokenCount":%d,"totalTokenCount":%d}}`,
			usage.Get("prompt_tokens").Int(), usage.Get("completion_tokens").Int(), usage.Get("total_tokens").Int())
		return []string{evt}
	}
	return nil
}

// openAIRequestToGemini converts an OpenAI Chat Completions request into a
// Gemini generateContent request.
func openAIRequestToGemini(_ string, rawJSON []byte, _ bool) []byte {
	out := []byte(`{}`)
	if maxTok := gjson.GetBytes(rawJSON, "max_tokens"); maxTok.Exists() {
		out, _ = sjson.SetRawBytes(out, "generationConfig.maxOutputTokens", []byte(maxTok.Raw))
	}
	if temp := gjson.GetBytes(rawJSON, "temperature"); temp.Exists() {
		out, _ = sjson.SetRawBytes(out, "generationConfig.temperature", []byte(temp.Raw))
	}

	contents := make([]map[string]any, 0)
	for _, m := range gjson.GetBytes(rawJSON, "messages").Array() {
		role := m.Get("role").String()
		if role == "system" {
			sysParts := []map[string]any{{"text": m.Get("content").String()}}
			sysBytes, _ := json.Marshal(sysParts)
			out, _ = sjson.SetRawBytes(out, "systemInstruction.parts", sysBytes)
			continue
		}
		if role == "tool" {
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []map[string]any{{
					"functionResponse": map[string]any{
						"name":     m.Get("tool_call_id").String(),
						"response": json.RawMessage(m.Get("content").Raw),
					},
				}},
			})
			continue
		}
		contents = append(contents, map[string]any{
			"role":  openAIRole(role),
			"parts": []map[string]any{{"text": m.Get("content").String()}},
		})
	}
	contentsBytes, _ := json.Marshal(contents)
	out, _ = sjson.SetRawBytes(out, "contents", contentsBytes)
	return out
}

func geminiNonStreamToOpenAI(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"object":"chat.completion"}`)
	out, _ = sjson.SetBytes(out, "model", model)

	candidate := gjson.GetBytes(rawJSON, "candidates.0")
	var textParts []string
	var toolCalls []map[string]any
	for _, p := range candidate.Get("content.parts").Array() {
		if fc := p.Get("functionCall"); fc.Exists() {
			toolCalls = append(toolCalls, map[string]any{
				"id":   fc.Get("name").String(),
				"type": "function",
				"function": map[string]any{
					"name":      fc.Get("name").String(),
					"arguments": fc.Get("args").Raw,
				},
			})
			continue
		}
		textParts = append(textParts, p.Get("text").String())
	}
	out, _ = sjson.SetBytes(out, "choices.0.index", 0)
	out, _ = sjson.SetBytes(out, "choices.0.message.role", "assistant")
	out, _ = sjson.SetBytes(out, "choices.0.message.content", strings.Join(textParts, ""))
	if len(toolCalls) > 0 {
		tcBytes, _ := json.Marshal(toolCalls)
		out, _ = sjson.SetRawBytes(out, "choices.0.message.tool_calls", tcBytes)
	}
	out, _ = sjson.SetBytes(out, "choices.0.finish_reason", mapGeminiFinishReason(candidate.Get("finishReason").String()))

	usage := gjson.GetBytes(rawJSON, "usageMetadata")
	out, _ = sjson.SetBytes(out, "usage.prompt_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.SetBytes(out, "usage.completion_tokens", usage.Get("candidatesTokenCount").Int())
	out, _ = sjson.SetBytes(out, "usage.total_tokens", usage.Get("totalTokenCount").Int())
	return out
}

func mapGeminiFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}

func geminiStreamToOpenAI(_ context.Context, _ string, rawJSON []byte) []string {
	candidate := gjson.GetBytes(rawJSON, "candidates.0")
	if candidate.Exists() {
		var textParts []string
		for _, p := range candidate.Get("content.parts").Array() {
			textParts = append(textParts, p.Get("text").String())
		}
		evt := fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":%s}}]}`, jsonString(strings.Join(textParts, "")))
		return []string{evt}
	}
	if usage := gjson.GetBytes(rawJSON, "usageMetadata"); usage.Exists() {
		evt := fmt.Sprintf(`{"choices":[{"index":0,"delta":{}}],"usage":{"prompt_tokens":%d,"completion_tokens":%d,"total_tokens":%d}}`,
			usage.Get("promptTokenCount").Int(), usage.Get("candidatesTokenCount").Int(), usage.Get("totalTokenCount").Int())
		return []string{evt}
	}
	return nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
