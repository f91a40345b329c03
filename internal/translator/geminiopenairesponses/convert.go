// Package geminiopenairesponses converts between the Gemini
// generateContent dialect and the OpenAI Responses dialect, in both
// directions. Needed whenever a Gemini-family credential must serve an
// OpenAI-Responses-shaped operation (or vice versa), which arises for
// Codex credentials (native family openai_response) serving a Gemini
// route, and for Gemini-family credentials serving an OpenAI Responses
// route (spec §9 "Protocol translation").
package geminiopenairesponses

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
	translator.Register(translator.DialectGemini, translator.DialectOpenAIResponses, geminiRequestToResponses, translator.ResponseTransform{
		Stream:    responsesStreamToGemini,
		NonStream: responsesNonStreamToGemini,
	})
	translator.Register(translator.DialectOpenAIResponses, translator.DialectGemini, responsesRequestToGemini, translator.ResponseTransform{
		Stream:    geminiStreamToResponses,
		NonStream: geminiNonStreamToResponses,
	})
}

func geminiRole(role string) string {
	if role == "model" {
		return "assistant"
	}
	return role
}

// geminiRequestToResponses converts a Gemini generateContent request into
// an OpenAI Responses request.
func geminiRequestToResponses(model string, rawJSON []byte, stream bool) []byte {
	out := []byte(`{}`)
	out, _ = sjson.SetBytes(out, "model", model)
	out, _ = sjson.SetBytes(out, "stream", stream)
	if maxTok := gjson.GetBytes(rawJSON, "generationConfig.maxOutputTokens"); maxTok.Exists() {
		out, _ = sjson.SetRawBytes(out, "max_output_tokens", []byte(maxTok.Raw))
	}
	if sys := gjson.GetBytes(rawJSON, "systemInstruction"); sys.Exists() {
		var parts []string
		for _, p := range sys.Get("parts").Array() {
			parts = append(parts, p.Get("text").String())
		}
		out, _ = sjson.SetBytes(out, "instructions", strings.Join(parts, ""))
	}

	input := make([]map[string]any, 0)
	for _, c := range gjson.GetBytes(rawJSON, "contents").Array() {
		role := geminiRole(c.Get("role").String())
		for _, p := range c.Get("parts").Array() {
			if fc := p.Get("functionCall"); fc.Exists() {
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   fc.Get("name").String(),
					"name":      fc.Get("name").String(),
					"arguments": fc.Get("args").Raw,
				})
				continue
			}
			if fr := p.Get("functionResponse"); fr.Exists() {
				input = append(input, map[string]any{
					"type":    "function_call_output",
					"call_id": fr.Get("name").String(),
					"output":  fr.Get("response").Raw,
				})
				continue
			}
			input = append(input, map[string]any{
				"role":    role,
				"content": []map[string]any{{"type": "input_text", "text": p.Get("text").String()}},
			})
		}
	}
	inputBytes, _ := json.Marshal(input)
	out, _ = sjson.SetRawBytes(out, "input", inputBytes)

	if tools := gjson.GetBytes(rawJSON, "tools"); tools.Exists() {
		converted := make([]map[string]any, 0)
		for _, t := range tools.Array() {
			for _, fn := range t.Get("functionDeclarations").Array() {
				converted = append(converted, map[string]any{
					"type":        "function",
					"name":        fn.Get("name").String(),
					"description": fn.Get("description").String(),
					"parameters":  json.RawMessage(fn.Get("parameters").Raw),
				})
			}
		}
		toolBytes, _ := json.Marshal(converted)
		out, _ = sjson.SetRawBytes(out, "tools", toolBytes)
	}
	return out
}

// responsesNonStreamToGemini converts a complete OpenAI Responses object
// into a Gemini generateContent response.
func responsesNonStreamToGemini(_ context.Context, _ string, rawJSON []byte) []byte {
	out := []byte(`{}`)
	parts := make([]map[string]any, 0)
	for _, item := range gjson.GetBytes(rawJSON, "output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, c := range item.Get("content").Array() {
				if c.Get("type").String() == "output_text" {
					parts = append(parts, map[string]any{"text": c.Get("text").String()})
				}
			}
		case "function_call":
			var args any
			_ = json.Unmarshal([]byte(item.Get("arguments").Raw), &args)
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{"name": item.Get("name").String(), "args": args},
			})
		}
	}
	partsBytes, _ := json.Marshal(parts)
	out, _ = sjson.SetRawBytes(out, "candidates.0.content.parts", partsBytes)
	out, _ = sjson.SetBytes(out, "candidates.0.content.role", "model")
	out, _ = sjson.SetBytes(out, "candidates.0.finishReason", "STOP")

	usage := gjson.GetBytes(rawJSON, "usage")
	in := usage.Get("input_tokens").Int()
	outTok := usage.Get("output_tokens").Int()
	out, _ = sjson.SetBytes(out, "usageMetadata.promptTokenCount", in)
	out, _ = sjson.SetBytes(out, "usageMetadata.candidatesTokenCount", outTok)
	out, _ = sjson.SetBytes(out, "usageMetadata.totalTokenCount", in+outTok)
	out, _ = sjson.SetBytes(out, "usageMetadata.cachedContentTokenCount", usage.Get("input_tokens_details.cached_tokens").Int())
	return out
}

func responsesStreamToGemini(_ context.Context, _ string, rawJSON []byte) []string {
	typ := gjson.GetBytes(rawJSON, "type").String()
	switch typ {
	case "response.output_text.delta":
		text := gjson.GetBytes(rawJSON, "delta").String()
		evt := fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%s}]}}]}`, jsonString(text))
		return []string{evt}
	case "response.completed":
		usage := gjson.GetBytes(rawJSON, "response.usage")
		in := usage.Get("input_tokens").Int()
		outTok := usage.Get("output_tokens").Int()
		evt := fmt.Sprintf(`{"usageMetadata":{"promptTokenCount":%d,"candidatesTokenCount":%d,"totalTokenCount":%d}}`, in, outTok, in+outTok)
		return []string{evt}
	}
	return nil
}

// responsesRequestToGemini converts an OpenAI Responses request into a
// Gemini generateContent request.
func responsesRequestToGemini(_ string, rawJSON []byte, _ bool) []byte {
	out := []byte(`{}`)
	if maxTok := gjson.GetBytes(rawJSON, "max_output_tokens"); maxTok.Exists() {
		out, _ = sjson.SetRawBytes(out, "generationConfig.maxOutputTokens", []byte(maxTok.Raw))
	}
	if instr := gjson.GetBytes(rawJSON, "instructions"); instr.Exists() {
		sysParts := []map[string]any{{"text": instr.String()}}
		sysBytes, _ := json.Marshal(sysParts)
		out, _ = sjson.SetRawBytes(out, "systemInstruction.parts", sysBytes)
	}

	contents := make([]map[string]any, 0)
	input := gjson.GetBytes(rawJSON, "input")
	if input.IsArray() {
		for _, item := range input.Array() {
			switch item.Get("type").String() {
			case "function_call_output":
				contents = append(contents, map[string]any{
					"role": "user",
					"parts": []map[string]any{{
						"functionResponse": map[string]any{
							"name":     item.Get("call_id").String(),
							"response": json.RawMessage(item.Get("output").Raw),
						},
					}},
				})
			default:
				var textParts []string
				for _, c := range item.Get("content").Array() {
					textParts = append(textParts, c.Get("text").String())
				}
				role := item.Get("role").String()
				if role == "assistant" {
					role = "model"
				} else if role == "" {
					role = "user"
				}
				contents = append(contents, map[string]any{
					"role":  role,
					"parts": []map[string]any{{"text": strings.Join(textParts, "")}},
				})
			}
		}
	} else {
		contents = append(contents, map[string]any{
			"role":  "user",
			"parts": []map[string]any{{"text": input.String()}},
		})
	}
	contentsBytes, _ := json.Marshal(contents)
	out, _ = sjson.SetRawBytes(out, "contents", contentsBytes)
	return out
}

func geminiNonStreamToResponses(_ context.Context, model string, rawJSON []byte) []byte {
	out := []byte(`{"object":"response","status":"completed"}`)
	out, _ = sjson.SetBytes(out, "model", model)

	candidate := gjson.GetBytes(rawJSON, "candidates.0")
	output := make([]map[string]any, 0)
	var textParts []string
	for _, p := range candidate.Get("content.parts").Array() {
		if fc := p.Get("functionCall"); fc.Exists() {
			output = append(output, map[string]any{
				"type":      "function_call",
				"call_id":   fc.Get("name").String(),
				"name":      fc.Get("name").String(),
				"arguments": fc.Get("args").Raw,
			})
			continue
		}
		textParts = append(textParts, p.Get("text").String())
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

	usage := gjson.GetBytes(rawJSON, "usageMetadata")
	out, _ = sjson.SetBytes(out, "usage.input_tokens", usage.Get("promptTokenCount").Int())
	out, _ = sjson.SetBytes(out, "usage.output_tokens", usage.Get("candidatesTokenCount").Int())
	return out
}

func geminiStreamToResponses(_ context.Context, _ string, rawJSON []byte) []string {
	candidate := gjson.GetBytes(rawJSON, "candidates.0")
	if candidate.Exists() {
		var textParts []string
		for _, p := range candidate.Get("content.parts").Array() {
			textParts = append(textParts, p.Get("text").String())
		}
		evt := fmt.Sprintf(`{"type":"response.output_text.delta","delta":%s}`, jsonString(strings.Join(textParts, "")))
		return []string{evt}
	}
	if usage := gjson.GetBytes(rawJSON, "usageMetadata"); usage.Exists() {
		evt := fmt.Sprintf(`{"type":"response.completed","response":{"usage":{"input_tokens":%d,"output_tokens":%d}}}`,
			usage.Get("promptTokenCount").Int(), usage.Get("candidatesTokenCount").Int())
		return []string{evt}
	}
	return nil
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
