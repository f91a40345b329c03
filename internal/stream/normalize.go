package stream

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/llmgateway/internal/translator"
)

// RewriteGenerateModel applies spec §4.3 step 6's aggregate-route model
// identifier rewrite to a complete (non-streaming) generate response
// body: OpenAI/Claude bodies carry a top-level "model" field that gets
// the "provider/" prefix restored; Gemini generateContent responses
// carry no model field at all, so this is a no-op for that dialect.
func RewriteGenerateModel(dialect translator.Dialect, provider, upstreamModel string, body []byte) []byte {
	switch dialect {
	case translator.DialectOpenAIChat, translator.DialectOpenAIResponses, translator.DialectClaude:
		out, err := sjson.SetBytes(body, "model", provider+"/"+upstreamModel)
		if err != nil {
			return body
		}
		return out
	default:
		return body
	}
}

// RewriteModelsListBody rewrites every entry of a models-list response
// body to carry the provider prefix (spec §4.3 step 6, §4.6): OpenAI and
// Claude list entries under "data[].id"; Gemini lists entries under
// "models[].name" using the "models/" resource-name convention.
func RewriteModelsListBody(dialect translator.Dialect, provider string, body []byte) []byte {
	switch dialect {
	case translator.DialectOpenAIChat, translator.DialectOpenAIResponses, translator.DialectClaude:
		out := body
		data := gjson.GetBytes(body, "data")
		for i, entry := range data.Array() {
			id := entry.Get("id").String()
			path := "data." + itoa(i) + ".id"
			out, _ = sjson.SetBytes(out, path, provider+"/"+id)
		}
		return out
	case translator.DialectGemini:
		out := body
		models := gjson.GetBytes(body, "models")
		for i, entry := range models.Array() {
			name := entry.Get("name").String()
			name = trimModelsPrefix(name)
			path := "models." + itoa(i) + ".name"
			out, _ = sjson.SetBytes(out, path, "models/"+provider+"/"+name)
		}
		return out
	default:
		return body
	}
}

// RewriteModelGetBody applies the single-resource equivalent of
// RewriteModelsListBody, used by GET /v1/models/{model} and
// GET /v1beta/models/{name}.
func RewriteModelGetBody(dialect translator.Dialect, provider string, body []byte) []byte {
	switch dialect {
	case translator.DialectOpenAIChat, translator.DialectOpenAIResponses, translator.DialectClaude:
		id := gjson.GetBytes(body, "id").String()
		out, _ := sjson.SetBytes(body, "id", provider+"/"+id)
		return out
	case translator.DialectGemini:
		name := trimModelsPrefix(gjson.GetBytes(body, "name").String())
		out, _ := sjson.SetBytes(body, "name", "models/"+provider+"/"+name)
		return out
	default:
		return body
	}
}

func trimModelsPrefix(name string) string {
	const prefix = "models/"
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		return name[len(prefix):]
	}
	return name
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
