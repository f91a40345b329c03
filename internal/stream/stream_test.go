package stream

import (
	"strings"
	"testing"
)

func TestScanSSEJoinsSingleEvent(t *testing.T) {
	body := "data: {\"a\":1}\n\ndata: {\"a\":2}\n\n"
	events := make(chan string, 4)
	scanSSE(strings.NewReader(body), events)
	var got []string
	for e := range events {
		got = append(got, e)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d: %v", len(got), got)
	}
	if got[0] != `{"a":1}` || got[1] != `{"a":2}` {
		t.Fatalf("unexpected payloads: %v", got)
	}
}

func TestRewriteModelField(t *testing.T) {
	out := rewriteModelField(`{"model":"gpt-4"}`, "openai/gpt-4")
	if out != `{"model":"openai/gpt-4"}` {
		t.Fatalf("got %s", out)
	}
}
