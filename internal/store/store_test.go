package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/router-for-me/llmgateway/internal/config"
	"github.com/router-for-me/llmgateway/internal/eventlog"
	"github.com/router-for-me/llmgateway/internal/usage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil || got != nil {
		t.Fatalf("expected no config before first save, got %+v err %v", got, err)
	}

	cfg := &config.Config{Global: config.Global{Host: "0.0.0.0", Port: 8080}}
	if err := s.Save(ctx, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Global.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", reloaded.Global.Port)
	}
}

func TestInsertUsage(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertUsage(context.Background(), usage.Record{Provider: "openai", Model: "gpt-4"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestQueryLogsOrderAndCursor(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		r := eventlog.Record{
			ID:       eventlog.NewID(),
			Kind:     eventlog.KindUpstream,
			At:       base.Add(time.Duration(i) * time.Second),
			Provider: "openai",
		}
		if err := s.InsertLog(ctx, r); err != nil {
			t.Fatalf("insert log %d: %v", i, err)
		}
	}

	all, err := s.QueryLogs(ctx, eventlog.Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if !all[0].At.Equal(base) {
		t.Fatalf("expected chronological order, first at %v", all[0].At)
	}

	page, err := s.QueryLogs(ctx, eventlog.Query{CursorAt: all[0].At, CursorID: all[0].ID})
	if err != nil {
		t.Fatalf("paginated query: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 remaining records after cursor, got %d", len(page))
	}
}

func TestQueryLogsRedactsBodyByDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.InsertLog(ctx, eventlog.Record{
		ID:          eventlog.NewID(),
		At:          time.Now(),
		RequestBody: []byte(`{"secret":true}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	out, err := s.QueryLogs(ctx, eventlog.Query{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 record, got %d", len(out))
	}
	if out[0].RequestBody != nil {
		t.Fatal("expected request body omitted when IncludeBody is false")
	}
}
