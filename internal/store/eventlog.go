package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/router-for-me/llmgateway/internal/eventlog"
)

// logKey encodes a Record's (At, ID) as a fixed-width, lexicographically
// sortable bbolt key so the bucket's natural iteration order is
// chronological, which is what the cursor-paginated query contract (spec
// §4.9) walks over.
func logKey(r eventlog.Record) []byte {
	return []byte(fmt.Sprintf("%020d|%s", r.At.UnixNano(), r.ID))
}

func cursorKey(atNano int64, id string) []byte {
	if id == "" {
		return []byte(fmt.Sprintf("%020d", atNano))
	}
	return []byte(fmt.Sprintf("%020d|%s", atNano, id))
}

// InsertLog implements eventlog.Store.
func (s *Store) InsertLog(_ context.Context, r eventlog.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal log record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEventLog).Put(logKey(r), raw)
	})
}

// QueryLogs implements eventlog.Store's cursor-paginated read (spec §4.9:
// "cursor pagination (cursor_at, cursor_id); offset>0 is rejected" — this
// package never exposes an offset parameter at all, so that invariant
// holds by construction).
func (s *Store) QueryLogs(_ context.Context, q eventlog.Query) ([]eventlog.Record, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = eventlog.DefaultLimit
	}

	var start []byte
	if !q.CursorAt.IsZero() {
		start = cursorKey(q.CursorAt.UnixNano(), q.CursorID)
	}

	var out []eventlog.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEventLog).Cursor()
		var k, v []byte
		if start != nil {
			k, v = c.Seek(start)
			if k != nil && bytes.Equal(k, start) {
				k, v = c.Next()
			}
		} else {
			k, v = c.First()
		}
		for ; k != nil && len(out) < limit; k, v = c.Next() {
			var r eventlog.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if !matches(r, q) {
				continue
			}
			if !q.IncludeBody {
				r.RequestBody = nil
				r.ResponseBody = nil
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: query logs: %w", err)
	}
	return out, nil
}

func matches(r eventlog.Record, q eventlog.Query) bool {
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Provider != "" && r.Provider != q.Provider {
		return false
	}
	if q.TraceID != "" && r.TraceID != q.TraceID {
		return false
	}
	return true
}
