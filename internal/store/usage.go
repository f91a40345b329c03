package store

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/router-for-me/llmgateway/internal/usage"
)

// InsertUsage implements usage.Store, persisting one Record per bbolt key
// under an auto-incrementing sequence so rows stay insertion-ordered.
func (s *Store) InsertUsage(_ context.Context, r usage.Record) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal usage record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), raw)
	})
}

// QueryByCredential implements usage.Querier, backing
// GET /{provider}/usage?credential_id=<id>. The usage bucket is small
// enough (one row per upstream attempt) that a full bucket scan is
// acceptable; it is never on the hot dispatch path.
func (s *Store) QueryByCredential(_ context.Context, credentialID int64) ([]usage.Record, error) {
	var out []usage.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsage).ForEach(func(_, v []byte) error {
			var r usage.Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.CredentialID == credentialID {
				out = append(out, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: query usage: %w", err)
	}
	return out, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
