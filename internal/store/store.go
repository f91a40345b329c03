// Package store provides the default embedded persistence backing the
// Configuration Snapshot, Usage Writer, and Event/Log Sink (spec §1: the
// durable storage these components write through is a named external
// boundary; this is the gateway's own default implementation of it).
//
// Grounded on the teacher's internal/provider/gemini-web/state.go, the
// one place in the teacher repo that persists through go.etcd.io/bbolt:
// bolt.Open with a timeout, one bucket per concern, JSON-encoded values.
// This package keeps the db open for the process lifetime instead of
// reopening per call, since it backs the whole gateway rather than one
// account's occasional snapshot.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/router-for-me/llmgateway/internal/config"
)

var (
	bucketConfig   = []byte("config")
	bucketUsage    = []byte("usage")
	bucketEventLog = []byte("eventlog")
)

const configKey = "current"

// Store is the bbolt-backed default for every PersistedStore/Store
// interface the core components declare.
type Store struct {
	db *bolt.DB
}

// Open creates (or opens) the bbolt file at path and ensures every bucket
// this package writes to exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConfig, bucketUsage, bucketEventLog} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error { return s.db.Close() }

// Load implements config.PersistedStore.
func (s *Store) Load(_ context.Context) (*config.Config, error) {
	var cfg config.Config
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketConfig).Get([]byte(configKey))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("store: load config: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cfg, nil
}

// Save implements config.PersistedStore.
func (s *Store) Save(_ context.Context, cfg *config.Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal config: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(configKey), raw)
	})
}
