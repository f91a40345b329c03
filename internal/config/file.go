package config

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore is the default PersistedStore: a single YAML file on disk
// (spec §6.2, SPEC_FULL §A.3), matching the teacher's config.yaml source
// format. Admin mutations and CLI/env merges all funnel through Save, and
// a Watcher (watch.go) picks up hand-edits to the same file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore reading/writing the YAML file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load implements PersistedStore. A missing file is not an error -- it
// means first boot, and Merge treats a nil Config as empty.
func (f *FileStore) Load(_ context.Context) (*Config, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save implements PersistedStore, writing the merged Config back to disk
// (spec §6.2: "writes the merged value back").
func (f *FileStore) Save(_ context.Context, cfg *Config) error {
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0o600)
}

// Path returns the backing file path, used by callers that also need to
// point a Watcher at the same file.
func (f *FileStore) Path() string { return f.path }
