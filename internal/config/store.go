package config

import "context"

// PersistedStore is the external boundary this core consumes for durable
// configuration (spec §1: "the relational storage implementation ... is
// specified only at their boundary"). A concrete implementation (e.g. the
// bbolt-backed default in internal/store) persists and reloads the same
// Config this package builds Snapshots from; the schema/migration
// mechanics behind it are out of scope for this core.
type PersistedStore interface {
	Load(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
}
