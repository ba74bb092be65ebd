// Package memory defines the contract the kernel uses to talk to an
// external memory bank, plus an in-memory reference implementation that
// satisfies it for local development and tests. The kernel treats every
// memory bank as opaque: no component inspects stored values, and no
// vector index or embedding algorithm lives here — a real deployment
// supplies a plugin-registered backend over its own store.
package memory

import (
	"context"
	"time"
)

// Entry is one stored record, as returned by Retrieve and Search.
type Entry struct {
	Key      string
	Value    interface{}
	Metadata map[string]interface{}
}

// Match is one Search hit, ranked by Score (higher is more relevant).
type Match struct {
	Key      string
	Value    interface{}
	Score    float64
	Metadata map[string]interface{}
}

// SearchOptions bounds and filters a Search call. Limit <= 0 means no
// limit beyond the backend's own default.
type SearchOptions struct {
	Limit    int
	MinScore float64
}

// Stats summarizes a backend's current content for diagnostics.
type Stats struct {
	EntryCount int
	LastWrite  time.Time
}

// Backend is the contract every memory bank implementation must satisfy.
// Plugins register backend names through
// plugin.Context.RegisterMemoryBackend; the process entry point
// (cmd/flow-kernel) constructs the InMemory backend directly.
type Backend interface {
	Name() string
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	Store(ctx context.Context, key string, value interface{}, meta map[string]interface{}) error
	Retrieve(ctx context.Context, key string) (*Entry, error)
	Delete(ctx context.Context, key string) (bool, error)
	Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error)
	Clear(ctx context.Context) error
	GetStats(ctx context.Context) (Stats, error)
}
