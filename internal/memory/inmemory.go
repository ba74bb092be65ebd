package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/claude-flow/core/internal/kernelerr"
)

// DefaultSearchLimit bounds Search results when the caller doesn't set one.
const DefaultSearchLimit = 20

type record struct {
	value    interface{}
	metadata map[string]interface{}
	storedAt time.Time
}

// InMemory is the reference Backend: a mutex-guarded map with a naive
// token-overlap search, suitable for local development, tests, and as the
// default backend when no plugin registers a production-grade one.
type InMemory struct {
	mu         sync.RWMutex
	name       string
	records    map[string]record
	lastWrite  time.Time
	initialized bool
}

// NewInMemory constructs a named in-memory backend. name identifies it in
// the plugin registry's memory-backend index.
func NewInMemory(name string) *InMemory {
	if name == "" {
		name = "memory"
	}
	return &InMemory{
		name:    name,
		records: make(map[string]record),
	}
}

func (b *InMemory) Name() string { return b.name }

func (b *InMemory) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	return nil
}

func (b *InMemory) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	return nil
}

func (b *InMemory) Store(ctx context.Context, key string, value interface{}, meta map[string]interface{}) error {
	if key == "" {
		return kernelerr.NewValidation("empty-key", "memory key must not be empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	b.records[key] = record{value: value, metadata: meta, storedAt: now}
	b.lastWrite = now
	return nil
}

func (b *InMemory) Retrieve(ctx context.Context, key string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[key]
	if !ok {
		return nil, nil
	}
	return &Entry{Key: key, Value: r.value, Metadata: r.metadata}, nil
}

func (b *InMemory) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.records[key]; !ok {
		return false, nil
	}
	delete(b.records, key)
	return true, nil
}

// Search ranks stored entries by token overlap between query and the
// entry's stringified value plus any string-valued metadata, since the
// kernel has no opinion on embeddings or vector similarity (an external
// backend is expected to do real semantic search).
func (b *InMemory) Search(ctx context.Context, query string, opts SearchOptions) ([]Match, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	queryTokens := tokenize(query)

	b.mu.RLock()
	matches := make([]Match, 0, len(b.records))
	for key, r := range b.records {
		score := overlapScore(queryTokens, tokenize(searchableText(r)))
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{Key: key, Value: r.value, Score: score, Metadata: r.metadata})
	}
	b.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (b *InMemory) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]record)
	return nil
}

func (b *InMemory) GetStats(ctx context.Context) (Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{EntryCount: len(b.records), LastWrite: b.lastWrite}, nil
}

func searchableText(r record) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%v", r.value))
	for _, v := range r.metadata {
		if s, ok := v.(string); ok {
			sb.WriteByte(' ')
			sb.WriteString(s)
		}
	}
	return sb.String()
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func overlapScore(query, content []string) float64 {
	if len(query) == 0 {
		return 0
	}
	set := make(map[string]bool, len(content))
	for _, t := range content {
		set[t] = true
	}
	var hits int
	for _, t := range query {
		if set[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
