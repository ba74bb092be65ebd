// Package session implements the kernel's session manager (C4): binding
// one agent to one conversation/terminal and one memory bank, with
// bounded-concurrency termination and atomic disk persistence.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/claude-flow/core/internal/eventbus"
	"github.com/claude-flow/core/pkg/flow"
)

var ErrAlreadyActive = errors.New("session: an active session already exists for this agent/terminal pair")
var ErrNotFound = errors.New("session: not found")

// DefaultTerminationConcurrency bounds terminateAllSessions to avoid flush
// storms when many sessions persist simultaneously.
const DefaultTerminationConcurrency = 5

// Manager owns every session record for its entire lifetime.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*flow.Session
	bus            eventbus.EventBus
	terminationCap int
}

func New(bus eventbus.EventBus) *Manager {
	return &Manager{
		sessions:       make(map[string]*flow.Session),
		bus:            bus,
		terminationCap: DefaultTerminationConcurrency,
	}
}

func newSessionID() string {
	return flow.NewID("session")
}

// CreateSession opens a new active session, rejecting a second concurrent
// active session for the same (agentId, terminalId) pair.
func (m *Manager) CreateSession(agentID, terminalID, memoryBankID string) (*flow.Session, error) {
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.AgentID == agentID && s.TerminalID == terminalID && s.Status != flow.SessionTerminated {
			m.mu.Unlock()
			return nil, ErrAlreadyActive
		}
	}

	now := time.Now().UTC()
	sess := &flow.Session{
		ID:           newSessionID(),
		AgentID:      agentID,
		TerminalID:   terminalID,
		MemoryBankID: memoryBankID,
		Status:       flow.SessionActive,
		StartedAt:    now,
		LastActiveAt: now,
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.bus.Emit(eventbus.NewEvent("session:created", "session", map[string]interface{}{"sessionId": sess.ID}))
	return sess.Clone(), nil
}

// TerminateSession flips status to terminated, stamps EndedAt, and emits
// session:terminated. The record remains queryable until Cleanup.
func (m *Manager) TerminateSession(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if sess.Status == flow.SessionTerminated {
		m.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	sess.Status = flow.SessionTerminated
	sess.EndedAt = &now
	m.mu.Unlock()

	m.bus.Emit(eventbus.NewEvent("session:terminated", "session", map[string]interface{}{"sessionId": id}))
	return nil
}

// TerminateAllSessions terminates every non-terminal session in bounded-
// concurrency batches, returning the first error encountered (if any)
// after every session has been attempted.
func (m *Manager) TerminateAllSessions(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.Status != flow.SessionTerminated {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.terminationCap)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.TerminateSession(id)
		})
	}
	return g.Wait()
}

// Get returns a snapshot of a session by id.
func (m *Manager) Get(id string) (*flow.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// List returns a snapshot of every session currently held.
func (m *Manager) List() []*flow.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*flow.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out
}

// Cleanup removes terminated sessions whose EndedAt is older than
// retention, returning the count removed.
func (m *Manager) Cleanup(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if s.Status == flow.SessionTerminated && s.EndedAt != nil && s.EndedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// persistedDocument is the on-disk shape described in the external
// interfaces: a session list plus aggregate task metrics, read back by
// RestoreSessions.
type persistedDocument struct {
	Sessions []persistedSession `json:"sessions"`
	Metrics  persistedMetrics   `json:"metrics"`
	SavedAt  time.Time          `json:"savedAt"`
}

type persistedSession struct {
	flow.Session
	AgentConfig flow.AgentConfig `json:"agentConfig"`
}

type persistedMetrics struct {
	CompletedTasks    int64         `json:"completedTasks"`
	FailedTasks       int64         `json:"failedTasks"`
	TotalTaskDuration time.Duration `json:"totalTaskDuration"`
}

// PersistSessions serializes every active/idle session, merged with its
// agent profile, to path atomically (write to a temp file, then rename).
func (m *Manager) PersistSessions(path string, profiles map[string]flow.AgentConfig, metrics persistedMetrics) error {
	m.mu.RLock()
	doc := persistedDocument{SavedAt: time.Now().UTC(), Metrics: metrics}
	for _, s := range m.sessions {
		if s.Status == flow.SessionTerminated {
			continue
		}
		doc.Sessions = append(doc.Sessions, persistedSession{
			Session:     *s.Clone(),
			AgentConfig: profiles[s.AgentID],
		})
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// RestoreSessions loads a document written by PersistSessions and installs
// every non-terminated entry, rejecting terminated ones per the external
// interface contract.
func (m *Manager) RestoreSessions(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sessions file: %w", err)
	}

	var doc persistedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("unmarshal sessions file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	restored := 0
	for _, ps := range doc.Sessions {
		if ps.Status == flow.SessionTerminated {
			continue
		}
		s := ps.Session
		m.sessions[s.ID] = &s
		restored++
	}
	return restored, nil
}
