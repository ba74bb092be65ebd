// Package flow defines the core domain types shared across the orchestration
// kernel: agents, tasks, sessions and swarm state. It has no dependencies on
// any component package so that every component can import it without cycles.
package flow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a kernel identifier: a human-debuggable timestamp prefix
// (hex nanoseconds) followed by 122 bits of cryptographically random
// material. The prefix orders ids roughly by creation time for log
// readability; uniqueness comes entirely from the random suffix, never
// from the prefix or from a counter.
func NewID(kind string) string {
	return fmt.Sprintf("%s_%s_%s", kind, timestampPrefix(), uuid.New().String())
}

func timestampPrefix() string {
	return fmt.Sprintf("%x", time.Now().UTC().UnixNano())
}
