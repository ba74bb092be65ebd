package flow

import "time"

// SessionStatus is the lifecycle status of a session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionIdle       SessionStatus = "idle"
	SessionTerminated SessionStatus = "terminated"
)

// Session binds one agent to one conversation/terminal and one memory bank.
type Session struct {
	ID           string        `json:"id"`
	AgentID      string        `json:"agentId"`
	MemoryBankID string        `json:"memoryBankId"`
	TerminalID   string        `json:"terminalId"`
	Status       SessionStatus `json:"status"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      *time.Time    `json:"endedAt,omitempty"`
	LastActiveAt time.Time     `json:"lastActiveAt"`
}

// Clone returns a copy safe to hand outside the session manager's lock.
func (s *Session) Clone() *Session {
	cp := *s
	if s.EndedAt != nil {
		v := *s.EndedAt
		cp.EndedAt = &v
	}
	return &cp
}
