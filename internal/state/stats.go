package state

import (
	"context"
	"sync"
)

// Stats holds the aggregate counters pushed by the bot process. They
// are monotonic on the remote side but replaced wholesale here; the
// dashboard never increments them locally.
type Stats struct {
	MessagesReceived int64 `json:"messagesReceived"`
	MessagesSent     int64 `json:"messagesSent"`
	CommandsExecuted int64 `json:"commandsExecuted"`
	Errors           int64 `json:"errors"`
	UptimeMs         int64 `json:"uptimeMs"`
	ActiveChats      int   `json:"activeChats"`
	TotalUsers       int   `json:"totalUsers"`
}

// TotalMessages is derived on read, never stored.
func (s Stats) TotalMessages() int64 {
	return s.MessagesReceived + s.MessagesSent
}

// Emitter sends a named event to the bot process.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// StatsBoard holds the last-known counters.
type StatsBoard struct {
	mu      sync.RWMutex
	cur     Stats
	emitter Emitter
	signal  *Signal
}

// NewStatsBoard creates a stats container. emitter may be nil for
// read-only use.
func NewStatsBoard(emitter Emitter, signal *Signal) *StatsBoard {
	return &StatsBoard{emitter: emitter, signal: signal}
}

// Apply replaces the counters wholesale (last write wins).
func (s *StatsBoard) Apply(stats Stats) {
	s.mu.Lock()
	s.cur = stats
	s.mu.Unlock()
	s.signal.Notify()
}

// Snapshot returns the last-known counters.
func (s *StatsBoard) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// RequestRefresh asks the bot process to push a fresh snapshot.
func (s *StatsBoard) RequestRefresh(ctx context.Context) error {
	if s.emitter == nil {
		return nil
	}
	return s.emitter.Emit(ctx, "stats-request", nil)
}
