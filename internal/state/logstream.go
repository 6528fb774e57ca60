package state

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Level is a log entry severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LevelAll is the filter value matching every level.
const LevelAll = "all"

// LogCapacity bounds the log buffer; the oldest entry beyond it is
// evicted first.
const LogCapacity = 1000

// Entry is one structured log line pushed by the bot process.
type Entry struct {
	ID        string         `json:"id"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Logs is the bounded, filterable, pausable log buffer. While paused,
// incoming entries are dropped entirely, not queued; unpausing does
// not recover them.
type Logs struct {
	mu          sync.RWMutex
	entries     []Entry
	paused      bool
	levelFilter string
	search      string
	signal      *Signal
}

// NewLogs creates an empty log stream with the filter set to all levels.
func NewLogs(signal *Signal) *Logs {
	return &Logs{levelFilter: LevelAll, signal: signal}
}

// Record appends an entry, evicting the oldest beyond capacity.
// Entries arriving while paused are discarded.
func (l *Logs) Record(e Entry) {
	l.mu.Lock()
	if l.paused {
		l.mu.Unlock()
		return
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	l.entries = append(l.entries, e)
	if len(l.entries) > LogCapacity {
		l.entries = append(l.entries[:0:0], l.entries[len(l.entries)-LogCapacity:]...)
	}
	l.mu.Unlock()
	l.signal.Notify()
}

// SetLevelFilter sets the read-time level predicate ("all" or a level).
// Stored entries are not mutated.
func (l *Logs) SetLevelFilter(level string) {
	l.mu.Lock()
	l.levelFilter = level
	l.mu.Unlock()
	l.signal.Notify()
}

// LevelFilter returns the current level filter.
func (l *Logs) LevelFilter() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.levelFilter
}

// SetSearchQuery sets the read-time substring predicate.
func (l *Logs) SetSearchQuery(text string) {
	l.mu.Lock()
	l.search = text
	l.mu.Unlock()
	l.signal.Notify()
}

// TogglePause flips the drop behavior and returns the new paused state.
func (l *Logs) TogglePause() bool {
	l.mu.Lock()
	l.paused = !l.paused
	paused := l.paused
	l.mu.Unlock()
	l.signal.Notify()
	return paused
}

// Paused reports whether incoming entries are being dropped.
func (l *Logs) Paused() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.paused
}

// Clear empties the buffer unconditionally.
func (l *Logs) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
	l.signal.Notify()
}

// Len returns the number of buffered entries.
func (l *Logs) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Entries returns a copy of the buffer, oldest first.
func (l *Logs) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filtered returns the entries matching the current level filter and
// search query: an exact level match plus a case-insensitive substring
// match over the message text and the serialized metadata.
func (l *Logs) Filtered() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Entry
	query := strings.ToLower(l.search)
	for _, e := range l.entries {
		if l.levelFilter != LevelAll && string(e.Level) != l.levelFilter {
			continue
		}
		if query != "" && !matches(e, query) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func matches(e Entry, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(e.Message), lowerQuery) {
		return true
	}
	if len(e.Metadata) == 0 {
		return false
	}
	raw, err := json.Marshal(e.Metadata)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), lowerQuery)
}
