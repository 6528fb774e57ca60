package broadcast

import "math"

// Broadcast statuses as reported by the server. The server owns the
// record; the dashboard only ever holds a polled snapshot.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Broadcast is the server-held bulk-send record.
type Broadcast struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	Message     string   `json:"message,omitempty"`
	SentCount   int      `json:"sentCount"`
	FailedCount int      `json:"failedCount"`
	Recipients  []string `json:"recipients"`
}

// Terminal reports whether the broadcast has reached a state that
// stops reconciliation.
func (b Broadcast) Terminal() bool {
	return b.Status == StatusCompleted || b.Status == StatusCancelled
}

// SendRequest starts a bulk send to the given recipients.
type SendRequest struct {
	Recipients []string `json:"recipients"`
	Message    string   `json:"message"`
	Type       string   `json:"type,omitempty"`
}

// Progress is the derived view of a broadcast snapshot.
type Progress struct {
	Total      int `json:"total"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Remaining  int `json:"remaining"`
	Percentage int `json:"percentage"`
}

// ProgressOf computes the progress view. A zero-recipient broadcast
// reports 0%, not a division fault.
func ProgressOf(b Broadcast) Progress {
	total := len(b.Recipients)
	denom := total
	if denom < 1 {
		denom = 1
	}
	remaining := total - b.SentCount - b.FailedCount
	if remaining < 0 {
		remaining = 0
	}
	return Progress{
		Total:      total,
		Sent:       b.SentCount,
		Failed:     b.FailedCount,
		Remaining:  remaining,
		Percentage: int(math.Round(float64(b.SentCount) / float64(denom) * 100)),
	}
}
