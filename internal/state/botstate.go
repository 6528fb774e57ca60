package state

import "sync"

// Status is the bot's connection status as reported by the remote process.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// BotState is the full connection snapshot pushed by the bot process.
// QRCode and PairingCode are only meaningful while connecting;
// PhoneNumber only while connected.
type BotState struct {
	Status      Status `json:"status"`
	QRCode      string `json:"qrCode,omitempty"`
	PairingCode string `json:"pairingCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	UptimeMs    int64  `json:"uptimeMs"`
}

// Change describes the effect of applying a snapshot.
type Change struct {
	Changed bool
	From    Status
	To      Status
}

// EnteredConnected reports a transition into connected from any other state.
func (c Change) EnteredConnected() bool {
	return c.From != StatusConnected && c.To == StatusConnected
}

// LeftConnected reports a transition out of connected.
func (c Change) LeftConnected() bool {
	return c.From == StatusConnected && c.To != StatusConnected
}

// Bot holds the single bot connection snapshot. Every authoritative
// push replaces it wholesale; the only local mutation is the
// optimistic connecting overlay set when a connect request is issued,
// superseded by the next push.
type Bot struct {
	mu         sync.RWMutex
	cur        BotState
	optimistic bool
	signal     *Signal
}

// NewBot creates a bot state container starting disconnected.
func NewBot(signal *Signal) *Bot {
	return &Bot{
		cur:    BotState{Status: StatusDisconnected},
		signal: signal,
	}
}

// Apply replaces the snapshot with an authoritative push and clears
// any optimistic overlay. Fields that are meaningless for the new
// status are dropped so stale artifacts never linger.
func (b *Bot) Apply(s BotState) Change {
	if s.Status != StatusConnecting {
		s.QRCode = ""
		s.PairingCode = ""
	}
	if s.Status != StatusConnected {
		s.PhoneNumber = ""
	}

	b.mu.Lock()
	prev := b.cur
	b.cur = s
	b.optimistic = false
	b.mu.Unlock()
	b.signal.Notify()

	return Change{Changed: prev != s, From: prev.Status, To: s.Status}
}

// MarkConnecting sets the optimistic connecting overlay issued with a
// connect request, before server confirmation arrives.
func (b *Bot) MarkConnecting() {
	b.mu.Lock()
	if b.cur.Status != StatusConnecting {
		b.cur.Status = StatusConnecting
		b.cur.PhoneNumber = ""
		b.optimistic = true
	}
	b.mu.Unlock()
	b.signal.Notify()
}

// SetQRCode stores the QR payload pushed while connecting.
func (b *Bot) SetQRCode(code string) {
	b.mu.Lock()
	b.cur.QRCode = code
	b.mu.Unlock()
	b.signal.Notify()
}

// SetPairingCode stores the pairing code pushed while connecting.
func (b *Bot) SetPairingCode(code string) {
	b.mu.Lock()
	b.cur.PairingCode = code
	b.mu.Unlock()
	b.signal.Notify()
}

// Snapshot returns the current state.
func (b *Bot) Snapshot() BotState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cur
}

// Optimistic reports whether the current status is a local guess
// awaiting server confirmation.
func (b *Bot) Optimistic() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.optimistic
}
