package bind

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zapboard/zapboard/internal/channel"
	"github.com/zapboard/zapboard/internal/restapi"
	"github.com/zapboard/zapboard/internal/state"
	"go.uber.org/zap"
)

// Source is the duplex event channel surface the binder consumes.
// *channel.Channel implements it.
type Source interface {
	On(event string, fn channel.Handler) *channel.Subscription
	Emit(ctx context.Context, event string, payload any) error
	SetStateListener(fn channel.StateListener)
}

// History is the REST surface used to seed the conversation list and
// page through message history.
type History interface {
	ListConversations(ctx context.Context, page, limit int) (*restapi.ConversationPage, error)
	MessageHistory(ctx context.Context, jid string, page, limit int) (*restapi.MessagePage, error)
}

const historyPageLimit = 50

// User is the participant snapshot pushed on user-update.
type User struct {
	JID   string `json:"jid"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	IsNew bool   `json:"isNew,omitempty"`
}

// CommandLog is the record pushed when the bot executes a command.
type CommandLog struct {
	Command   string `json:"command"`
	JID       string `json:"jid"`
	Timestamp int64  `json:"timestamp"`
}

// Binder feeds the state containers from channel events and REST
// responses, and issues client commands back over the channel. It owns
// every handler subscription; Close releases them so no handler keeps
// mutating state for a torn-down view.
type Binder struct {
	src    Source
	api    History
	bot    *state.Bot
	stats  *state.StatsBoard
	feed   *state.Feed
	convs  *state.Index
	logs   *state.Logs
	logger *zap.Logger

	subs []*channel.Subscription
}

// New creates an unbound binder. api may be nil when the REST
// collaborator is unavailable.
func New(src Source, api History, bot *state.Bot, stats *state.StatsBoard, feed *state.Feed, convs *state.Index, logs *state.Logs, logger *zap.Logger) *Binder {
	return &Binder{
		src:    src,
		api:    api,
		bot:    bot,
		stats:  stats,
		feed:   feed,
		convs:  convs,
		logs:   logs,
		logger: logger,
	}
}

// Bind registers all inbound event handlers and the connection state
// listener. Events are applied in the order the channel delivers them.
func (b *Binder) Bind() {
	b.on("connection-status", b.handleConnectionStatus)
	b.on("stats-update", b.handleStatsUpdate)
	b.on("message-incoming", b.handleMessageIncoming)
	b.on("message-outgoing", b.handleMessageOutgoing)
	b.on("user-update", b.handleUserUpdate)
	b.on("log-entry", b.handleLogEntry)
	b.on("qr-update", b.handleQRUpdate)
	b.on("pairing-code", b.handlePairingCode)
	b.on("command-executed", b.handleCommandExecuted)
	b.on("error", b.handleError)

	b.src.SetStateListener(func(connected bool, reason string) {
		if connected {
			// Reconcile after (re)connect: the bot may have changed
			// state while the channel was down.
			ctx := context.Background()
			if err := b.RequestStatus(ctx); err != nil {
				b.logger.Warn("status request after connect failed", zap.Error(err))
			}
			if err := b.stats.RequestRefresh(ctx); err != nil {
				b.logger.Warn("stats request after connect failed", zap.Error(err))
			}
			return
		}
		b.feed.Record(state.NewItem(state.ActivityError, "Connection lost", reason, nil))
	})
}

func (b *Binder) on(event string, fn channel.Handler) {
	b.subs = append(b.subs, b.src.On(event, fn))
}

// Close detaches every handler and the state listener.
func (b *Binder) Close() {
	for _, sub := range b.subs {
		sub.Cancel()
	}
	b.subs = nil
	b.src.SetStateListener(nil)
}

func (b *Binder) handleConnectionStatus(payload json.RawMessage) {
	var s state.BotState
	if err := json.Unmarshal(payload, &s); err != nil {
		b.logger.Warn("bad connection-status payload", zap.Error(err))
		return
	}
	ch := b.bot.Apply(s)
	switch {
	case ch.EnteredConnected():
		desc := "Bot is online"
		if s.PhoneNumber != "" {
			desc = "Bot is online as " + s.PhoneNumber
		}
		b.feed.Record(state.NewItem(state.ActivityBotConnected, "Bot connected", desc,
			map[string]string{"phone": s.PhoneNumber}))
	case ch.LeftConnected():
		b.feed.Record(state.NewItem(state.ActivityBotDisconnected, "Bot disconnected", "Bot went offline", nil))
	}
}

func (b *Binder) handleStatsUpdate(payload json.RawMessage) {
	var s state.Stats
	if err := json.Unmarshal(payload, &s); err != nil {
		b.logger.Warn("bad stats-update payload", zap.Error(err))
		return
	}
	b.stats.Apply(s)
}

func (b *Binder) handleMessageIncoming(payload json.RawMessage) {
	var m state.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		b.logger.Warn("bad message-incoming payload", zap.Error(err))
		return
	}
	b.convs.ApplyIncoming(m)
	b.feed.Record(state.NewItem(state.ActivityMessageIncoming, "Message received",
		fmt.Sprintf("%s: %s", b.displayName(m.JID), preview(m.Content)),
		map[string]string{"jid": m.JID, "msg_id": m.ID}))
}

func (b *Binder) handleMessageOutgoing(payload json.RawMessage) {
	var m state.Message
	if err := json.Unmarshal(payload, &m); err != nil {
		b.logger.Warn("bad message-outgoing payload", zap.Error(err))
		return
	}
	b.convs.ApplyOutgoing(m)
	b.feed.Record(state.NewItem(state.ActivityMessageOutgoing, "Message sent",
		fmt.Sprintf("to %s: %s", b.displayName(m.JID), preview(m.Content)),
		map[string]string{"jid": m.JID, "msg_id": m.ID}))
}

func (b *Binder) handleUserUpdate(payload json.RawMessage) {
	var u User
	if err := json.Unmarshal(payload, &u); err != nil {
		b.logger.Warn("bad user-update payload", zap.Error(err))
		return
	}
	b.convs.UpsertContact(u.JID, u.Name, u.Phone)
	if u.IsNew {
		b.feed.Record(state.NewItem(state.ActivityUserJoined, "New user",
			fmt.Sprintf("%s joined", nameOrJID(u)), map[string]string{"jid": u.JID}))
		return
	}
	b.feed.Record(state.NewItem(state.ActivityUserUpdate, "User updated",
		fmt.Sprintf("%s was updated", nameOrJID(u)), map[string]string{"jid": u.JID}))
}

func (b *Binder) handleLogEntry(payload json.RawMessage) {
	var e state.Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		b.logger.Warn("bad log-entry payload", zap.Error(err))
		return
	}
	b.logs.Record(e)
}

func (b *Binder) handleQRUpdate(payload json.RawMessage) {
	var code string
	if err := json.Unmarshal(payload, &code); err != nil {
		b.logger.Warn("bad qr-update payload", zap.Error(err))
		return
	}
	b.bot.SetQRCode(code)
}

func (b *Binder) handlePairingCode(payload json.RawMessage) {
	var code string
	if err := json.Unmarshal(payload, &code); err != nil {
		b.logger.Warn("bad pairing-code payload", zap.Error(err))
		return
	}
	b.bot.SetPairingCode(code)
}

func (b *Binder) handleCommandExecuted(payload json.RawMessage) {
	var c CommandLog
	if err := json.Unmarshal(payload, &c); err != nil {
		b.logger.Warn("bad command-executed payload", zap.Error(err))
		return
	}
	b.feed.Record(state.NewItem(state.ActivityCommandExecuted, "Command executed",
		fmt.Sprintf("%s by %s", c.Command, b.displayName(c.JID)),
		map[string]string{"jid": c.JID, "command": c.Command}))
}

func (b *Binder) handleError(payload json.RawMessage) {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &e); err != nil {
		b.logger.Warn("bad error payload", zap.Error(err))
		return
	}
	b.logger.Error("bot reported error", zap.String("code", e.Code), zap.String("message", e.Message))
	b.feed.Record(state.NewItem(state.ActivityError, "Error",
		fmt.Sprintf("%s: %s", e.Code, e.Message),
		map[string]string{"code": e.Code}))
}

// ConnectBot asks the bot process to connect, optimistically marking
// the local state connecting until the authoritative push arrives.
func (b *Binder) ConnectBot(ctx context.Context, usePairingCode bool, phoneNumber string) error {
	b.bot.MarkConnecting()
	payload := struct {
		UsePairingCode bool   `json:"usePairingCode,omitempty"`
		PhoneNumber    string `json:"phoneNumber,omitempty"`
	}{usePairingCode, phoneNumber}
	return b.src.Emit(ctx, "bot-connect", payload)
}

// DisconnectBot asks the bot process to disconnect.
func (b *Binder) DisconnectBot(ctx context.Context) error {
	return b.src.Emit(ctx, "bot-disconnect", nil)
}

// RequestStatus asks the bot process to re-push its connection status.
func (b *Binder) RequestStatus(ctx context.Context) error {
	return b.src.Emit(ctx, "bot-status", nil)
}

// SendMessage sends one message to a participant.
func (b *Binder) SendMessage(ctx context.Context, jid, text, msgType string) error {
	payload := struct {
		JID  string `json:"jid"`
		Text string `json:"text"`
		Type string `json:"type"`
	}{jid, text, msgType}
	return b.src.Emit(ctx, "message-send", payload)
}

// SubscribeLogs asks the bot process to push log entries at the given
// minimum level (empty for all).
func (b *Binder) SubscribeLogs(ctx context.Context, level string) error {
	payload := struct {
		Level string `json:"level,omitempty"`
	}{level}
	return b.src.Emit(ctx, "subscribe-logs", payload)
}

// UnsubscribeLogs stops the log push.
func (b *Binder) UnsubscribeLogs(ctx context.Context) error {
	return b.src.Emit(ctx, "unsubscribe-logs", nil)
}

// SelectConversation makes a conversation active and joins its chat so
// per-chat events flow. The history window resets; call LoadHistory to
// fetch the first page.
func (b *Binder) SelectConversation(ctx context.Context, jid string) error {
	prev := b.convs.ActiveJID()
	b.convs.SetActive(jid)
	if prev != "" && prev != jid {
		if err := b.src.Emit(ctx, "chat-leave", prev); err != nil {
			b.logger.Warn("chat-leave failed", zap.String("jid", prev), zap.Error(err))
		}
	}
	return b.src.Emit(ctx, "chat-join", jid)
}

// DeselectConversation leaves the active chat and clears the selection.
func (b *Binder) DeselectConversation(ctx context.Context) error {
	jid := b.convs.ActiveJID()
	b.convs.ClearActive()
	if jid == "" {
		return nil
	}
	return b.src.Emit(ctx, "chat-leave", jid)
}

// RefreshConversations reseeds the index from the REST conversation list.
func (b *Binder) RefreshConversations(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("refresh conversations: no REST client")
	}
	page, err := b.api.ListConversations(ctx, 1, 100)
	if err != nil {
		return err
	}
	b.convs.Seed(page.Data)
	return nil
}

// LoadHistory fetches the next (older) history page for the active
// conversation. A response that resolves after the selection changed
// is discarded by the index, not treated as an error.
func (b *Binder) LoadHistory(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("load history: no REST client")
	}
	token, jid, page := b.convs.BeginHistoryFetch()
	if jid == "" {
		return nil
	}
	resp, err := b.api.MessageHistory(ctx, jid, page, historyPageLimit)
	if err != nil {
		return err
	}
	b.convs.ApplyHistoryPage(token, state.HistoryPage{
		Messages:   resp.Data,
		Page:       resp.Page,
		TotalPages: resp.TotalPages,
		Total:      resp.Total,
	})
	return nil
}

func (b *Binder) displayName(jid string) string {
	if conv, ok := b.convs.Get(jid); ok && conv.DisplayName != "" {
		return conv.DisplayName
	}
	return jid
}

func nameOrJID(u User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.JID
}

func preview(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max]
}
