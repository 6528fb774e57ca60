package bind

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/zapboard/zapboard/internal/channel"
	"github.com/zapboard/zapboard/internal/restapi"
	"github.com/zapboard/zapboard/internal/state"
	"go.uber.org/zap"
)

type emitted struct {
	event   string
	payload any
}

// fakeSource is an in-memory stand-in for the event channel.
type fakeSource struct {
	handlers map[string][]channel.Handler
	emitted  []emitted
	listener channel.StateListener
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[string][]channel.Handler)}
}

func (f *fakeSource) On(event string, fn channel.Handler) *channel.Subscription {
	f.handlers[event] = append(f.handlers[event], fn)
	return &channel.Subscription{}
}

func (f *fakeSource) Emit(_ context.Context, event string, payload any) error {
	f.emitted = append(f.emitted, emitted{event, payload})
	return nil
}

func (f *fakeSource) SetStateListener(fn channel.StateListener) {
	f.listener = fn
}

func (f *fakeSource) push(t *testing.T, event string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range f.handlers[event] {
		h(raw)
	}
}

func (f *fakeSource) emittedEvents() []string {
	out := make([]string, len(f.emitted))
	for i, e := range f.emitted {
		out[i] = e.event
	}
	return out
}

type fixture struct {
	src    *fakeSource
	bot    *state.Bot
	stats  *state.StatsBoard
	feed   *state.Feed
	convs  *state.Index
	logs   *state.Logs
	binder *Binder
}

func newFixture(api History) *fixture {
	src := newFakeSource()
	f := &fixture{
		src:   src,
		bot:   state.NewBot(nil),
		stats: state.NewStatsBoard(src, nil),
		feed:  state.NewFeed(nil),
		convs: state.NewIndex(nil),
		logs:  state.NewLogs(nil),
	}
	f.binder = New(src, api, f.bot, f.stats, f.feed, f.convs, f.logs, zap.NewNop())
	f.binder.Bind()
	return f
}

func TestConnectionStatusDrivesBotAndFeed(t *testing.T) {
	f := newFixture(nil)

	f.src.push(t, "connection-status", state.BotState{Status: state.StatusConnected, PhoneNumber: "+5511", UptimeMs: 10})
	if got := f.bot.Snapshot().Status; got != state.StatusConnected {
		t.Errorf("status = %s, want connected", got)
	}
	items := f.feed.Items()
	if len(items) != 1 || items[0].Kind != state.ActivityBotConnected {
		t.Fatalf("feed = %+v, want one bot_connected item", items)
	}
	if items[0].Metadata["phone"] != "+5511" {
		t.Errorf("metadata phone = %q, want +5511", items[0].Metadata["phone"])
	}

	// Identical re-push replaces the snapshot but adds no feed item.
	f.src.push(t, "connection-status", state.BotState{Status: state.StatusConnected, PhoneNumber: "+5511", UptimeMs: 10})
	if f.feed.Len() != 1 {
		t.Errorf("feed len = %d after duplicate push, want 1", f.feed.Len())
	}

	f.src.push(t, "connection-status", state.BotState{Status: state.StatusDisconnected})
	items = f.feed.Items()
	if len(items) != 2 || items[0].Kind != state.ActivityBotDisconnected {
		t.Errorf("feed = %+v, want bot_disconnected first", items)
	}
}

func TestStatsUpdateReplacesWholesale(t *testing.T) {
	f := newFixture(nil)
	f.src.push(t, "stats-update", state.Stats{MessagesReceived: 12, MessagesSent: 8, ActiveChats: 3})
	got := f.stats.Snapshot()
	if got.MessagesReceived != 12 || got.ActiveChats != 3 {
		t.Errorf("stats = %+v", got)
	}
}

func TestIncomingMessageFeedsIndexAndActivity(t *testing.T) {
	f := newFixture(nil)

	f.src.push(t, "message-incoming", state.Message{ID: "m1", JID: "a@s.whatsapp.net", Content: "oi", Type: "text", Timestamp: 5})

	conv, ok := f.convs.Get("a@s.whatsapp.net")
	if !ok || conv.UnreadCount != 1 || conv.MessageCount != 1 {
		t.Errorf("conversation = %+v, want unread 1", conv)
	}
	items := f.feed.Items()
	if len(items) != 1 || items[0].Kind != state.ActivityMessageIncoming {
		t.Fatalf("feed = %+v", items)
	}
	if items[0].Metadata["jid"] != "a@s.whatsapp.net" {
		t.Errorf("metadata = %+v", items[0].Metadata)
	}
}

func TestOutgoingMessageNeverCountsUnread(t *testing.T) {
	f := newFixture(nil)
	f.src.push(t, "message-outgoing", state.Message{ID: "m1", JID: "b@s.whatsapp.net", FromMe: true, Content: "ok", Timestamp: 5})

	conv, _ := f.convs.Get("b@s.whatsapp.net")
	if conv.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0", conv.UnreadCount)
	}
	if got := f.feed.Items()[0].Kind; got != state.ActivityMessageOutgoing {
		t.Errorf("kind = %s, want message_outgoing", got)
	}
}

func TestUserUpdateJoinedVersusUpdated(t *testing.T) {
	f := newFixture(nil)

	f.src.push(t, "user-update", User{JID: "a@s.whatsapp.net", Name: "Alice", Phone: "+55", IsNew: true})
	f.src.push(t, "user-update", User{JID: "a@s.whatsapp.net", Name: "Alice B."})

	items := f.feed.Items()
	if len(items) != 2 {
		t.Fatalf("feed len = %d, want 2", len(items))
	}
	if items[1].Kind != state.ActivityUserJoined || items[0].Kind != state.ActivityUserUpdate {
		t.Errorf("kinds = [%s, %s], want [user_update, user_joined]", items[0].Kind, items[1].Kind)
	}

	conv, _ := f.convs.Get("a@s.whatsapp.net")
	if conv.DisplayName != "Alice B." || conv.Phone != "+55" {
		t.Errorf("contact = %+v", conv)
	}
}

func TestLogEntryRecorded(t *testing.T) {
	f := newFixture(nil)
	f.src.push(t, "log-entry", state.Entry{Level: state.LevelWarn, Message: "reconnect", Timestamp: 9})
	if f.logs.Len() != 1 {
		t.Errorf("logs len = %d, want 1", f.logs.Len())
	}
}

func TestQRAndPairingUpdates(t *testing.T) {
	f := newFixture(nil)
	f.src.push(t, "connection-status", state.BotState{Status: state.StatusConnecting})
	f.src.push(t, "qr-update", "qr-payload-xyz")
	f.src.push(t, "pairing-code", "ABCD-1234")

	s := f.bot.Snapshot()
	if s.QRCode != "qr-payload-xyz" || s.PairingCode != "ABCD-1234" {
		t.Errorf("bot state = %+v", s)
	}
}

func TestCommandExecutedActivity(t *testing.T) {
	f := newFixture(nil)
	f.src.push(t, "command-executed", CommandLog{Command: "/help", JID: "a@s.whatsapp.net", Timestamp: 4})

	items := f.feed.Items()
	if len(items) != 1 || items[0].Kind != state.ActivityCommandExecuted {
		t.Fatalf("feed = %+v", items)
	}
	if items[0].Metadata["command"] != "/help" {
		t.Errorf("metadata = %+v", items[0].Metadata)
	}
}

func TestProtocolErrorBecomesActivity(t *testing.T) {
	f := newFixture(nil)
	f.src.push(t, "error", map[string]string{"code": "SEND_FAILED", "message": "rate limited"})

	items := f.feed.Items()
	if len(items) != 1 || items[0].Kind != state.ActivityError {
		t.Fatalf("feed = %+v", items)
	}
	if items[0].Description != "SEND_FAILED: rate limited" {
		t.Errorf("description = %q", items[0].Description)
	}
}

func TestTransportLossBecomesActivity(t *testing.T) {
	f := newFixture(nil)
	f.src.listener(false, "connection closed (going away)")

	items := f.feed.Items()
	if len(items) != 1 || items[0].Kind != state.ActivityError {
		t.Fatalf("feed = %+v", items)
	}
	if items[0].Description == "" {
		t.Error("loss activity has empty description")
	}
}

func TestReconnectTriggersReconciliationRequests(t *testing.T) {
	f := newFixture(nil)
	f.src.listener(true, "")

	got := f.src.emittedEvents()
	if len(got) != 2 || got[0] != "bot-status" || got[1] != "stats-request" {
		t.Errorf("emitted = %v, want [bot-status, stats-request]", got)
	}
}

func TestConnectBotIsOptimistic(t *testing.T) {
	f := newFixture(nil)
	if err := f.binder.ConnectBot(context.Background(), true, "+5511999990000"); err != nil {
		t.Fatal(err)
	}

	if got := f.bot.Snapshot().Status; got != state.StatusConnecting {
		t.Errorf("status = %s, want optimistic connecting", got)
	}
	if !f.bot.Optimistic() {
		t.Error("Optimistic() = false")
	}
	if got := f.src.emittedEvents(); len(got) != 1 || got[0] != "bot-connect" {
		t.Errorf("emitted = %v, want [bot-connect]", got)
	}

	// The authoritative push supersedes the overlay.
	f.src.push(t, "connection-status", state.BotState{Status: state.StatusConnected, PhoneNumber: "+5511999990000"})
	if f.bot.Optimistic() {
		t.Error("optimistic overlay survived authoritative push")
	}
}

func TestSelectConversationJoinsAndLeaves(t *testing.T) {
	f := newFixture(nil)

	if err := f.binder.SelectConversation(context.Background(), "a@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}
	if f.convs.ActiveJID() != "a@s.whatsapp.net" {
		t.Errorf("active = %q", f.convs.ActiveJID())
	}

	if err := f.binder.SelectConversation(context.Background(), "b@s.whatsapp.net"); err != nil {
		t.Fatal(err)
	}
	got := f.src.emittedEvents()
	want := []string{"chat-join", "chat-leave", "chat-join"}
	if len(got) != len(want) {
		t.Fatalf("emitted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("emitted = %v, want %v", got, want)
		}
	}

	if err := f.binder.DeselectConversation(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.convs.ActiveJID() != "" {
		t.Error("active not cleared")
	}
}

type fakeHistory struct {
	convs *restapi.ConversationPage
	pages map[int]*restapi.MessagePage
	calls int
}

func (f *fakeHistory) ListConversations(_ context.Context, _, _ int) (*restapi.ConversationPage, error) {
	return f.convs, nil
}

func (f *fakeHistory) MessageHistory(_ context.Context, _ string, page, _ int) (*restapi.MessagePage, error) {
	f.calls++
	return f.pages[page], nil
}

func TestRefreshConversationsSeedsIndex(t *testing.T) {
	api := &fakeHistory{convs: &restapi.ConversationPage{
		Data: []state.Conversation{
			{JID: "x@s.whatsapp.net", DisplayName: "X"},
			{JID: "y@s.whatsapp.net"},
		},
		Total: 2, Page: 1, Limit: 100, TotalPages: 1,
	}}
	f := newFixture(api)

	if err := f.binder.RefreshConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	convs := f.convs.Conversations()
	if len(convs) != 2 || convs[0].JID != "x@s.whatsapp.net" {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestLoadHistoryPagesBackwards(t *testing.T) {
	api := &fakeHistory{pages: map[int]*restapi.MessagePage{
		1: {
			Data:       []state.Message{{ID: "m3", JID: "a", Timestamp: 300}, {ID: "m4", JID: "a", Timestamp: 400}},
			Page:       1,
			TotalPages: 2,
		},
		2: {
			Data:       []state.Message{{ID: "m1", JID: "a", Timestamp: 100}, {ID: "m2", JID: "a", Timestamp: 200}},
			Page:       2,
			TotalPages: 2,
		},
	}}
	f := newFixture(api)

	if err := f.binder.SelectConversation(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if err := f.binder.LoadHistory(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(f.convs.Messages()); got != 2 {
		t.Fatalf("window = %d messages, want 2", got)
	}
	if !f.convs.HasMore() {
		t.Fatal("HasMore() = false, want true")
	}

	if err := f.binder.LoadHistory(context.Background()); err != nil {
		t.Fatal(err)
	}
	window := f.convs.Messages()
	if len(window) != 4 {
		t.Fatalf("window = %d messages, want 4", len(window))
	}
	if window[0].ID != "m1" || window[3].ID != "m4" {
		t.Errorf("window order = [%s .. %s], want [m1 .. m4]", window[0].ID, window[3].ID)
	}
	if f.convs.HasMore() {
		t.Error("HasMore() = true after final page")
	}
}

func TestLoadHistoryWithoutSelectionIsNoop(t *testing.T) {
	api := &fakeHistory{}
	f := newFixture(api)
	if err := f.binder.LoadHistory(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.calls != 0 {
		t.Errorf("history calls = %d, want 0", api.calls)
	}
}
