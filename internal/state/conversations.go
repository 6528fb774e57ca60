package state

import "sync"

// Message is one chat message as pushed over the channel or returned
// by the history API. Timestamp is unix milliseconds.
type Message struct {
	ID        string `json:"id"`
	JID       string `json:"jid"`
	FromMe    bool   `json:"fromMe"`
	Content   string `json:"content,omitempty"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Status    string `json:"status,omitempty"`
}

// Conversation is one entry per distinct remote participant.
type Conversation struct {
	JID          string   `json:"jid"`
	DisplayName  string   `json:"displayName,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
	MessageCount int      `json:"messageCount"`
}

// Update reports the effect of applying a message to the index.
// TailAppended is true only when the newest loaded message of the
// active conversation advanced, i.e. the message was genuinely
// appended at the tail and auto-scrolling is safe. Backfilled history
// never sets it.
type Update struct {
	JID          string
	Created      bool
	TailAppended bool
}

// HistoryPage is one page of older messages for the active
// conversation. Page 1 holds the newest window; higher pages are
// older. Messages within a page are ordered oldest first.
type HistoryPage struct {
	Messages   []Message
	Page       int
	TotalPages int
	Total      int
}

// Index maintains the ordered conversation list, keyed by jid and
// ordered most recently active first, plus the loaded message window
// of the active conversation. Conversations are created lazily on
// first traffic and never deleted here.
type Index struct {
	mu     sync.RWMutex
	order  []*Conversation
	byJID  map[string]*Conversation
	signal *Signal

	activeJID  string
	window     []Message
	page       int
	totalPages int
	hasMore    bool
	fetchSeq   uint64
}

// NewIndex creates an empty conversation index.
func NewIndex(signal *Signal) *Index {
	return &Index{
		byJID:  make(map[string]*Conversation),
		signal: signal,
	}
}

// ApplyIncoming records a message received from the participant.
// Unread count grows unless the conversation is the active one.
func (x *Index) ApplyIncoming(m Message) Update {
	return x.apply(m, true)
}

// ApplyOutgoing records a message sent to the participant.
func (x *Index) ApplyOutgoing(m Message) Update {
	return x.apply(m, false)
}

func (x *Index) apply(m Message, incoming bool) Update {
	x.mu.Lock()

	conv, created := x.ensure(m.JID)
	msg := m
	conv.LastMessage = &msg
	conv.MessageCount++
	x.moveToFront(conv)

	tail := false
	if m.JID == x.activeJID {
		prevNewest := x.newestLoaded()
		x.window = append(x.window, m)
		tail = m.Timestamp > prevNewest || prevNewest == 0
	} else if incoming {
		conv.UnreadCount++
	}

	x.mu.Unlock()
	x.signal.Notify()
	return Update{JID: m.JID, Created: created, TailAppended: tail}
}

// ensure must be called with the lock held.
func (x *Index) ensure(jid string) (*Conversation, bool) {
	if conv, ok := x.byJID[jid]; ok {
		return conv, false
	}
	conv := &Conversation{JID: jid}
	x.byJID[jid] = conv
	x.order = append(x.order, conv)
	return conv, true
}

// moveToFront must be called with the lock held. The relative order of
// all other conversations is preserved.
func (x *Index) moveToFront(conv *Conversation) {
	for i, c := range x.order {
		if c == conv {
			copy(x.order[1:i+1], x.order[:i])
			x.order[0] = conv
			return
		}
	}
}

func (x *Index) newestLoaded() int64 {
	var newest int64
	for _, m := range x.window {
		if m.Timestamp > newest {
			newest = m.Timestamp
		}
	}
	return newest
}

// UpsertContact fills in the display name and phone for a participant,
// creating the conversation if absent (without reordering).
func (x *Index) UpsertContact(jid, displayName, phone string) {
	x.mu.Lock()
	conv, _ := x.ensure(jid)
	if displayName != "" {
		conv.DisplayName = displayName
	}
	if phone != "" {
		conv.Phone = phone
	}
	x.mu.Unlock()
	x.signal.Notify()
}

// Seed replaces the index contents with a server-provided list,
// preserving the given order. Used when the conversation list is
// (re)fetched from the REST collaborator.
func (x *Index) Seed(convs []Conversation) {
	x.mu.Lock()
	x.order = x.order[:0]
	x.byJID = make(map[string]*Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		x.byJID[c.JID] = &c
		x.order = append(x.order, &c)
	}
	x.mu.Unlock()
	x.signal.Notify()
}

// SetActive selects a conversation for viewing. The history cursor is
// reset and the loaded window cleared to force a fresh fetch, any
// in-flight history fetch for the previous selection is invalidated,
// and the existing unread count is zeroed.
func (x *Index) SetActive(jid string) {
	x.mu.Lock()
	conv, _ := x.ensure(jid)
	conv.UnreadCount = 0
	x.activeJID = jid
	x.window = nil
	x.page = 0
	x.totalPages = 0
	x.hasMore = false
	x.fetchSeq++
	x.mu.Unlock()
	x.signal.Notify()
}

// ClearActive deselects the active conversation.
func (x *Index) ClearActive() {
	x.mu.Lock()
	x.activeJID = ""
	x.window = nil
	x.page = 0
	x.totalPages = 0
	x.hasMore = false
	x.fetchSeq++
	x.mu.Unlock()
	x.signal.Notify()
}

// ActiveJID returns the jid being viewed, or empty.
func (x *Index) ActiveJID() string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.activeJID
}

// BeginHistoryFetch returns the staleness token and the next page to
// request for the active conversation. The token must be passed back
// to ApplyHistoryPage; a fetch that resolves after the active
// conversation changed is discarded there.
func (x *Index) BeginHistoryFetch() (token uint64, jid string, nextPage int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.fetchSeq, x.activeJID, x.page + 1
}

// ApplyHistoryPage merges a fetched page into the loaded window.
// Older pages are prepended; the newest loaded message never changes,
// so backfill never triggers auto-scroll. Returns false when the
// response is stale or already applied.
func (x *Index) ApplyHistoryPage(token uint64, hp HistoryPage) bool {
	x.mu.Lock()
	if token != x.fetchSeq || hp.Page <= x.page {
		x.mu.Unlock()
		return false
	}
	x.page = hp.Page
	x.totalPages = hp.TotalPages
	x.hasMore = hp.Page < hp.TotalPages
	x.window = append(append([]Message{}, hp.Messages...), x.window...)
	x.mu.Unlock()
	x.signal.Notify()
	return true
}

// Messages returns the loaded window of the active conversation,
// oldest first.
func (x *Index) Messages() []Message {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Message, len(x.window))
	copy(out, x.window)
	return out
}

// HasMore reports whether older history pages remain.
func (x *Index) HasMore() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.hasMore
}

// Conversations returns the ordered list, most recently active first.
func (x *Index) Conversations() []Conversation {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Conversation, 0, len(x.order))
	for _, c := range x.order {
		out = append(out, *c)
	}
	return out
}

// Get returns a conversation snapshot by jid.
func (x *Index) Get(jid string) (Conversation, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	conv, ok := x.byJID[jid]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}
