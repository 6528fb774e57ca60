package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Envelope is the wire frame carried over the WebSocket: a named event
// plus its JSON payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives the raw payload of a named event.
type Handler func(payload json.RawMessage)

// Subscription is a handle to a registered handler. Cancel is idempotent.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel detaches the handler from the channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// StateListener observes connection transitions. reason is empty on
// connect and human-readable on loss.
type StateListener func(connected bool, reason string)

const (
	defaultMaxAttempts = 5
	backoffBase        = time.Second
	backoffCeiling     = 5 * time.Second
)

type registration struct {
	id int
	fn Handler
}

// Channel is a duplex, auto-reconnecting event channel to the bot
// process. Inbound events are dispatched to registered handlers in
// arrival order by a single reader goroutine; no reordering or
// coalescing happens at this layer.
type Channel struct {
	url    string
	logger *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	reason    string
	listener  StateListener

	hmu      sync.RWMutex
	handlers map[string][]registration
	nextID   int

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// New creates a channel for the given WebSocket URL. The channel does
// not connect until Connect is called.
func New(url string, logger *zap.Logger) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		url:         url,
		logger:      logger,
		handlers:    make(map[string][]registration),
		rootCtx:     ctx,
		cancel:      cancel,
		maxAttempts: defaultMaxAttempts,
		backoff: func(attempt int) time.Duration {
			d := time.Duration(attempt) * backoffBase
			if d > backoffCeiling {
				d = backoffCeiling
			}
			return d
		},
	}
}

// Connect dials the endpoint, retrying up to the attempt cap with
// increasing backoff. After the final failed attempt the channel stays
// disconnected and makes no further automatic attempt until Connect is
// called again.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err == nil {
			c.attach(conn)
			return nil
		}
		lastErr = err
		c.logger.Warn("connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.maxAttempts),
			zap.Error(err))
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			c.setDisconnected("connect cancelled")
			return ctx.Err()
		case <-c.rootCtx.Done():
			return fmt.Errorf("channel closed")
		}
	}

	reason := fmt.Sprintf("connection failed after %d attempts: %v", c.maxAttempts, lastErr)
	c.setDisconnected(reason)
	return fmt.Errorf("connect %s: %w", c.url, lastErr)
}

func (c *Channel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.reason = ""
	listener := c.listener
	c.mu.Unlock()

	c.logger.Info("channel connected", zap.String("url", c.url))
	if listener != nil {
		listener(true, "")
	}

	c.wg.Add(1)
	go c.readLoop(conn)
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var env Envelope
		if err := wsjson.Read(c.rootCtx, conn, &env); err != nil {
			if c.rootCtx.Err() != nil {
				return
			}
			reason := lossReason(err)
			c.logger.Warn("channel connection lost", zap.String("reason", reason))
			c.setDisconnected(reason)

			// Reconnect with the same bounded schedule; give up
			// silently when it is exhausted.
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				if err := c.Connect(c.rootCtx); err != nil {
					c.logger.Error("reconnect failed", zap.Error(err))
				}
			}()
			return
		}
		c.dispatch(env)
	}
}

func (c *Channel) dispatch(env Envelope) {
	c.hmu.RLock()
	regs := make([]registration, len(c.handlers[env.Event]))
	copy(regs, c.handlers[env.Event])
	c.hmu.RUnlock()

	for _, reg := range regs {
		reg.fn(env.Payload)
	}
}

func (c *Channel) setDisconnected(reason string) {
	c.mu.Lock()
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.reason = reason
	listener := c.listener
	c.mu.Unlock()

	if wasConnected && listener != nil {
		listener(false, reason)
	}
}

// Emit sends a named event with the given payload to the bot process.
// A nil payload sends an empty frame for the event.
func (c *Channel) Emit(ctx context.Context, event string, payload any) error {
	env := Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		env.Payload = raw
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("emit %s: channel disconnected", event)
	}

	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// On registers a handler for a named event and returns its handle.
// Multiple handlers for the same event run in registration order.
func (c *Channel) On(event string, fn Handler) *Subscription {
	c.hmu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[event] = append(c.handlers[event], registration{id: id, fn: fn})
	c.hmu.Unlock()

	return &Subscription{cancel: func() {
		c.hmu.Lock()
		regs := c.handlers[event]
		for i, reg := range regs {
			if reg.id == id {
				c.handlers[event] = append(regs[:i:i], regs[i+1:]...)
				break
			}
		}
		c.hmu.Unlock()
	}}
}

// SetStateListener installs the single connection-state observer.
func (c *Channel) SetStateListener(fn StateListener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Connected reports whether the channel currently holds a live connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// DisconnectReason returns the human-readable reason for the last
// connection loss, or empty while connected.
func (c *Channel) DisconnectReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Close disconnects and stops any reconnect attempt. The channel
// cannot be reused afterwards.
func (c *Channel) Close() error {
	c.cancel()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.reason = "closed"
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	c.wg.Wait()
	return nil
}

func lossReason(err error) string {
	if status := websocket.CloseStatus(err); status != -1 {
		return fmt.Sprintf("connection closed (%v)", status)
	}
	return err.Error()
}
