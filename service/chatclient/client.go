package chatclient

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"CharChat/logger"
	"CharChat/tools/errs"
	"CharChat/tools/safe"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Client owns one logical connection to one chat room. All of its state is
// guarded by mu; socket and timer callbacks carry the generation (or typing
// sequence) they were started under and are dropped once it is stale.
type Client struct {
	cfg     Config
	auth    AuthStore
	store   MessageStore
	sinks   []EventSink
	dialer  *websocket.Dialer
	log     *zap.Logger
	inbound *dispatcher
	now     func() time.Time

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	connID         string
	userID         string
	gen            uint64
	attempts       int
	reconnectTimer *time.Timer

	messages      []Message
	online        map[string]struct{}
	presenceStale bool // a presence event was dropped; sinks need the whole set

	localTyping  bool
	typingTimer  *time.Timer
	typingSeq    uint64
	remoteTyping bool
	remoteTimer  *time.Timer
	remoteSeq    uint64

	lastErr error
	closed  bool

	writeMu    sync.Mutex
	events     chan Event
	eventsDone chan struct{}
}

func New(cfg Config, auth AuthStore, opts ...Option) (*Client, error) {
	if auth == nil {
		return nil, errs.ErrInvalidConfig.WrapMsg("auth store is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.norm()

	c := &Client{
		cfg:        cfg,
		auth:       auth,
		log:        logger.Named("chatclient"),
		now:        time.Now,
		state:      StateDisconnected,
		online:     make(map[string]struct{}),
		events:     make(chan Event, cfg.EventBuffer),
		eventsDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	c.log = c.log.With(zap.String("chatId", cfg.ChatID))
	c.inbound = newDispatcher()
	registerHandlers(c.inbound)

	safe.Go("chatclient.events", c.runEvents)
	return c, nil
}

func (c *Client) ChatID() string { return c.cfg.ChatID }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// Messages returns a copy of the local sequence, oldest first.
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// OnlineUsers returns the online set, sorted for stable output.
func (c *Client) OnlineUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onlineLocked()
}

func (c *Client) onlineLocked() []string {
	out := make([]string, 0, len(c.online))
	for id := range c.online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) LocalTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localTyping
}

func (c *Client) RemoteTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteTyping
}

func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// LastError is the latest transient error as display text, "" when clear.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return errorString(c.lastErr)
}

// Err is the latest transient error, nil when clear.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearErrLocked()
}

func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]Message, len(c.messages))
	copy(msgs, c.messages)
	return Snapshot{
		ChatID:            c.cfg.ChatID,
		State:             c.state,
		Connected:         c.state == StateConnected,
		Messages:          msgs,
		OnlineUsers:       c.onlineLocked(),
		LocalTyping:       c.localTyping,
		RemoteTyping:      c.remoteTyping,
		Error:             errorString(c.lastErr),
		ReconnectAttempts: c.attempts,
	}
}

// Close tears the client down: it disconnects, stops delivering events and
// waits until the sinks have seen everything queued before it. Later calls
// return immediately.
func (c *Client) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.disconnectLocked()
		c.closed = true
		close(c.events)
	}
	c.mu.Unlock()
	<-c.eventsDone
	return nil
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state", zap.String("from", string(c.state)), zap.String("to", string(s)))
	c.state = s
	c.emitLocked(Event{Kind: EventState, State: s})
}

func (c *Client) setErrLocked(err error) {
	c.lastErr = err
	c.emitLocked(Event{Kind: EventError, Error: errorString(err)})
}

func (c *Client) clearErrLocked() {
	if c.lastErr == nil {
		return
	}
	c.lastErr = nil
	c.emitLocked(Event{Kind: EventError})
}

func (c *Client) appendLocked(m Message) {
	c.messages = append(c.messages, m)
	c.emitLocked(Event{Kind: EventMessage, Message: &m})
}

func (c *Client) emitLocked(ev Event) {
	if c.closed {
		return
	}
	now := c.now()
	if c.presenceStale {
		resync := Event{Kind: EventPresence, ChatID: c.cfg.ChatID, Sync: true, Online: c.onlineLocked(), At: now}
		if ev.Kind == EventPresence {
			// the snapshot already includes this change
			ev = resync
		} else if c.tryQueue(resync) {
			c.presenceStale = false
		}
	}
	ev.ChatID = c.cfg.ChatID
	ev.At = now
	if c.tryQueue(ev) {
		if ev.Sync {
			c.presenceStale = false
		}
		return
	}
	if ev.Kind == EventPresence {
		c.presenceStale = true
	}
	c.log.Warn("event queue full, dropping event", zap.String("kind", string(ev.Kind)))
}

func (c *Client) tryQueue(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) runEvents() {
	defer close(c.eventsDone)
	for ev := range c.events {
		for _, s := range c.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := s.Publish(ctx, ev); err != nil {
				c.log.Warn("publish event failed", zap.String("kind", string(ev.Kind)), zap.Error(err))
			}
			cancel()
		}
	}
}

// persist hands an appended message to the message store; it runs without mu.
func (c *Client) persist(m Message) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := c.store.Append(ctx, m); err != nil {
		c.log.Warn("store message failed", zap.String("messageId", m.ID), zap.Error(err))
	}
}

// errorString renders a CodeError as "msg: detail" and anything else as is.
func errorString(err error) string {
	if err == nil {
		return ""
	}
	var ce *errs.CodeError
	if errors.As(err, &ce) {
		if ce.Detail != "" {
			return ce.Msg + ": " + ce.Detail
		}
		return ce.Msg
	}
	return err.Error()
}
