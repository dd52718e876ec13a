// Package realtime owns the per-book event stream: the {type,data} wire
// codec, the websocket transport and a channel that reconnects on a fixed delay.
package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	quill "github.com/quillforge/quill/client"
)

const (
	// DefaultReconnectDelay is the fixed wait between a transport failure and the next attempt.
	DefaultReconnectDelay = 3000 * time.Millisecond
	// DefaultDialTimeout bounds a single connect attempt.
	DefaultDialTimeout = 10 * time.Second
)

// State is the lifecycle state of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Connection is a read-only view of the channel's subscription.
type Connection struct {
	SubjectID  int
	State      State
	RetryCount int
}

// Handler receives decoded events of recognized types.
//
// Calls are serialized. A handler must not call Open or Close synchronously.
type Handler interface {
	HandleEvent(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }

// StateHandler is implemented by handlers that also want connection changes.
type StateHandler interface {
	HandleState(c Connection)
}

// Option configures a Channel.
type Option func(*Channel)

func WithLogger(l *log.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.delay = d
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

func WithClock(clk Clock) Option {
	return func(c *Channel) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithStateHandler overrides the state handler derived from the event handler.
func WithStateHandler(h StateHandler) Option {
	return func(c *Channel) {
		c.states = h
	}
}

// Channel maintains a live event transport for one book at a time.
type Channel struct {
	dialer      Dialer
	baseURL     string
	handler     Handler
	states      StateHandler
	logger      *log.Logger
	clock       Clock
	delay       time.Duration
	dialTimeout time.Duration

	mu        sync.Mutex
	gen       uint64
	conn      Connection
	addr      string
	ctx       context.Context
	cancel    context.CancelFunc
	transport Conn
	timer     Timer

	// dispatchMu serializes handler calls across transport generations.
	dispatchMu sync.Mutex
}

// New creates a disconnected channel. baseURL is the backend's HTTP or WS base.
func New(dialer Dialer, baseURL string, handler Handler, opts ...Option) *Channel {
	c := &Channel{
		dialer:      dialer,
		baseURL:     baseURL,
		handler:     handler,
		logger:      log.New(io.Discard),
		clock:       wallClock{},
		delay:       DefaultReconnectDelay,
		dialTimeout: DefaultDialTimeout,
	}
	if sh, ok := handler.(StateHandler); ok {
		c.states = sh
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "realtime")
	return c
}

// Open subscribes to subjectID, superseding any current subscription.
// Non-positive ids are ignored.
func (c *Channel) Open(subjectID int) {
	if subjectID <= 0 {
		c.logger.Debug("open ignored: no subject")
		return
	}
	addr, err := quill.BookStreamURL(c.baseURL, subjectID)
	if err != nil {
		c.logger.Error("open: bad address", "base_url", c.baseURL, "err", err)
		return
	}

	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	c.conn = Connection{SubjectID: subjectID, State: Connecting}
	c.addr = addr
	c.ctx, c.cancel = context.WithCancel(context.Background())
	ctx := c.ctx
	snap := c.conn
	c.mu.Unlock()

	c.logger.Info("connecting", "book_id", subjectID, "addr", addr)
	c.notify(gen, snap)
	go c.dial(ctx, gen, addr)
}

// Close releases the transport and cancels any pending reconnect. Safe to call
// on every exit path, including when already closed.
func (c *Channel) Close() {
	c.mu.Lock()
	c.teardownLocked()
	c.gen++
	gen := c.gen
	was := c.conn
	c.conn = Connection{State: Disconnected}
	snap := c.conn
	c.mu.Unlock()

	if was.State != Disconnected {
		c.logger.Info("closed", "book_id", was.SubjectID)
		c.notify(gen, snap)
	}
}

// Send transmits ev when connected. Otherwise it does nothing and returns false.
func (c *Channel) Send(ev Event) bool {
	c.mu.Lock()
	t := c.transport
	ok := c.conn.State == Connected && t != nil
	c.mu.Unlock()
	if !ok {
		return false
	}

	data, err := ev.MarshalJSON()
	if err != nil {
		c.logger.Error("send: encode", "type", ev.Type, "err", err)
		return false
	}
	if err := t.WriteMessage(data); err != nil {
		c.logger.Warn("send failed", "type", ev.Type, "err", err)
		return false
	}
	return true
}

// Connection returns the current connection view.
func (c *Channel) Connection() Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsConnected reports whether the channel is in the Connected state.
func (c *Channel) IsConnected() bool {
	return c.Connection().State == Connected
}

func (c *Channel) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.transport != nil {
		_ = c.transport.Close()
		c.transport = nil
	}
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Channel) dial(ctx context.Context, gen uint64, addr string) {
	dctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	t, err := c.dialer.Dial(dctx, addr)
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		snap := c.failLocked(gen)
		c.mu.Unlock()
		c.logger.Warn("connect failed", "book_id", snap.SubjectID, "retry", snap.RetryCount, "in", c.delay, "err", err)
		c.notify(gen, snap)
		return
	}
	c.transport = t
	c.conn.State = Connected
	c.conn.RetryCount = 0
	snap := c.conn
	c.mu.Unlock()

	c.logger.Info("connected", "book_id", snap.SubjectID)
	c.notify(gen, snap)
	c.read(gen, t)
}

func (c *Channel) read(gen uint64, t Conn) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen != c.gen {
				c.mu.Unlock()
				return
			}
			if c.transport == t {
				c.transport = nil
			}
			_ = t.Close()
			snap := c.failLocked(gen)
			c.mu.Unlock()
			c.logger.Warn("disconnected", "book_id", snap.SubjectID, "retry", snap.RetryCount, "in", c.delay, "err", err)
			c.notify(gen, snap)
			return
		}

		ev, err := Decode(data)
		switch {
		case errors.Is(err, ErrUnknownType):
			c.logger.Debug("ignoring event", "type", ev.Type)
			continue
		case err != nil:
			c.logger.Error("dropping frame", "err", err, "bytes", len(data))
			continue
		}
		c.dispatch(gen, ev)
	}
}

// failLocked moves to Reconnecting and schedules the single pending retry.
func (c *Channel) failLocked(gen uint64) Connection {
	c.conn.State = Reconnecting
	c.conn.RetryCount++
	if c.timer == nil {
		c.timer = c.clock.AfterFunc(c.delay, func() { c.retry(gen) })
	}
	return c.conn
}

func (c *Channel) retry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.conn.State != Reconnecting {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.conn.State = Connecting
	ctx := c.ctx
	addr := c.addr
	snap := c.conn
	c.mu.Unlock()

	c.logger.Info("reconnecting", "book_id", snap.SubjectID, "attempt", snap.RetryCount)
	c.notify(gen, snap)
	go c.dial(ctx, gen, addr)
}

func (c *Channel) dispatch(gen uint64, ev Event) {
	if c.handler == nil {
		return
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if !c.current(gen) {
		return
	}
	c.handler.HandleEvent(ev)
}

func (c *Channel) notify(gen uint64, snap Connection) {
	if c.states == nil {
		return
	}
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	if !c.current(gen) {
		return
	}
	c.states.HandleState(snap)
}
