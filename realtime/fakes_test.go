package realtime

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

// manualClock records scheduled callbacks and runs them only when fired.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *manualClock) pending() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *manualClock) all() []*manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*manualTimer(nil), c.timers...)
}

// fire runs the callback even if the timer was stopped, like a timer that
// raced with Stop.
func (t *manualTimer) fire() {
	t.clock.mu.Lock()
	t.fired = true
	t.clock.mu.Unlock()
	t.f()
}

type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

type fakeDialer struct {
	mu    sync.Mutex
	addrs []string
	conns []*fakeConn
	fail  int
}

func (d *fakeDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.addrs = append(d.addrs, addr)
	if d.fail > 0 {
		d.fail--
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.addrs)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

func (d *fakeDialer) live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.conns {
		if !c.isClosed() {
			n++
		}
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	states []Connection
}

func (r *recorder) HandleEvent(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) HandleState(c Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, c)
}

func (r *recorder) eventTypes() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) stateSeq() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.states))
	for _, c := range r.states {
		out = append(out, c.State)
	}
	return out
}
