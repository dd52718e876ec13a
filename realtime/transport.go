package realtime

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// DefaultReadWait is how long a transport may go without any inbound
	// frame, ping or pong before it is treated as dead.
	DefaultReadWait = 60 * time.Second
)

// Conn is one live transport. ReadMessage blocks until a frame arrives or the
// transport fails; Close unblocks it.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
//
// Connections ping the server every 9/10 of ReadWait; a read fails once
// ReadWait passes with nothing received, so half-open sockets reconnect.
type WebsocketDialer struct {
	Dialer   *websocket.Dialer
	Header   http.Header
	ReadWait time.Duration
}

// NewWebsocketDialer returns a dialer with the given handshake timeout and an
// optional bearer token.
func NewWebsocketDialer(handshakeTimeout time.Duration, apiKey string) *WebsocketDialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	h := http.Header{}
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return &WebsocketDialer{Dialer: d, Header: h, ReadWait: DefaultReadWait}
}

func (d *WebsocketDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, addr, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: http %d: %w", addr, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	readWait := d.ReadWait
	if readWait <= 0 {
		readWait = DefaultReadWait
	}
	return newWSConn(c, readWait), nil
}

type wsConn struct {
	conn      *websocket.Conn
	readWait  time.Duration
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(conn *websocket.Conn, readWait time.Duration) *wsConn {
	c := &wsConn{conn: conn, readWait: readWait, done: make(chan struct{})}
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	go c.keepalive()
	return c
}

func (c *wsConn) keepalive() {
	ticker := time.NewTicker(c.readWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readWait))
	}
	return data, err
}

// WriteMessage sends a text frame. gorilla allows one concurrent writer.
func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
