package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SSC023/polymarket-btc-hft-bot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the longest silence tolerated before the connection is
	// considered dead.
	readWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than readWait.
	pingPeriod = (readWait * 9) / 10

	handshakeTimeout = 15 * time.Second
)

// wsConn is a websocket connection with keepalive and a context-bound
// lifetime. Reads happen on the caller's goroutine.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func dialWS(ctx context.Context, url string) (*wsConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "dial " + url, Err: err}
	}

	c := &wsConn{conn: conn, done: make(chan struct{})}

	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	go c.pingLoop()
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

// WriteJSON sends v as a text frame.
func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(v); err != nil {
		return &domain.TransportError{Op: "write", Err: err}
	}
	return nil
}

// Read blocks for the next data frame.
func (c *wsConn) Read() ([]byte, error) {
	_, msg, err := c.conn.ReadMessage()
	if err != nil {
		return nil, &domain.TransportError{Op: "read", Err: err}
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(readWait))
	return msg, nil
}

// Close is idempotent.
func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// protocolErrorf builds the error that forces a reconnect after too many
// malformed frames.
func protocolErrorf(feed string, n int, last error) error {
	return &domain.TransportError{
		Op:  feed,
		Err: fmt.Errorf("%d consecutive malformed messages, last: %w", n, last),
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
