package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is an established controller socket.
type Conn interface {
	// ReadFrame blocks until the next message arrives.
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Transport opens controller sockets.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSTransport dials the controller with gorilla/websocket.
type WSTransport struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64
}

// NewWSTransport creates a transport. A zero writeTimeout defaults to 10s.
func NewWSTransport(writeTimeout time.Duration, readLimit int64) *WSTransport {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &WSTransport{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		writeTimeout: writeTimeout,
		readLimit:    readLimit,
	}
}

func (t *WSTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	if t.readLimit > 0 {
		conn.SetReadLimit(t.readLimit)
	}
	return &wsConn{conn: conn, writeTimeout: t.writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer; heartbeats and responses share the socket.
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) WriteFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent disconnecting"))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// isNormalClose reports whether err is a clean close initiated by either side.
func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}
