// Package uihub serves the local status websocket. UI listeners (the popup, a
// dashboard, `basset-agent status --watch`) connect here to follow connection
// state and task queue changes as they happen.
package uihub

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// UI clients only send small control requests.
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameHostOrigin,
}

// sameHostOrigin accepts requests without an Origin (CLI tools) and those from loopback pages.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	req, err := http.NewRequest(http.MethodGet, origin, nil)
	if err != nil {
		return false
	}
	host := req.URL.Hostname()
	if host == "localhost" || req.URL.Scheme == "chrome-extension" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Requests a UI client may send. "snapshot" asks for the latest state again;
// "connect" and "disconnect" drive the controller session.
const (
	RequestSnapshot   = "snapshot"
	RequestConnect    = "connect"
	RequestDisconnect = "disconnect"
)

type request struct {
	Type string `json:"type"`
	// URL optionally overrides the configured controller URL for "connect".
	URL string `json:"url,omitempty"`
}

// Controller performs the session requests UI clients send.
type Controller interface {
	Connect(url string) error
	Disconnect() error
}

type client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("UI client read error", zap.String("client_id", c.id), zap.Error(err))
			}
			return
		}
		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			c.hub.logger.Debug("Ignoring malformed UI request", zap.String("client_id", c.id), zap.Error(err))
			continue
		}
		switch req.Type {
		case RequestSnapshot:
			c.hub.sendSnapshot(c)
		case RequestConnect, RequestDisconnect:
			c.hub.control(c, req)
		default:
			c.hub.logger.Debug("Ignoring unknown UI request", zap.String("client_id", c.id), zap.String("type", req.Type))
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One event per websocket message; UI clients parse them individually.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub fans events out to every connected UI client and remembers the latest
// event of each type so late joiners start from the current state.
type Hub struct {
	logger *zap.Logger

	mu         sync.Mutex
	clients    map[*client]struct{}
	latest     map[schemas.EventType][]byte
	closed     bool
	controller Controller
}

func New(logger *zap.Logger) *Hub {
	return &Hub{
		logger:  logger.Named("uihub"),
		clients: make(map[*client]struct{}),
		latest:  make(map[schemas.EventType][]byte),
	}
}

// Publish broadcasts an event. Clients that cannot keep up are dropped.
func (h *Hub) Publish(eventType schemas.EventType, data interface{}) {
	message, err := json.Marshal(schemas.Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal UI event", zap.String("type", string(eventType)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest[eventType] = message
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			h.logger.Warn("Dropping slow UI client", zap.String("client_id", c.id))
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// SetController enables the connect and disconnect requests.
func (h *Hub) SetController(c Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controller = c
}

// control runs a session request and answers the requesting client only.
func (h *Hub) control(c *client, req request) {
	h.mu.Lock()
	ctrl := h.controller
	h.mu.Unlock()

	var err error
	switch {
	case ctrl == nil:
		err = errors.New("session control is not available")
	case req.Type == RequestConnect:
		err = ctrl.Connect(req.URL)
	default:
		err = ctrl.Disconnect()
	}

	result := schemas.RequestResult{Request: req.Type, OK: err == nil}
	if err != nil {
		result.Error = err.Error()
		h.logger.Warn("UI request failed", zap.String("client_id", c.id), zap.String("request", req.Type), zap.Error(err))
	} else {
		h.logger.Info("UI request completed.", zap.String("client_id", c.id), zap.String("request", req.Type))
	}
	message, merr := json.Marshal(schemas.Event{
		Type:      schemas.EventRequestResult,
		Data:      result,
		Timestamp: time.Now().UnixMilli(),
	})
	if merr != nil {
		h.logger.Error("Failed to marshal UI request result", zap.Error(merr))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- message:
	default:
	}
}

// ClientCount returns the number of connected UI clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) sendSnapshot(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	for _, t := range []schemas.EventType{schemas.EventConnectionState, schemas.EventTaskQueue} {
		if msg, ok := h.latest[t]; ok {
			select {
			case c.send <- msg:
			default:
			}
		}
	}
}

func (h *Hub) registerClient(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("UI client connected.", zap.String("client_id", c.id))
	h.sendSnapshot(c)
	return true
}

func (h *Hub) unregisterClient(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Info("UI client disconnected.", zap.String("client_id", c.id))
	}
}

// ServeHTTP upgrades the request and attaches a new client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if !h.registerClient(c) {
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Serve listens on addr until ctx is done, then shuts the server and the hub down.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("UI status websocket listening.", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		h.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
