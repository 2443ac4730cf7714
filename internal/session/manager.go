// Package session owns the controller websocket: connecting, heartbeats, and
// bounded exponential-backoff reconnection. The Manager is the single owner
// of the process-wide ConnectionState.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/api/schemas"
	"github.com/Basset-Hound-OSINT/autofill-extension-sub007/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotConnected is returned by Send when no socket is established.
var ErrNotConnected = errors.New("not connected")

// ErrAlreadyActive is returned by Connect when a campaign is already running.
var ErrAlreadyActive = errors.New("session already active")

// Callbacks are invoked from the session goroutine. They must not block for long.
type Callbacks struct {
	OnOpen func()
	// OnMessage receives one decoded frame at a time. Control frames are filtered out.
	OnMessage func(frame []byte)
	// OnClose is called when an established socket goes away. err is nil when the
	// close was requested through Disconnect.
	OnClose func(err error)
	OnError func(err error)
	// OnState receives every ConnectionState transition.
	OnState func(state schemas.ConnectionState)
}

// Config bounds heartbeats and reconnection.
type Config struct {
	HeartbeatInterval time.Duration
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	MaxAttempts       int
	AutoConnect       bool
}

// Backoff returns the delay before reconnection attempt k (1-based):
// min(initial * 2^(k-1), max).
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// Manager implements the session state machine:
// disconnected -> connecting -> connected -> reconnecting -> ... -> disconnected.
type Manager struct {
	cfg       Config
	transport Transport
	sink      store.Sink
	cb        Callbacks
	logger    *zap.Logger

	// wait pauses between reconnection attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	state  schemas.ConnectionState
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	// publishMu keeps mirror writes and OnState calls in transition order.
	publishMu sync.Mutex
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, transport Transport, sink store.Sink, cb Callbacks, logger *zap.Logger) (*Manager, error) {
	if transport == nil {
		return nil, errors.New("transport cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay < cfg.InitialDelay {
		return nil, fmt.Errorf("invalid backoff delays: initial=%s max=%s", cfg.InitialDelay, cfg.MaxDelay)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		cb:        cb,
		logger:    logger.Named("session"),
		wait:      sleepContext,
		state:     schemas.ConnectionState{Status: schemas.StatusDisconnected, UpdatedAt: time.Now()},
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a copy of the current ConnectionState.
func (m *Manager) State() schemas.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a connection campaign towards url and returns immediately.
// Dial failures, including the first one, are retried with backoff.
func (m *Manager) Connect(ctx context.Context, url string) error {
	m.mu.Lock()
	if m.state.Status != schemas.StatusDisconnected || m.cancel != nil {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.transition(func(s *schemas.ConnectionState) {
		s.Status = schemas.StatusConnecting
		s.Attempt = 0
		s.URL = url
		s.LastError = ""
		s.ConnectionID = ""
	})
	m.mirrorSettings(ctx, url)

	go func() {
		defer close(done)
		m.run(runCtx, url)
	}()
	return nil
}

// Disconnect closes the socket and stops any reconnection. It blocks until
// the session goroutine has exited.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	cancel, done, conn := m.cancel, m.done, m.conn
	m.mu.Unlock()

	var closeErr error
	if cancel != nil {
		m.logger.Info("Disconnect requested.")
		cancel()
		if conn != nil {
			closeErr = conn.Close()
		}
	}
	if done != nil {
		<-done
	}
	return closeErr
}

// Send writes one frame to the controller.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	conn, status := m.conn, m.state.Status
	m.mu.Unlock()
	if conn == nil || status != schemas.StatusConnected {
		return ErrNotConnected
	}
	if err := conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// SendJSON encodes v as a frame and sends it.
func (m *Manager) SendJSON(v interface{}) error {
	frame, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	return m.Send(frame)
}

func (m *Manager) run(ctx context.Context, url string) {
	defer func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.cancel = nil
		m.conn = nil
		m.mu.Unlock()
	}()

	attempt := 0
	for {
		conn, err := m.transport.Dial(ctx, url)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			m.stopped(nil)
			return
		}

		if err == nil {
			attempt = 0
			err = m.serve(ctx, conn)
			if ctx.Err() != nil {
				m.stopped(nil)
				m.notifyClose(nil)
				return
			}
			if isNormalClose(err) {
				m.logger.Info("Controller closed the connection.", zap.Error(err))
			} else {
				m.logger.Warn("Controller connection lost.", zap.Error(err))
			}
			m.notifyClose(err)
		} else {
			m.logger.Warn("Failed to connect to controller.", zap.String("url", url), zap.Error(err))
		}
		m.notifyError(err)

		attempt++
		if attempt > m.cfg.MaxAttempts {
			terminal := fmt.Errorf("giving up after %d reconnection attempts: %w", m.cfg.MaxAttempts, err)
			m.logger.Error("Reconnection attempts exhausted; manual reconnect required.",
				zap.Int("max_attempts", m.cfg.MaxAttempts), zap.Error(err))
			m.transition(func(s *schemas.ConnectionState) {
				s.Status = schemas.StatusDisconnected
				s.LastError = terminal.Error()
				s.ConnectionID = ""
			})
			m.notifyError(terminal)
			return
		}

		delay := Backoff(attempt, m.cfg.InitialDelay, m.cfg.MaxDelay)
		m.transition(func(s *schemas.ConnectionState) {
			s.Status = schemas.StatusReconnecting
			s.Attempt = attempt
			s.LastError = err.Error()
			s.ConnectionID = ""
		})
		m.logger.Info("Reconnecting.", zap.Int("attempt", attempt), zap.Duration("delay", delay))
		if m.wait(ctx, delay) != nil {
			m.stopped(nil)
			return
		}
	}
}

// serve runs an established connection until it fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
	}()

	m.transition(func(s *schemas.ConnectionState) {
		s.Status = schemas.StatusConnected
		s.Attempt = 0
		s.LastError = ""
		s.ConnectionID = uuid.NewString()
	})
	m.logger.Info("Connected to controller.", zap.String("url", m.State().URL))
	if m.cb.OnOpen != nil {
		m.cb.OnOpen()
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.heartbeat(conn, stop)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for {
		message, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		for _, frame := range SplitFrames(message) {
			if IsControlFrame(frame) {
				m.logger.Debug("Control frame received.", zap.String("type", FrameType(frame)))
				continue
			}
			if m.cb.OnMessage != nil {
				m.cb.OnMessage(frame)
			}
		}
	}
}

// heartbeat sends a heartbeat frame every interval. A failed write is left to
// the read loop to detect; heartbeats are not failure detection.
func (m *Manager) heartbeat(conn Conn, stop <-chan struct{}) {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			frame, err := EncodeFrame(schemas.HeartbeatFrame{Type: schemas.FrameHeartbeat, Timestamp: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			if err := conn.WriteFrame(frame); err != nil {
				m.logger.Debug("Heartbeat write failed.", zap.Error(err))
			}
		}
	}
}

func (m *Manager) stopped(err error) {
	m.transition(func(s *schemas.ConnectionState) {
		s.Status = schemas.StatusDisconnected
		s.Attempt = 0
		s.ConnectionID = ""
		if err != nil {
			s.LastError = err.Error()
		}
	})
	m.logger.Info("Session stopped.")
}

func (m *Manager) notifyClose(err error) {
	if m.cb.OnClose != nil {
		m.cb.OnClose(err)
	}
}

func (m *Manager) notifyError(err error) {
	if err != nil && m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}

// transition applies mutate to the owned state, then mirrors and broadcasts the result.
func (m *Manager) transition(mutate func(s *schemas.ConnectionState)) {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	mutate(&m.state)
	m.state.UpdatedAt = time.Now()
	snapshot := m.state
	m.mu.Unlock()

	err := m.sink.Put(context.Background(), map[string]interface{}{
		schemas.KeyConnectionStatus: snapshot.Status,
		schemas.KeyConnectionData:   snapshot,
		schemas.KeyLastUpdated:      snapshot.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		m.logger.Warn("Failed to mirror connection state", zap.Error(err))
	}
	if m.cb.OnState != nil {
		m.cb.OnState(snapshot)
	}
}

func (m *Manager) mirrorSettings(ctx context.Context, url string) {
	err := m.sink.Put(context.WithoutCancel(ctx), map[string]interface{}{
		schemas.KeySettings: schemas.Settings{AutoConnect: m.cfg.AutoConnect, WSURL: url},
	})
	if err != nil {
		m.logger.Warn("Failed to mirror settings", zap.Error(err))
	}
}
