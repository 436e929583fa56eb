// Package channel owns the lifecycle of the push channel: one websocket
// connection per signed-in user, reconnection with exponential backoff and a
// retry ceiling, and decoding of inbound frames into typed domain events.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nestmate/chatsync/internal/bus"
	"github.com/nestmate/chatsync/internal/status"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrConnectionLost reports that the retry ceiling was exhausted. It is the
// payload of the "channel.lost" event; no further reconnection happens until
// Connect is invoked again.
var ErrConnectionLost = errors.New("push channel connection lost")

// Config tunes the push channel connection.
type Config struct {
	// URL is the backend base URL; http(s) schemes are rewritten to ws(s).
	URL   string
	Token string
	// BaseDelay is the first reconnect delay; each consecutive failure doubles it.
	BaseDelay time.Duration
	// MaxAttempts is the retry ceiling before the connection is declared lost.
	MaxAttempts int
}

// Manager owns at most one push channel connection per user.
type Manager struct {
	cfg        Config
	dispatcher *Dispatcher
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	userID  string
	active  bool
	closing bool
	recon   backoff
}

// NewManager creates a manager. Nothing connects until Connect is called.
func NewManager(cfg Config, d *Dispatcher, m *status.Machine, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		dispatcher: d,
		machine:    m,
		bus:        b,
		logger:     logger,
		recon:      backoff{base: cfg.BaseDelay, maxAttempts: cfg.MaxAttempts},
	}
}

// Connect opens the push channel for userID. Calling it while a connection
// (or a scheduled reconnection) is active is a no-op. After the retry ceiling
// was exhausted, calling Connect again starts over with a fresh counter.
//
// A failed first dial is returned to the caller but still enters the backoff
// policy: retries continue in the background until a dial succeeds or the
// ceiling is hit and "channel.lost" is published.
func (m *Manager) Connect(ctx context.Context, userID string) error {
	m.mu.Lock()
	if m.active {
		m.mu.Unlock()
		return nil
	}
	m.active = true
	m.closing = false
	m.userID = userID
	m.recon.reset()
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connecting)
	if err := m.dial(ctx); err != nil {
		if m.logger != nil {
			m.logger.Warn("initial dial failed", zap.Error(err))
		}
		_ = m.machine.Transition(status.Reconnecting)
		m.bus.Publish(bus.Event{Kind: "channel.disconnected", Timestamp: time.Now(), Payload: err.Error()})
		m.scheduleReconnect(ctx)
		return err
	}
	return nil
}

// Disconnect tears down the connection and cancels any pending reconnection.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	m.active = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	_ = m.machine.Transition(status.Idle)
}

// Connected reports whether the push channel is currently up. This is the
// connectivity signal surfaced to the UI.
func (m *Manager) Connected() bool {
	return m.machine.Online()
}

func (m *Manager) dial(ctx context.Context) error {
	wsURL := strings.Replace(m.cfg.URL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.TrimRight(wsURL, "/") + "/realtime?user=" + url.QueryEscape(m.userID)

	opts := &websocket.DialOptions{}
	if m.cfg.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + m.cfg.Token}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("dial push channel: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.recon.reset()
	m.mu.Unlock()

	_ = m.machine.Transition(status.Connected)
	m.bus.Publish(bus.Event{Kind: "channel.connected", Timestamp: time.Now(), Payload: m.userID})
	if m.logger != nil {
		m.logger.Info("push channel connected", zap.String("user", m.userID))
	}

	go m.readLoop(ctx, conn)
	return nil
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.mu.Lock()
			closing := m.closing
			m.conn = nil
			m.mu.Unlock()
			if closing || ctx.Err() != nil {
				return
			}
			if m.logger != nil {
				m.logger.Warn("push channel dropped", zap.Error(err))
			}
			_ = m.machine.Transition(status.Reconnecting)
			m.bus.Publish(bus.Event{Kind: "channel.disconnected", Timestamp: time.Now(), Payload: err.Error()})
			m.scheduleReconnect(ctx)
			return
		}
		// Malformed frames are dropped inside the dispatcher; only
		// transport-level failures reach the reconnect policy above.
		m.dispatcher.Dispatch(data)
	}
}

func (m *Manager) scheduleReconnect(ctx context.Context) {
	m.mu.Lock()
	delay, ok := m.recon.next()
	attempt := m.recon.attempt
	m.mu.Unlock()

	if !ok {
		m.teardown()
		_ = m.machine.Transition(status.Lost)
		m.bus.Publish(bus.Event{Kind: "channel.lost", Timestamp: time.Now(), Payload: ErrConnectionLost})
		if m.logger != nil {
			m.logger.Error("push channel lost, retry ceiling exhausted",
				zap.Int("max_attempts", m.cfg.MaxAttempts))
		}
		return
	}

	if m.logger != nil {
		m.logger.Info("scheduling reconnect",
			zap.Int("attempt", attempt), zap.Duration("delay", delay))
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		_ = m.machine.Transition(status.Connecting)
		if err := m.dial(ctx); err != nil {
			_ = m.machine.Transition(status.Reconnecting)
			m.scheduleReconnect(ctx)
		}
	}()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.active = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.mu.Unlock()
}
