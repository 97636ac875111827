package socket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/localpepas/orderlink/internal/auth"
)

// State describes the connection lifecycle. GivenUp is terminal until an
// explicit Connect or Reconnect resets the attempt counter.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	StateGivenUp      State = "GIVEN_UP"
)

var (
	ErrNoCredentials = errors.New("socket: no valid session")
	ErrNotConnected  = errors.New("socket: not connected")
	ErrClosed        = errors.New("socket: manager closed")
)

// Credentials yields the session used to authenticate the connection.
// Implemented by auth.TokenStore.
type Credentials interface {
	Session(ctx context.Context) (*auth.Session, bool)
}

// MessageHandler receives raw inbound frames, one at a time, in arrival order.
type MessageHandler func(ctx context.Context, raw []byte)

// Manager owns at most one live websocket connection and reconnects with
// bounded exponential backoff when the peer drops it.
type Manager struct {
	creds   Credentials
	baseURL string
	handler MessageHandler
	dialer  *websocket.Dialer

	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	attempt int
	timer   *time.Timer
	closed  bool
	runCtx  context.Context
	gen     uint64

	connectedAtUnixNano atomic.Int64
	totalConnects       atomic.Int64
	totalDisconnects    atomic.Int64
	totalReconnects     atomic.Int64
	messagesIn          atomic.Int64
	messagesOut         atomic.Int64
	droppedSends        atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(creds Credentials, baseURL string, handler MessageHandler) *Manager {
	return &Manager{
		creds:       creds,
		baseURL:     baseURL,
		handler:     handler,
		dialer:      websocket.DefaultDialer,
		backoffBase: 5 * time.Second,
		backoffCap:  80 * time.Second,
		maxAttempts: 5,
		state:       StateIdle,
	}
}

func (m *Manager) WithBackoff(base, capDelay time.Duration, maxAttempts int) *Manager {
	if base > 0 {
		m.backoffBase = base
	}
	if capDelay > 0 {
		m.backoffCap = capDelay
	}
	if maxAttempts > 0 {
		m.maxAttempts = maxAttempts
	}
	return m
}

func (m *Manager) WithDialer(d *websocket.Dialer) *Manager {
	if d != nil {
		m.dialer = d
	}
	return m
}

// Connect establishes the connection if credentials allow it. A second call
// while connecting or connected is a no-op: there is never more than one
// live connection.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.runCtx = ctx
	m.mu.Unlock()

	return m.dial(ctx)
}

// Reconnect drops the current connection (if any), resets the attempt
// counter and connects again. Used by the manual reconnect endpoint.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.stopTimerLocked()
	m.attempt = 0
	m.gen++
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateConnecting
	m.runCtx = ctx
	m.mu.Unlock()

	m.totalReconnects.Add(1)
	return m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) error {
	sess, ok := m.creds.Session(ctx)
	if !ok {
		m.setState(StateIdle)
		m.noteError(ErrNoCredentials.Error())
		return ErrNoCredentials
	}

	target, err := m.connectURL(sess)
	if err != nil {
		m.setState(StateIdle)
		m.noteError(err.Error())
		return errors.Wrap(err, "build connect url")
	}

	conn, _, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		m.noteError(err.Error())
		m.onDisconnect(ctx, err)
		return errors.Wrap(err, "dial")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	// Два dial могли пересечься: победитель вытесняет предыдущее соединение.
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = conn
	m.state = StateConnected
	m.attempt = 0
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.connectedAtUnixNano.Store(time.Now().UTC().UnixNano())
	m.totalConnects.Add(1)
	slog.Info("socket connected", "user_id", sess.UserID)

	go m.readLoop(ctx, conn, gen)
	return nil
}

func (m *Manager) connectURL(sess *auth.Session) (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", sess.UserID)
	q.Set("token", sess.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop delivers frames to the handler strictly in arrival order. The
// handler runs on this goroutine, so a slow handler backpressures the socket
// instead of reordering events.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()

		m.mu.Lock()
		stale := m.gen != gen || m.closed
		m.mu.Unlock()
		if stale {
			// Соединение вытеснено более новым, его кадры не доставляем.
			return
		}

		if err != nil {
			m.noteError(err.Error())
			m.onDisconnect(ctx, err)
			return
		}
		m.messagesIn.Add(1)
		if m.handler != nil {
			m.handler(ctx, raw)
		}
	}
}

// Send serializes payload (strings pass through as-is) and writes it to the
// live connection. When there is no connection the frame is dropped with a
// warning.
func (m *Manager) Send(payload any) error {
	m.mu.Lock()
	conn := m.conn
	st := m.state
	m.mu.Unlock()

	if st != StateConnected || conn == nil {
		m.droppedSends.Add(1)
		slog.Warn("socket send dropped: not connected", "state", string(st))
		return ErrNotConnected
	}

	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrap(err, "marshal payload")
		}
		data = b
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.noteError(err.Error())
		return errors.Wrap(err, "write")
	}
	m.messagesOut.Add(1)
	return nil
}

// Close shuts the connection down for good and suppresses any pending
// reconnect.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopTimerLocked()
	conn := m.conn
	m.conn = nil
	m.state = StateIdle
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}

func (m *Manager) onDisconnect(ctx context.Context, cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.totalDisconnects.Add(1)
	m.connectedAtUnixNano.Store(0)

	m.attempt++
	if m.attempt > m.maxAttempts {
		m.state = StateGivenUp
		m.mu.Unlock()
		slog.Error("socket reconnect given up", "attempts", m.maxAttempts, "error", cause.Error())
		return
	}

	m.state = StateDisconnected
	delay := m.backoffDelayLocked()
	attempt := m.attempt
	m.stopTimerLocked()
	// Перед повторным подключением снова проверяем сессию: протухший токен
	// отменяет переподключение.
	m.timer = time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if _, ok := m.creds.Session(ctx); !ok {
			m.mu.Lock()
			m.state = StateIdle
			m.attempt = 0
			m.mu.Unlock()
			slog.Warn("socket reconnect cancelled: session no longer valid")
			return
		}
		m.mu.Lock()
		if m.closed || m.state != StateDisconnected {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.mu.Unlock()
		m.totalReconnects.Add(1)
		_ = m.dial(ctx)
	})
	m.mu.Unlock()

	slog.Warn("socket disconnected, retrying",
		"attempt", attempt, "delay", delay.String(), "error", cause.Error())
}

func (m *Manager) backoffDelayLocked() time.Duration {
	d := m.backoffBase
	for i := 1; i < m.attempt; i++ {
		d *= 2
		if d >= m.backoffCap {
			return m.backoffCap
		}
	}
	if d > m.backoffCap {
		return m.backoffCap
	}
	return d
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setState(st State) {
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) noteError(s string) {
	m.lastErrorMu.Lock()
	m.lastError = s
	m.lastErrorMu.Unlock()
}

type Stats struct {
	State            State      `json:"state"`
	ConnectedAt      *time.Time `json:"connectedAt,omitempty"`
	Attempt          int        `json:"attempt"`
	TotalConnects    int64      `json:"totalConnects"`
	TotalDisconnects int64      `json:"totalDisconnects"`
	TotalReconnects  int64      `json:"totalReconnects"`
	MessagesIn       int64      `json:"messagesIn"`
	MessagesOut      int64      `json:"messagesOut"`
	DroppedSends     int64      `json:"droppedSends"`
	LastError        string     `json:"lastError,omitempty"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{State: m.state, Attempt: m.attempt}
	m.mu.Unlock()

	if n := m.connectedAtUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.ConnectedAt = &t
	}
	st.TotalConnects = m.totalConnects.Load()
	st.TotalDisconnects = m.totalDisconnects.Load()
	st.TotalReconnects = m.totalReconnects.Load()
	st.MessagesIn = m.messagesIn.Load()
	st.MessagesOut = m.messagesOut.Load()
	st.DroppedSends = m.droppedSends.Load()

	m.lastErrorMu.Lock()
	st.LastError = m.lastError
	m.lastErrorMu.Unlock()
	return st
}
