package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telecare/internal/domain"
)

// Conn is a single duplex wire connection. Implemented by gorilla websocket
// in production and by in-memory fakes in tests.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes a Conn to a channel endpoint
type Dialer interface {
	DialChannel(ctx context.Context, url string) (Conn, error)
}

// writeWait bounds a single websocket write so a hung peer surfaces as a
// write error instead of stalling the caller indefinitely.
const writeWait = 10 * time.Second

// wsWire is the slice of *websocket.Conn the link needs, split out so the
// deadline handling is testable without a network connection.
type wsWire interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type wsConn struct {
	conn wsWire
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// WebsocketDialer dials channel endpoints over websocket
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebsocketDialer) DialChannel(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// LinkOptions configures one ChannelLink
type LinkOptions struct {
	Kind           domain.ChannelKind
	URL            string
	Dialer         Dialer
	Logger         *zap.Logger
	ConnectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
}

// ChannelLink is one independently reconnecting logical connection bound to a
// consultation+user+role tuple. The same implementation serves the control,
// media, and chat channels so reconnection and backoff are written once.
type ChannelLink struct {
	kind           domain.ChannelKind
	url            string
	dialer         Dialer
	logger         *zap.Logger
	connectTimeout time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	maxAttempts    int

	mu     sync.Mutex
	conn   Conn
	state  domain.ConnectionState
	closed bool

	inbound chan Envelope
	stateCh chan domain.ConnectionState
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewChannelLink creates a link in the disconnected state
func NewChannelLink(opts LinkOptions) *ChannelLink {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ChannelLink{
		kind:           opts.Kind,
		url:            opts.URL,
		dialer:         opts.Dialer,
		logger:         opts.Logger,
		connectTimeout: opts.ConnectTimeout,
		backoffBase:    opts.BackoffBase,
		backoffMax:     opts.BackoffMax,
		maxAttempts:    opts.MaxAttempts,
		state: domain.ConnectionState{
			Channel: opts.Kind,
			Status:  domain.LinkDisconnected,
			Quality: domain.QualityDisconnected,
		},
		inbound: make(chan Envelope, 64),
		stateCh: make(chan domain.ConnectionState, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Kind returns the channel kind this link serves
func (l *ChannelLink) Kind() domain.ChannelKind {
	return l.kind
}

// Connect attempts the initial connection within the configured timeout. On
// failure it returns the error and schedules background reconnection; it
// never blocks the caller beyond the timeout.
func (l *ChannelLink) Connect(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrChannelNotReady
	}
	l.setStateLocked(domain.LinkConnecting)
	l.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, l.connectTimeout)
	defer cancel()
	conn, err := l.dialer.DialChannel(dialCtx, l.url)
	if err != nil {
		l.logger.Warn("channel connect failed",
			zap.String("channel", string(l.kind)),
			zap.Error(err))
		l.mu.Lock()
		l.setStateLocked(domain.LinkReconnecting)
		l.mu.Unlock()
		l.wg.Add(1)
		go l.reconnectLoop()
		return err
	}
	l.attach(conn)
	return nil
}

// Send writes an envelope to the channel. Fails with ErrChannelNotReady when
// not connected; callers that prefer buffer-and-retry handle that themselves.
func (l *ChannelLink) Send(env Envelope) error {
	l.mu.Lock()
	conn := l.conn
	ready := !l.closed && l.state.Status == domain.LinkConnected && conn != nil
	l.mu.Unlock()
	if !ready {
		return ErrChannelNotReady
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(data); err != nil {
		l.logger.Warn("channel write failed",
			zap.String("channel", string(l.kind)),
			zap.Error(err))
		return ErrChannelNotReady
	}
	return nil
}

// Inbound delivers envelopes read from the wire
func (l *ChannelLink) Inbound() <-chan Envelope {
	return l.inbound
}

// States delivers connection state notifications
func (l *ChannelLink) States() <-chan domain.ConnectionState {
	return l.stateCh
}

// State returns the current connection state
func (l *ChannelLink) State() domain.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RecordLatency updates the display-only quality classification from a
// round-trip sample. Never used for control decisions.
func (l *ChannelLink) RecordLatency(rtt time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Status != domain.LinkConnected {
		l.state.Quality = domain.QualityDisconnected
		return
	}
	switch {
	case rtt < 150*time.Millisecond:
		l.state.Quality = domain.QualityGood
	case rtt < 400*time.Millisecond:
		l.state.Quality = domain.QualityFair
	default:
		l.state.Quality = domain.QualityPoor
	}
}

// Close synchronously stops the link: cancels reconnection, closes the
// connection, and waits for the read loop to drain before closing the
// outbound notification channels.
func (l *ChannelLink) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.state.Status = domain.LinkDisconnected
	l.state.Quality = domain.QualityDisconnected
	l.mu.Unlock()

	l.cancel()
	if conn != nil {
		_ = conn.Close()
	}
	l.wg.Wait()
	close(l.inbound)
	close(l.stateCh)
}

func (l *ChannelLink) attach(conn Conn) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = conn.Close()
		return
	}
	l.conn = conn
	now := time.Now()
	l.state.LastConnectedAt = &now
	l.state.ReconnectAttempts = 0
	l.state.Quality = domain.QualityGood
	l.setStateLocked(domain.LinkConnected)
	l.mu.Unlock()

	l.logger.Info("channel connected", zap.String("channel", string(l.kind)))
	l.wg.Add(1)
	go l.readLoop(conn)
}

func (l *ChannelLink) readLoop(conn Conn) {
	defer l.wg.Done()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			if !closed {
				l.conn = nil
				l.setStateLocked(domain.LinkReconnecting)
			}
			l.mu.Unlock()
			if closed {
				return
			}
			l.logger.Warn("channel read failed, reconnecting",
				zap.String("channel", string(l.kind)),
				zap.Error(err))
			l.wg.Add(1)
			go l.reconnectLoop()
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.logger.Error("failed to unmarshal envelope",
				zap.String("channel", string(l.kind)),
				zap.Error(err))
			continue
		}
		select {
		case l.inbound <- env:
		case <-l.ctx.Done():
			return
		}
	}
}

// reconnectLoop retries with capped exponential backoff until it succeeds,
// the link is closed, or attempts are exhausted.
func (l *ChannelLink) reconnectLoop() {
	defer l.wg.Done()
	for attempt := 1; ; attempt++ {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.state.ReconnectAttempts = attempt
		l.mu.Unlock()

		if attempt > l.maxAttempts {
			l.logger.Error("channel reconnect attempts exhausted",
				zap.String("channel", string(l.kind)),
				zap.Int("attempts", l.maxAttempts))
			l.mu.Lock()
			l.setStateLocked(domain.LinkError)
			l.mu.Unlock()
			return
		}

		backoff := l.backoffBase << uint(attempt-1)
		if backoff > l.backoffMax {
			backoff = l.backoffMax
		}
		select {
		case <-time.After(backoff):
		case <-l.ctx.Done():
			return
		}

		dialCtx, cancel := context.WithTimeout(l.ctx, l.connectTimeout)
		conn, err := l.dialer.DialChannel(dialCtx, l.url)
		cancel()
		if err != nil {
			l.logger.Warn("channel reconnect attempt failed",
				zap.String("channel", string(l.kind)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		l.attach(conn)
		return
	}
}

// setStateLocked updates the status and pushes a notification without
// blocking; callers hold l.mu. When the buffer is full the oldest queued
// notification is evicted so the most recent state is always delivered:
// a consumer that stalls through a burst must still learn about the final
// transition, a reconnect in particular.
func (l *ChannelLink) setStateLocked(status domain.LinkStatus) {
	l.state.Status = status
	if status != domain.LinkConnected {
		l.state.Quality = domain.QualityDisconnected
	}
	if l.closed {
		return
	}
	for {
		select {
		case l.stateCh <- l.state:
			return
		default:
		}
		select {
		case <-l.stateCh:
		default:
		}
	}
}
