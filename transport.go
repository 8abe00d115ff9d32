package hublink

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/hublink/retry"
	"golang.org/x/net/websocket"
	"golang.org/x/sync/singleflight"
)

// ConnectionState is the lifecycle state of the transport.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateAuthenticating
	StateConnected
)

// String returns the state name for logs.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultSendTimeout      = 10 * time.Second
	defaultSendBufferSize   = 64

	// closeTimeout bounds the close frame written by closeConn.
	closeTimeout = 100 * time.Millisecond
)

// Transport owns one websocket to the hub. It performs the auth handshake,
// reconnects with exponential backoff after an unexpected close, and fans
// out raw inbound frames and state transitions to listeners.
//
// Frame listeners run on the read goroutine in arrival order and must not
// block. Status listeners run on a separate dispatcher goroutine, in
// transition order, without any transport lock held.
type Transport struct {
	logger           Logger
	strategy         retry.Strategy
	handshakeTimeout time.Duration
	sendTimeout      time.Duration
	sendBufferSize   int
	metrics          *Metrics

	connectGroup singleflight.Group

	mu             sync.Mutex
	state          ConnectionState
	conn           *websocket.Conn
	handshaking    *websocket.Conn
	target         *ConnectionConfig
	buffer         []string
	reconnectTimer *time.Timer
	attempt        int
	generation     uint64

	listenerMu      sync.RWMutex
	nextListenerID  uint64
	frameListeners  map[uint64]func(string)
	statusListeners map[uint64]func(ConnectionState)

	statusMu      sync.Mutex
	statusQueue   []ConnectionState
	statusRunning bool
}

// NewTransport creates a disconnected transport with the provided options.
//
// Required options:
//   - WithTransportLogger: logger instance
//
// Optional options:
//   - WithReconnectStrategy: backoff schedule (default: retry.ReconnectStrategy())
//   - WithHandshakeTimeout: bound on dial + auth (default: 10s)
//   - WithSendTimeout: bound on writing one frame (default: 10s)
//   - WithSendBufferSize: frames buffered while authenticating (default: 64)
//   - WithTransportMetrics: Prometheus collectors
func NewTransport(opts ...TransportOption) (*Transport, error) {
	t := &Transport{
		strategy:         retry.ReconnectStrategy(),
		handshakeTimeout: defaultHandshakeTimeout,
		sendTimeout:      defaultSendTimeout,
		sendBufferSize:   defaultSendBufferSize,
		frameListeners:   make(map[uint64]func(string)),
		statusListeners:  make(map[uint64]func(ConnectionState)),
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if t.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithTransportLogger)")
	}

	return t, nil
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether the transport is authenticated and usable.
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// Connect opens and authenticates the socket. It returns immediately when
// already connected, and concurrent callers share one in-flight attempt.
// A caller whose ctx ends stops waiting; the attempt itself keeps running,
// bounded by the handshake timeout.
func (t *Transport) Connect(ctx context.Context, cfg ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeTransport, "invalid connection config", err)
	}
	if t.IsConnected() {
		return nil
	}

	t.mu.Lock()
	t.stopReconnectLocked()
	t.mu.Unlock()

	ch := t.connectGroup.DoChan("connect", func() (interface{}, error) {
		return nil, t.establish(cfg)
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// Disconnect closes the socket, cancels any scheduled reconnect and
// forgets the reconnect target. Buffered frames are dropped.
// Calling Disconnect when already disconnected is a no-op.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.generation++
	t.target = nil
	t.attempt = 0
	t.buffer = nil
	t.stopReconnectLocked()
	conn, handshaking := t.conn, t.handshaking
	t.conn, t.handshaking = nil, nil
	t.setStateLocked(StateDisconnected)
	t.mu.Unlock()

	if conn != nil {
		closeConn(conn)
	}
	if handshaking != nil {
		closeConn(handshaking)
	}
}

// Send writes one text frame. While authenticating the frame is buffered
// and written, in order, once the hub accepts the credentials.
//
// The write itself happens without the transport lock, so a hub that
// stops reading blocks only the sender, and only until the send timeout.
func (t *Transport) Send(frame string) error {
	t.mu.Lock()
	switch t.state {
	case StateConnected:
		conn := t.conn
		t.mu.Unlock()
		return t.write(conn, frame)
	case StateAuthenticating:
		defer t.mu.Unlock()
		if len(t.buffer) >= t.sendBufferSize {
			return NewError(ErrCodeTransport, "send buffer full")
		}
		t.buffer = append(t.buffer, frame)
		return nil
	default:
		t.mu.Unlock()
		return NewError(ErrCodeTransport, "not connected")
	}
}

// write sends one frame under the send deadline. A failed write may leave
// a partial frame on the wire, so the socket is closed and the read loop
// takes over from there.
func (t *Transport) write(conn *websocket.Conn, frame string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(t.sendTimeout))
	if err := websocket.Message.Send(conn, frame); err != nil {
		closeConn(conn)
		return NewErrorWithCause(ErrCodeTransport, "send failed", err)
	}
	return nil
}

// SubscribeFrames registers fn for every inbound text frame and returns a
// function that removes it.
func (t *Transport) SubscribeFrames(fn func(frame string)) (unsubscribe func()) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()

	t.nextListenerID++
	id := t.nextListenerID
	t.frameListeners[id] = fn

	return func() {
		t.listenerMu.Lock()
		delete(t.frameListeners, id)
		t.listenerMu.Unlock()
	}
}

// SubscribeStatus registers fn for every state transition and returns a
// function that removes it.
func (t *Transport) SubscribeStatus(fn func(state ConnectionState)) (unsubscribe func()) {
	t.listenerMu.Lock()
	defer t.listenerMu.Unlock()

	t.nextListenerID++
	id := t.nextListenerID
	t.statusListeners[id] = fn

	return func() {
		t.listenerMu.Lock()
		delete(t.statusListeners, id)
		t.listenerMu.Unlock()
	}
}

// establish dials, authenticates and starts the read loop. It runs inside
// the singleflight group, so at most one socket is being opened at a time.
func (t *Transport) establish(cfg ConnectionConfig) error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	t.generation++
	gen := t.generation
	t.setStateLocked(StateAuthenticating)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.handshakeTimeout)
	defer cancel()

	t.logger.Debugf("Connecting to %s", cfg.EndpointURL)

	conn, err := t.dial(ctx, cfg)
	if err != nil {
		t.abort(gen)
		return NewErrorWithCause(ErrCodeTransport, "failed to open socket", err)
	}

	t.mu.Lock()
	if gen != t.generation {
		t.mu.Unlock()
		closeConn(conn)
		return NewError(ErrCodeTransport, "connection closed during handshake")
	}
	t.handshaking = conn
	t.mu.Unlock()

	if err := t.handshake(ctx, conn, cfg.Token); err != nil {
		closeConn(conn)
		t.abort(gen)
		return err
	}

	t.mu.Lock()
	t.handshaking = nil
	if gen != t.generation {
		t.mu.Unlock()
		closeConn(conn)
		return NewError(ErrCodeTransport, "connection closed during handshake")
	}
	t.conn = conn
	target := cfg
	t.target = &target
	t.attempt = 0
	t.mu.Unlock()

	if err := t.flushBuffer(gen, conn); err != nil {
		return err
	}

	t.logger.Infof("Connected to %s", cfg.EndpointURL)

	go t.readLoop(gen, conn)
	return nil
}

// flushBuffer writes the frames buffered during the handshake and then
// reports Connected. The state stays Authenticating while it writes, so a
// concurrent Send queues behind the buffered frames instead of overtaking
// them.
func (t *Transport) flushBuffer(gen uint64, conn *websocket.Conn) error {
	failed := false
	for {
		t.mu.Lock()
		if gen != t.generation {
			t.mu.Unlock()
			return NewError(ErrCodeTransport, "connection closed during handshake")
		}
		buffered := t.buffer
		t.buffer = nil
		if len(buffered) == 0 {
			t.setStateLocked(StateConnected)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		if failed {
			continue
		}
		for _, frame := range buffered {
			if err := t.write(conn, frame); err != nil {
				t.logger.Warnf("Failed to flush buffered frame: %v", err)
				failed = true
				break
			}
		}
	}
}

// closeConn closes conn even while another goroutine is stuck writing to
// it. Close waits for the writer lock to send its close frame, so the
// write deadline is pulled in first to release any blocked writer.
func closeConn(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(closeTimeout))
	_ = conn.Close()
}

func (t *Transport) dial(ctx context.Context, cfg ConnectionConfig) (*websocket.Conn, error) {
	wsConfig, err := websocket.NewConfig(cfg.EndpointURL, cfg.EndpointURL)
	if err != nil {
		return nil, err
	}
	return wsConfig.DialContext(ctx)
}

// handshake waits for auth_required, sends the token once, then waits for
// auth_ok or auth_invalid.
func (t *Transport) handshake(ctx context.Context, conn *websocket.Conn, token string) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	sentAuth := false
	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			if ctx.Err() != nil {
				return NewErrorWithCause(ErrCodeTransport, "handshake timed out", ctx.Err())
			}
			return NewErrorWithCause(ErrCodeTransport, "connection closed during handshake", err)
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			t.logger.Warnf("Ignoring frame during handshake: %v", err)
			continue
		}

		switch f := frame.(type) {
		case AuthRequired:
			if sentAuth {
				continue
			}
			if err := websocket.Message.Send(conn, encodeAuth(token)); err != nil {
				return NewErrorWithCause(ErrCodeTransport, "failed to send credentials", err)
			}
			sentAuth = true
		case AuthOK:
			if !sentAuth {
				t.logger.Warnf("Ignoring auth_ok received before credentials were sent")
				continue
			}
			return nil
		case AuthInvalid:
			msg := f.Message
			if msg == "" {
				msg = "authentication rejected"
			}
			return NewError(ErrCodeAuthentication, msg)
		default:
			t.logger.Debugf("Ignoring %T during handshake", frame)
		}
	}
}

// abort returns a failed attempt to Disconnected unless a newer attempt
// or Disconnect has taken over.
func (t *Transport) abort(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		return
	}
	t.handshaking = nil
	t.buffer = nil
	t.setStateLocked(StateDisconnected)
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		var raw string
		if err := websocket.Message.Receive(conn, &raw); err != nil {
			t.handleClose(gen, conn, err)
			return
		}
		t.emitFrame(raw)
	}
}

func (t *Transport) emitFrame(raw string) {
	t.listenerMu.RLock()
	listeners := make([]func(string), 0, len(t.frameListeners))
	for _, fn := range t.frameListeners {
		listeners = append(listeners, fn)
	}
	t.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(raw)
	}
}

// handleClose runs when the read loop of generation gen ends. A close not
// caused by Disconnect schedules a reconnect to the last accepted target.
func (t *Transport) handleClose(gen uint64, conn *websocket.Conn, cause error) {
	closeConn(conn)

	t.mu.Lock()
	defer t.mu.Unlock()
	if gen != t.generation {
		return
	}

	t.logger.Warnf("Connection lost: %v", cause)
	t.conn = nil
	t.buffer = nil
	t.setStateLocked(StateDisconnected)

	if t.target != nil {
		t.scheduleReconnectLocked(*t.target)
	}
}

func (t *Transport) scheduleReconnectLocked(cfg ConnectionConfig) {
	delay := t.strategy.CalculateRetryDelay(t.attempt)
	t.attempt++
	gen := t.generation
	t.metrics.reconnectScheduled()
	t.logger.Infof("Reconnecting in %v (attempt %d)", delay, t.attempt)

	t.reconnectTimer = time.AfterFunc(delay, func() {
		t.reconnect(gen, cfg)
	})
}

func (t *Transport) stopReconnectLocked() {
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
}

func (t *Transport) reconnect(gen uint64, cfg ConnectionConfig) {
	t.mu.Lock()
	if gen != t.generation || t.target == nil {
		t.mu.Unlock()
		return
	}
	t.reconnectTimer = nil
	t.mu.Unlock()

	_, err, _ := t.connectGroup.Do("connect", func() (interface{}, error) {
		return nil, t.establish(cfg)
	})
	if err == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if IsAuthentication(err) {
		t.logger.Errorf("Reconnect rejected by hub, giving up: %v", err)
		t.target = nil
		t.attempt = 0
		return
	}
	if t.target == nil || t.state != StateDisconnected || t.reconnectTimer != nil {
		return
	}
	t.logger.Warnf("Reconnect failed: %v", err)
	t.scheduleReconnectLocked(*t.target)
}

// setStateLocked records a transition and queues it for status listeners.
// Callers hold t.mu.
func (t *Transport) setStateLocked(s ConnectionState) {
	if t.state == s {
		return
	}
	t.state = s
	t.metrics.setConnectionState(s)

	t.statusMu.Lock()
	t.statusQueue = append(t.statusQueue, s)
	start := !t.statusRunning
	t.statusRunning = true
	t.statusMu.Unlock()

	if start {
		go t.dispatchStatus()
	}
}

// dispatchStatus delivers queued transitions in order until the queue is empty.
func (t *Transport) dispatchStatus() {
	for {
		t.statusMu.Lock()
		if len(t.statusQueue) == 0 {
			t.statusRunning = false
			t.statusMu.Unlock()
			return
		}
		s := t.statusQueue[0]
		t.statusQueue = t.statusQueue[1:]
		t.statusMu.Unlock()

		t.listenerMu.RLock()
		listeners := make([]func(ConnectionState), 0, len(t.statusListeners))
		for _, fn := range t.statusListeners {
			listeners = append(listeners, fn)
		}
		t.listenerMu.RUnlock()

		for _, fn := range listeners {
			fn(s)
		}
	}
}
