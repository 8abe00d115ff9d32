package hublink

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coregx/hublink/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastReconnect() retry.Strategy {
	return retry.Strategy{
		BaseDelay:       10 * time.Millisecond,
		MaxDelay:        50 * time.Millisecond,
		ExponentialBase: 2.0,
		ExponentCap:     3,
	}
}

func newTestTransport(t *testing.T, opts ...TransportOption) *Transport {
	t.Helper()
	opts = append([]TransportOption{
		WithTransportLogger(&NoopLogger{}),
		WithReconnectStrategy(fastReconnect()),
		WithHandshakeTimeout(2 * time.Second),
	}, opts...)
	tr, err := NewTransport(opts...)
	require.NoError(t, err)
	t.Cleanup(tr.Disconnect)
	return tr
}

func TestNewTransport_RequiresLogger(t *testing.T) {
	_, err := NewTransport()
	assert.True(t, HasCode(err, ErrCodeConfiguration))

	_, err = NewTransport(WithTransportLogger(nil))
	assert.True(t, HasCode(err, ErrCodeConfiguration))

	_, err = NewTransport(WithTransportLogger(&NoopLogger{}), WithSendBufferSize(0))
	assert.True(t, HasCode(err, ErrCodeConfiguration))
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "unknown", ConnectionState(9).String())
}

func TestTransport_HandshakeSuccess(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	var rec statusRecorder
	tr.SubscribeStatus(rec.record)

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	assert.True(t, tr.IsConnected())
	assert.Equal(t, StateConnected, tr.State())

	require.Equal(t, 1, hub.authCount())
	assert.JSONEq(t, `{"type":"auth","access_token":"tok"}`, hub.authFrames[0])

	require.Eventually(t, func() bool { return len(rec.get()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ConnectionState{StateAuthenticating, StateConnected}, rec.get())
}

func TestTransport_HandshakeRejected(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	cfg := hub.config()
	cfg.Token = "wrong"
	err := tr.Connect(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, IsAuthentication(err))

	var hlErr *Error
	require.ErrorAs(t, err, &hlErr)
	assert.Equal(t, "Invalid token", hlErr.Message)
	assert.False(t, tr.IsConnected())

	// no reconnect after a rejected first attempt
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.acceptedCount())
}

func TestTransport_InvalidConfig(t *testing.T) {
	tr := newTestTransport(t)

	tests := []ConnectionConfig{
		{},
		{EndpointURL: "ws://hub.local/api/websocket"},
		{EndpointURL: "http://hub.local", Token: "tok"},
		{EndpointURL: "ws://", Token: "tok"},
	}
	for _, cfg := range tests {
		err := tr.Connect(context.Background(), cfg)
		assert.True(t, IsTransport(err), "%+v", cfg)
	}
	assert.Equal(t, StateDisconnected, tr.State())
}

func TestTransport_CloseBeforeAuthentication(t *testing.T) {
	hub := newFakeHub(t, "tok")
	hub.closeEarly = true
	tr := newTestTransport(t)

	err := tr.Connect(context.Background(), hub.config())
	assert.True(t, IsTransport(err))
	assert.False(t, tr.IsConnected())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, hub.acceptedCount())
}

func TestTransport_ConnectIsIdempotentAndCoalesced(t *testing.T) {
	hub := newFakeHub(t, "tok")
	hub.holdAuth = make(chan struct{})
	tr := newTestTransport(t)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tr.Connect(context.Background(), hub.config())
		}(i)
	}

	require.Eventually(t, func() bool { return hub.authCount() == 1 }, time.Second, 5*time.Millisecond)
	close(hub.holdAuth)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, hub.acceptedCount())

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	assert.Equal(t, 1, hub.acceptedCount())
}

func TestTransport_ConnectCallerContext(t *testing.T) {
	hub := newFakeHub(t, "tok")
	hub.holdAuth = make(chan struct{})
	tr := newTestTransport(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Connect(ctx, hub.config())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(hub.holdAuth)
	require.Eventually(t, tr.IsConnected, time.Second, 5*time.Millisecond)
}

func TestTransport_SendStates(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	err := tr.Send(`{"id":1,"type":"ping"}`)
	assert.True(t, IsTransport(err))

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	require.NoError(t, tr.Send(`{"id":1,"type":"ping"}`))

	frames := hub.waitReceived(t, 1)
	assert.Equal(t, "ping", frames[0]["type"])
}

func TestTransport_SendBufferedWhileAuthenticating(t *testing.T) {
	hub := newFakeHub(t, "tok")
	hub.holdAuth = make(chan struct{})
	tr := newTestTransport(t, WithSendBufferSize(2))

	done := make(chan error, 1)
	go func() { done <- tr.Connect(context.Background(), hub.config()) }()

	require.Eventually(t, func() bool { return hub.authCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateAuthenticating, tr.State())

	require.NoError(t, tr.Send(`{"id":1,"type":"first"}`))
	require.NoError(t, tr.Send(`{"id":2,"type":"second"}`))
	err := tr.Send(`{"id":3,"type":"third"}`)
	require.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "send buffer full")

	close(hub.holdAuth)
	require.NoError(t, <-done)

	frames := hub.waitReceived(t, 2)
	assert.Equal(t, "first", frames[0]["type"])
	assert.Equal(t, "second", frames[1]["type"])
}

func TestTransport_FrameFanOut(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	var mu sync.Mutex
	var a, b []string
	tr.SubscribeFrames(func(f string) { mu.Lock(); a = append(a, f); mu.Unlock() })
	unsubscribeB := tr.SubscribeFrames(func(f string) { mu.Lock(); b = append(b, f); mu.Unlock() })

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	require.Eventually(t, func() bool { hub.mu.Lock(); defer hub.mu.Unlock(); return len(hub.conns) == 1 }, time.Second, 5*time.Millisecond)

	hub.broadcast(`{"type":"event","id":1,"event":{}}`)
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(a) == 1 && len(b) == 1 }, time.Second, 5*time.Millisecond)

	unsubscribeB()
	hub.broadcast(`{"type":"event","id":1,"event":{}}`)
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(a) == 2 }, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, b, 1)
	mu.Unlock()
}

func TestTransport_ReconnectAfterUnexpectedClose(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	var rec statusRecorder
	tr.SubscribeStatus(rec.record)

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	require.Eventually(t, func() bool { hub.mu.Lock(); defer hub.mu.Unlock(); return len(hub.conns) == 1 }, time.Second, 5*time.Millisecond)

	hub.dropAll()

	require.Eventually(t, func() bool { return hub.authCount() == 2 && tr.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.get()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ConnectionState{
		StateAuthenticating, StateConnected,
		StateDisconnected,
		StateAuthenticating, StateConnected,
	}, rec.get())

	tr.mu.Lock()
	assert.Equal(t, 0, tr.attempt)
	tr.mu.Unlock()
}

func TestTransport_ReconnectStopsOnAuthenticationFailure(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	require.Eventually(t, func() bool { hub.mu.Lock(); defer hub.mu.Unlock(); return len(hub.conns) == 1 }, time.Second, 5*time.Millisecond)

	hub.mu.Lock()
	hub.rejectAuths = true
	hub.mu.Unlock()
	hub.dropAll()

	require.Eventually(t, func() bool { return hub.authCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, hub.authCount())
	assert.False(t, tr.IsConnected())

	tr.mu.Lock()
	assert.Nil(t, tr.target)
	tr.mu.Unlock()
}

func TestTransport_DisconnectCancelsReconnect(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t, WithReconnectStrategy(retry.Strategy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, ExponentialBase: 2}))

	var rec statusRecorder
	tr.SubscribeStatus(rec.record)

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	require.Eventually(t, func() bool { hub.mu.Lock(); defer hub.mu.Unlock(); return len(hub.conns) == 1 }, time.Second, 5*time.Millisecond)

	hub.dropAll()
	require.Eventually(t, func() bool { return tr.State() == StateDisconnected }, time.Second, 5*time.Millisecond)

	tr.Disconnect()
	tr.Disconnect()

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, hub.authCount())
	assert.Equal(t, []ConnectionState{StateAuthenticating, StateConnected, StateDisconnected}, rec.get())
}

func TestTransport_DisconnectNotifiesOnce(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	var rec statusRecorder
	tr.SubscribeStatus(rec.record)

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	tr.Disconnect()
	tr.Disconnect()

	require.Eventually(t, func() bool { return len(rec.get()) == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []ConnectionState{StateAuthenticating, StateConnected, StateDisconnected}, rec.get())
	assert.True(t, IsTransport(tr.Send("x")))

	// a close we caused does not reconnect
	assert.Equal(t, 1, hub.authCount())
}

func TestTransport_StatusListenerMayCallTransport(t *testing.T) {
	hub := newFakeHub(t, "tok")
	tr := newTestTransport(t)

	seen := make(chan ConnectionState, 4)
	tr.SubscribeStatus(func(s ConnectionState) {
		// reading state from inside a listener must not deadlock
		_ = tr.State()
		seen <- s
	})

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	assert.Equal(t, StateAuthenticating, <-seen)
	assert.Equal(t, StateConnected, <-seen)
}

// delayRecorder captures the delays the transport announces when it
// schedules a reconnect.
type delayRecorder struct {
	NoopLogger

	mu     sync.Mutex
	delays []time.Duration
}

func (l *delayRecorder) Infof(format string, args ...interface{}) {
	if !strings.HasPrefix(format, "Reconnecting in") || len(args) == 0 {
		return
	}
	if d, ok := args[0].(time.Duration); ok {
		l.mu.Lock()
		l.delays = append(l.delays, d)
		l.mu.Unlock()
	}
}

func (l *delayRecorder) get() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays...)
}

func TestTransport_ReconnectBacksOffExponentially(t *testing.T) {
	hub := newFakeHub(t, "tok")
	logger := &delayRecorder{}
	strategy := fastReconnect()
	tr := newTestTransport(t, WithTransportLogger(logger))

	require.NoError(t, tr.Connect(context.Background(), hub.config()))
	require.Eventually(t, func() bool { hub.mu.Lock(); defer hub.mu.Unlock(); return len(hub.conns) == 1 }, time.Second, 5*time.Millisecond)

	// every later attempt is dropped before the handshake completes
	hub.mu.Lock()
	hub.closeEarly = true
	hub.mu.Unlock()
	hub.dropAll()

	const attempts = 6
	require.Eventually(t, func() bool { return len(logger.get()) >= attempts }, 3*time.Second, 5*time.Millisecond)

	delays := logger.get()[:attempts]
	for i, d := range delays {
		assert.Equal(t, strategy.CalculateRetryDelay(i), d, "attempt %d", i)
		assert.LessOrEqual(t, d, strategy.MaxDelay, "attempt %d", i)
		if i > 0 {
			assert.GreaterOrEqual(t, d, delays[i-1], "attempt %d", i)
		}
	}
	assert.Equal(t, strategy.BaseDelay, delays[0])
	assert.Greater(t, delays[2], delays[1])
	assert.Greater(t, delays[1], delays[0])
	assert.Equal(t, strategy.MaxDelay, delays[attempts-1])

	assert.False(t, tr.IsConnected())
	assert.GreaterOrEqual(t, hub.acceptedCount(), attempts)

	tr.mu.Lock()
	assert.GreaterOrEqual(t, tr.attempt, attempts)
	assert.NotNil(t, tr.target)
	tr.mu.Unlock()
}

func TestTransport_StalledWriteDoesNotBlockTransport(t *testing.T) {
	hub := newFakeHub(t, "tok")
	stall := make(chan struct{})
	hub.stallReads = stall
	t.Cleanup(func() { close(stall) })

	tr := newTestTransport(t, WithSendTimeout(5*time.Second))
	require.NoError(t, tr.Connect(context.Background(), hub.config()))

	// the hub never reads, so the socket buffers fill and a write blocks
	frame := strings.Repeat("x", 1<<20)
	sendErr := make(chan error, 1)
	go func() {
		for {
			if err := tr.Send(frame); err != nil {
				sendErr <- err
				return
			}
		}
	}()
	time.Sleep(100 * time.Millisecond)

	state := make(chan ConnectionState, 1)
	go func() { state <- tr.State() }()
	select {
	case s := <-state:
		assert.Equal(t, StateConnected, s)
	case <-time.After(time.Second):
		t.Fatal("State blocked behind a stalled write")
	}

	disconnected := make(chan struct{})
	go func() {
		tr.Disconnect()
		close(disconnected)
	}()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect blocked behind a stalled write")
	}
	assert.Equal(t, StateDisconnected, tr.State())

	select {
	case err := <-sendErr:
		assert.True(t, IsTransport(err), "%v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("stalled write was not released")
	}
}

func TestTransport_SendTimeout(t *testing.T) {
	hub := newFakeHub(t, "tok")
	stall := make(chan struct{})
	hub.stallReads = stall
	t.Cleanup(func() { close(stall) })

	var rec statusRecorder
	tr := newTestTransport(t, WithSendTimeout(50*time.Millisecond))
	tr.SubscribeStatus(rec.record)
	require.NoError(t, tr.Connect(context.Background(), hub.config()))

	frame := strings.Repeat("x", 1<<20)
	var err error
	require.Eventually(t, func() bool {
		err = tr.Send(frame)
		return err != nil
	}, 5*time.Second, time.Millisecond)
	assert.True(t, IsTransport(err))

	// the timed-out socket is closed and the transport reconnects
	require.Eventually(t, func() bool {
		for _, s := range rec.get() {
			if s == StateDisconnected {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}
