package hublink

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countType(frames []map[string]any, typ string) int {
	n := 0
	for _, f := range frames {
		if f["type"] == typ {
			n++
		}
	}
	return n
}

func TestEventMux_SharesOneSubscription(t *testing.T) {
	conn := newFakeConn()
	conn.onSend = func(msg map[string]any) {
		go conn.emit(resultFrame(frameID(msg), true, "null"))
	}
	c := newTestClient(t, conn)
	conn.setState(StateConnected)
	mux := NewEventMux(c)

	var mu sync.Mutex
	got := map[string]int{}
	handler := func(name string) EventHandler {
		return func(json.RawMessage) {
			mu.Lock()
			got[name]++
			mu.Unlock()
		}
	}

	cancelA, err := mux.Listen(context.Background(), "state_changed", handler("a"))
	require.NoError(t, err)
	cancelB, err := mux.Listen(context.Background(), "state_changed", handler("b"))
	require.NoError(t, err)
	assert.Equal(t, 2, mux.Listeners("state_changed"))
	assert.Equal(t, 1, countType(conn.sentFrames(), "subscribe_events"))

	id := frameID(conn.sentFrames()[0])
	conn.emit(`{"id":` + jsonInt(id) + `,"type":"event","event":{}}`)

	mu.Lock()
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, got)
	mu.Unlock()

	require.NoError(t, cancelA(context.Background()))
	require.NoError(t, cancelA(context.Background()))
	assert.Equal(t, 1, mux.Listeners("state_changed"))
	assert.Equal(t, 0, countType(conn.sentFrames(), "unsubscribe_events"))

	require.NoError(t, cancelB(context.Background()))
	assert.Equal(t, 0, mux.Listeners("state_changed"))
	assert.Equal(t, 1, countType(conn.sentFrames(), "unsubscribe_events"))
	assert.Equal(t, 0, c.subscriptionCount())
}

func TestEventMux_SeparateTypes(t *testing.T) {
	conn := newFakeConn()
	conn.onSend = func(msg map[string]any) {
		go conn.emit(resultFrame(frameID(msg), true, "null"))
	}
	c := newTestClient(t, conn)
	conn.setState(StateConnected)
	mux := NewEventMux(c)

	_, err := mux.Listen(context.Background(), "state_changed", func(json.RawMessage) {})
	require.NoError(t, err)
	_, err = mux.Listen(context.Background(), "", func(json.RawMessage) {})
	require.NoError(t, err)

	assert.Equal(t, 2, countType(conn.sentFrames(), "subscribe_events"))
	assert.Equal(t, 1, mux.Listeners(""))
}

func TestEventMux_SubscribeFailure(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, conn)
	mux := NewEventMux(c)

	_, err := mux.Listen(context.Background(), "state_changed", func(json.RawMessage) {})
	assert.True(t, IsDisconnected(err))
	assert.Equal(t, 0, mux.Listeners("state_changed"))

	_, err = mux.Listen(context.Background(), "state_changed", nil)
	assert.True(t, HasCode(err, ErrCodeValidation))
}

func TestEventMux_JoinerWaitsForAck(t *testing.T) {
	conn := newFakeConn()
	c := newTestClient(t, conn)
	conn.setState(StateConnected)
	mux := NewEventMux(c)

	first := make(chan error, 1)
	go func() {
		_, err := mux.Listen(context.Background(), "state_changed", func(json.RawMessage) {})
		first <- err
	}()
	frames := conn.waitSent(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := mux.Listen(ctx, "state_changed", func(json.RawMessage) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mux.Listeners("state_changed"))

	conn.emit(resultFrame(frameID(frames[0]), true, "null"))
	require.NoError(t, <-first)
	assert.Len(t, conn.sentFrames(), 1)
}
