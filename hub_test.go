package hublink

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

// fakeHub is an in-process hub speaking the auth handshake and answering
// commands. By default every command gets a successful empty result.
type fakeHub struct {
	t      *testing.T
	server *httptest.Server
	token  string

	mu          sync.Mutex
	conns       []*websocket.Conn
	accepted    int
	authFrames  []string
	received    []string
	respond     func(msg map[string]any) []string
	holdAuth    chan struct{}
	stallReads  chan struct{}
	closeEarly  bool
	rejectAuths bool
}

func newFakeHub(t *testing.T, token string) *fakeHub {
	t.Helper()
	h := &fakeHub{t: t, token: token}
	h.server = httptest.NewServer(websocket.Handler(h.serve))
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHub) url() string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/websocket"
}

func (h *fakeHub) config() ConnectionConfig {
	return ConnectionConfig{EndpointURL: h.url(), Token: h.token}
}

func (h *fakeHub) serve(ws *websocket.Conn) {
	h.mu.Lock()
	h.accepted++
	closeEarly, hold, stall := h.closeEarly, h.holdAuth, h.stallReads
	h.mu.Unlock()

	if closeEarly {
		return
	}
	if err := websocket.Message.Send(ws, `{"type":"auth_required","ha_version":"test"}`); err != nil {
		return
	}

	var raw string
	if err := websocket.Message.Receive(ws, &raw); err != nil {
		return
	}
	var auth struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal([]byte(raw), &auth)

	h.mu.Lock()
	h.authFrames = append(h.authFrames, raw)
	reject := h.rejectAuths || auth.Type != "auth" || auth.AccessToken != h.token
	h.mu.Unlock()

	if reject {
		_ = websocket.Message.Send(ws, `{"type":"auth_invalid","message":"Invalid token"}`)
		return
	}
	if hold != nil {
		<-hold
	}
	if err := websocket.Message.Send(ws, `{"type":"auth_ok"}`); err != nil {
		return
	}

	h.mu.Lock()
	h.conns = append(h.conns, ws)
	h.mu.Unlock()

	if stall != nil {
		<-stall
	}

	for {
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}

		h.mu.Lock()
		h.received = append(h.received, raw)
		respond := h.respond
		h.mu.Unlock()

		var replies []string
		if respond != nil {
			replies = respond(msg)
		} else if id, ok := msg["id"]; ok {
			replies = []string{resultFrame(id, true, "null")}
		}
		for _, reply := range replies {
			_ = websocket.Message.Send(ws, reply)
		}
	}
}

func resultFrame(id any, success bool, result string) string {
	idJSON, _ := json.Marshal(id)
	if success {
		return `{"id":` + string(idJSON) + `,"type":"result","success":true,"result":` + result + `}`
	}
	return `{"id":` + string(idJSON) + `,"type":"result","success":false,"error":` + result + `}`
}

func (h *fakeHub) setRespond(fn func(msg map[string]any) []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.respond = fn
}

// dropAll closes every authenticated socket from the hub side.
func (h *fakeHub) dropAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = nil
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// broadcast sends raw to every authenticated socket.
func (h *fakeHub) broadcast(raw string) {
	h.mu.Lock()
	conns := append([]*websocket.Conn(nil), h.conns...)
	h.mu.Unlock()
	for _, c := range conns {
		_ = websocket.Message.Send(c, raw)
	}
}

func (h *fakeHub) acceptedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.accepted
}

func (h *fakeHub) authCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.authFrames)
}

func (h *fakeHub) receivedFrames() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, 0, len(h.received))
	for _, raw := range h.received {
		var msg map[string]any
		_ = json.Unmarshal([]byte(raw), &msg)
		out = append(out, msg)
	}
	return out
}

func (h *fakeHub) waitReceived(t *testing.T, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.receivedFrames()) >= n }, 2*time.Second, 5*time.Millisecond)
	return h.receivedFrames()
}

// statusRecorder collects transitions delivered to a status listener.
type statusRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *statusRecorder) record(s ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *statusRecorder) get() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}
