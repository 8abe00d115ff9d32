package hublink

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coregx/hublink/model"
)

// Conn is the transport surface the Client drives. *Transport implements it.
type Conn interface {
	Connect(ctx context.Context, cfg ConnectionConfig) error
	Disconnect()
	Send(frame string) error
	State() ConnectionState
	IsConnected() bool
	SubscribeFrames(fn func(frame string)) (unsubscribe func())
	SubscribeStatus(fn func(state ConnectionState)) (unsubscribe func())
}

// ServiceCaller delivers a side-effecting service call to the hub.
// *Client implements it.
type ServiceCaller interface {
	CallService(ctx context.Context, call model.ServiceCall) (json.RawMessage, error)
}

// EventHandler receives the "event" object of each event frame for a
// subscription. It runs on the transport's read goroutine and must not block.
type EventHandler func(event json.RawMessage)

type outcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest is completed exactly once: by its result frame, by a
// disconnect, or by its caller giving up. Whoever removes it from the
// registry completes it.
type pendingRequest struct {
	id   int64
	done chan outcome
}

type subscriptionRecord struct {
	id        int64
	eventType string
	handler   EventHandler
	// acked is set once Subscribe has returned successfully. Records still
	// waiting for their first ack belong to Subscribe and are not reissued.
	acked bool
}

// Client multiplexes commands and event subscriptions over one Conn.
// Each command carries a locally unique integer id, and the hub's result
// frame with the same id completes it. Subscriptions survive reconnects:
// every record is reissued with its original id and filter once the
// transport is connected again.
//
// Thread safety: Safe for concurrent use.
type Client struct {
	conn    Conn
	logger  Logger
	config  ConfigProvider
	metrics *Metrics

	mu            sync.Mutex
	nextID        int64
	pending       map[int64]*pendingRequest
	subscriptions map[int64]*subscriptionRecord

	unsubscribeFrames func()
	unsubscribeStatus func()
}

// NewClient creates a client with the provided options and attaches it to
// the connection's frame and status streams.
//
// Required options:
//   - WithConn: the transport
//   - WithClientLogger: logger instance
//
// Optional options:
//   - WithConfigProvider: ambient settings for Connect
//   - WithClientMetrics: Prometheus collectors
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		pending:       make(map[int64]*pendingRequest),
		subscriptions: make(map[int64]*subscriptionRecord),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if c.conn == nil {
		return nil, NewError(ErrCodeConfiguration, "Conn is required (use WithConn)")
	}
	if c.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithClientLogger)")
	}

	c.unsubscribeFrames = c.conn.SubscribeFrames(c.handleFrame)
	c.unsubscribeStatus = c.conn.SubscribeStatus(c.handleStatus)
	return c, nil
}

// Connect reads the ambient configuration, validates it and connects.
func (c *Client) Connect(ctx context.Context) error {
	if c.config == nil {
		return NewError(ErrCodeConfiguration, "ConfigProvider is required (use WithConfigProvider)")
	}
	cfg, err := c.config.ConnectionConfig(ctx)
	if err != nil {
		return err
	}
	return c.connect(ctx, cfg)
}

// ConnectWithTransientConfig validates cfg and connects with it without
// reading or writing the ambient configuration.
func (c *Client) ConnectWithTransientConfig(ctx context.Context, cfg ConnectionConfig) error {
	return c.connect(ctx, cfg)
}

func (c *Client) connect(ctx context.Context, cfg ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return NewErrorWithCause(ErrCodeTransport, "invalid connection config", err)
	}
	return c.conn.Connect(ctx, cfg)
}

// Disconnect closes the connection and fails every pending request with
// ErrCodeDisconnected before returning.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
	c.rejectAll(NewError(ErrCodeDisconnected, "disconnected"))
}

// Close disconnects and detaches the client from the connection's streams.
func (c *Client) Close() {
	c.Disconnect()
	c.unsubscribeFrames()
	c.unsubscribeStatus()
}

// State returns the connection state.
func (c *Client) State() ConnectionState {
	return c.conn.State()
}

// IsConnected reports whether commands can be sent.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}

// SubscribeStatus registers fn for connection state transitions.
func (c *Client) SubscribeStatus(fn func(state ConnectionState)) (unsubscribe func()) {
	return c.conn.SubscribeStatus(fn)
}

// Call sends cmd and waits for its result. When the client is not
// connected it fails with ErrCodeDisconnected without touching the
// transport. A hub rejection is returned as *CommandError. If ctx ends
// first the request is abandoned and a late result is dropped.
func (c *Client) Call(ctx context.Context, cmd Command) (json.RawMessage, error) {
	if !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	req := c.register()
	return c.send(ctx, req, cmd)
}

// CallService sends a call_service command.
func (c *Client) CallService(ctx context.Context, call model.ServiceCall) (json.RawMessage, error) {
	if err := call.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid service call", err)
	}
	return c.Call(ctx, Command{Type: "call_service", Fields: call.Fields()})
}

// Subscription is an active event subscription.
type Subscription struct {
	client    *Client
	id        int64
	eventType string
}

// ID returns the subscription id, which is also the id of the
// subscribe_events command that created it.
func (s *Subscription) ID() int64 {
	return s.id
}

// EventType returns the filter ("" means every event).
func (s *Subscription) EventType() string {
	return s.eventType
}

// Subscribe registers handler for events of eventType ("" for every
// event) and waits for the hub to acknowledge. If the hub rejects the
// subscription, the record is removed and the error is returned.
func (c *Client) Subscribe(ctx context.Context, eventType string, handler EventHandler) (*Subscription, error) {
	if handler == nil {
		return nil, NewError(ErrCodeValidation, "handler cannot be nil")
	}
	if !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	c.mu.Lock()
	req := c.registerLocked()
	record := &subscriptionRecord{id: req.id, eventType: eventType, handler: handler}
	c.subscriptions[record.id] = record
	c.mu.Unlock()

	if _, err := c.send(ctx, req, SubscribeEvents(eventType)); err != nil {
		c.mu.Lock()
		if c.subscriptions[record.id] == record {
			delete(c.subscriptions, record.id)
		}
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	record.acked = true
	c.mu.Unlock()

	c.logger.Debugf("Subscribed to %q (subscription %d)", eventType, record.id)
	return &Subscription{client: c, id: record.id, eventType: eventType}, nil
}

// Unsubscribe removes the subscription locally, then asks the hub to drop
// it. A hub failure is returned but the local record stays removed.
// Unsubscribing twice is a no-op.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	c := s.client

	c.mu.Lock()
	_, ok := c.subscriptions[s.id]
	delete(c.subscriptions, s.id)
	c.mu.Unlock()

	if !ok || !c.conn.IsConnected() {
		return nil
	}

	if _, err := c.Call(ctx, UnsubscribeEvents(s.id)); err != nil {
		c.logger.Warnf("Failed to unsubscribe %d: %v", s.id, err)
		return err
	}
	return nil
}

func (c *Client) register() *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerLocked()
}

// registerLocked allocates the next id and records a pending request.
// Callers hold c.mu.
func (c *Client) registerLocked() *pendingRequest {
	c.nextID++
	req := &pendingRequest{id: c.nextID, done: make(chan outcome, 1)}
	c.pending[req.id] = req
	c.metrics.setPendingRequests(len(c.pending))
	return req
}

func (c *Client) send(ctx context.Context, req *pendingRequest, cmd Command) (json.RawMessage, error) {
	frame, err := encodeCommand(req.id, cmd)
	if err != nil {
		c.abandon(req.id)
		return nil, err
	}
	if err := c.conn.Send(frame); err != nil {
		c.abandon(req.id)
		return nil, err
	}

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-ctx.Done():
		c.abandon(req.id)
		return nil, ctx.Err()
	}
}

// complete resolves the pending request with id, if it is still pending.
func (c *Client) complete(id int64, out outcome) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
		c.metrics.setPendingRequests(len(c.pending))
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	req.done <- out
	return true
}

func (c *Client) abandon(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.metrics.setPendingRequests(len(c.pending))
	c.mu.Unlock()
}

func (c *Client) rejectAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingRequest)
	c.metrics.setPendingRequests(0)
	c.mu.Unlock()

	for _, req := range pending {
		req.done <- outcome{err: err}
	}
	if len(pending) > 0 {
		c.logger.Debugf("Rejected %d pending requests: %v", len(pending), err)
	}
}

func (c *Client) handleFrame(raw string) {
	frame, err := ParseFrame(raw)
	if err != nil {
		c.logger.Warnf("Dropping inbound frame: %v", err)
		return
	}

	switch f := frame.(type) {
	case ResultFrame:
		if !c.complete(f.ID, outcome{result: f.Result, err: f.Err()}) {
			c.logger.Debugf("Dropping result for unknown request %d", f.ID)
		}
	case EventFrame:
		c.mu.Lock()
		record := c.subscriptions[f.ID]
		c.mu.Unlock()
		if record == nil {
			c.logger.Debugf("Dropping event for unknown subscription %d", f.ID)
			return
		}
		record.handler(f.Event)
	case AuthRequired, AuthOK, AuthInvalid:
		// handshake frames are consumed by the transport
	case Unrecognized:
		c.logger.Debugf("Ignoring frame of type %q", f.Type)
	}
}

// handleStatus runs on the transport's status dispatcher, which may lag
// behind the transport itself. A Disconnected delivered after a newer
// connection is already up would otherwise fail requests sent on it.
func (c *Client) handleStatus(state ConnectionState) {
	switch state {
	case StateDisconnected:
		if c.conn.IsConnected() {
			c.logger.Debugf("Ignoring stale disconnect notification")
			return
		}
		c.rejectAll(NewError(ErrCodeDisconnected, "connection lost"))
	case StateConnected:
		c.resubscribe()
	}
}

// resubscribe reissues every acknowledged subscription record with its
// original id and filter. Failures are logged; the record is kept for the
// next reconnect.
func (c *Client) resubscribe() {
	c.mu.Lock()
	var reqs []*pendingRequest
	var records []*subscriptionRecord
	for id, record := range c.subscriptions {
		if !record.acked {
			continue
		}
		if _, waiting := c.pending[id]; waiting {
			continue
		}
		req := &pendingRequest{id: id, done: make(chan outcome, 1)}
		c.pending[id] = req
		reqs = append(reqs, req)
		records = append(records, record)
	}
	c.metrics.setPendingRequests(len(c.pending))
	c.mu.Unlock()

	for i, req := range reqs {
		record := records[i]
		go func() {
			if _, err := c.send(context.Background(), req, SubscribeEvents(record.eventType)); err != nil {
				c.logger.Warnf("Failed to resubscribe %d (%q): %v", record.id, record.eventType, err)
				return
			}
			c.logger.Debugf("Resubscribed %d (%q)", record.id, record.eventType)
		}()
	}
}
