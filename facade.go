package hublink

import (
	"context"
	"encoding/json"

	"github.com/coregx/hublink/model"
)

// CommandResult is the outcome of CallServiceOrQueue. When Queued is true
// the call was persisted for later delivery and Result is empty.
type CommandResult struct {
	Queued    bool            `json:"queued"`
	CommandID string          `json:"commandId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

// StatusSource is anything that reports transport state transitions.
// *Client and *Transport implement it.
type StatusSource interface {
	SubscribeStatus(fn func(state ConnectionState)) (unsubscribe func())
}

// QueueingClient delivers service calls live when it can and queues them
// when the hub is unreachable.
type QueueingClient struct {
	caller       ServiceCaller
	queue        CommandQueue
	connectivity Connectivity
	logger       Logger
}

// NewQueueingClient creates the facade with the provided options.
//
// Required options:
//   - WithServiceCaller: the live client
//   - WithQueue: the offline queue
//   - WithFacadeConnectivity: connectivity signal
//   - WithFacadeLogger: logger instance
func NewQueueingClient(opts ...FacadeOption) (*QueueingClient, error) {
	f := &QueueingClient{}

	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if f.caller == nil {
		return nil, NewError(ErrCodeConfiguration, "ServiceCaller is required (use WithServiceCaller)")
	}
	if f.queue == nil {
		return nil, NewError(ErrCodeConfiguration, "CommandQueue is required (use WithQueue)")
	}
	if f.connectivity == nil {
		return nil, NewError(ErrCodeConfiguration, "Connectivity is required (use WithFacadeConnectivity)")
	}
	if f.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithFacadeLogger)")
	}

	return f, nil
}

// CallServiceOrQueue delivers call live, or queues it when connectivity is
// down or the live call fails in an offline-like way. A hub rejection is
// returned unchanged and nothing is queued. If persisting the queued
// command fails, the failure is logged and the queued result is still
// returned.
func (f *QueueingClient) CallServiceOrQueue(ctx context.Context, call model.ServiceCall) (*CommandResult, error) {
	if err := call.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid service call", err)
	}

	if !f.connectivity.IsOnline() {
		f.logger.Debugf("Offline, queueing %s", call)
		return f.enqueue(ctx, call), nil
	}

	result, err := f.caller.CallService(ctx, call)
	if err == nil {
		return &CommandResult{Result: result}, nil
	}
	if !IsOfflineLike(err) {
		return nil, err
	}

	f.logger.Infof("Live call %s failed (%v), queueing", call, err)
	return f.enqueue(ctx, call), nil
}

func (f *QueueingClient) enqueue(ctx context.Context, call model.ServiceCall) *CommandResult {
	cmd, err := f.queue.Enqueue(ctx, call)
	if err != nil {
		f.logger.Errorf("Failed to queue %s: %v", call, err)
		return &CommandResult{Queued: true}
	}
	return &CommandResult{Queued: true, CommandID: cmd.CommandID}
}

// Watch flushes the queue on every connectivity "online" edge and on every
// transition of status into StateConnected. status may be nil. The
// returned function stops watching.
func (f *QueueingClient) Watch(status StatusSource) (stop func()) {
	stopConnectivity := f.connectivity.Subscribe(func(online bool) {
		if online {
			go f.flush("connectivity restored")
		}
	})

	stopStatus := func() {}
	if status != nil {
		stopStatus = status.SubscribeStatus(func(state ConnectionState) {
			if state == StateConnected {
				go f.flush("connected")
			}
		})
	}

	return func() {
		stopConnectivity()
		stopStatus()
	}
}

func (f *QueueingClient) flush(reason string) {
	result, err := f.queue.Flush(context.Background())
	if err != nil {
		f.logger.Errorf("Flush after %s failed: %v", reason, err)
		return
	}
	if result.Delivered > 0 || result.Failed > 0 || result.DeadLettered > 0 {
		f.logger.Infof("Flush after %s: delivered=%d, failed=%d, dead_lettered=%d",
			reason, result.Delivered, result.Failed, result.DeadLettered)
	}
}
