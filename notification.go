package hublink

import (
	"context"

	"github.com/coregx/hublink/model"
)

// QueueNotifier defines an optional interface for reacting to offline
// queue events (commands queued, rejected by the hub, dead-lettered).
//
// Implementations might send emails, push notifications, or log to monitoring systems.
type QueueNotifier interface {
	// NotifyQueued is called after a command is persisted to the queue.
	NotifyQueued(ctx context.Context, cmd model.QueuedCommand) error

	// NotifyDeliveryFailure is called when the hub rejects a queued command
	// during a flush. This is informational and happens before dead-lettering.
	NotifyDeliveryFailure(ctx context.Context, cmd *model.QueuedCommand, err error) error

	// NotifyDeadLettered is called when a command leaves the queue undelivered.
	NotifyDeadLettered(ctx context.Context, dead model.DeadCommand) error
}

// NoOpQueueNotifier is a no-op implementation of QueueNotifier.
// Use this when notifications are not needed.
type NoOpQueueNotifier struct{}

// NotifyQueued does nothing.
func (n *NoOpQueueNotifier) NotifyQueued(_ context.Context, _ model.QueuedCommand) error {
	return nil
}

// NotifyDeliveryFailure does nothing.
func (n *NoOpQueueNotifier) NotifyDeliveryFailure(_ context.Context, _ *model.QueuedCommand, _ error) error {
	return nil
}

// NotifyDeadLettered does nothing.
func (n *NoOpQueueNotifier) NotifyDeadLettered(_ context.Context, _ model.DeadCommand) error {
	return nil
}

// LoggingQueueNotifier is a simple implementation that logs notifications.
type LoggingQueueNotifier struct {
	logger Logger
}

// NewLoggingQueueNotifier creates a new LoggingQueueNotifier.
func NewLoggingQueueNotifier(logger Logger) *LoggingQueueNotifier {
	return &LoggingQueueNotifier{logger: logger}
}

// NotifyQueued logs a queued command.
func (n *LoggingQueueNotifier) NotifyQueued(_ context.Context, cmd model.QueuedCommand) error {
	n.logger.Infof("📥 Command queued: command_id=%s, payload=%s", cmd.CommandID, cmd.Payload)
	return nil
}

// NotifyDeliveryFailure logs a rejected delivery.
func (n *LoggingQueueNotifier) NotifyDeliveryFailure(_ context.Context, cmd *model.QueuedCommand, err error) error {
	n.logger.Warnf("⚠️ Queued command rejected: command_id=%s, attempt=%d, error=%v",
		cmd.CommandID, cmd.AttemptCount, err)
	return nil
}

// NotifyDeadLettered logs a dead-lettered command.
func (n *LoggingQueueNotifier) NotifyDeadLettered(_ context.Context, dead model.DeadCommand) error {
	n.logger.Warnf("⚠️ Command moved to dead letters: command_id=%s, attempts=%d, reason=%s",
		dead.CommandID, dead.AttemptCount, dead.FailureReason)
	return nil
}
