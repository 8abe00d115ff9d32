package hublink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coregx/hublink/model"
	"github.com/coregx/hublink/retry"
	"golang.org/x/sync/singleflight"
)

const defaultDeliveryTimeout = 30 * time.Second

// CommandQueue is the part of OfflineQueue the QueueingClient needs.
type CommandQueue interface {
	Enqueue(ctx context.Context, call model.ServiceCall) (model.QueuedCommand, error)
	Flush(ctx context.Context) (FlushResult, error)
}

// FlushResult summarizes one flush.
type FlushResult struct {
	Delivered    int  // delivered and removed from the queue
	Failed       int  // rejected by the hub, kept with an incremented attempt count
	DeadLettered int  // moved out of the queue undelivered
	Exhausted    int  // skipped: attempts used up and no dead-letter table configured
	Stopped      bool // flush stopped early on an offline-like failure
	Skipped      bool // nothing attempted because connectivity is down
}

// OfflineQueue persists side-effecting service calls that could not be
// delivered and replays them, oldest first, when the hub is reachable again.
//
// A flush delivers one command at a time. A delivered command is deleted.
// An offline-like failure stops the flush and leaves that command and
// every later one untouched. Any other failure increments the command's
// attempt count and the flush moves on; once the count reaches the retry
// strategy's DLQThreshold the command is moved to the dead-letter table.
//
// Thread safety: Safe for concurrent use. Concurrent flushes coalesce.
type OfflineQueue struct {
	commands        CommandRepository
	deadLetters     DeadLetterRepository
	deliverer       ServiceCaller
	connectivity    Connectivity
	logger          Logger
	strategy        retry.Strategy
	maxSize         int
	deliveryTimeout time.Duration
	notifier        QueueNotifier
	metrics         *Metrics

	flushGroup singleflight.Group
	enqueueMu  sync.Mutex
}

// NewOfflineQueue creates an offline command queue with the provided options.
//
// Required options:
//   - WithCommandRepository: durable store
//   - WithDeliverer: live delivery, normally the Client
//   - WithConnectivity: connectivity signal
//   - WithQueueLogger: logger instance
//
// Optional options:
//   - WithDeadLetterRepository: dead-letter table
//   - WithQueueRetryStrategy: attempt ceiling (default: retry.QueueStrategy())
//   - WithMaxQueueSize: growth bound (default: unbounded)
//   - WithQueueNotifier: notifications (default: NoOpQueueNotifier)
//   - WithQueueMetrics: Prometheus collectors
func NewOfflineQueue(opts ...QueueOption) (*OfflineQueue, error) {
	q := &OfflineQueue{
		strategy:        retry.QueueStrategy(),
		deliveryTimeout: defaultDeliveryTimeout,
		notifier:        &NoOpQueueNotifier{},
	}

	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if q.commands == nil {
		return nil, NewError(ErrCodeConfiguration, "CommandRepository is required (use WithCommandRepository)")
	}
	if q.deliverer == nil {
		return nil, NewError(ErrCodeConfiguration, "ServiceCaller is required (use WithDeliverer)")
	}
	if q.connectivity == nil {
		return nil, NewError(ErrCodeConfiguration, "Connectivity is required (use WithConnectivity)")
	}
	if q.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithQueueLogger)")
	}

	return q, nil
}

// Enqueue validates call and persists it with a fresh command id, the
// current time and zero attempts. When the queue is full the oldest
// command is evicted first. Store failures return ErrCodeQueuePersistence.
func (q *OfflineQueue) Enqueue(ctx context.Context, call model.ServiceCall) (model.QueuedCommand, error) {
	if err := call.Validate(); err != nil {
		return model.QueuedCommand{}, NewErrorWithCause(ErrCodeValidation, "invalid service call", err)
	}

	cmd, err := model.NewQueuedCommand(call)
	if err != nil {
		return model.QueuedCommand{}, NewErrorWithCause(ErrCodeValidation, "invalid service call", err)
	}

	q.enqueueMu.Lock()
	defer q.enqueueMu.Unlock()

	if q.maxSize > 0 {
		if err := q.makeRoom(ctx); err != nil {
			return model.QueuedCommand{}, NewErrorWithCause(ErrCodeQueuePersistence, "failed to make room in queue", err)
		}
	}

	saved, err := q.commands.Save(ctx, &cmd)
	if err != nil {
		return model.QueuedCommand{}, NewErrorWithCause(ErrCodeQueuePersistence, "failed to persist command", err)
	}

	q.metrics.commandQueued()
	q.logger.Infof("Queued %s as %s", call, saved.CommandID)
	if err := q.notifier.NotifyQueued(ctx, *saved); err != nil {
		q.logger.Warnf("Failed to send queued notification: %v", err)
	}
	return *saved, nil
}

// makeRoom evicts the oldest commands until one more fits.
func (q *OfflineQueue) makeRoom(ctx context.Context) error {
	count, err := q.commands.Count(ctx)
	if err != nil {
		return err
	}
	if count < q.maxSize {
		return nil
	}

	oldest, err := q.commands.FindOldest(ctx, count-q.maxSize+1)
	if err != nil {
		if IsNoData(err) {
			return nil
		}
		return err
	}
	for i := range oldest {
		q.logger.Warnf("Queue full (max=%d), evicting %s", q.maxSize, oldest[i].CommandID)
		if err := q.discard(ctx, &oldest[i], model.ReasonQueueFull); err != nil {
			return err
		}
	}
	return nil
}

// Flush delivers queued commands, oldest first. It does nothing when
// connectivity is down. Concurrent callers share one flush; a caller
// whose ctx ends stops waiting while the flush continues.
func (q *OfflineQueue) Flush(ctx context.Context) (FlushResult, error) {
	if !q.connectivity.IsOnline() {
		return FlushResult{Skipped: true}, nil
	}

	flushCtx := context.WithoutCancel(ctx)
	ch := q.flushGroup.DoChan("flush", func() (interface{}, error) {
		return q.flush(flushCtx)
	})

	select {
	case <-ctx.Done():
		return FlushResult{}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(FlushResult)
		return result, res.Err
	}
}

func (q *OfflineQueue) flush(ctx context.Context) (FlushResult, error) {
	var result FlushResult

	cmds, err := q.commands.FindAll(ctx)
	if err != nil {
		if IsNoData(err) {
			return result, nil
		}
		return result, NewErrorWithCause(ErrCodeDatabase, "failed to load queued commands", err)
	}

	q.logger.Debugf("Flushing %d queued commands", len(cmds))

	for i := range cmds {
		cmd := &cmds[i]

		if err := cmd.CanAttemptDelivery(q.strategy); err != nil {
			q.logger.Debugf("Skipping %s: %v", cmd.CommandID, err)
			result.Exhausted++
			continue
		}

		call, err := cmd.Call()
		if err != nil {
			q.logger.Errorf("Queued command %s has an unreadable payload: %v", cmd.CommandID, err)
			if err := q.discard(ctx, cmd, model.ReasonInvalidPayload); err != nil {
				return result, NewErrorWithCause(ErrCodeDatabase, "failed to discard command", err)
			}
			result.DeadLettered++
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, q.deliveryTimeout)
		_, deliveryErr := q.deliverer.CallService(callCtx, call)
		cancel()

		if deliveryErr == nil {
			if err := q.commands.Delete(ctx, cmd); err != nil {
				return result, NewErrorWithCause(ErrCodeDatabase, "failed to delete delivered command", err)
			}
			q.metrics.commandDelivered()
			q.logger.Infof("Delivered queued %s (%s, attempts=%d)", call, cmd.CommandID, cmd.AttemptCount)
			result.Delivered++
			continue
		}

		if IsOfflineLike(deliveryErr) || errors.Is(deliveryErr, context.DeadlineExceeded) || errors.Is(deliveryErr, context.Canceled) {
			q.logger.Infof("Flush stopped at %s: %v", cmd.CommandID, deliveryErr)
			result.Stopped = true
			break
		}

		if err := q.handleDeliveryFailure(ctx, cmd, deliveryErr); err != nil {
			return result, err
		}
		if q.strategy.ShouldDeadLetter(cmd.AttemptCount) && q.deadLetters != nil {
			result.DeadLettered++
		} else {
			result.Failed++
		}
	}

	if result.Delivered > 0 || result.Failed > 0 || result.DeadLettered > 0 {
		q.logger.Infof("Flush processed: delivered=%d, failed=%d, dead_lettered=%d",
			result.Delivered, result.Failed, result.DeadLettered)
	}
	return result, nil
}

// handleDeliveryFailure records a hub rejection and dead-letters the
// command once it reaches the threshold.
func (q *OfflineQueue) handleDeliveryFailure(ctx context.Context, cmd *model.QueuedCommand, deliveryErr error) error {
	cmd.MarkFailed(deliveryErr)
	q.metrics.commandFailed()

	if err := q.notifier.NotifyDeliveryFailure(ctx, cmd, deliveryErr); err != nil {
		q.logger.Warnf("Failed to send delivery failure notification: %v", err)
	}

	if cmd.ShouldDeadLetter(q.strategy.DLQThreshold) && q.deadLetters != nil {
		q.logger.Warnf("Moving %s to dead letters (attempts=%d, threshold=%d)",
			cmd.CommandID, cmd.AttemptCount, q.strategy.DLQThreshold)
		if err := q.discard(ctx, cmd, model.ReasonAttemptsExhausted); err != nil {
			return NewErrorWithCause(ErrCodeDatabase, "failed to dead-letter command", err)
		}
		return nil
	}

	if _, err := q.commands.Save(ctx, cmd); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to update queued command", err)
	}

	q.logger.Warnf("Queued %s rejected (attempts=%d): %v", cmd.CommandID, cmd.AttemptCount, deliveryErr)
	return nil
}

// discard removes cmd from the queue, saving it to the dead-letter table
// first when one is configured.
func (q *OfflineQueue) discard(ctx context.Context, cmd *model.QueuedCommand, reason string) error {
	if q.deadLetters != nil {
		dead, err := q.deadLetters.Save(ctx, model.NewDeadCommand(*cmd, reason))
		if err != nil {
			return err
		}
		q.metrics.commandDeadLettered()
		if err := q.notifier.NotifyDeadLettered(ctx, dead); err != nil {
			q.logger.Warnf("Failed to send dead-letter notification: %v", err)
		}
	} else {
		q.logger.Warnf("Dropping %s (%s): no dead-letter table configured", cmd.CommandID, reason)
	}
	return q.commands.Delete(ctx, cmd)
}

// Pending returns every queued command, oldest first.
func (q *OfflineQueue) Pending(ctx context.Context) ([]model.QueuedCommand, error) {
	cmds, err := q.commands.FindAll(ctx)
	if err != nil {
		if IsNoData(err) {
			return []model.QueuedCommand{}, nil
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load queued commands", err)
	}
	return cmds, nil
}

// Len returns the number of queued commands.
func (q *OfflineQueue) Len(ctx context.Context) (int, error) {
	n, err := q.commands.Count(ctx)
	if err != nil {
		return 0, NewErrorWithCause(ErrCodeDatabase, "failed to count queued commands", err)
	}
	return n, nil
}

// Run flushes the queue every interval until ctx is canceled. It is a
// safety net next to the connectivity-driven flushes of QueueingClient.Watch.
//
// This method blocks and should typically be run in a goroutine.
//
// Example:
//
//	go queue.Run(ctx, time.Minute)
func (q *OfflineQueue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	q.logger.Info("Offline queue worker started")

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Offline queue worker stopped")
			return
		case <-ticker.C:
			if _, err := q.Flush(ctx); err != nil && ctx.Err() == nil {
				q.logger.Errorf("Periodic flush failed: %v", err)
			}
		}
	}
}
