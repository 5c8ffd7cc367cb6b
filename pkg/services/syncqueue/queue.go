// Package syncqueue runs sync tasks under a worker cap with per-connection
// mutual exclusion.
package syncqueue

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Queue manages task execution with configurable concurrency control.
// Completed tasks are pruned as new work arrives so a long-lived scheduler
// does not accumulate state without bound.
type Queue struct {
	mu        sync.Mutex
	tasks     []*TaskState
	cancelled bool

	strategy ConcurrencyStrategy

	// done is closed when all tasks complete
	done chan struct{}
	wg   sync.WaitGroup

	// Cancellation context for running tasks
	ctx    context.Context
	cancel context.CancelFunc

	logger *zap.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithStrategy sets the concurrency strategy.
func WithStrategy(strategy ConcurrencyStrategy) QueueOption {
	return func(q *Queue) {
		if strategy != nil {
			q.strategy = strategy
		}
	}
}

// New creates a work queue. The default strategy allows four workers with
// per-connection exclusivity.
func New(logger *zap.Logger, opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:    make([]*TaskState, 0),
		strategy: NewConnectionExclusiveStrategy(4),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.Named("syncqueue"),
	}

	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a task and attempts to start eligible tasks. Returns false
// if the queue is shut down or a task for the same connection is already
// pending or running.
func (q *Queue) Enqueue(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.cancelled {
		q.logger.Warn("queue shut down, ignoring enqueue",
			zap.String("task_id", task.ID()),
			zap.String("task_name", task.Name()))
		return false
	}

	// A task already waiting for this connection makes a second one
	// redundant: the running sync covers the same tables.
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if (status == TaskStatusPending || status == TaskStatusRunning) &&
			ts.Task.ConnectionID() == task.ConnectionID() {
			q.logger.Debug("connection already queued, ignoring enqueue",
				zap.String("task_id", task.ID()),
				zap.String("connection_id", task.ConnectionID().String()))
			return false
		}
	}

	q.resetDoneLocked()
	q.pruneLocked()
	q.tasks = append(q.tasks, NewTaskState(task))

	q.logger.Info("task enqueued",
		zap.String("task_id", task.ID()),
		zap.String("task_name", task.Name()),
		zap.String("connection_id", task.ConnectionID().String()))

	q.tryStartTasksLocked()
	return true
}

// tryStartTasksLocked starts every pending task the strategy allows.
// Must be called with lock held.
func (q *Queue) tryStartTasksLocked() {
	if q.cancelled {
		return
	}

	for _, ts := range q.tasks {
		if ts.GetStatus() != TaskStatusPending {
			continue
		}

		connID := ts.Task.ConnectionID()
		if !q.strategy.CanStart(connID) {
			continue
		}

		q.strategy.OnStart(connID)
		ts.SetStatus(TaskStatusRunning)

		q.logger.Info("starting task",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))

		q.wg.Add(1)
		go q.runTask(ts)
	}
}

// runTask executes a task once. Retry policy lives inside the task.
func (q *Queue) runTask(ts *TaskState) {
	defer q.wg.Done()

	err := ts.Task.Execute(q.ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.strategy.OnComplete(ts.Task.ConnectionID())

	switch {
	case err == nil:
		ts.SetStatus(TaskStatusCompleted)
		q.logger.Info("task completed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	case errors.Is(err, context.Canceled):
		ts.SetStatus(TaskStatusCancelled)
		q.logger.Info("task cancelled",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()))
	default:
		ts.SetStatus(TaskStatusFailed)
		ts.SetError(err)
		q.logger.Error("task failed",
			zap.String("task_id", ts.Task.ID()),
			zap.String("task_name", ts.Task.Name()),
			zap.Error(err))
	}

	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
		return
	}
	q.tryStartTasksLocked()
}

// pruneLocked drops terminal task states. Must be called with lock held.
func (q *Queue) pruneLocked() {
	active := q.tasks[:0]
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			active = append(active, ts)
		}
	}
	q.tasks = active
}

// allTasksDoneLocked returns true if every task is terminal.
// Must be called with lock held.
func (q *Queue) allTasksDoneLocked() bool {
	for _, ts := range q.tasks {
		status := ts.GetStatus()
		if status == TaskStatusPending || status == TaskStatusRunning {
			return false
		}
	}
	return true
}

// closeDoneLocked safely closes the done channel. Must be called with lock
// held.
func (q *Queue) closeDoneLocked() {
	select {
	case <-q.done:
	default:
		close(q.done)
	}
}

// resetDoneLocked recreates the done channel if it was closed, so the
// queue can be reused across scheduler ticks. Must be called with lock
// held.
func (q *Queue) resetDoneLocked() {
	select {
	case <-q.done:
		q.done = make(chan struct{})
	default:
	}
}

// GetTasks returns a snapshot of all tracked tasks.
func (q *Queue) GetTasks() []TaskSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshots := make([]TaskSnapshot, len(q.tasks))
	for i, ts := range q.tasks {
		snapshots[i] = ts.Snapshot()
	}
	return snapshots
}

// Wait blocks until all tasks complete or the context is cancelled.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 || q.allTasksDoneLocked() {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels running tasks, rejects further enqueues, and waits for
// in-flight goroutines to exit.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		return
	}
	q.cancelled = true
	q.logger.Info("queue shutting down, signaling running tasks to stop")

	q.cancel()

	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusPending {
			ts.SetStatus(TaskStatusCancelled)
		}
	}
	if q.allTasksDoneLocked() {
		q.closeDoneLocked()
	}
	q.mu.Unlock()

	q.wg.Wait()
}

// Running returns the number of currently running tasks.
func (q *Queue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, ts := range q.tasks {
		if ts.GetStatus() == TaskStatusRunning {
			count++
		}
	}
	return count
}
