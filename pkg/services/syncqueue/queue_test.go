package syncqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// fakeTask blocks on release until the test lets it finish.
type fakeTask struct {
	id      string
	connID  uuid.UUID
	release chan struct{}
	result  error

	started atomic.Int32
	runs    atomic.Int32
}

func newFakeTask(connID uuid.UUID) *fakeTask {
	return &fakeTask{
		id:      uuid.NewString(),
		connID:  connID,
		release: make(chan struct{}),
	}
}

func (t *fakeTask) ID() string              { return t.id }
func (t *fakeTask) Name() string            { return "fake sync" }
func (t *fakeTask) ConnectionID() uuid.UUID { return t.connID }

func (t *fakeTask) Execute(ctx context.Context) error {
	t.started.Store(1)
	defer t.runs.Add(1)
	select {
	case <-t.release:
		return t.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestQueueRunsTaskOnce(t *testing.T) {
	q := New(zap.NewNop())
	defer q.Shutdown()

	task := newFakeTask(uuid.New())
	if !q.Enqueue(task) {
		t.Fatal("Enqueue returned false")
	}

	waitFor(t, func() bool { return task.started.Load() == 1 })
	close(task.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := task.runs.Load(); got != 1 {
		t.Errorf("task ran %d times, want exactly 1", got)
	}
}

func TestQueueRejectsDuplicateConnection(t *testing.T) {
	q := New(zap.NewNop())
	defer q.Shutdown()

	connID := uuid.New()
	first := newFakeTask(connID)
	second := newFakeTask(connID)

	if !q.Enqueue(first) {
		t.Fatal("first Enqueue returned false")
	}
	waitFor(t, func() bool { return first.started.Load() == 1 })

	if q.Enqueue(second) {
		t.Error("second Enqueue for the same connection should be rejected")
	}

	close(first.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// With the first task done the connection is free again.
	if !q.Enqueue(second) {
		t.Error("Enqueue should succeed once the connection is idle")
	}
	close(second.release)
}

func TestQueueNeverOverlapsSameConnection(t *testing.T) {
	// A strategy with room for both tasks still must not run two tasks
	// for one connection at the same time.
	q := New(zap.NewNop(), WithStrategy(NewConnectionExclusiveStrategy(4)))
	defer q.Shutdown()

	connID := uuid.New()
	var concurrent, peak atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		task := &countingTask{
			id:         uuid.NewString(),
			connID:     connID,
			concurrent: &concurrent,
			peak:       &peak,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(task)
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if peak.Load() > 1 {
		t.Errorf("observed %d concurrent tasks for one connection", peak.Load())
	}
}

type countingTask struct {
	id         string
	connID     uuid.UUID
	concurrent *atomic.Int32
	peak       *atomic.Int32
}

func (t *countingTask) ID() string              { return t.id }
func (t *countingTask) Name() string            { return "counting" }
func (t *countingTask) ConnectionID() uuid.UUID { return t.connID }

func (t *countingTask) Execute(ctx context.Context) error {
	n := t.concurrent.Add(1)
	for {
		p := t.peak.Load()
		if n <= p || t.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	t.concurrent.Add(-1)
	return nil
}

func TestQueueHonorsWorkerCap(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewConnectionExclusiveStrategy(2)))
	defer q.Shutdown()

	tasks := make([]*fakeTask, 4)
	for i := range tasks {
		tasks[i] = newFakeTask(uuid.New())
		if !q.Enqueue(tasks[i]) {
			t.Fatalf("Enqueue %d returned false", i)
		}
	}

	waitFor(t, func() bool { return q.Running() == 2 })

	started := 0
	for _, task := range tasks {
		started += int(task.started.Load())
	}
	if started != 2 {
		t.Errorf("started %d tasks under a cap of 2", started)
	}

	// Finishing one admits the next pending task.
	close(tasks[0].release)
	waitFor(t, func() bool {
		total := 0
		for _, task := range tasks {
			total += int(task.started.Load())
		}
		return total == 3
	})

	for _, task := range tasks[1:] {
		close(task.release)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestQueueRecordsFailure(t *testing.T) {
	q := New(zap.NewNop())
	defer q.Shutdown()

	task := newFakeTask(uuid.New())
	task.result = errors.New("sync blew up")
	q.Enqueue(task)
	close(task.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	snapshots := q.GetTasks()
	if len(snapshots) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snapshots))
	}
	if snapshots[0].Status != TaskStatusFailed {
		t.Errorf("status = %q, want failed", snapshots[0].Status)
	}
	if snapshots[0].Error == "" {
		t.Error("expected the failure message in the snapshot")
	}
}

func TestQueueShutdown(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewConnectionExclusiveStrategy(1)))

	running := newFakeTask(uuid.New())
	pending := newFakeTask(uuid.New())
	q.Enqueue(running)
	waitFor(t, func() bool { return running.started.Load() == 1 })
	q.Enqueue(pending)

	// Shutdown cancels the running task's context and the pending task
	// never starts.
	q.Shutdown()

	if pending.started.Load() != 0 {
		t.Error("pending task started after shutdown")
	}
	for _, snap := range q.GetTasks() {
		if snap.ID == pending.id && snap.Status != TaskStatusCancelled {
			t.Errorf("pending task status = %q, want cancelled", snap.Status)
		}
	}

	if q.Enqueue(newFakeTask(uuid.New())) {
		t.Error("Enqueue after Shutdown should return false")
	}
}

func TestConnectionExclusiveStrategy(t *testing.T) {
	s := NewConnectionExclusiveStrategy(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	if !s.CanStart(a) {
		t.Fatal("empty strategy should admit a task")
	}
	s.OnStart(a)

	if s.CanStart(a) {
		t.Error("same connection admitted twice")
	}
	if !s.CanStart(b) {
		t.Error("different connection should be admitted")
	}
	s.OnStart(b)

	if s.CanStart(c) {
		t.Error("worker cap of 2 exceeded")
	}

	s.OnComplete(a)
	if !s.CanStart(c) {
		t.Error("completing a task should free a worker slot")
	}
	if !s.CanStart(a) {
		t.Error("completed connection should be admissible again")
	}
}
