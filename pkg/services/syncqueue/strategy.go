package syncqueue

import (
	"sync"

	"github.com/google/uuid"
)

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy tracks running tasks and decides whether a new task for a
// given connection may begin.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task for this connection can start now.
	CanStart(connID uuid.UUID) bool
	// OnStart is called when a task for this connection starts.
	OnStart(connID uuid.UUID)
	// OnComplete is called when a task for this connection finishes.
	OnComplete(connID uuid.UUID)
}

// ConnectionExclusiveStrategy caps total concurrency at maxWorkers and
// never lets two tasks for the same connection overlap. Overlapping syncs
// of one connection would race on the same analytics tables.
type ConnectionExclusiveStrategy struct {
	mu         sync.Mutex
	maxWorkers int
	running    int
	byConn     map[uuid.UUID]bool
}

// NewConnectionExclusiveStrategy creates the default strategy.
func NewConnectionExclusiveStrategy(maxWorkers int) *ConnectionExclusiveStrategy {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &ConnectionExclusiveStrategy{
		maxWorkers: maxWorkers,
		byConn:     make(map[uuid.UUID]bool),
	}
}

func (s *ConnectionExclusiveStrategy) CanStart(connID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running < s.maxWorkers && !s.byConn[connID]
}

func (s *ConnectionExclusiveStrategy) OnStart(connID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
	s.byConn[connID] = true
}

func (s *ConnectionExclusiveStrategy) OnComplete(connID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
	delete(s.byConn, connID)
}

var _ ConcurrencyStrategy = (*ConnectionExclusiveStrategy)(nil)
