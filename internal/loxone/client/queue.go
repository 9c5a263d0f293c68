package client

import (
	"sync"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the closed set of queued-command priorities, derived from
// the command substring.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityCritical
)

// priorityFor classifies a command string into a queue priority.
func priorityFor(cmd string) Priority {
	lower := strings.ToLower(cmd)
	for _, s := range []string{"alarm", "security", "emergency"} {
		if strings.Contains(lower, s) {
			return PriorityCritical
		}
	}
	for _, s := range []string{"lock", "unlock", "arm"} {
		if strings.Contains(lower, s) {
			return PriorityHigh
		}
	}
	return PriorityNormal
}

// QueuedCommand is one command awaiting delivery while disconnected.
type QueuedCommand struct {
	ID       string
	UUID     string
	Cmd      string
	Priority Priority
	QueuedAt time.Time
}

// CommandQueue is a FIFO-within-priority store of commands to deliver
// once the connection is restored. Commands were already consent
// checked at enqueue time, so drain executes them unconditionally.
type CommandQueue struct {
	mu    sync.Mutex
	items []QueuedCommand
}

// NewCommandQueue returns an empty command queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{}
}

// Enqueue appends cmd for uuid with a priority derived from its
// substring, returning the synthetic queue id.
func (q *CommandQueue) Enqueue(uuid_, cmd string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := uuid.New().String()
	q.items = append(q.items, QueuedCommand{
		ID: id, UUID: uuid_, Cmd: cmd, Priority: priorityFor(cmd), QueuedAt: time.Now(),
	})
	return id
}

// Drain removes and returns every queued command, highest priority
// first, FIFO within a priority tier.
func (q *CommandQueue) Drain() []QueuedCommand {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil

	byPriority := map[Priority][]QueuedCommand{}
	for _, it := range items {
		byPriority[it.Priority] = append(byPriority[it.Priority], it)
	}
	ordered := make([]QueuedCommand, 0, len(items))
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal} {
		ordered = append(ordered, byPriority[p]...)
	}
	return ordered
}

// Len reports the number of pending queued commands.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
