package ingest

import (
	"container/list"
	"context"
	"strings"
	"sync"
)

// DefaultQueueCapacity bounds the user queue when nothing else is configured.
const DefaultQueueCapacity = 150000

// UserQueue is a FIFO of user names in which every name appears at most
// once, compared case-insensitively. Names put while the queue is full are
// dropped.
type UserQueue struct {
	mu       sync.Mutex
	order    *list.List
	members  map[string]struct{}
	capacity int
	ready    chan struct{}
}

// NewUserQueue creates a queue holding at most capacity names.
func NewUserQueue(capacity int) *UserQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &UserQueue{
		order:    list.New(),
		members:  make(map[string]struct{}),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Put enqueues name unless it is empty, already queued or the queue is full.
// It reports whether the name was added.
func (q *UserQueue) Put(name string) bool {
	name = strings.TrimSpace(name)
	key := strings.ToLower(name)
	if key == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.members[key]; ok {
		return false
	}
	if q.order.Len() >= q.capacity {
		return false
	}

	q.members[key] = struct{}{}
	q.order.PushBack(name)
	q.signal()
	return true
}

// Get removes and returns the oldest name as it was first put, blocking
// until one is available or ctx is done.
func (q *UserQueue) Get(ctx context.Context) (string, error) {
	for {
		if name, ok := q.pop(); ok {
			return name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.ready:
		}
	}
}

// Len returns the number of queued names.
func (q *UserQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

func (q *UserQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.order.Front()
	if front == nil {
		return "", false
	}
	name := q.order.Remove(front).(string)
	delete(q.members, strings.ToLower(name))

	// wake the next waiter if more is left
	if q.order.Len() > 0 {
		q.signal()
	}
	return name, true
}

// signal must be called with mu held.
func (q *UserQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
