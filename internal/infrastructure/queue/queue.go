package queue

import (
	"sync"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// Queue is the FIFO of pending jobs for one key.
type Queue struct {
	key    string
	mu     sync.Mutex
	items  []*domain.Job
	closed bool
	signal chan struct{}
}

func newQueue(key string) *Queue {
	return &Queue{key: key, signal: make(chan struct{}, 1)}
}

func (q *Queue) Key() string { return q.key }

// Len returns the number of jobs waiting, excluding the one running.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) push(job *domain.Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrRegistryClosed
	}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.wake()
	return nil
}

func (q *Queue) pop() (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *Queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
