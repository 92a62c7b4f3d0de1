package session

import "sync"

// writeQueue admits one writer at a time, in the order acquire was called.
type writeQueue struct {
	mu      sync.Mutex
	busy    bool
	waiting []chan struct{}
}

func (q *writeQueue) acquire() {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return
	}

	turn := make(chan struct{})
	q.waiting = append(q.waiting, turn)
	q.mu.Unlock()

	<-turn
}

// release hands the queue to the longest waiting writer, if any.
func (q *writeQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.waiting) == 0 {
		q.busy = false
		return
	}

	next := q.waiting[0]
	q.waiting[0] = nil
	q.waiting = q.waiting[1:]
	close(next)
}

func (q *writeQueue) waiters() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.waiting)
}
