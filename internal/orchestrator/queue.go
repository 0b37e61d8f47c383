package orchestrator

import "context"

// Queue is a bounded FIFO of item ids safe for many producers and consumers.
// Producers never block: TryPush reports false when the queue is full and the
// item stays pending in the table until the next dispatch tick.
type Queue struct {
	ch chan string
}

// NewQueue returns a queue holding at most capacity ids.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan string, max(capacity, 1))}
}

// TryPush enqueues id without blocking.
func (q *Queue) TryPush(id string) bool {
	select {
	case q.ch <- id:
		return true
	default:
		return false
	}
}

// Pop blocks until an id is available or ctx is done.
func (q *Queue) Pop(ctx context.Context) (string, bool) {
	select {
	case id := <-q.ch:
		return id, true
	case <-ctx.Done():
		return "", false
	}
}

// TryPop dequeues without blocking.
func (q *Queue) TryPop() (string, bool) {
	select {
	case id := <-q.ch:
		return id, true
	default:
		return "", false
	}
}

// Flush removes and returns everything currently queued.
func (q *Queue) Flush() []string {
	var ids []string
	for {
		id, ok := q.TryPop()
		if !ok {
			return ids
		}
		ids = append(ids, id)
	}
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }
