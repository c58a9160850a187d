package playout

import "sync"

// Queue is the unbounded FIFO of raw live buffers between the ingest
// supervisor and the player. Push never blocks; TryPop never waits.
// Growth is not bounded.
type Queue struct {
	mu   sync.Mutex
	bufs [][]byte
	head int
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends buf. The queue takes ownership of buf.
func (q *Queue) Push(buf []byte) {
	q.mu.Lock()
	q.bufs = append(q.bufs, buf)
	q.mu.Unlock()
}

// TryPop removes and returns the oldest buffer, if any.
func (q *Queue) TryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.bufs) {
		return nil, false
	}
	buf := q.bufs[q.head]
	q.bufs[q.head] = nil
	q.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if q.head == len(q.bufs) {
		q.bufs = q.bufs[:0]
		q.head = 0
	} else if q.head >= 1024 && q.head*2 >= len(q.bufs) {
		n := copy(q.bufs, q.bufs[q.head:])
		clear(q.bufs[n:])
		q.bufs = q.bufs[:n]
		q.head = 0
	}
	return buf, true
}

// Len reports the number of queued buffers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs) - q.head
}
