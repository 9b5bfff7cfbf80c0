package machinepool

import (
	"container/heap"
	"sync"
	"time"
)

// pendingReservation is one in-memory queue entry mirrored from the
// persisted reservation row. The queue only orders work; the database
// row remains the durable source of truth so waitForAssignment survives
// a controller restart.
type pendingReservation struct {
	reservationID string
	agentID       string
	requestedAt   time.Time
	index         int
}

// reservationHeap is a min-heap ordered oldest-first (FIFO), the order
// the pool scheduler drains reservations in.
type reservationHeap []*pendingReservation

func (h reservationHeap) Len() int { return len(h) }

func (h reservationHeap) Less(i, j int) bool {
	return h[i].requestedAt.Before(h[j].requestedAt)
}

func (h reservationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *reservationHeap) Push(x interface{}) {
	item := x.(*pendingReservation)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *reservationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// reservationQueue is the scheduler's in-memory view of pending
// reservations. It is rebuilt from storage on startup and kept current
// by reserve/assign/cancel; the heap only decides order, never durability.
type reservationQueue struct {
	mu   sync.Mutex
	heap reservationHeap
}

func newReservationQueue() *reservationQueue {
	q := &reservationQueue{heap: make(reservationHeap, 0)}
	heap.Init(&q.heap)
	return q
}

func (q *reservationQueue) push(reservationID, agentID string, requestedAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	heap.Push(&q.heap, &pendingReservation{
		reservationID: reservationID,
		agentID:       agentID,
		requestedAt:   requestedAt,
	})
}

func (q *reservationQueue) pop() *pendingReservation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*pendingReservation)
}

func (q *reservationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
