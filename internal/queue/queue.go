// Package queue implements the single bounded priority queue the
// monitor, optimizer, and cloak-request-intake workers feed and the
// adjustment executor drains. Ordering is (Priority, Seq): lower
// Priority value runs first, and Seq (assigned at Push time) breaks
// ties FIFO, matching the original's PriorityQueue((priority, item))
// tuples plus Python's stable tuple comparison.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/cloakgov/cloakgov/internal/model"
)

// AdjustmentQueue is a thread-safe, bounded priority queue over
// *model.AdjustmentTask. No repository in the retrieval pack imports a
// third-party priority-queue library, so this wraps the standard
// library's container/heap rather than reaching for one.
type AdjustmentQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	h        taskHeap
	cap      int
	nextSeq  uint64
	closed   bool
}

// New constructs an empty queue bounded to capacity entries.
func New(capacity int) *AdjustmentQueue {
	q := &AdjustmentQueue{cap: capacity}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Push enqueues task, assigning it the next Seq. If the queue is at
// capacity, the lowest-priority pending TaskOptimization entry is
// dropped to make room; Push never blocks a producer. It reports
// whether task was accepted: false when the queue is closed, or when it
// is full and holds no TaskOptimization entry whose Priority value is at
// least task's (only optimization tasks are ever evicted).
func (q *AdjustmentQueue) Push(task *model.AdjustmentTask) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.h) >= q.cap {
		if !q.evictLowestOptimizationLocked(task.Priority) {
			return false
		}
	}

	q.nextSeq++
	task.Seq = q.nextSeq
	heap.Push(&q.h, task)
	q.notEmpty.Signal()
	return true
}

// evictLowestOptimizationLocked removes the worst (highest Priority
// value, latest Seq) pending TaskOptimization entry, provided one
// exists and is no better than incomingPriority. Callers must hold mu.
func (q *AdjustmentQueue) evictLowestOptimizationLocked(incomingPriority int) bool {
	worst := -1
	for i, t := range q.h {
		if t.Kind != model.TaskOptimization {
			continue
		}
		if worst == -1 || t.Priority > q.h[worst].Priority ||
			(t.Priority == q.h[worst].Priority && t.Seq > q.h[worst].Seq) {
			worst = i
		}
	}
	if worst == -1 || q.h[worst].Priority < incomingPriority {
		return false
	}
	heap.Remove(&q.h, worst)
	return true
}

// Pop blocks until a task is available, ctx is cancelled, or the queue
// is closed, returning (nil, false) in the latter two cases.
func (q *AdjustmentQueue) Pop(ctx context.Context) (*model.AdjustmentTask, bool) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.notEmpty.Broadcast()
		close(done)
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.h) == 0 && !q.closed {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
		q.notEmpty.Wait()
	}
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*model.AdjustmentTask), true
}

// Close wakes every blocked Pop so the executor's drain loop can exit.
func (q *AdjustmentQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// Len reports the number of pending tasks.
func (q *AdjustmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// taskHeap implements container/heap.Interface over task pointers,
// ordered by (Priority, Seq).
type taskHeap []*model.AdjustmentTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*model.AdjustmentTask))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
