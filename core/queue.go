package core

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/trees/binaryheap"
)

// =============================================================================
// PriorityQueue: Min-Heap keyed by (priority, sequence)
// =============================================================================

// compareTasks orders by priority ascending, then by sequence ascending (FIFO).
func compareTasks(a, b interface{}) int {
	ta := a.(*Task)
	tb := b.(*Task)
	switch {
	case ta.priority < tb.priority:
		return -1
	case ta.priority > tb.priority:
		return 1
	case ta.sequence < tb.sequence:
		return -1
	case ta.sequence > tb.sequence:
		return 1
	default:
		return 0
	}
}

// PriorityQueue is a thread-safe min-heap of tasks. The sequence counter lives under
// the same mutex as the heap so sequence order equals lock acquisition order.
type PriorityQueue struct {
	mu           sync.Mutex
	heap         *binaryheap.Heap
	nextSequence uint64
}

func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{
		heap: binaryheap.NewWith(compareTasks),
	}
}

// Push inserts task with the given priority and reports whether the queue was empty
// before the insertion.
func (q *PriorityQueue) Push(priority int, task *Task) (wasEmpty bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	wasEmpty = q.heap.Empty()
	task.priority = clampPriority(priority)
	task.sequence = q.nextSequence
	q.nextSequence++
	q.heap.Push(task)
	return wasEmpty
}

// Pop removes the task with the smallest (priority, sequence).
func (q *PriorityQueue) Pop() (*Task, bool) {
	task, _, ok := q.PopNext()
	return task, ok
}

// PopNext is Pop that also returns the number of tasks left, observed under the same lock.
func (q *PriorityQueue) PopNext() (task *Task, remaining int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	v, ok := q.heap.Pop()
	if !ok {
		return nil, 0, false
	}
	return v.(*Task), q.heap.Size(), true
}

func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Size()
}

// =============================================================================
// fifoQueue: strict FIFO used by the DispatchBridge
// =============================================================================

type fifoItem struct {
	id      uint64
	name    string
	closure Closure
	dropped bool // guarded by fifoQueue.mu
}

type fifoQueue struct {
	mu     sync.Mutex
	items  *linkedlistqueue.Queue
	nextID uint64
}

func newFIFOQueue() *fifoQueue {
	return &fifoQueue{items: linkedlistqueue.New()}
}

func (q *fifoQueue) push(name string, closure Closure) *fifoItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &fifoItem{id: q.nextID, name: name, closure: closure}
	q.nextID++
	q.items.Enqueue(item)
	return item
}

// reserveID hands out an id from the same sequence as push, for items that reach the
// main thread without going through the queue.
func (q *fifoQueue) reserveID() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.nextID
	q.nextID++
	return id
}

// drop marks an item so a later flush discards it instead of running it.
func (q *fifoQueue) drop(item *fifoItem) {
	q.mu.Lock()
	item.dropped = true
	q.mu.Unlock()
}

// popAll detaches every queued item in FIFO order, skipping dropped ones.
func (q *fifoQueue) popAll() []*fifoItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Size()
	if n == 0 {
		return nil
	}
	batch := make([]*fifoItem, 0, n)
	for {
		v, ok := q.items.Dequeue()
		if !ok {
			break
		}
		item := v.(*fifoItem)
		if item.dropped {
			continue
		}
		batch = append(batch, item)
	}
	return batch
}

func (q *fifoQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}
