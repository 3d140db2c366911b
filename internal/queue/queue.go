// Package queue provides the binary heaps used by graph traversal.
package queue

import "container/heap"

// Compile time check to ensure PriorityQueue satisfies the heap interface.
var _ heap.Interface = (*PriorityQueue)(nil)

// maxPrealloc bounds the capacity reserved up front. Queues grow past it on
// demand, so a huge beam width on a small graph costs nothing.
const maxPrealloc = 1024

// Item is a node with its distance to the current query.
type Item struct {
	Node     uint32
	Distance float32
}

// PriorityQueue is a value-based binary heap of Items.
// Equal distances are ordered by node id so traversal is deterministic.
//
// PushItem, PopItem and TopItem are the allocation-free typed path; the
// heap.Interface methods let the queue be driven by container/heap.
type PriorityQueue struct {
	max   bool
	items []Item
}

// NewMin returns a queue that pops the closest item first.
func NewMin(capacity int) *PriorityQueue {
	return &PriorityQueue{items: make([]Item, 0, preallocSize(capacity))}
}

// NewMax returns a queue that pops the farthest item first.
func NewMax(capacity int) *PriorityQueue {
	return &PriorityQueue{max: true, items: make([]Item, 0, preallocSize(capacity))}
}

// NewMinFrom returns a min queue built from items with heap.Init.
func NewMinFrom(items []Item) *PriorityQueue {
	pq := &PriorityQueue{items: append([]Item(nil), items...)}
	heap.Init(pq)
	return pq
}

func preallocSize(capacity int) int {
	return min(max(capacity, 0), maxPrealloc)
}

// Len returns the number of items in the queue.
func (pq *PriorityQueue) Len() int { return len(pq.items) }

// Less implements heap.Interface.
func (pq *PriorityQueue) Less(i, j int) bool { return pq.less(i, j) }

// Swap implements heap.Interface.
func (pq *PriorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

// Push implements heap.Interface. Use PushItem for the typed path.
func (pq *PriorityQueue) Push(x any) { pq.items = append(pq.items, x.(Item)) }

// Pop implements heap.Interface. Use PopItem for the typed path.
func (pq *PriorityQueue) Pop() any {
	n := len(pq.items)
	it := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return it
}

// Reset empties the queue, keeping its capacity.
func (pq *PriorityQueue) Reset() { pq.items = pq.items[:0] }

// TopItem returns the next item to be popped.
func (pq *PriorityQueue) TopItem() (Item, bool) {
	if len(pq.items) == 0 {
		return Item{}, false
	}
	return pq.items[0], true
}

// PushItem inserts an item while maintaining the heap invariant.
func (pq *PriorityQueue) PushItem(item Item) {
	pq.items = append(pq.items, item)
	pq.siftUp(len(pq.items) - 1)
}

// PopItem removes and returns the top item.
func (pq *PriorityQueue) PopItem() (Item, bool) {
	n := len(pq.items)
	if n == 0 {
		return Item{}, false
	}
	root := pq.items[0]
	pq.items[0] = pq.items[n-1]
	pq.items = pq.items[:n-1]
	if len(pq.items) > 0 {
		pq.siftDown(0)
	}
	return root, true
}

// Items returns the backing slice in heap order. Callers must not modify it.
func (pq *PriorityQueue) Items() []Item { return pq.items }

func (pq *PriorityQueue) less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	if a.Distance == b.Distance {
		if pq.max {
			return a.Node > b.Node
		}
		return a.Node < b.Node
	}
	if pq.max {
		return a.Distance > b.Distance
	}
	return a.Distance < b.Distance
}

func (pq *PriorityQueue) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !pq.less(i, p) {
			return
		}
		pq.items[i], pq.items[p] = pq.items[p], pq.items[i]
		i = p
	}
}

func (pq *PriorityQueue) siftDown(i int) {
	n := len(pq.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && pq.less(r, l) {
			best = r
		}
		if !pq.less(best, i) {
			return
		}
		pq.items[i], pq.items[best] = pq.items[best], pq.items[i]
		i = best
	}
}
