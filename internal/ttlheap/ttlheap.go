// Package ttlheap implements a min-heap of expiry times whose items
// carry a back-reference to their owner, kept correct across every
// move.
//
// A plain container/heap usage loses track of where an item ends up
// after a push or pop reshuffles the slice — fine for "drain the whole
// heap" use, useless for "cancel this one pending expiry in O(log n)".
// Every sift step here instead goes through a single place primitive
// that writes the slot into the owner's back-ref as it assigns the
// item, so a caller that stashed its own handle's position always has
// the current one.
package ttlheap

// Item is one heap entry: a key used for ordering and the owner
// (arbitrary caller data, typically a pointer back to the value the
// expiry belongs to) it was pushed with.
type Item[K any, O any] struct {
	Key   K
	Owner O
}

// Heap is a binary min-heap ordered by less(items[i].Key, items[j].Key).
// onMove(owner, pos) is called every time an item's slot changes,
// including its final resting place after push/sift, and is the only
// place position back-refs are written.
type Heap[K any, O any] struct {
	items  []Item[K, O]
	less   func(a, b K) bool
	onMove func(owner O, pos int)
}

// New creates an empty heap. onMove is required: it is how callers
// learn the current slot of an item they pushed, so they can later
// call Update or Remove in O(log n) instead of scanning.
func New[K any, O any](less func(a, b K) bool, onMove func(owner O, pos int)) *Heap[K, O] {
	return &Heap[K, O]{less: less, onMove: onMove}
}

// Len returns the number of items in the heap.
func (h *Heap[K, O]) Len() int { return len(h.items) }

// PeekMin returns the minimum item without removing it. ok is false
// if the heap is empty.
func (h *Heap[K, O]) PeekMin() (Item[K, O], bool) {
	if len(h.items) == 0 {
		var zero Item[K, O]
		return zero, false
	}
	return h.items[0], true
}

// Push inserts an item and returns its final position.
func (h *Heap[K, O]) Push(key K, owner O) int {
	h.items = append(h.items, Item[K, O]{Key: key, Owner: owner})
	return h.siftUp(len(h.items) - 1)
}

// PopMin removes and returns the minimum item. ok is false if the
// heap is empty.
func (h *Heap[K, O]) PopMin() (Item[K, O], bool) {
	if len(h.items) == 0 {
		var zero Item[K, O]
		return zero, false
	}
	min := h.items[0]
	last := len(h.items) - 1
	if last == 0 {
		h.items = h.items[:0]
		return min, true
	}
	h.place(0, h.items[last])
	h.items = h.items[:last]
	h.siftDown(0)
	return min, true
}

// Update re-heapifies the item at pos after its key has changed in
// place (the caller is responsible for mutating h.At(pos).Key before
// calling this, or for using UpdateKey below).
func (h *Heap[K, O]) Update(pos int) {
	if pos > 0 && h.less(h.items[pos].Key, h.items[parent(pos)].Key) {
		h.siftUp(pos)
	} else {
		h.siftDown(pos)
	}
}

// UpdateKey sets a new key for the item at pos and restores heap
// order by updating the existing slot's key in place and re-heapifying.
func (h *Heap[K, O]) UpdateKey(pos int, key K) {
	h.items[pos].Key = key
	h.Update(pos)
}

// At returns the item currently at pos.
func (h *Heap[K, O]) At(pos int) Item[K, O] { return h.items[pos] }

// Remove deletes the item at pos: swap with the tail, shrink, then
// (if pos still names a live slot) restore heap order there.
func (h *Heap[K, O]) Remove(pos int) {
	last := len(h.items) - 1
	if pos == last {
		h.items = h.items[:last]
		return
	}
	h.place(pos, h.items[last])
	h.items = h.items[:last]
	h.Update(pos)
}

// place assigns item to pos and notifies its owner of the new
// position. Every operation above routes item movement through this
// single function, which is what keeps every live back-ref correct.
func (h *Heap[K, O]) place(pos int, item Item[K, O]) {
	h.items[pos] = item
	if h.onMove != nil {
		h.onMove(item.Owner, pos)
	}
}

func (h *Heap[K, O]) siftUp(pos int) int {
	temp := h.items[pos]
	for pos > 0 {
		p := parent(pos)
		if !h.less(temp.Key, h.items[p].Key) {
			break
		}
		h.place(pos, h.items[p])
		pos = p
	}
	h.place(pos, temp)
	return pos
}

func (h *Heap[K, O]) siftDown(pos int) {
	temp := h.items[pos]
	n := len(h.items)
	for {
		minPos := pos
		l, r := leftChild(pos), rightChild(pos)

		minKey := temp.Key
		if l < n && h.less(h.items[l].Key, minKey) {
			minPos = l
			minKey = h.items[l].Key
		}
		if r < n && h.less(h.items[r].Key, minKey) {
			minPos = r
		}
		if minPos == pos {
			break
		}

		h.place(pos, h.items[minPos])
		pos = minPos
	}
	h.place(pos, temp)
}

func parent(i int) int     { return (i+1)/2 - 1 }
func leftChild(i int) int  { return i*2 + 1 }
func rightChild(i int) int { return i*2 + 2 }
