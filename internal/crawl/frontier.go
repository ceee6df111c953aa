package crawl

import "container/heap"

// frontierEntry is one scheduled URL. Entries are consumed once.
type frontierEntry struct {
	url       string
	depth     int
	parentID  int64 // zero for the seed
	parentRel float64
	anchor    string
	seq       int // insertion order, breaks ties
}

// frontier is a priority queue ordered by depth ascending, then parent
// relevance descending, then insertion order.
type frontier struct {
	entries []*frontierEntry
	nextSeq int
}

func newFrontier() *frontier {
	return &frontier{}
}

func (f *frontier) push(e *frontierEntry) {
	e.seq = f.nextSeq
	f.nextSeq++
	heap.Push((*frontierHeap)(&f.entries), e)
}

func (f *frontier) pop() *frontierEntry {
	if len(f.entries) == 0 {
		return nil
	}
	return heap.Pop((*frontierHeap)(&f.entries)).(*frontierEntry)
}

func (f *frontier) len() int {
	return len(f.entries)
}

type frontierHeap []*frontierEntry

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.depth != b.depth {
		return a.depth < b.depth
	}
	if a.parentRel != b.parentRel {
		return a.parentRel > b.parentRel
	}
	return a.seq < b.seq
}

func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x any) { *h = append(*h, x.(*frontierEntry)) }

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
