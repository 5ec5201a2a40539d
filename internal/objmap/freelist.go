package objmap

import "container/heap"

// indexHeap is a min-heap of slot indices.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// freeList holds free slot indices, each at most once. Entries may go stale
// when a slot is reclaimed through InsertAt or Place, or trimmed off the end;
// lowest skips them.
type freeList struct {
	heap   indexHeap
	queued map[int]struct{}
}

func (f *freeList) Len() int { return f.heap.Len() }

func (f *freeList) push(idx int) {
	if _, ok := f.queued[idx]; ok {
		return
	}
	if f.queued == nil {
		f.queued = make(map[int]struct{})
	}
	f.queued[idx] = struct{}{}
	heap.Push(&f.heap, idx)
}

// lowest pops the lowest index accepted by valid, discarding stale entries.
func (f *freeList) lowest(valid func(int) bool) (int, bool) {
	for f.heap.Len() > 0 {
		idx := heap.Pop(&f.heap).(int)
		delete(f.queued, idx)
		if valid(idx) {
			return idx, true
		}
	}
	return 0, false
}
