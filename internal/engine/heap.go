package engine

import "time"

// armed is one wake-up entry: a job id plus the nominal fire time it was
// armed with. Entries are validated against the store when popped, so
// stale entries left behind by edits are simply discarded.
type armed struct {
	id string
	at time.Time
}

// armedHeap orders entries by (fire time, id) so simultaneous deadlines
// fire deterministically. Only the coordinating loop touches it.
type armedHeap []armed

func (h armedHeap) Len() int { return len(h) }

func (h armedHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}

func (h armedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *armedHeap) Push(x any) { *h = append(*h, x.(armed)) }

func (h *armedHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}
