package fanout

import (
	"container/heap"
	"time"
)

// delayWheel holds jobs awaiting their NextDue time, so a failed
// delivery can be rescheduled without a live timer per job — 10k
// concurrent time.AfterFunc calls under load would be wasteful; a
// heap swept by one ticking goroutine is the idiomatic alternative
// (§4.G).
type delayWheel struct {
	items jobHeap
}

func newDelayWheel() *delayWheel {
	return &delayWheel{items: jobHeap{}}
}

func (w *delayWheel) push(j Job) {
	heap.Push(&w.items, j)
}

// due pops and returns every job whose NextDue has passed as of now.
func (w *delayWheel) due(now time.Time) []Job {
	var out []Job
	for w.items.Len() > 0 && !w.items[0].NextDue.After(now) {
		out = append(out, heap.Pop(&w.items).(Job))
	}
	return out
}

func (w *delayWheel) len() int { return w.items.Len() }

type jobHeap []Job

func (h jobHeap) Len() int            { return len(h) }
func (h jobHeap) Less(i, j int) bool  { return h[i].NextDue.Before(h[j].NextDue) }
func (h jobHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)         { *h = append(*h, x.(Job)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
