package pipeline

import (
	"container/heap"

	"ProxyTrader/internal/domain/models"
)

type cursor struct {
	src  int
	pos  int
	tick models.PriceTick
}

type cursorHeap []cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	if c := h[i].tick.Timestamp.Compare(h[j].tick.Timestamp); c != 0 {
		return c < 0
	}
	return h[i].src < h[j].src
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) { *h = append(*h, x.(cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// Merge interleaves per-source tick slices by ascending timestamp. Ties go to
// the source registered first; each source's own order is kept.
func Merge(streams ...[]models.PriceTick) []models.PriceTick {
	total := 0
	h := make(cursorHeap, 0, len(streams))
	for i, s := range streams {
		total += len(s)
		if len(s) > 0 {
			h = append(h, cursor{src: i, tick: s[0]})
		}
	}
	heap.Init(&h)

	out := make([]models.PriceTick, 0, total)
	for h.Len() > 0 {
		c := h[0]
		out = append(out, c.tick)
		next := c.pos + 1
		if next < len(streams[c.src]) {
			h[0] = cursor{src: c.src, pos: next, tick: streams[c.src][next]}
			heap.Fix(&h, 0)
		} else {
			heap.Pop(&h)
		}
	}
	return out
}
