package pipeline

import "ProxyTrader/internal/domain/models"

// tickQueue is an unbounded FIFO owned by its own goroutine. Sends on in are
// accepted as fast as the goroutine can append, regardless of how slowly out
// is drained.
type tickQueue struct {
	in   chan models.PriceTick
	out  chan models.PriceTick
	done chan struct{}
}

func newTickQueue() *tickQueue {
	q := &tickQueue{
		in:   make(chan models.PriceTick),
		out:  make(chan models.PriceTick),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *tickQueue) loop() {
	defer close(q.out)
	var buf []models.PriceTick
	in := q.in
	for in != nil || len(buf) > 0 {
		var out chan models.PriceTick
		var head models.PriceTick
		if len(buf) > 0 {
			out = q.out
			head = buf[0]
		}
		select {
		case t, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, t)
		case out <- head:
			buf[0] = models.PriceTick{}
			buf = buf[1:]
		case <-q.done:
			return
		}
	}
}

// close stops accepting ticks; buffered ticks are still drained.
func (q *tickQueue) close() { close(q.in) }

// abandon drops whatever is still buffered.
func (q *tickQueue) abandon() { close(q.done) }
