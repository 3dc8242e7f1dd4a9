// Package linequeue provides an unbounded queue filled through a channel and
// emptied in batches without ever waiting for new data.
package linequeue

// Queue is an unbounded FIFO. Producers send on In(); a consumer calls Drain
// to take whatever has already arrived. Beware! You almost certainly want T
// to be a small type; use pointers or slices for large objects.
type Queue[T any] struct {
	in    chan T
	drain chan drainRequest[T]
	done  chan struct{}
}

type drainRequest[T any] struct {
	max   int
	reply chan []T
}

// New creates and starts a Queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		in:    make(chan T),
		drain: make(chan drainRequest[T]),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue[T]) run() {
	var queue []T
	in := q.in
	for {
		if in == nil && len(queue) == 0 {
			close(q.done)
			return
		}
		select {
		case val, ok := <-in:
			if !ok {
				// No more input: keep serving Drain until the queue is empty.
				in = nil
				continue
			}
			queue = append(queue, val)

		case req := <-q.drain:
			n := len(queue)
			if req.max > 0 && req.max < n {
				n = req.max
			}
			out := make([]T, n)
			copy(out, queue[:n])
			clear(queue[:n])
			queue = queue[n:]
			if len(queue) == 0 {
				queue = nil
			}
			req.reply <- out
		}
	}
}

// In returns the input channel. Close it when no more data will be sent.
func (q *Queue[T]) In() chan<- T {
	return q.in
}

// Drain removes and returns up to max queued items in arrival order (all of
// them if max <= 0). It never waits for data: an empty queue gives an empty
// result. Every value whose send on In() has completed is visible to Drain.
func (q *Queue[T]) Drain(max int) []T {
	req := drainRequest[T]{max: max, reply: make(chan []T, 1)}
	select {
	case q.drain <- req:
		return <-req.reply
	case <-q.done:
		return nil
	}
}

// Done is closed once In() has been closed and every item has been drained.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}
