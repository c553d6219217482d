package channels

import "sync"

// Dispatcher fans inbound messages out to a handler while keeping each
// user's messages in receipt order. Different users proceed in parallel;
// one user's messages run strictly one at a time, in the order Dispatch
// was called. Mutex acquisition alone cannot give that guarantee: two
// goroutines racing for a user lock may be granted it in either order.
type Dispatcher struct {
	handle func(InboundMessage)
	buffer int

	mu     sync.Mutex
	queues map[string]chan InboundMessage
}

// NewDispatcher creates a dispatcher delivering to handle. buffer bounds
// each user's queue; a full queue blocks Dispatch, backpressuring the
// receive loop instead of dropping or reordering. Zero means 16.
func NewDispatcher(handle func(InboundMessage), buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 16
	}
	return &Dispatcher{
		handle: handle,
		buffer: buffer,
		queues: map[string]chan InboundMessage{},
	}
}

// Dispatch enqueues a message on its user's queue, starting that queue's
// worker on first use. Queues are never removed; the map grows with the
// (small) user population.
func (d *Dispatcher) Dispatch(msg InboundMessage) {
	d.mu.Lock()
	q, ok := d.queues[msg.UserID]
	if !ok {
		q = make(chan InboundMessage, d.buffer)
		d.queues[msg.UserID] = q
		go func() {
			for m := range q {
				d.handle(m)
			}
		}()
	}
	d.mu.Unlock()
	q <- msg
}
