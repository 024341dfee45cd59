// Pending load requests.
//
// Push() never blocks, Pop() blocks until there is something to load or the queue is closed
// and empty. Items are handed out exactly once.
package loadqueue

import (
	"engine/types"
	"sync"
)

// Servicing order, fixed for the lifetime of a Queue.
type Order int

const (
	FIFO Order = iota
	LIFO
)

// type Item struct {{{

// A queued load, owned by the queue until Pop() hands it to a worker.
type Item struct {
	ID       types.ResourceID
	Filename string
	Type     types.TypeTag
} // }}}

// type Queue struct {{{

type Queue struct {
	qMut sync.Mutex
	cond *sync.Cond

	order Order

	// Items are taken from the front for FIFO and the back for LIFO.
	items []Item

	closed bool
} // }}}

// func New {{{

func New(order Order) *Queue {
	q := &Queue{
		order: order,
		items: make([]Item, 0, 16),
	}

	q.cond = sync.NewCond(&q.qMut)

	return q
} // }}}

// func Queue.Push {{{

// Adds an item, returns types.ErrShutdown once the queue is closed.
func (q *Queue) Push(it Item) error {
	q.qMut.Lock()

	if q.closed {
		q.qMut.Unlock()
		return types.ErrShutdown
	}

	q.items = append(q.items, it)
	q.qMut.Unlock()

	q.cond.Signal()

	return nil
} // }}}

// func Queue.Pop {{{

// Blocks until an item is available.
//
// After Close() the remaining items are still returned, once the queue is empty the
// bool is false and the caller should stop.
func (q *Queue) Pop() (Item, bool) {
	q.qMut.Lock()
	defer q.qMut.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return Item{}, false
		}

		q.cond.Wait()
	}

	return q.take(), true
} // }}}

// func Queue.TryPop {{{

// Same as Pop() without blocking.
func (q *Queue) TryPop() (Item, bool) {
	q.qMut.Lock()
	defer q.qMut.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}

	return q.take(), true
} // }}}

// func Queue.take {{{

// Caller must hold qMut and have checked items is not empty.
func (q *Queue) take() Item {
	var it Item

	if q.order == LIFO {
		last := len(q.items) - 1
		it = q.items[last]
		q.items[last] = Item{}
		q.items = q.items[:last]
		return it
	}

	it = q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]

	// Do not let the backing array creep forward forever.
	if len(q.items) == 0 {
		q.items = q.items[:0:0]
	}

	return it
} // }}}

// func Queue.Drain {{{

// Removes and returns everything still queued, in servicing order.
func (q *Queue) Drain() []Item {
	var out []Item

	q.qMut.Lock()
	for len(q.items) > 0 {
		out = append(out, q.take())
	}
	q.qMut.Unlock()

	return out
} // }}}

// func Queue.Close {{{

// Stops new pushes and wakes every blocked Pop().
//
// Safe to call multiple times.
func (q *Queue) Close() {
	q.qMut.Lock()
	q.closed = true
	q.qMut.Unlock()

	q.cond.Broadcast()
} // }}}

// func Queue.Len {{{

func (q *Queue) Len() int {
	q.qMut.Lock()
	defer q.qMut.Unlock()

	return len(q.items)
} // }}}

func (q *Queue) Order() Order { return q.order }
