// Resource table.
//
// Maps a resource id to its status, payload and failure reason. The worker moves an entry
// forward with Begin() and Finish(), everyone else only reads.
//
// Every entry has a done channel that is closed exactly once, at the terminal transition,
// so waiting for a resource never polls.
package restable

import (
	"context"
	"engine/types"
	"github.com/rs/zerolog"
	"sync"
)

// type entry struct {{{

type entry struct {
	id       types.ResourceID
	filename string
	tag      types.TypeTag

	status types.Status

	// Only set once status is StatusSucceeded.
	payload interface{}

	// Only set once status is StatusFailed or StatusCancelled.
	err error

	done chan struct{}
} // }}}

// type Snapshot struct {{{

// A copy of an entry at one point in time.
type Snapshot struct {
	ID       types.ResourceID
	Filename string
	Type     types.TypeTag
	Status   types.Status
	Err      error
} // }}}

// type Table struct {{{

type Table struct {
	l zerolog.Logger

	tMut    sync.RWMutex
	entries map[types.ResourceID]*entry
} // }}}

// func New {{{

func New(l *zerolog.Logger) *Table {
	return &Table{
		l:       l.With().Str("mod", "restable").Logger(),
		entries: make(map[types.ResourceID]*entry, 64),
	}
} // }}}

// func Table.Add {{{

// Creates a PENDING entry.
//
// Returns false if the id already exists.
func (t *Table) Add(id types.ResourceID, filename string, tag types.TypeTag) bool {
	t.tMut.Lock()
	defer t.tMut.Unlock()

	if _, ok := t.entries[id]; ok {
		return false
	}

	t.entries[id] = &entry{
		id:       id,
		filename: filename,
		tag:      tag,
		status:   types.StatusPending,
		done:     make(chan struct{}),
	}

	return true
} // }}}

// func Table.Begin {{{

// Moves an entry from PENDING to LOADING.
//
// Returns false if the entry is gone or no longer pending (cancelled), the caller must
// then leave it alone. Only one caller can ever win this for a given id.
func (t *Table) Begin(id types.ResourceID) bool {
	t.tMut.Lock()
	defer t.tMut.Unlock()

	e, ok := t.entries[id]
	if !ok || e.status != types.StatusPending {
		return false
	}

	e.status = types.StatusLoading

	return true
} // }}}

// func Table.Finish {{{

// Publishes the result of a load, SUCCEEDED with payload if err is nil, FAILED otherwise.
//
// Status, payload and error change together under the lock, nobody sees one without the
// others. Only valid on a LOADING entry, anything else is ignored and false returned.
func (t *Table) Finish(id types.ResourceID, payload interface{}, err error) bool {
	t.tMut.Lock()
	defer t.tMut.Unlock()

	e, ok := t.entries[id]
	if !ok || e.status != types.StatusLoading {
		t.l.Warn().Str("func", "Finish").Uint64("id", uint64(id)).Bool("exists", ok).Msg("not loading")
		return false
	}

	if err != nil {
		e.status = types.StatusFailed
		e.err = err
	} else {
		e.status = types.StatusSucceeded
		e.payload = payload
	}

	close(e.done)

	return true
} // }}}

// func Table.Fail {{{

// Fails a PENDING entry that will never be loaded, used when shutting down.
func (t *Table) Fail(id types.ResourceID, err error) bool {
	t.tMut.Lock()
	defer t.tMut.Unlock()

	e, ok := t.entries[id]
	if !ok || e.status != types.StatusPending {
		return false
	}

	e.status = types.StatusFailed
	e.err = err
	close(e.done)

	return true
} // }}}

// func Table.Cancel {{{

// Moves a PENDING entry to CANCELLED, anything past PENDING can no longer be cancelled.
func (t *Table) Cancel(id types.ResourceID) (types.Status, error) {
	t.tMut.Lock()
	defer t.tMut.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return 0, types.ErrUnknownID
	}

	if e.status != types.StatusPending {
		return e.status, nil
	}

	e.status = types.StatusCancelled
	e.err = types.ErrCancelled
	close(e.done)

	return e.status, nil
} // }}}

// func Table.Status {{{

func (t *Table) Status(id types.ResourceID) (types.Status, error) {
	t.tMut.RLock()
	defer t.tMut.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return 0, types.ErrUnknownID
	}

	return e.status, nil
} // }}}

// func Table.Fetch {{{

// Returns the payload of a SUCCEEDED entry.
//
// PENDING and LOADING give types.ErrNotReady, FAILED and CANCELLED give the recorded error.
func (t *Table) Fetch(id types.ResourceID) (interface{}, error) {
	t.tMut.RLock()
	defer t.tMut.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return nil, types.ErrUnknownID
	}

	return e.result()
} // }}}

// Caller must hold tMut.
func (e *entry) result() (interface{}, error) {
	switch e.status {
	case types.StatusSucceeded:
		return e.payload, nil
	case types.StatusFailed, types.StatusCancelled:
		return nil, e.err
	}

	return nil, types.ErrNotReady
}

// func Table.Await {{{

// Blocks until the entry reaches a terminal status or ctx is done, then acts like Fetch().
func (t *Table) Await(ctx context.Context, id types.ResourceID) (interface{}, error) {
	t.tMut.RLock()
	e, ok := t.entries[id]
	t.tMut.RUnlock()

	if !ok {
		return nil, types.ErrUnknownID
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// done is closed with the lock held, so everything is published by now.
	t.tMut.RLock()
	defer t.tMut.RUnlock()

	return e.result()
} // }}}

// func Table.Done {{{

// Returns a channel closed once the entry is terminal, nil for unknown ids.
func (t *Table) Done(id types.ResourceID) <-chan struct{} {
	t.tMut.RLock()
	defer t.tMut.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return nil
	}

	return e.done
} // }}}

// func Table.Remove {{{

// Removes a terminal entry and returns its payload, so the caller can release it.
//
// Entries still PENDING or LOADING give types.ErrNotTerminal.
func (t *Table) Remove(id types.ResourceID) (Snapshot, interface{}, error) {
	t.tMut.Lock()
	defer t.tMut.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return Snapshot{}, nil, types.ErrUnknownID
	}

	if !e.status.Terminal() {
		return e.snapshot(), nil, types.ErrNotTerminal
	}

	delete(t.entries, id)

	return e.snapshot(), e.payload, nil
} // }}}

// func Table.Get {{{

func (t *Table) Get(id types.ResourceID) (Snapshot, bool) {
	t.tMut.RLock()
	defer t.tMut.RUnlock()

	e, ok := t.entries[id]
	if !ok {
		return Snapshot{}, false
	}

	return e.snapshot(), true
} // }}}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		ID:       e.id,
		Filename: e.filename,
		Type:     e.tag,
		Status:   e.status,
		Err:      e.err,
	}
}

// func Table.Counts {{{

// Number of entries per status.
func (t *Table) Counts() map[types.Status]int {
	counts := make(map[types.Status]int, 5)

	t.tMut.RLock()
	for _, e := range t.entries {
		counts[e.status]++
	}
	t.tMut.RUnlock()

	return counts
} // }}}

// func Table.Clear {{{

// Removes every entry and returns the payloads of the SUCCEEDED ones.
//
// Waiters on entries that never finished are released with types.ErrShutdown.
func (t *Table) Clear() []interface{} {
	var payloads []interface{}

	t.tMut.Lock()
	defer t.tMut.Unlock()

	for id, e := range t.entries {
		if !e.status.Terminal() {
			e.status = types.StatusFailed
			e.err = types.ErrShutdown
			close(e.done)
		}

		if e.payload != nil {
			payloads = append(payloads, e.payload)
		}

		delete(t.entries, id)
	}

	return payloads
} // }}}

func (t *Table) Len() int {
	t.tMut.RLock()
	defer t.tMut.RUnlock()

	return len(t.entries)
}
