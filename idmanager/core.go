// Resource identity.
//
// Hands out resource ids and keeps the filename index, so a file is only ever queued once
// no matter how many callers ask for it at the same time.
package idmanager

import (
	"engine/types"
	"github.com/google/btree"
	"github.com/rs/zerolog"
	"strings"
	"sync/atomic"
)

// func New {{{

func New(l *zerolog.Logger) *IDManager {
	im := &IDManager{
		l:     l.With().Str("mod", "idmanager").Logger(),
		files: make(map[string]types.ResourceID, 64),
		ordered: btree.NewG(16, func(a, b FileID) bool {
			return a.Filename < b.Filename
		}),
	}

	im.l.Debug().Str("func", "New").Send()

	return im
} // }}}

// func IDManager.NextID {{{

// Allocates a new id, safe to call from any goroutine.
func (im *IDManager) NextID() types.ResourceID {
	return types.ResourceID(atomic.AddUint64(&im.last, 1))
} // }}}

// func IDManager.Request {{{

// Returns the id for filename, allocating a new one if the filename is not known yet.
//
// For a new filename create is called with the new id while the index is still locked, so
// anyone asking for the same filename waits until create returned. This is what lets the
// caller insert the table entry and queue the load before the id can be seen by anyone else.
//
// If create fails the filename is not registered and its error returned. The id is lost.
//
// Filenames are not validated, an invalid one simply never loads.
//
// The bool is true when a new id was allocated.
func (im *IDManager) Request(filename string, create func(types.ResourceID) error) (types.ResourceID, bool, error) {
	fl := im.l.With().Str("func", "Request").Str("file", filename).Logger()

	if atomic.LoadUint32(&im.closed) == 1 {
		fl.Debug().Msg("called after shutdown")
		return 0, false, types.ErrShutdown
	}

	im.iMut.Lock()
	defer im.iMut.Unlock()

	if id, ok := im.files[filename]; ok {
		fl.Debug().Str("cache", "hit").Uint64("id", uint64(id)).Send()
		return id, false, nil
	}

	id := im.NextID()

	if create != nil {
		if err := create(id); err != nil {
			fl.Err(err).Uint64("id", uint64(id)).Msg("create")
			return 0, false, err
		}
	}

	im.files[filename] = id
	im.ordered.ReplaceOrInsert(FileID{Filename: filename, ID: id})

	fl.Debug().Str("cache", "miss").Uint64("id", uint64(id)).Send()

	return id, true, nil
} // }}}

// func IDManager.Lookup {{{

// Returns the id for filename without allocating anything.
func (im *IDManager) Lookup(filename string) (types.ResourceID, bool) {
	im.iMut.Lock()
	id, ok := im.files[filename]
	im.iMut.Unlock()

	return id, ok
} // }}}

// func IDManager.Forget {{{

// Removes filename from the index, but only if it still maps to id.
//
// The next Request() for the filename gets a new id.
func (im *IDManager) Forget(filename string, id types.ResourceID) bool {
	im.iMut.Lock()
	defer im.iMut.Unlock()

	cur, ok := im.files[filename]
	if !ok || cur != id {
		return false
	}

	delete(im.files, filename)
	im.ordered.Delete(FileID{Filename: filename})

	im.l.Debug().Str("func", "Forget").Str("file", filename).Uint64("id", uint64(id)).Send()

	return true
} // }}}

// func IDManager.Release {{{

// Runs release with the index locked and forgets filename if it returned no error.
//
// Lets the caller drop whatever id points at without a concurrent Request() handing out
// the id in between.
func (im *IDManager) Release(filename string, id types.ResourceID, release func() error) error {
	im.iMut.Lock()
	defer im.iMut.Unlock()

	if release != nil {
		if err := release(); err != nil {
			return err
		}
	}

	if cur, ok := im.files[filename]; ok && cur == id {
		delete(im.files, filename)
		im.ordered.Delete(FileID{Filename: filename})
	}

	im.l.Debug().Str("func", "Release").Str("file", filename).Uint64("id", uint64(id)).Send()

	return nil
} // }}}

// func IDManager.Filenames {{{

// Returns every indexed filename starting with prefix, in filename order.
//
// An empty prefix returns everything.
func (im *IDManager) Filenames(prefix string) []FileID {
	var out []FileID

	im.iMut.Lock()
	defer im.iMut.Unlock()

	im.ordered.AscendGreaterOrEqual(FileID{Filename: prefix}, func(fi FileID) bool {
		if !strings.HasPrefix(fi.Filename, prefix) {
			return false
		}

		out = append(out, fi)
		return true
	})

	return out
} // }}}

// func IDManager.Len {{{

func (im *IDManager) Len() int {
	im.iMut.Lock()
	defer im.iMut.Unlock()

	return len(im.files)
} // }}}

// func IDManager.Close {{{

// After Close() Request() returns types.ErrShutdown, lookups keep working.
//
// Safe to call multiple times.
func (im *IDManager) Close() {
	if !atomic.CompareAndSwapUint32(&im.closed, 0, 1) {
		im.l.Info().Str("func", "Close").Msg("already closed")
		return
	}

	im.l.Info().Str("func", "Close").Msg("closed")
} // }}}
