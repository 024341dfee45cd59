package idmanager

import (
	"engine/types"
	"github.com/google/btree"
	"github.com/rs/zerolog"
	"sync"
)

// type FileID struct {{{

// One entry of the filename index.
type FileID struct {
	Filename string
	ID       types.ResourceID
} // }}}

// type IDManager struct {{{

type IDManager struct {
	// Last id handed out, only accessed using atomics.
	//
	// Ids are never reused, even after Forget().
	last uint64

	l zerolog.Logger

	// Guards files and ordered, and is held for the whole check-then-insert in Request().
	iMut sync.Mutex

	// filename => id
	files map[string]types.ResourceID

	// Same content as files, ordered by filename for Filenames().
	ordered *btree.BTreeG[FileID]

	// Do not access directly, use atomics.
	closed uint32
} // }}}
