package vfs

import (
	"context"
	"github.com/rs/zerolog"
	"io"
	"sync"
	"sync/atomic"
)

// type Mount interface {{{

// A single source of files, a directory, an archive, a database table or a bucket.
type Mount interface {
	// Used for logging and Mounts().
	Name() string

	// Errors for missing files must match fs.ErrNotExist, anything else is treated as unreadable.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	Exists(ctx context.Context, name string) bool

	Close() error
} // }}}

// type VFS struct {{{

type VFS struct {
	// Counts opens, mostly for tests and logging.
	opens uint64

	l zerolog.Logger

	// Search order is the order mounts were added.
	//
	// Replaced as a whole by SetMounts(), so readers only hold the lock long enough to copy the slice.
	mMut   sync.RWMutex
	mounts []Mount

	// Do not access directly, use atomics.
	closed uint32
} // }}}

// Compressed variants tried when the plain name is missing.
var compressedExts = []string{".xz", ".lz4"}

func (v *VFS) isClosed() bool {
	return atomic.LoadUint32(&v.closed) == 1
}
