package resmanager

import (
	"context"
	"engine/idmanager"
	"engine/loadqueue"
	"engine/restable"
	"engine/types"
	"engine/vfs"
	"engine/yconf"
	"github.com/rs/zerolog"
	"sync"
	"sync/atomic"
)

// type Options struct {{{

// Settings for NewWithFS(), New() reads the same ones from the configuration.
type Options struct {
	// Number of load workers, anything below 1 means 1.
	Workers int

	Order loadqueue.Order

	// Largest stream a constructor may read, 0 for no limit.
	MaxSize int64
} // }}}

// type Resource struct {{{

// One row of Resources().
type Resource struct {
	ID       types.ResourceID
	Filename string
	Type     types.TypeTag
	Status   types.Status

	// Only for FAILED resources.
	Reason string
} // }}}

// type Stats struct {{{

type Stats struct {
	Pending   int
	Loading   int
	Succeeded int
	Failed    int
	Cancelled int

	// Items still waiting in the queue.
	Queued int

	Workers int

	// Streams opened, only counted when the manager owns the virtual filesystem.
	Opens uint64
} // }}}

// type Manager struct {{{

type Manager struct {
	l zerolog.Logger

	// Our configuration file, empty for NewWithFS().
	cFile string

	// nil for NewWithFS().
	yc *yconf.YConf

	// Stores a *conf
	co atomic.Value

	// Serializes confChanged(), so an older mount set never replaces a newer one.
	rMut sync.Mutex

	// Where streams come from.
	fs types.FileSystem

	// Set when fs is our own virtual filesystem, it is closed on Shutdown().
	vfs *vfs.VFS

	im *idmanager.IDManager
	q  *loadqueue.Queue
	rt *restable.Table

	cMut  sync.RWMutex
	ctors map[types.TypeTag]types.Constructor

	// Guards started and the wg.Add() calls against Shutdown().
	sMut    sync.Mutex
	started bool
	workers int

	wg sync.WaitGroup

	// Handed to the workers, cancelled when a Shutdown() runs out of time.
	wctx    context.Context
	wcancel context.CancelFunc

	// Do not access directly, use atomics.
	closed uint32

	// Closed once Shutdown() is completely done.
	bye chan struct{}

	// Parent context, cancelling it shuts us down.
	ctx context.Context
} // }}}

type confYAML struct {
	Workers     int         `yaml:"workers"`
	Order       string      `yaml:"order"`
	MaxSize     string      `yaml:"maxsize"`
	SearchPaths []string    `yaml:"searchpaths"`
	Archives    []string    `yaml:"archives"`
	Database    *vfs.PGConf `yaml:"database"`
	S3          *vfs.S3Conf `yaml:"s3"`
}

type conf struct {
	Workers int

	// "fifo" or "lifo", empty means fifo.
	Order string

	MaxSize int64

	SearchPaths []string
	Archives    []string
	Database    *vfs.PGConf
	S3          *vfs.S3Conf
}
