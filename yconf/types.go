package yconf

import (
	"context"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"sync"
	"time"
)

type loaded struct {
	// Timestamp for the newest modified configuration file.
	newest time.Time

	// Previously loaded conf
	conf interface{}
}

// Converts the freshly decoded YAML type into the internal type a package actually wants.
//
// Runs once per file, before any Merge() calls. Returning an error fails the whole load,
// and whatever was loaded before stays in place.
//
// A size string such as "64MiB" becoming an int64 is the typical use.
type Convert func(interface{}) (interface{}, error)

// Merges two configurations when more than one file is found.
//
// The 1st value is the previously merged one, the 2nd the one from the current file.
// Merge into the first.
type Merge func(interface{}, interface{}) (interface{}, error)

// Given the old and the new configuration, returns true if anything that matters changed.
//
// Called after all Convert() and Merge() calls, so touching a file or changing whitespace
// does not cause a Notify.
type Changed func(interface{}, interface{}) bool

// Called in its own goroutine whenever the configuration changed.
type Notify func()

// Empty() is the only required function.
type Callers struct {
	// Returns an empty type that the YAML/JSON will be parsed into directly.
	Empty   func() interface{}
	Convert Convert
	Merge   Merge
	Changed Changed
	Notify  Notify
}

type YConf struct {
	l zerolog.Logger

	// Either a directory or a single file.
	confPath string

	ctx context.Context

	// Closed by Stop().
	bye     chan struct{}
	byeOnce sync.Once

	// Only set while Start() is running in the background, nil if fsnotify failed.
	wa *fsnotify.Watcher

	// Fallback polling interval.
	interval time.Duration

	ca Callers

	loMut sync.RWMutex
	lo    *loaded
}
