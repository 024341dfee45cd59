package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrShutdown = errors.New("Shutdown")

	// Returned by Fetch() while a resource is still queued or loading.
	ErrNotReady = errors.New("Not ready")

	// Every *LoadError matches this with errors.Is().
	ErrLoadFailed = errors.New("Load failed")

	ErrFileNotFound   = errors.New("File not found")
	ErrFileUnreadable = errors.New("File unreadable")

	ErrUnknownID   = errors.New("Unknown resource id")
	ErrUnknownType = errors.New("Unknown resource type")
	ErrCancelled   = errors.New("Cancelled")
	ErrWrongType   = errors.New("Wrong resource type")
	ErrNotTerminal = errors.New("Resource still loading")
)

// Failure reasons recorded on a FAILED resource.
const (
	ReasonFileNotFound       = "FileNotFound"
	ReasonFileUnreadable     = "FileUnreadable"
	ReasonParseError         = "ParseError"
	ReasonShutdownInProgress = "ShutdownInProgress"
)

// Assigned once per request, never reused.
//
// 0 is never handed out.
type ResourceID uint64

// Names which construction routine builds a resource, "texture", "mesh" and so on.
type TypeTag string

// type Status uint32 {{{

type Status uint32

const (
	StatusPending Status = iota
	StatusLoading
	StatusSucceeded
	StatusFailed

	// Only reachable from StatusPending.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoading:
		return "loading"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}

	return fmt.Sprintf("status(%d)", uint32(s))
}

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
} // }}}

// type Constructor func {{{

// Turns the raw bytes of a file into a usable resource.
//
// The name is the logical filename the stream was opened for, mostly useful for logging
// and for picking a decoder by extension.
//
// Malformed data should be reported with a *ParseError.
type Constructor func(r io.Reader, name string) (interface{}, error) // }}}

// type FileSystem interface {{{

// Resolves a logical filename to a byte stream.
type FileSystem interface {
	// Returned errors wrap ErrFileNotFound or ErrFileUnreadable.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	Exists(ctx context.Context, name string) bool
} // }}}

// type Registrar interface {{{

// Anything construction routines can be registered with, typically the resource manager.
type Registrar interface {
	Register(tag TypeTag, ctor Constructor) error
} // }}}

// type ParseError struct {{{

// Returned by a Constructor when the stream contents are rejected.
type ParseError struct {
	Reason string
	Err    error
}

func (pe *ParseError) Error() string {
	if pe.Err != nil {
		return pe.Reason + ": " + pe.Err.Error()
	}

	return pe.Reason
}

func (pe *ParseError) Unwrap() error { return pe.Err }

// Shorthand for constructors.
func NewParseError(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
} // }}}

// type LoadError struct {{{

// What callers get back from Fetch() and Await() for a FAILED resource.
type LoadError struct {
	ID       ResourceID
	Filename string

	// Never empty, starts with one of the Reason constants.
	Reason string

	Err error
}

func (le *LoadError) Error() string {
	return fmt.Sprintf("load %d (%s) failed: %s", le.ID, le.Filename, le.Reason)
}

func (le *LoadError) Unwrap() error { return le.Err }

func (le *LoadError) Is(target error) bool {
	return target == ErrLoadFailed
}

// Returns the reason without any detail, so "ParseError: bad header" becomes "ParseError".
func (le *LoadError) Kind() string {
	if i := strings.IndexByte(le.Reason, ':'); i > 0 {
		return le.Reason[:i]
	}

	return le.Reason
} // }}}
