//go:build windows

package main

import (
	"github.com/rs/zerolog"
	"os"
	"sync"
)

// type logWrite struct {{{

type logWrite struct {
	mut sync.RWMutex
	out *os.File // nil = os.Stdout
} // }}}

// func logWrite.Write {{{

// Writes to the current hourly log file, switched by logRotate().
func (lw *logWrite) Write(p []byte) (n int, err error) {
	lw.mut.RLock()
	if lw.out == nil {
		n, err = os.Stdout.Write(p)
	} else {
		n, err = lw.out.Write(p)
	}
	lw.mut.RUnlock()

	return
} // }}}

// func resload.link {{{

func (r *resload) link(fileName string) error {
	// Not supported on Windows.
	return nil
} // }}}

// func resload.newLog {{{

func (r *resload) newLog() zerolog.Logger {
	return zerolog.New(&r.lw).With().Timestamp().Logger()
} // }}}

// func resload.logFile {{{

func (r *resload) logFile(lf *os.File) {
	r.lw.mut.Lock()
	old := r.lw.out
	r.lw.out = lf
	r.lw.mut.Unlock()

	if old != nil {
		old.Close()
	}
} // }}}
