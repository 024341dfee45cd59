//go:build !windows

package main

import (
	"github.com/rs/zerolog"
	"os"
	"syscall"
)

// Only needed on Windows, stdout and stderr are replaced directly here.
type logWrite struct{}

// func resload.newLog {{{

func (r *resload) newLog() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
} // }}}

// func resload.logFile {{{

func (r *resload) logFile(lf *os.File) {
	// Replace STDOUT and STDERR, which is what the log file actually points to.
	fd := int(lf.Fd())
	syscall.Dup2(fd, 1)
	syscall.Dup2(fd, 2)

	lf.Close()
} // }}}

// func resload.link {{{

// Points resload.current at the newest log file.
func (r *resload) link(fileName string) error {
	linkFile := r.co.LogPath + "/resload.current"

	if err := os.Symlink(fileName, linkFile+".tmp"); err != nil {
		r.l.Err(err).Str("func", "link").Msg("Symlink")
		return err
	}

	return os.Rename(linkFile+".tmp", linkFile)
} // }}}
