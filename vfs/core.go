// Virtual filesystem.
//
// Resolves a logical filename, always '/' separated and relative, against an ordered list of
// mounts. The first mount that has the file wins.
//
// If a file is missing but a compressed copy exists (name.xz or name.lz4) the compressed copy
// is opened and decompressed on the fly, so large assets can be shipped compressed without
// the callers caring.
package vfs

import (
	"context"
	"engine/types"
	"errors"
	"fmt"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync/atomic"
)

// func New {{{

// Creates an empty VFS, add mounts with AddSearchPath(), Mount() or AddMount().
func New(l *zerolog.Logger) *VFS {
	v := &VFS{
		l: l.With().Str("mod", "vfs").Logger(),
	}

	v.l.Debug().Str("func", "New").Send()

	return v
} // }}}

// func CleanName {{{

// Normalises a logical filename, "/a//b/../c.tex" becomes "a/c.tex".
//
// Returns false for names that can never be valid, empty or escaping the root with "..".
func CleanName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimLeft(name, "/")

	if name == "" {
		return "", false
	}

	name = path.Clean(name)

	if name == "." || name == ".." || strings.HasPrefix(name, "../") {
		return "", false
	}

	return name, true
} // }}}

// func VFS.AddSearchPath {{{

// Adds a directory on the real filesystem to the end of the search order.
func (v *VFS) AddSearchPath(dir string) error {
	m, err := NewDirMount(dir)
	if err != nil {
		v.l.Err(err).Str("func", "AddSearchPath").Str("dir", dir).Send()
		return err
	}

	return v.AddMount(m)
} // }}}

// func VFS.Mount {{{

// Adds a zip archive to the end of the search order.
func (v *VFS) Mount(archive string) error {
	m, err := NewZipMount(archive)
	if err != nil {
		v.l.Err(err).Str("func", "Mount").Str("archive", archive).Send()
		return err
	}

	return v.AddMount(m)
} // }}}

// func VFS.AddMount {{{

func (v *VFS) AddMount(m Mount) error {
	if v.isClosed() {
		m.Close()
		return types.ErrShutdown
	}

	v.mMut.Lock()
	v.mounts = append(v.mounts, m)
	v.mMut.Unlock()

	v.l.Info().Str("func", "AddMount").Str("mount", m.Name()).Msg("mounted")

	return nil
} // }}}

// func VFS.SetMounts {{{

// Replaces every mount at once, closing the old ones.
//
// Used when the configuration changes. Streams already opened from an old mount stay valid
// for directories, for archives they are closed along with the archive.
func (v *VFS) SetMounts(mounts []Mount) error {
	if v.isClosed() {
		for _, m := range mounts {
			m.Close()
		}
		return types.ErrShutdown
	}

	nm := make([]Mount, len(mounts))
	copy(nm, mounts)

	v.mMut.Lock()
	old := v.mounts
	v.mounts = nm
	v.mMut.Unlock()

	v.closeMounts(old)

	v.l.Info().Str("func", "SetMounts").Strs("mounts", v.Mounts()).Msg("replaced")

	return nil
} // }}}

// func VFS.ClearSearchPaths {{{

// Removes and closes every mount.
func (v *VFS) ClearSearchPaths() {
	v.mMut.Lock()
	old := v.mounts
	v.mounts = nil
	v.mMut.Unlock()

	v.closeMounts(old)
} // }}}

// func VFS.Mounts {{{

// The names of all mounts in search order.
func (v *VFS) Mounts() []string {
	mounts := v.getMounts()

	names := make([]string, 0, len(mounts))
	for _, m := range mounts {
		names = append(names, m.Name())
	}

	return names
} // }}}

func (v *VFS) getMounts() []Mount {
	v.mMut.RLock()
	mounts := v.mounts
	v.mMut.RUnlock()

	return mounts
}

// func VFS.closeMounts {{{

func (v *VFS) closeMounts(mounts []Mount) {
	fl := v.l.With().Str("func", "closeMounts").Logger()

	for _, m := range mounts {
		if err := m.Close(); err != nil {
			fl.Warn().Err(err).Str("mount", m.Name()).Msg("close")
		}
	}
} // }}}

// func VFS.Open {{{

// Opens the named logical file.
//
// Errors wrap types.ErrFileNotFound when no mount has the file, types.ErrFileUnreadable
// when a mount has it but it could not be opened or decompressed.
func (v *VFS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	fl := v.l.With().Str("func", "Open").Str("file", name).Logger()

	if v.isClosed() {
		return nil, fmt.Errorf("%w: %w", types.ErrFileUnreadable, types.ErrShutdown)
	}

	clean, ok := CleanName(name)
	if !ok {
		fl.Debug().Msg("invalid name")
		return nil, fmt.Errorf("%w: invalid name %q", types.ErrFileNotFound, name)
	}

	mounts := v.getMounts()

	rc, err := v.openFirst(ctx, mounts, clean)
	if err == nil {
		atomic.AddUint64(&v.opens, 1)
		return rc, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		fl.Err(err).Msg("unreadable")
		return nil, unreadable(clean, err)
	}

	// Try a compressed copy.
	for _, ext := range compressedExts {
		rc, err := v.openFirst(ctx, mounts, clean+ext)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			fl.Err(err).Str("ext", ext).Msg("unreadable")
			return nil, unreadable(clean, err)
		}

		drc, err := decompress(rc, ext)
		if err != nil {
			rc.Close()
			fl.Err(err).Str("ext", ext).Msg("decompress")
			return nil, unreadable(clean, err)
		}

		fl.Debug().Str("ext", ext).Msg("compressed")
		atomic.AddUint64(&v.opens, 1)
		return drc, nil
	}

	fl.Debug().Int("mounts", len(mounts)).Msg("not found")

	return nil, fmt.Errorf("%w: %s", types.ErrFileNotFound, clean)
} // }}}

// func VFS.openFirst {{{

// Returns the stream from the first mount with the file.
//
// A mount that has the file but fails to open it stops the search, we do not want a file
// further down the search order silently replacing a broken one.
func (v *VFS) openFirst(ctx context.Context, mounts []Mount, name string) (io.ReadCloser, error) {
	for _, m := range mounts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rc, err := m.Open(ctx, name)
		if err == nil {
			return rc, nil
		}

		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		return nil, fmt.Errorf("%s: %w", m.Name(), err)
	}

	return nil, fs.ErrNotExist
} // }}}

// func VFS.Exists {{{

// Returns true if Open() would find the file, plain or compressed.
func (v *VFS) Exists(ctx context.Context, name string) bool {
	if v.isClosed() {
		return false
	}

	clean, ok := CleanName(name)
	if !ok {
		return false
	}

	mounts := v.getMounts()

	for _, n := range append([]string{clean}, clean+compressedExts[0], clean+compressedExts[1]) {
		for _, m := range mounts {
			if m.Exists(ctx, n) {
				return true
			}
		}
	}

	return false
} // }}}

// func VFS.Opens {{{

// Number of successful Open() calls.
func (v *VFS) Opens() uint64 {
	return atomic.LoadUint64(&v.opens)
} // }}}

// func VFS.Close {{{

// Closes every mount, after this Open() always fails.
//
// Safe to call multiple times.
func (v *VFS) Close() {
	if !atomic.CompareAndSwapUint32(&v.closed, 0, 1) {
		return
	}

	v.ClearSearchPaths()

	v.l.Info().Str("func", "Close").Msg("closed")
} // }}}

// func unreadable {{{

func unreadable(name string, err error) error {
	if errors.Is(err, types.ErrFileUnreadable) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", types.ErrFileUnreadable, name, err)
} // }}}

type readCloser struct {
	io.Reader
	io.Closer
}

// func decompress {{{

// Wraps rc in the decompressor for ext, closing the result also closes rc.
func decompress(rc io.ReadCloser, ext string) (io.ReadCloser, error) {
	switch ext {
	case ".xz":
		xr, err := xz.NewReader(rc)
		if err != nil {
			return nil, err
		}

		return readCloser{Reader: xr, Closer: rc}, nil
	case ".lz4":
		return readCloser{Reader: lz4.NewReader(rc), Closer: rc}, nil
	}

	return nil, fmt.Errorf("unknown compression %s", ext)
} // }}}
