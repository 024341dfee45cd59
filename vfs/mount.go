package vfs

import (
	"archive/zip"
	"context"
	"engine/types"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// type fsMount struct {{{

// Any fs.FS, directories and zip archives are both served through this.
type fsMount struct {
	name   string
	fsys   fs.FS
	closer io.Closer
} // }}}

// func NewFSMount {{{

// Mounts an arbitrary fs.FS, such as an embed.FS or a fstest.MapFS.
func NewFSMount(name string, fsys fs.FS) Mount {
	return &fsMount{
		name: name,
		fsys: fsys,
	}
} // }}}

// func NewDirMount {{{

func NewDirMount(dir string) (Mount, error) {
	s, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}

	if !s.IsDir() {
		return nil, fmt.Errorf("%s: not a directory", dir)
	}

	return &fsMount{
		name: "dir:" + dir,
		fsys: os.DirFS(dir),
	}, nil
} // }}}

// func NewZipMount {{{

func NewZipMount(file string) (Mount, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return nil, err
	}

	return &fsMount{
		name:   "zip:" + file,
		fsys:   &zr.Reader,
		closer: zr,
	}, nil
} // }}}

func (fm *fsMount) Name() string { return fm.name }

// func fsMount.Open {{{

func (fm *fsMount) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := fm.fsys.Open(name)
	if err != nil {
		return nil, err
	}

	s, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if s.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", types.ErrFileUnreadable, name)
	}

	return f, nil
} // }}}

// func fsMount.Exists {{{

func (fm *fsMount) Exists(ctx context.Context, name string) bool {
	s, err := fs.Stat(fm.fsys, name)
	if err != nil {
		return false
	}

	return !s.IsDir()
} // }}}

// func fsMount.Close {{{

func (fm *fsMount) Close() error {
	if fm.closer == nil {
		return nil
	}

	return fm.closer.Close()
} // }}}
