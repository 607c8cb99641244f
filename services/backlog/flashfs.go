package backlog

import (
	"io/fs"
	"os"

	"tinygo.org/x/tinyfs"
)

// Volume is the part of a mounted tinyfs filesystem the store uses.
// *littlefs.LFS satisfies it.
type Volume interface {
	OpenFile(path string, flags int) (tinyfs.File, error)
	Stat(path string) (os.FileInfo, error)
	Remove(path string) error
	Rename(oldPath, newPath string) error
}

// Flash runs the store on a mounted tinyfs volume. Volume errors carry
// no not-exist sentinel, so a failed lookup is reported as fs.ErrNotExist.
func Flash(v Volume) FS { return flashFS{v: v} }

type flashFS struct{ v Volume }

func (f flashFS) OpenFile(name string, flag int, _ os.FileMode) (File, error) {
	if flag&os.O_CREATE == 0 {
		if _, err := f.v.Stat(name); err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
	}
	h, err := f.v.OpenFile(name, flag)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return flashFile{File: h}, nil
}

func (f flashFS) Stat(name string) (os.FileInfo, error) {
	fi, err := f.v.Stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fi, nil
}

func (f flashFS) Remove(name string) error {
	if _, err := f.v.Stat(name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	if err := f.v.Remove(name); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

// Rename replaces newpath when it exists, as littlefs does.
func (f flashFS) Rename(oldpath, newpath string) error {
	if err := f.v.Rename(oldpath, newpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	return nil
}

// SyncDir is a no-op: littlefs commits metadata changes atomically.
func (flashFS) SyncDir(string) error { return nil }

type flashFile struct{ tinyfs.File }

func (f flashFile) Sync() error {
	if s, ok := f.File.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
