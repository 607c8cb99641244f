package backlog

import (
	"io"
	"os"
)

// File is the subset of *os.File the store uses.
type File interface {
	io.ReadWriteCloser
	Sync() error
}

// FS is the filesystem the store runs on. Host builds use OS, boards use
// Flash, and Mem stands in when no flash volume mounts. Tests inject
// failures through it.
type FS interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	// SyncDir makes directory entry changes (create, rename, remove) durable.
	SyncDir(dir string) error
}

// OS returns the host filesystem.
func OS() FS { return osFS{} }

type osFS struct{}

func (osFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}
func (osFS) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }
func (osFS) Remove(name string) error               { return os.Remove(name) }
func (osFS) Rename(oldpath, newpath string) error   { return os.Rename(oldpath, newpath) }

func (osFS) SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems (FAT, certain overlays) refuse fsync on a
	// directory; the rename itself has already happened.
	d.Sync()
	return nil
}
