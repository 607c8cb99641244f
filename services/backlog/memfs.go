package backlog

import (
	"bytes"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"
)

// MemFS keeps files in RAM. Contents survive a lost link but not a
// reset.
type MemFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func Mem() *MemFS { return &MemFS{files: map[string][]byte{}} }

func (m *MemFS) OpenFile(name string, flag int, _ os.FileMode) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		if flag&os.O_CREATE == 0 {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
	}
	if flag&os.O_TRUNC != 0 {
		data = nil
	}
	if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		m.files[name] = data
		return &memFile{fs: m, name: name}, nil
	}
	return &memFile{fs: m, name: name, r: bytes.NewReader(bytes.Clone(data))}, nil
}

func (m *MemFS) Stat(name string) (os.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return memInfo{name: path.Base(name), size: int64(len(data))}, nil
}

func (m *MemFS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(m.files, name)
	return nil
}

func (m *MemFS) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[oldpath]
	if !ok {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrNotExist}
	}
	delete(m.files, oldpath)
	m.files[newpath] = data
	return nil
}

func (m *MemFS) SyncDir(string) error { return nil }

// memFile reads from a snapshot taken at open, or appends to the live
// file.
type memFile struct {
	fs   *MemFS
	name string
	r    *bytes.Reader
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.r == nil {
		return 0, fs.ErrPermission
	}
	return f.r.Read(p)
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.r != nil {
		return 0, fs.ErrPermission
	}
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.files[f.name] = append(f.fs.files[f.name], p...)
	return len(p), nil
}

func (f *memFile) Sync() error  { return nil }
func (f *memFile) Close() error { return nil }

type memInfo struct {
	name string
	size int64
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() fs.FileMode  { return 0o644 }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return false }
func (i memInfo) Sys() any           { return nil }
