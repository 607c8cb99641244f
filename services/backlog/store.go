// Package backlog is the device's durable queue of undelivered batches:
// one append-only text file, pruned from the front by rewrite-and-rename.
//
// The store has a single owner (the polling loop) and does no locking.
package backlog

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"sensorlink-go/errcode"
	"sensorlink-go/types"
)

const (
	DefaultName = "PortReadings.dat"
	TempName    = "#~TemporaryFile.dat~#"
)

type Store struct {
	fs       FS
	dir      string
	path     string
	tmp      string
	maxBytes int64
	log      *slog.Logger

	depth    int  // complete batches on disk, as last counted
	fallback int  // legacy line grouping, as last used by a reader
	dirty    bool // a failed append may have left a torn tail
}

type Option func(*Store)

func WithFS(f FS) Option               { return func(s *Store) { s.fs = f } }
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.log = l } }

// WithName overrides the primary file name.
func WithName(name string) Option { return func(s *Store) { s.path = name } }

// WithFallbackSize sets how unframed lines are grouped when counting the
// backlog at Open. Readers update it with their own fallbackSize.
func WithFallbackSize(n int) Option { return func(s *Store) { s.fallback = n } }

// WithMaxBytes caps the file size; 0 disables the cap.
func WithMaxBytes(n int64) Option { return func(s *Store) { s.maxBytes = n } }

// Open prepares a store in dir and runs Recover. The directory must exist.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{fs: OS(), dir: dir, path: DefaultName, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "backlog")
	s.path = filepath.Join(dir, s.path)
	s.tmp = filepath.Join(dir, TempName)
	if err := s.Recover(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Depth is the number of complete batches on disk, counted at the last
// Recover or Prune and advanced by Append.
func (s *Store) Depth() int { return s.depth }

// HasBacklog reports whether the file exists and is non-empty.
func (s *Store) HasBacklog() bool {
	fi, err := s.fs.Stat(s.path)
	return err == nil && fi.Size() > 0
}

// Append writes b as one framed record and fsyncs before returning.
// An empty batch is a no-op.
func (s *Store) Append(b types.Batch) error {
	const op = "backlog.append"
	if b.Len() == 0 {
		return nil
	}
	if s.dirty {
		if err := s.Recover(); err != nil {
			return err
		}
	}
	rec := encodeBatch(b)
	if s.maxBytes > 0 {
		var size int64
		if fi, err := s.fs.Stat(s.path); err == nil {
			size = fi.Size()
		}
		if size+int64(len(rec)) > s.maxBytes {
			return errcode.New(errcode.BacklogFull, op, "backlog at capacity")
		}
	}

	f, err := s.fs.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return errcode.Wrap(errcode.IO, op, err)
	}
	if _, err := f.Write(rec); err != nil {
		f.Close()
		s.dirty = true
		return errcode.Wrap(errcode.IO, op, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.dirty = true
		return errcode.Wrap(errcode.IO, op, err)
	}
	if err := f.Close(); err != nil {
		s.dirty = true
		return errcode.Wrap(errcode.IO, op, err)
	}
	s.depth++
	return nil
}

// ReadOldestBatch returns the oldest complete batch without mutating the
// file. An absent file, or one holding only torn data, yields an empty
// batch. fallbackSize groups unframed lines.
func (s *Store) ReadOldestBatch(fallbackSize int) (types.Batch, error) {
	s.fallback = fallbackSize
	data, err := s.read()
	if err != nil || data == nil {
		return types.Batch{}, err
	}
	for _, r := range scan(data, fallbackSize) {
		if !r.torn {
			return r.batch, nil
		}
	}
	return types.Batch{}, nil
}

// PruneOldestBatch removes the oldest complete batch, and any torn bytes
// ahead of it, by rewriting the remainder. It reports whether complete
// batches remain; when none do the file is deleted.
func (s *Store) PruneOldestBatch(fallbackSize int) (bool, error) {
	const op = "backlog.prune"
	s.fallback = fallbackSize
	data, err := s.read()
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	recs := scan(data, fallbackSize)
	cut := len(data)
	for i, r := range recs {
		if !r.torn {
			cut = recs[i].end
			break
		}
	}
	rest := data[cut:]
	remaining := countComplete(scan(rest, fallbackSize))
	if remaining == 0 {
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, errcode.Wrap(errcode.IO, op, err)
		}
		s.fs.SyncDir(s.dir)
		s.depth = 0
		s.dirty = false
		return false, nil
	}
	if err := s.replace(rest); err != nil {
		return false, errcode.Wrap(errcode.IO, op, err)
	}
	s.depth = remaining
	return true, nil
}

// Recover finishes an interrupted prune and drops torn records. It runs
// on Open and after a failed append.
func (s *Store) Recover() error {
	const op = "backlog.recover"
	_, tmpErr := s.fs.Stat(s.tmp)
	_, mainErr := s.fs.Stat(s.path)
	switch {
	case tmpErr == nil && errors.Is(mainErr, fs.ErrNotExist):
		// A complete temp file whose rename did not finish.
		s.log.Warn("completing interrupted prune", "tmp", s.tmp)
		if err := s.fs.Rename(s.tmp, s.path); err != nil {
			return errcode.Wrap(errcode.IO, op, err)
		}
		s.fs.SyncDir(s.dir)
	case tmpErr == nil:
		// The rename never happened: the primary is intact.
		s.log.Warn("removing stale temp file", "tmp", s.tmp)
		if err := s.fs.Remove(s.tmp); err != nil {
			return errcode.Wrap(errcode.IO, op, err)
		}
	}

	data, err := s.read()
	if err != nil {
		return err
	}
	s.dirty = false
	if data == nil {
		s.depth = 0
		return nil
	}
	// Fallback 1 keeps every legacy line; grouping is only needed to find
	// batch boundaries and the bytes are copied through unchanged.
	recs := scan(data, 1)
	var clean []byte
	torn := 0
	for _, r := range recs {
		if r.torn {
			torn++
			continue
		}
		clean = append(clean, data[r.start:r.end]...)
	}
	if torn == 0 {
		s.depth = countComplete(scan(data, s.fallback))
		return nil
	}
	s.log.Warn("discarding torn records", "count", torn)
	if len(clean) == 0 {
		if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errcode.Wrap(errcode.IO, op, err)
		}
		s.fs.SyncDir(s.dir)
		s.depth = 0
		return nil
	}
	if err := s.replace(clean); err != nil {
		return errcode.Wrap(errcode.IO, op, err)
	}
	s.depth = countComplete(scan(clean, s.fallback))
	return nil
}

// replace swaps the primary for data: write temp, fsync, rename over the
// primary, fsync dir. The primary is never absent, so any failure leaves
// it as it was and the temp file is stale.
func (s *Store) replace(data []byte) error {
	f, err := s.fs.OpenFile(s.tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.fs.Remove(s.tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(s.tmp)
		return err
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(s.tmp)
		return err
	}
	if err := s.fs.Rename(s.tmp, s.path); err != nil {
		s.fs.Remove(s.tmp)
		return err
	}
	s.fs.SyncDir(s.dir)
	return nil
}

// read returns the whole file, or nil if it does not exist.
func (s *Store) read() ([]byte, error) {
	f, err := s.fs.OpenFile(s.path, os.O_RDONLY, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, "backlog.read", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errcode.Wrap(errcode.IO, "backlog.read", err)
	}
	return data, nil
}

func countComplete(recs []record) int {
	n := 0
	for _, r := range recs {
		if !r.torn {
			n++
		}
	}
	return n
}
