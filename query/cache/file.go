package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/satishbabariya/gorel/internal/debug"
)

// FileStore keeps one msgpack-encoded file per entry under a directory.
type FileStore struct {
	fs  afero.Fs
	dir string
	now func() time.Time
}

// NewFileStore creates a store rooted at dir on fs.
func NewFileStore(fs afero.Fs, dir string) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{fs: fs, dir: dir, now: time.Now}, nil
}

// SetClock replaces the time source used for expiry.
func (s *FileStore) SetClock(now func() time.Time) { s.now = now }

// path shards entries by the first bytes of the key hash.
func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.dir, name[:2], name[2:4], name)
}

// Get reads an entry. Corrupt and expired files are deleted and reported as misses.
func (s *FileStore) Get(_ context.Context, key string) (Entry, bool, error) {
	path := s.path(key)
	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		debug.Warn("discarding corrupt cache entry", "path", path, "error", err)
		_ = s.fs.Remove(path)
		return Entry{}, false, nil
	}
	if e.Expired(s.now()) {
		_ = s.fs.Remove(path)
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Put writes an entry through a temporary file and a rename.
func (s *FileStore) Put(_ context.Context, key string, e Entry) error {
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return err
	}
	path := s.path(key)
	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := afero.TempFile(s.fs, filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = s.fs.Rename(tmp, path)
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
	}
	return err
}

func (s *FileStore) Forget(_ context.Context, key string) error {
	err := s.fs.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Flush removes the whole directory and recreates it.
func (s *FileStore) Flush(context.Context) error {
	if err := s.fs.RemoveAll(s.dir); err != nil {
		return err
	}
	return s.fs.MkdirAll(s.dir, 0o755)
}

// Lock returns a lock file under the store's locks directory.
func (s *FileStore) Lock(name string, lease time.Duration) Lock {
	sum := sha256.Sum256([]byte(name))
	return NewFileLock(s.fs, filepath.Join(s.dir, "locks", hex.EncodeToString(sum[:16])+".lock"), lease)
}
