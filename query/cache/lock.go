package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FileLock is an advisory lock held by exclusively creating a file. The file records the
// owner and the lease expiry so a lock abandoned by a crashed holder can be broken.
type FileLock struct {
	fs    afero.Fs
	path  string
	lease time.Duration
	owner string
	now   func() time.Time
}

// NewFileLock creates a lock at path. A zero lease never expires.
func NewFileLock(fs afero.Fs, path string, lease time.Duration) *FileLock {
	return &FileLock{fs: fs, path: path, lease: lease, owner: uuid.NewString(), now: time.Now}
}

// TryAcquire creates the lock file, breaking it first if its lease has run out.
func (l *FileLock) TryAcquire() (bool, error) {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, err
	}
	for attempt := 0; attempt < 2; attempt++ {
		f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			var expires int64
			if l.lease > 0 {
				expires = l.now().Add(l.lease).UnixNano()
			}
			_, werr := fmt.Fprintf(f, "%s %d", l.owner, expires)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = l.fs.Remove(l.path)
				return false, errors.Join(werr, cerr)
			}
			return true, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return false, err
		}
		if !l.expired() {
			return false, nil
		}
		if err := l.fs.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// Release removes the lock file when this lock still owns it.
func (l *FileLock) Release() error {
	owner, _, err := l.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != l.owner {
		return nil
	}
	return l.fs.Remove(l.path)
}

// expired reports whether the current holder's lease has run out. A half-written lock file
// is judged by its modification time.
func (l *FileLock) expired() bool {
	_, expires, err := l.read()
	if err == nil {
		return expires != 0 && l.now().UnixNano() >= expires
	}
	info, serr := l.fs.Stat(l.path)
	return serr == nil && l.lease > 0 && l.now().After(info.ModTime().Add(l.lease))
}

func (l *FileLock) read() (string, int64, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		return "", 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "", 0, fmt.Errorf("malformed lock file %s", l.path)
	}
	expires, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed lock file %s: %w", l.path, err)
	}
	return fields[0], expires, nil
}
