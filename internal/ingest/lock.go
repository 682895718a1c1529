package ingest

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// ErrLocked is returned when another writer holds the store lock.
var ErrLocked = errors.New("store is locked by another writer")

// fileLock is a create-exclusive lock file holding the owner's pid.
type fileLock struct {
	path string
}

// acquireLock creates the lock file at path. A lock left behind by a writer
// whose process no longer exists is removed and taken over once.
func acquireLock(path string) (*fileLock, error) {
	l, err := createLock(path)
	if !errors.Is(err, ErrLocked) {
		return l, err
	}
	if pid, ok := stalePid(path); ok {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("removing stale lock %s of pid %d: %w", path, pid, rmErr)
		}
		return createLock(path)
	}
	return nil, err
}

func createLock(path string) (*fileLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (%s held by pid %s; remove it if no ipslamon writer is running)",
				ErrLocked, path, strings.TrimSpace(string(owner)))
		}
		return nil, fmt.Errorf("creating lock %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("writing lock %s: %w", path, err)
	}
	return &fileLock{path: path}, nil
}

// stalePid reports the pid recorded in the lock at path when that process is
// gone. An unreadable or empty lock is never stale: its writer may be between
// create and write.
func stalePid(path string) (int32, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil || pid <= 0 || int(pid) == os.Getpid() {
		return 0, false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil || alive {
		return 0, false
	}
	return int32(pid), true
}

func (l *fileLock) release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock %s: %w", l.path, err)
	}
	return nil
}
