package transaction

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	// LockFileName is created inside the target directory for the length of
	// a run.
	LockFileName = ".portable.lock"

	// StaleLockThreshold is the age after which a lock without a readable
	// pid is reclaimed. Locks naming a pid are reclaimed only once that
	// process has exited, however old they are.
	StaleLockThreshold = 10 * time.Minute
)

var ErrLockExists = errors.New("target directory is locked: another provisioning run may be in progress")

// Lock is an exclusive hold on a target directory.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes the lock for dir, creating dir if needed. The lock file
// is created with O_EXCL; a stale lock is removed and acquisition retried
// once.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, LockFileName)

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(ctx, lockPath, time.Now()); !stale {
			return nil, ErrLockExists
		}
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err != nil {
			return nil, ErrLockExists
		}
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	return &Lock{path: lockPath, file: file}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release closes and removes the lock file. It is safe to call twice.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// isLockStale reports whether the run that wrote lockPath is gone. The
// holder's pid decides when it can be read; the file age is the fallback.
func isLockStale(ctx context.Context, lockPath string, now time.Time) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}

	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false, err
	}
	if pid, ok := lockHolder(string(data)); ok {
		alive, err := process.PidExistsWithContext(ctx, pid)
		if err != nil {
			return false, fmt.Errorf("check lock holder %d: %w", pid, err)
		}
		return !alive, nil
	}

	return now.Sub(info.ModTime()) > StaleLockThreshold, nil
}

// lockHolder reads the pid= line of a lock file.
func lockHolder(data string) (int32, bool) {
	for _, line := range strings.Split(data, "\n") {
		value, found := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !found {
			continue
		}
		pid, err := strconv.ParseInt(value, 10, 32)
		if err != nil || pid <= 0 {
			return 0, false
		}
		return int32(pid), true
	}
	return 0, false
}
