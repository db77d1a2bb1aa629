package deployment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codadeploy/internal/security"
)

// ErrLocked is returned by TryLock when another task holds the label.
var ErrLocked = errors.New("another task is already running for this label")

// LockManager serializes mutating tasks per label across processes on this
// machine using lock files in dir.
//
// A lock file holds the owner's pid and run ID. Locks left behind by a crashed
// process must be removed by hand; the error names the file.
type LockManager struct {
	dir string
}

// NewLockManager creates a lock manager storing lock files under dir.
func NewLockManager(dir string) *LockManager {
	return &LockManager{dir: dir}
}

// TryLock attempts to acquire the lock for label without blocking.
// The returned function releases it.
func (lm *LockManager) TryLock(label, runID string) (func() error, error) {
	if err := security.ValidateLabel(label); err != nil {
		return nil, fmt.Errorf("invalid label: %w", err)
	}
	if err := security.CreateSecureDir(lm.dir, security.PermDirectory); err != nil {
		return nil, err
	}

	path := lm.path(label)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, security.PermConfigFile)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w (%s, lock file %s)", ErrLocked, strings.TrimSpace(string(owner)), path)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := fmt.Fprintf(f, "pid=%d run=%s since=%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", werr)
	}

	return func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to release lock: %w", err)
		}
		return nil
	}, nil
}

// Holder describes the current owner of label's lock, or "" when unlocked.
func (lm *LockManager) Holder(label string) string {
	data, err := os.ReadFile(lm.path(label))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (lm *LockManager) path(label string) string {
	return filepath.Join(lm.dir, label+".lock")
}
