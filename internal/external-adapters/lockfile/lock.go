// Package lockfile provides per-version release locks backed by flock(2).
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/ochairo/macrelease/internal/domain/entities"
	"github.com/ochairo/macrelease/internal/domain/interfaces/gateways"
)

// Locker hands out locks under <dir>/<version>.lock.
// The OS drops the lock when the process exits, so a crashed run never blocks the next one.
type Locker struct {
	dir string
}

var _ gateways.ReleaseLock = (*Locker)(nil)

// NewLocker creates a locker rooted at dir
func NewLocker(dir string) *Locker {
	return &Locker{dir: dir}
}

// Path returns the lock file used for version
func (l *Locker) Path(version string) string {
	name := strings.NewReplacer("/", "_", string(filepath.Separator), "_", "..", "_").Replace(version)
	return filepath.Join(l.dir, name+".lock")
}

// Acquire implements gateways.ReleaseLock
func (l *Locker) Acquire(version string) (func() error, error) {
	if err := os.MkdirAll(l.dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	path := l.Path(version)
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, &entities.ConcurrentReleaseError{Version: version, LockPath: path}
	}

	return lock.Unlock, nil
}
