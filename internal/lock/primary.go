package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/ralphloop/internal/errors"
)

// fileLocker is the subset of *flock.Flock the primary strategy needs.
type fileLocker interface {
	TryLock() (bool, error)
	Unlock() error
}

func newFlockLocker(path string) fileLocker {
	return flock.New(path, flock.SetPermissions(0644))
}

// unsupportedErrnos mean the filesystem cannot do advisory locking at all,
// as opposed to the lock merely being held.
var unsupportedErrnos = []unix.Errno{
	unix.ENOLCK,
	unix.ENOTSUP,
	unix.EOPNOTSUPP,
	unix.ENOSYS,
	unix.EINVAL,
}

func isUnsupported(err error) bool {
	if err == nil {
		return false
	}
	for _, errno := range unsupportedErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func (m *Manager) acquirePrimary(ctx context.Context, deadline time.Time) (*Handle, error) {
	fl := m.newPrimary(m.opts.LockFile)
	for {
		ok, err := fl.TryLock()
		if err != nil {
			if isUnsupported(err) {
				return nil, err
			}
			return nil, fmt.Errorf("flock %s: %w", m.opts.LockFile, err)
		}
		if ok {
			return &Handle{strategy: StrategyPrimary, release: fl.Unlock}, nil
		}
		if err := m.wait(ctx, deadline); err != nil {
			return nil, err
		}
	}
}
