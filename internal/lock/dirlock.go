package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/process"
)

const (
	ownerFileName  = "owner"
	takeoverSuffix = ".takeover"
)

// owner is the marker written inside a held lock directory.
type owner struct {
	pid   int
	token string
}

func (o owner) String() string {
	return fmt.Sprintf("%d\n%s\n", o.pid, o.token)
}

func readOwner(dir string) (owner, error) {
	data, err := os.ReadFile(filepath.Join(dir, ownerFileName))
	if err != nil {
		return owner{}, err
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return owner{}, fmt.Errorf("invalid owner pid %q: %w", lines[0], err)
	}
	o := owner{pid: pid}
	if len(lines) == 2 {
		o.token = strings.TrimSpace(lines[1])
	}
	return o, nil
}

func (m *Manager) acquireDir(ctx context.Context, deadline time.Time) (*Handle, error) {
	dir := m.opts.LockDir
	me := owner{pid: process.Current(), token: uuid.NewString()}

	for {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			if werr := os.WriteFile(filepath.Join(dir, ownerFileName), []byte(me.String()), 0644); werr != nil {
				_ = os.RemoveAll(dir)
				return nil, fmt.Errorf("failed to write lock owner: %w", werr)
			}
			return &Handle{
				strategy: StrategyFallback,
				release:  func() error { return releaseDir(dir, me) },
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
		}

		if seen, stale := m.inspect(dir); stale {
			retry, err := m.removeStale(dir, seen)
			if err != nil {
				return nil, err
			}
			if retry {
				continue
			}
		}

		if err := m.wait(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

// inspect reports whether the lock directory belongs to a dead process,
// along with a fingerprint of what was observed. A directory without a
// readable marker is normally a holder between mkdir and writing the marker;
// it is only treated as stale once it is older than the acquisition timeout.
func (m *Manager) inspect(dir string) (string, bool) {
	o, err := readOwner(dir)
	if err == nil {
		return o.String(), !m.opts.Liveness.IsAlive(o.pid)
	}
	info, statErr := os.Stat(dir)
	if statErr != nil {
		return "", false
	}
	return "mtime " + info.ModTime().String(), time.Since(info.ModTime()) > m.opts.Timeout
}

// removeStale deletes a stale lock directory. Removal happens under a
// sibling takeover directory and only if the lock directory still shows what
// the caller saw, so a waiter acting on an old observation cannot delete a
// lock another waiter has since taken. retry is false when another waiter
// holds the takeover directory.
func (m *Manager) removeStale(dir, seen string) (retry bool, err error) {
	guard := dir + takeoverSuffix
	if err := os.Mkdir(guard, 0755); err != nil {
		if !errors.Is(err, os.ErrExist) {
			return false, fmt.Errorf("failed to create lock takeover directory %s: %w", guard, err)
		}
		// a takeover only lasts a few syscalls; an old one was abandoned
		if info, serr := os.Stat(guard); serr == nil && time.Since(info.ModTime()) > m.opts.Timeout {
			_ = os.Remove(guard)
		}
		return false, nil
	}
	defer os.Remove(guard)

	current, stale := m.inspect(dir)
	if !stale || current != seen {
		return true, nil
	}
	m.opts.Logger.Warn("removing stale lock directory", "lock_dir", dir)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to remove stale lock directory: %w", err)
	}
	return true, nil
}

// releaseDir removes the lock directory if it still carries our marker.
func releaseDir(dir string, me owner) error {
	current, err := readOwner(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read lock owner: %w", err)
	}
	if current != me {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove lock directory: %w", err)
	}
	return nil
}
