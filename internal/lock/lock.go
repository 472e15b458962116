// Package lock serializes access to the session state file across processes.
//
// The Manager prefers an advisory flock(2) on a dedicated lock file. When the
// host filesystem cannot do advisory locking at all (NFS without lockd, some
// FUSE mounts), it switches once and for the rest of the process lifetime to
// a mkdir-based lock directory carrying an owner pid marker.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/process"
)

// Default timing for lock acquisition.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Strategy identifies the primitive that holds a lock.
type Strategy string

const (
	// StrategyPrimary is an advisory exclusive flock on the lock file.
	StrategyPrimary Strategy = "primary"
	// StrategyFallback is an exclusively created lock directory.
	StrategyFallback Strategy = "fallback"
)

// Options configures a Manager.
type Options struct {
	// LockFile is the file used by the primary strategy.
	LockFile string
	// LockDir is the directory created by the fallback strategy.
	LockDir string
	// Timeout bounds a single acquisition. Defaults to DefaultTimeout.
	Timeout time.Duration
	// PollInterval is the retry interval while contended. Defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Liveness decides whether the owner of a fallback lock is still running.
	// Defaults to process.OS.
	Liveness process.Checker
	// Logger receives fallback and stale-lock events. May be nil.
	Logger *logging.Logger
	// ForceFallback skips the primary strategy entirely.
	ForceFallback bool
	// OnAcquire, if set, is called after every successful acquisition with
	// the strategy used and how long the caller waited.
	OnAcquire func(strategy Strategy, waited time.Duration)
}

// Manager hands out the single named lock for a state directory.
// It is safe for concurrent use; goroutines in one process are serialized
// before they touch the on-disk primitive.
type Manager struct {
	opts Options

	// sem serializes holders inside this process.
	sem chan struct{}

	mu       sync.Mutex
	fallback bool

	newPrimary func(path string) fileLocker
}

// New creates a Manager. Nothing touches the filesystem until Acquire.
func New(opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Liveness == nil {
		opts.Liveness = process.OS{}
	}
	if opts.LockDir == "" && opts.LockFile != "" {
		opts.LockDir = opts.LockFile + ".d"
	}
	return &Manager{
		opts:       opts,
		sem:        make(chan struct{}, 1),
		fallback:   opts.ForceFallback,
		newPrimary: newFlockLocker,
	}
}

// Strategy reports the strategy the next acquisition will use.
func (m *Manager) Strategy() Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fallback {
		return StrategyFallback
	}
	return StrategyPrimary
}

// Timeout returns the configured acquisition bound.
func (m *Manager) Timeout() time.Duration { return m.opts.Timeout }

func (m *Manager) useFallback(cause error) {
	m.mu.Lock()
	already := m.fallback
	m.fallback = true
	m.mu.Unlock()
	if !already {
		m.opts.Logger.Warn("advisory file locks unsupported, switching to lock directory",
			"lock_file", m.opts.LockFile,
			"lock_dir", m.opts.LockDir,
			"error", cause.Error())
	}
}

// Acquire blocks until the lock is held, ctx is done, or the timeout elapses.
// A timeout is reported as a *errors.TimeoutError matching errors.ErrLockTimeout.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	start := time.Now()
	deadline := start.Add(m.opts.Timeout)

	if err := m.enter(ctx, deadline); err != nil {
		return nil, err
	}

	h, err := m.acquire(ctx, deadline)
	if err != nil {
		<-m.sem
		return nil, err
	}
	h.exit = func() { <-m.sem }

	if m.opts.OnAcquire != nil {
		m.opts.OnAcquire(h.strategy, time.Since(start))
	}
	return h, nil
}

func (m *Manager) enter(ctx context.Context, deadline time.Time) error {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for state lock")
	case <-timer.C:
		return m.timeoutError()
	}
}

func (m *Manager) acquire(ctx context.Context, deadline time.Time) (*Handle, error) {
	if m.Strategy() == StrategyPrimary {
		if err := os.MkdirAll(filepath.Dir(m.opts.LockFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create lock directory: %w", err)
		}
		h, err := m.acquirePrimary(ctx, deadline)
		if !isUnsupported(err) {
			return h, err
		}
		m.useFallback(err)
	}

	if err := os.MkdirAll(filepath.Dir(m.opts.LockDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return m.acquireDir(ctx, deadline)
}

func (m *Manager) timeoutError() error {
	return errors.NewTimeoutError("acquiring state lock", m.opts.Timeout).WithCause(errors.ErrLockTimeout)
}

// wait sleeps one poll interval, returning early on cancellation or with a
// timeout error once deadline has passed.
func (m *Manager) wait(ctx context.Context, deadline time.Time) error {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return m.timeoutError()
	}
	d := min(m.opts.PollInterval, remaining)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for state lock")
	case <-timer.C:
		return nil
	}
}

// WithLock runs fn while holding the lock. A release failure is reported
// only when fn itself succeeded.
func (m *Manager) WithLock(ctx context.Context, fn func() error) (err error) {
	h, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := h.Release(); relErr != nil && err == nil {
			err = fmt.Errorf("failed to release state lock: %w", relErr)
		}
	}()
	return fn()
}

// Handle is proof of lock ownership. Release it exactly once; further
// calls are no-ops.
type Handle struct {
	strategy Strategy

	mu       sync.Mutex
	released bool
	release  func() error
	exit     func()
}

// Strategy reports which primitive holds the lock.
func (h *Handle) Strategy() Strategy { return h.strategy }

// Release gives the lock up. Releasing twice returns nil.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	var err error
	if h.release != nil {
		err = h.release()
	}
	if h.exit != nil {
		h.exit()
	}
	return err
}
