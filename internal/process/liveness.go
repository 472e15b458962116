// Package process reports whether operating-system processes are alive.
// The state store and the lock manager take a Checker so tests can decide
// liveness without spawning real processes.
package process

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Checker reports whether a process id refers to a running process.
type Checker interface {
	IsAlive(pid int) bool
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(pid int) bool

// IsAlive calls f(pid).
func (f CheckerFunc) IsAlive(pid int) bool { return f(pid) }

// OS probes real processes with signal 0.
type OS struct{}

// IsAlive returns true when pid exists. EPERM means the process exists but
// belongs to another user, which still counts as alive. Non-positive pids
// are never alive.
func (OS) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Current returns the pid of the calling process.
func Current() int {
	return os.Getpid()
}

// Terminate sends SIGTERM to pid. A process that has already exited is not
// an error.
func Terminate(pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
