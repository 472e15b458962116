// Package session implements the lifecycle commands that act on session
// records from outside the loop: start, resume, stop, remove and cleanup.
// The CLI and the HTTP server share it.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/process"
	"github.com/Iron-Ham/ralphloop/internal/state"
)

// Spec describes a new session.
type Spec struct {
	Name             string
	PID              int
	Dir              string
	TaskFile         string
	MaxIterations    int
	CompletionMarker string
	Backend          string
	Model            string
	LogFile          string
}

func (s Spec) fields(now time.Time) state.Fields {
	return state.Fields{
		state.KeyPID:              s.PID,
		state.KeyDir:              s.Dir,
		state.KeyTaskFile:         s.TaskFile,
		state.KeyIteration:        0,
		state.KeyMaxIterations:    s.MaxIterations,
		state.KeyCompletionMarker: s.CompletionMarker,
		state.KeyLastTaskCount:    state.UnknownTaskCount,
		state.KeyBackend:          s.Backend,
		state.KeyModel:            s.Model,
		state.KeyLogFile:          s.LogFile,
		state.KeyStartedAt:        now,
	}
}

// ResumeSpec describes how a session is brought back to running.
type ResumeSpec struct {
	PID int
	// MaxIterations raises the budget when positive.
	MaxIterations int
	LogFile       string
}

// Service wraps a Store with lifecycle rules.
type Service struct {
	store     *state.Store
	liveness  process.Checker
	terminate func(pid int) error
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLiveness replaces the process liveness check.
func WithLiveness(c process.Checker) Option {
	return func(s *Service) { s.liveness = c }
}

// WithTerminator replaces the function that signals a session's process.
func WithTerminator(fn func(pid int) error) Option {
	return func(s *Service) { s.terminate = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over store.
func NewService(store *state.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		liveness:  process.OS{},
		terminate: process.Terminate,
		logger:    logging.NopLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() *state.Store { return s.store }

// Start creates a running session. Names are unique; an existing record,
// whatever its status, must be resumed or removed first.
func (s *Service) Start(ctx context.Context, spec Spec) (state.Record, error) {
	if err := state.ValidateName(spec.Name); err != nil {
		return state.Record{}, err
	}
	if spec.MaxIterations <= 0 {
		return state.Record{}, errors.NewValidationError("max iterations must be greater than zero").
			WithField("maxIterations").WithValue(spec.MaxIterations)
	}
	rec, err := s.store.Create(ctx, spec.Name, spec.fields(s.now()))
	if err != nil {
		return state.Record{}, err
	}
	s.logger.WithSession(spec.Name).Info("session started", "pid", spec.PID, "dir", spec.Dir)
	return rec, nil
}

// Resume moves a stale, stopped, failed or max_iterations session back to
// running with a fresh pid. A running session whose process has died is
// also taken over. Complete sessions cannot be resumed.
func (s *Service) Resume(ctx context.Context, name string, spec ResumeSpec) (state.Record, error) {
	rec, err := s.store.Update(ctx, name, func(rec *state.Record) error {
		switch {
		case rec.Status == state.StatusRunning:
			if rec.PID > 0 && rec.PID != spec.PID && s.liveness.IsAlive(rec.PID) {
				return errors.NewSessionError(
					fmt.Sprintf("already running as pid %d", rec.PID),
					errors.ErrSessionActive,
				).WithSession(name)
			}
		case !state.Resumable(rec.Status):
			return errors.NewSessionError(
				fmt.Sprintf("cannot resume a session with status %q", rec.Status),
				errors.ErrInvalidTransition,
			).WithSession(name)
		}

		if spec.MaxIterations > 0 {
			rec.MaxIterations = spec.MaxIterations
		}
		if rec.Iteration >= rec.MaxIterations {
			return errors.NewValidationError(
				fmt.Sprintf("session used %d of %d iterations; raise the budget to resume", rec.Iteration, rec.MaxIterations),
			).WithField("maxIterations").WithValue(rec.MaxIterations)
		}

		rec.Status = state.StatusRunning
		rec.PID = spec.PID
		rec.Error = ""
		if spec.LogFile != "" {
			rec.LogFile = spec.LogFile
		}
		return nil
	})
	if err != nil {
		return state.Record{}, err
	}
	s.logger.WithSession(name).Info("session resumed", "pid", spec.PID, "iteration", rec.Iteration)
	return rec, nil
}

// Stop marks a running session stopped and signals its process if it is
// still alive. The loop notices the status at its next transition.
func (s *Service) Stop(ctx context.Context, name string) (state.Record, error) {
	current, err := s.store.Get(ctx, name)
	if err != nil {
		return state.Record{}, err
	}
	if current.Status != state.StatusRunning {
		return state.Record{}, errors.NewSessionError(
			fmt.Sprintf("cannot stop a session with status %q", current.Status),
			errors.ErrInvalidTransition,
		).WithSession(name)
	}

	rec, err := s.store.Transition(ctx, name, state.StatusStopped, nil)
	if err != nil {
		return state.Record{}, err
	}

	logger := s.logger.WithSession(name)
	if rec.PID > 0 && rec.PID != process.Current() && s.liveness.IsAlive(rec.PID) {
		if err := s.terminate(rec.PID); err != nil {
			logger.Warn("failed to signal session process", "pid", rec.PID, "error", err.Error())
		} else {
			logger.Info("signaled session process", "pid", rec.PID)
		}
	}
	logger.Info("session stopped")
	return rec, nil
}

// Remove deletes a session record. A running session with a live process
// is refused unless force is set.
func (s *Service) Remove(ctx context.Context, name string, force bool) error {
	rec, err := s.store.Get(ctx, name)
	if err != nil {
		return err
	}
	if !force && rec.Status == state.StatusRunning && rec.PID > 0 && s.liveness.IsAlive(rec.PID) {
		return errors.NewSessionError(
			fmt.Sprintf("still running as pid %d; stop it first", rec.PID),
			errors.ErrSessionActive,
		).WithSession(name)
	}
	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.WithSession(name).Info("session removed")
	return nil
}

// Cleanup marks or removes running sessions whose process is gone.
func (s *Service) Cleanup(ctx context.Context, mode state.CleanupMode) ([]string, error) {
	names, err := s.store.CleanupStale(ctx, mode)
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		s.logger.Info("cleaned up stale sessions", "count", len(names), "mode", mode.String())
	}
	return names, nil
}
