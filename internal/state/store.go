// Package state persists session records in a single JSON file shared by
// every ralphloop process on the host.
//
// Every operation takes the cross-process lock, reads the whole file,
// applies its change and replaces the file atomically. The file has one
// top-level key, "sessions", mapping session name to a flat object, so other
// tools can read it without this package.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/Iron-Ham/ralphloop/internal/errors"
	"github.com/Iron-Ham/ralphloop/internal/lock"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/process"
)

// DefaultFileName is the state file name inside the state directory.
const DefaultFileName = "sessions.json"

// Options configures a Store.
type Options struct {
	// Dir holds the state file. Ignored when File is absolute.
	Dir string
	// File is the state file path. Defaults to Dir/sessions.json.
	File string
	// Lock guards the file. Defaults to a Manager on File + ".lock".
	Lock *lock.Manager
	// Liveness decides whether a recorded pid is still running.
	Liveness process.Checker
	Logger   *logging.Logger
	// Now stamps updatedAt. Defaults to time.Now.
	Now func() time.Time
	// OnRepair is called after a corrupt state file has been reset.
	OnRepair func(path string, cause error)
}

// Store is the session state store. It is safe for concurrent use by
// multiple goroutines and processes.
type Store struct {
	path     string
	lock     *lock.Manager
	liveness process.Checker
	logger   *logging.Logger
	now      func() time.Time
	onRepair func(string, error)
}

// stateFile is the on-disk root object.
type stateFile struct {
	Sessions map[string]map[string]any `json:"sessions"`
}

// New creates a Store. It does not touch the filesystem; call Init.
func New(opts Options) (*Store, error) {
	path := opts.File
	if path == "" {
		if opts.Dir == "" {
			return nil, errors.NewValidationError("state directory or file is required").WithField("state.dir")
		}
		path = filepath.Join(opts.Dir, DefaultFileName)
	} else if !filepath.IsAbs(path) && opts.Dir != "" {
		path = filepath.Join(opts.Dir, path)
	}

	s := &Store{
		path:     path,
		lock:     opts.Lock,
		liveness: opts.Liveness,
		logger:   opts.Logger,
		now:      opts.Now,
		onRepair: opts.OnRepair,
	}
	if s.liveness == nil {
		s.liveness = process.OS{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lock == nil {
		s.lock = lock.New(lock.Options{
			LockFile: path + ".lock",
			Liveness: s.liveness,
			Logger:   s.logger,
		})
	}
	return s, nil
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// -----------------------------------------------------------------------------
// File I/O (callers hold the lock)
// -----------------------------------------------------------------------------

func (s *Store) read() (map[string]map[string]any, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	sessions, perr := decodeState(data)
	if perr == nil {
		return sessions, nil
	}

	s.logger.Warn("state file is corrupt, resetting to empty",
		"path", s.path,
		"error", perr.Error(),
		"bytes", len(data))
	if err := s.write(map[string]map[string]any{}); err != nil {
		return nil, fmt.Errorf("failed to reset corrupt state file: %w", err)
	}
	if s.onRepair != nil {
		s.onRepair(s.path, perr)
	}
	return map[string]map[string]any{}, nil
}

func decodeState(data []byte) (map[string]map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrap(errors.ErrCorruptState, "empty state file")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var sf stateFile
	if err := dec.Decode(&sf); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrCorruptState, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after state object", errors.ErrCorruptState)
	}
	if sf.Sessions == nil {
		sf.Sessions = map[string]map[string]any{}
	}
	for name, raw := range sf.Sessions {
		if raw == nil {
			sf.Sessions[name] = map[string]any{}
		}
	}
	return sf.Sessions, nil
}

func (s *Store) write(sessions map[string]map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(stateFile{Sessions: sessions}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	data = append(data, '\n')
	return writeFileAtomic(s.path, data, targetMode(s.path, 0644))
}

// mutate runs fn over the current sessions under the lock and persists the
// result when fn reports a change.
func (s *Store) mutate(ctx context.Context, fn func(sessions map[string]map[string]any) (bool, error)) error {
	return s.lock.WithLock(ctx, func() error {
		sessions, err := s.read()
		if err != nil {
			return err
		}
		changed, err := fn(sessions)
		if err != nil || !changed {
			return err
		}
		return s.write(sessions)
	})
}

// -----------------------------------------------------------------------------
// Operations
// -----------------------------------------------------------------------------

// Init ensures the state directory and file exist. A missing file is created
// empty; a corrupt one is reset to empty.
func (s *Store) Init(ctx context.Context) error {
	return s.lock.WithLock(ctx, func() error {
		if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
			return s.write(map[string]map[string]any{})
		}
		_, err := s.read()
		return err
	})
}

// Get returns the named record. A missing record is a *errors.NotFoundError.
func (s *Store) Get(ctx context.Context, name string) (Record, error) {
	var rec Record
	err := s.lock.WithLock(ctx, func() error {
		sessions, err := s.read()
		if err != nil {
			return err
		}
		raw, ok := sessions[name]
		if !ok {
			return errors.NewNotFoundError("session", name)
		}
		rec, err = decodeRecord(name, raw)
		return err
	})
	return rec, err
}

// Set upserts name with the given fields. Keys missing from fields keep
// their stored values; name is always written.
func (s *Store) Set(ctx context.Context, name string, fields Fields) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.mutate(ctx, func(sessions map[string]map[string]any) (bool, error) {
		raw, ok := sessions[name]
		if !ok {
			raw = map[string]any{}
			sessions[name] = raw
		}
		fields.apply(raw)
		raw[KeyName] = name
		raw[KeyUpdatedAt] = formatTime(s.now())
		return true, nil
	})
}

// Create adds name as a new running session. An existing record of the same
// name is an error wrapping errors.ErrAlreadyExists, whatever its status.
func (s *Store) Create(ctx context.Context, name string, fields Fields) (Record, error) {
	if err := ValidateName(name); err != nil {
		return Record{}, err
	}
	var rec Record
	err := s.mutate(ctx, func(sessions map[string]map[string]any) (bool, error) {
		if existing, ok := sessions[name]; ok {
			status, _ := existing[KeyStatus].(string)
			return false, errors.NewSessionError(
				fmt.Sprintf("session exists with status %q", status),
				errors.ErrAlreadyExists,
			).WithSession(name)
		}
		raw := map[string]any{}
		if fields != nil {
			fields.apply(raw)
		}
		raw[KeyName] = name
		raw[KeyStatus] = string(StatusRunning)
		raw[KeyUpdatedAt] = formatTime(s.now())
		if _, ok := raw[KeyStartedAt]; !ok {
			raw[KeyStartedAt] = formatTime(s.now())
		}
		sessions[name] = raw

		var err error
		rec, err = decodeRecord(name, raw)
		return true, err
	})
	return rec, err
}

// List returns every record sorted by name.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.lock.WithLock(ctx, func() error {
		sessions, err := s.read()
		if err != nil {
			return err
		}
		records = make([]Record, 0, len(sessions))
		for name, raw := range sessions {
			rec, err := decodeRecord(name, raw)
			if err != nil {
				s.logger.Warn("skipping undecodable session", "session", name, "error", err.Error())
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b Record) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return records, nil
}

// Delete removes name. A missing record is a *errors.NotFoundError.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.mutate(ctx, func(sessions map[string]map[string]any) (bool, error) {
		if _, ok := sessions[name]; !ok {
			return false, errors.NewNotFoundError("session", name)
		}
		delete(sessions, name)
		return true, nil
	})
}

// Update loads name, lets fn modify it and stores the result. Returning an
// error from fn leaves the file untouched.
func (s *Store) Update(ctx context.Context, name string, fn func(*Record) error) (Record, error) {
	var rec Record
	err := s.mutate(ctx, func(sessions map[string]map[string]any) (bool, error) {
		raw, ok := sessions[name]
		if !ok {
			return false, errors.NewNotFoundError("session", name)
		}
		var err error
		rec, err = decodeRecord(name, raw)
		if err != nil {
			return false, err
		}
		if err := fn(&rec); err != nil {
			return false, err
		}
		rec.Name = name
		rec.UpdatedAt = s.now()
		sessions[name] = rec.toMap()
		return true, nil
	})
	return rec, err
}

// Transition moves name to status `to` and applies fields in the same write.
// The move must be allowed by CanTransition. A missing session may only be
// created as running.
func (s *Store) Transition(ctx context.Context, name string, to Status, fields Fields) (Record, error) {
	var rec Record
	err := s.mutate(ctx, func(sessions map[string]map[string]any) (bool, error) {
		raw, ok := sessions[name]
		var from Status
		if ok {
			current, err := decodeRecord(name, raw)
			if err != nil {
				return false, err
			}
			from = current.Status
		} else {
			raw = map[string]any{}
		}
		if !CanTransition(from, to) {
			return false, errors.NewSessionError(
				fmt.Sprintf("cannot move from %q to %q", from, to),
				errors.ErrInvalidTransition,
			).WithSession(name)
		}

		if fields != nil {
			fields.apply(raw)
		}
		raw[KeyStatus] = string(to)
		raw[KeyName] = name
		raw[KeyUpdatedAt] = formatTime(s.now())
		sessions[name] = raw

		var err error
		rec, err = decodeRecord(name, raw)
		return true, err
	})
	return rec, err
}

// CleanupMode selects what CleanupStale does with dead sessions.
type CleanupMode int

const (
	// ModeMark sets status to stale.
	ModeMark CleanupMode = iota
	// ModeRemove deletes the record.
	ModeRemove
)

func (m CleanupMode) String() string {
	if m == ModeRemove {
		return "remove"
	}
	return "mark"
}

// CleanupStale finds running sessions whose pid is dead and marks or removes
// them. Sessions without a pid or with a live pid are left alone. It returns
// the names it changed, sorted.
func (s *Store) CleanupStale(ctx context.Context, mode CleanupMode) ([]string, error) {
	var cleaned []string
	err := s.mutate(ctx, func(sessions map[string]map[string]any) (bool, error) {
		for name, raw := range sessions {
			rec, err := decodeRecord(name, raw)
			if err != nil {
				s.logger.Warn("skipping undecodable session", "session", name, "error", err.Error())
				continue
			}
			if rec.Status != StatusRunning || rec.PID <= 0 {
				continue
			}
			if s.liveness.IsAlive(rec.PID) {
				continue
			}

			s.logger.Info("stale session",
				"session", name,
				"pid", rec.PID,
				"mode", mode.String())
			if mode == ModeRemove {
				delete(sessions, name)
			} else {
				raw[KeyStatus] = string(StatusStale)
				raw[KeyUpdatedAt] = formatTime(s.now())
			}
			cleaned = append(cleaned, name)
		}
		return len(cleaned) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(cleaned)
	if cleaned == nil {
		cleaned = []string{}
	}
	return cleaned, nil
}
