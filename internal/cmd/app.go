package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/ralphloop/internal/ai"
	"github.com/Iron-Ham/ralphloop/internal/config"
	"github.com/Iron-Ham/ralphloop/internal/lock"
	"github.com/Iron-Ham/ralphloop/internal/logging"
	"github.com/Iron-Ham/ralphloop/internal/metrics"
	"github.com/Iron-Ham/ralphloop/internal/process"
	"github.com/Iron-Ham/ralphloop/internal/session"
	"github.com/Iron-Ham/ralphloop/internal/state"
	"github.com/Iron-Ham/ralphloop/internal/tasks"
	"github.com/spf13/viper"
)

// newBackend builds the configured backend. Tests replace it.
var newBackend = ai.NewFromConfig

// app holds the collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	paths    config.StatePaths
	logger   *logging.Logger
	metrics  *metrics.Recorder
	locks    *lock.Manager
	store    *state.Store
	sessions *session.Service
	liveness process.Checker
}

// newApp loads the configuration from viper and wires the state store.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := cliLogger(viper.GetString("cli.log_level"))
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg, logger, process.OS{})
}

// cliLogger writes command diagnostics to stderr, at WARN unless asked.
func cliLogger(level string) (*logging.Logger, error) {
	if level == "" {
		level = logging.LevelWarn
	}
	return logging.New(logging.Options{Writer: os.Stderr, Level: level})
}

func newAppFromConfig(cfg *config.Config, logger *logging.Logger, liveness process.Checker) (*app, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	a := &app{
		cfg:      cfg,
		paths:    cfg.Paths(),
		logger:   logger,
		metrics:  metrics.New(nil),
		liveness: liveness,
	}

	if err := os.MkdirAll(a.paths.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	a.locks = lock.New(lock.Options{
		LockFile:     a.paths.LockFile,
		LockDir:      a.paths.LockDir,
		Timeout:      a.paths.LockTimeout,
		PollInterval: a.paths.LockPoll,
		Liveness:     liveness,
		Logger:       logger,
		OnAcquire:    a.metrics.LockAcquired,
	})

	store, err := state.New(state.Options{
		File:     a.paths.File,
		Lock:     a.locks,
		Liveness: liveness,
		Logger:   logger,
		OnRepair: a.metrics.StateRepaired,
	})
	if err != nil {
		return nil, err
	}
	a.store = store
	a.sessions = session.NewService(store,
		session.WithLiveness(liveness),
		session.WithLogger(logger),
	)
	return a, nil
}

// init creates the state file if it does not exist yet.
func (a *app) init(ctx context.Context) error {
	return a.store.Init(ctx)
}

// parser builds the task parser from the tasks section.
func (a *app) parser() (*tasks.Parser, error) {
	t := a.cfg.Tasks
	return tasks.NewParserFromPatterns(t.HeaderPattern, t.Terminators, t.UncheckedPattern)
}

// sessionLogger opens the rotated log file of a session.
func (a *app) sessionLogger(name string) (*logging.Logger, error) {
	logger, err := logging.New(logging.Options{
		Path:  a.paths.SessionLogFile(name),
		Level: a.cfg.Logging.Level,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  a.cfg.Logging.MaxSizeMB,
			MaxBackups: a.cfg.Logging.MaxBackups,
			Compress:   a.cfg.Logging.Compress,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session log: %w", err)
	}
	return logger, nil
}
