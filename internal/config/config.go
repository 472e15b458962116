package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "RALPH"

// Config represents the complete ralphloop configuration
type Config struct {
	State   StateConfig   `mapstructure:"state"`
	Loop    LoopConfig    `mapstructure:"loop"`
	Tasks   TasksConfig   `mapstructure:"tasks"`
	Backend BackendConfig `mapstructure:"backend"`
	Logging LoggingConfig `mapstructure:"logging"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
}

// StateConfig locates the shared session state file and its lock.
// Empty paths resolve under Dir; an empty Dir resolves to ConfigDir().
type StateConfig struct {
	Dir      string `mapstructure:"dir"`
	File     string `mapstructure:"file"`
	LockFile string `mapstructure:"lock_file"`
	LockDir  string `mapstructure:"lock_dir"`
	// LockTimeoutSeconds bounds a single lock acquisition (default: 10)
	LockTimeoutSeconds float64 `mapstructure:"lock_timeout_seconds"`
	// LockPollMs is the retry interval while the lock is contended (default: 100)
	LockPollMs int `mapstructure:"lock_poll_ms"`
}

// LoopConfig controls the iteration loop
type LoopConfig struct {
	// MaxIterations is the iteration budget per run (default: 10)
	MaxIterations int `mapstructure:"max_iterations"`
	// CompletionMarker is the word inside <promise>...</promise> (default: "COMPLETE")
	CompletionMarker string `mapstructure:"completion_marker"`
	// DelayMs is the pause between iterations; zero or negative disables it (default: 2000)
	DelayMs int `mapstructure:"delay_ms"`
	// TaskFile is the task document relative to the project directory (default: "PRD.md")
	TaskFile string `mapstructure:"task_file"`
	// PromptTemplate is an inline text/template overriding the built-in prompt
	PromptTemplate string `mapstructure:"prompt_template"`
	// PromptFile is a file holding the prompt template; takes precedence over PromptTemplate
	PromptFile string `mapstructure:"prompt_file"`
	// ContextFiles are glob patterns, relative to the project directory, listed in the prompt
	ContextFiles []string `mapstructure:"context_files"`
	// OutputDir receives per-iteration transcripts. Empty means <state dir>/output
	OutputDir string `mapstructure:"output_dir"`
}

// TasksConfig overrides the task document delimiters. Empty values keep the defaults.
type TasksConfig struct {
	HeaderPattern    string   `mapstructure:"header_pattern"`
	Terminators      []string `mapstructure:"terminators"`
	UncheckedPattern string   `mapstructure:"unchecked_pattern"`
}

// BackendConfig selects and configures the text-generation tool
type BackendConfig struct {
	// Name is one of "claude", "codex", "command" (default: "claude")
	Name string `mapstructure:"name"`
	// Model is passed to the backend when non-empty
	Model   string               `mapstructure:"model"`
	Claude  ClaudeBackendConfig  `mapstructure:"claude"`
	Codex   CodexBackendConfig   `mapstructure:"codex"`
	Command CommandBackendConfig `mapstructure:"command"`
}

// ClaudeBackendConfig configures the Claude Code CLI
type ClaudeBackendConfig struct {
	Command         string `mapstructure:"command"`
	SkipPermissions bool   `mapstructure:"skip_permissions"`
}

// CodexBackendConfig configures the Codex CLI
type CodexBackendConfig struct {
	Command string `mapstructure:"command"`
	// ApprovalMode is "full-auto", "bypass" or "default" (default: "full-auto")
	ApprovalMode string `mapstructure:"approval_mode"`
}

// CommandBackendConfig runs an arbitrary program that reads the prompt on
// stdin and prints its answer on stdout
type CommandBackendConfig struct {
	Path string   `mapstructure:"path"`
	Args []string `mapstructure:"args"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir holds per-session log files. Empty means <state dir>/logs
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// NotifyConfig controls webhook notifications on session transitions
type NotifyConfig struct {
	Webhooks []string `mapstructure:"webhooks"`
	// Events are the statuses that trigger a webhook (default: the terminal statuses)
	Events []string `mapstructure:"events"`
	// TimeoutSeconds bounds each webhook request (default: 5)
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ServerConfig controls the status endpoint
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		State: StateConfig{
			LockTimeoutSeconds: 10,
			LockPollMs:         100,
		},
		Loop: LoopConfig{
			MaxIterations:    10,
			CompletionMarker: "COMPLETE",
			DelayMs:          2000,
			TaskFile:         "PRD.md",
			ContextFiles:     []string{},
		},
		Tasks: TasksConfig{
			Terminators: []string{},
		},
		Backend: BackendConfig{
			Name: "claude",
			Claude: ClaudeBackendConfig{
				Command:         "claude",
				SkipPermissions: true,
			},
			Codex: CodexBackendConfig{
				Command:      "codex",
				ApprovalMode: "full-auto",
			},
			Command: CommandBackendConfig{
				Args: []string{},
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Notify: NotifyConfig{
			Webhooks:       []string{},
			Events:         []string{"complete", "failed", "max_iterations", "stopped"},
			TimeoutSeconds: 5,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7777",
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// State defaults
	v.SetDefault("state.dir", defaults.State.Dir)
	v.SetDefault("state.file", defaults.State.File)
	v.SetDefault("state.lock_file", defaults.State.LockFile)
	v.SetDefault("state.lock_dir", defaults.State.LockDir)
	v.SetDefault("state.lock_timeout_seconds", defaults.State.LockTimeoutSeconds)
	v.SetDefault("state.lock_poll_ms", defaults.State.LockPollMs)

	// Loop defaults
	v.SetDefault("loop.max_iterations", defaults.Loop.MaxIterations)
	v.SetDefault("loop.completion_marker", defaults.Loop.CompletionMarker)
	v.SetDefault("loop.delay_ms", defaults.Loop.DelayMs)
	v.SetDefault("loop.task_file", defaults.Loop.TaskFile)
	v.SetDefault("loop.prompt_template", defaults.Loop.PromptTemplate)
	v.SetDefault("loop.prompt_file", defaults.Loop.PromptFile)
	v.SetDefault("loop.context_files", defaults.Loop.ContextFiles)
	v.SetDefault("loop.output_dir", defaults.Loop.OutputDir)

	// Task parser defaults
	v.SetDefault("tasks.header_pattern", defaults.Tasks.HeaderPattern)
	v.SetDefault("tasks.terminators", defaults.Tasks.Terminators)
	v.SetDefault("tasks.unchecked_pattern", defaults.Tasks.UncheckedPattern)

	// Backend defaults
	v.SetDefault("backend.name", defaults.Backend.Name)
	v.SetDefault("backend.model", defaults.Backend.Model)
	v.SetDefault("backend.claude.command", defaults.Backend.Claude.Command)
	v.SetDefault("backend.claude.skip_permissions", defaults.Backend.Claude.SkipPermissions)
	v.SetDefault("backend.codex.command", defaults.Backend.Codex.Command)
	v.SetDefault("backend.codex.approval_mode", defaults.Backend.Codex.ApprovalMode)
	v.SetDefault("backend.command.path", defaults.Backend.Command.Path)
	v.SetDefault("backend.command.args", defaults.Backend.Command.Args)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// Notify defaults
	v.SetDefault("notify.webhooks", defaults.Notify.Webhooks)
	v.SetDefault("notify.events", defaults.Notify.Events)
	v.SetDefault("notify.timeout_seconds", defaults.Notify.TimeoutSeconds)

	// Server defaults
	v.SetDefault("server.addr", defaults.Server.Addr)
}

// envOverrides maps config keys to the documented environment variables
// that do not follow the RALPH_<SECTION>_<KEY> pattern.
var envOverrides = map[string]string{
	"state.dir":                  "RALPH_STATE_DIR",
	"state.file":                 "RALPH_STATE_FILE",
	"state.lock_file":            "RALPH_LOCK_FILE",
	"state.lock_dir":             "RALPH_LOCK_DIR",
	"state.lock_timeout_seconds": "RALPH_LOCK_TIMEOUT",
}

// BindEnv enables RALPH_* environment overrides on v.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envOverrides {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the configuration from the global viper instance and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ralphloop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ralphloop"
	}
	return filepath.Join(home, ".config", "ralphloop")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StatePaths are the resolved locations of the shared state.
type StatePaths struct {
	Dir         string
	File        string
	LockFile    string
	LockDir     string
	LockTimeout time.Duration
	LockPoll    time.Duration
	LogDir      string
	OutputDir   string
}

// Paths resolves the state locations, filling defaults and anchoring
// relative paths under the state directory.
func (c *Config) Paths() StatePaths {
	dir := c.State.Dir
	if dir == "" {
		dir = ConfigDir()
	}
	resolve := func(p, def string) string {
		if p == "" {
			p = def
		}
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	timeout := time.Duration(c.State.LockTimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	poll := time.Duration(c.State.LockPollMs) * time.Millisecond
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	return StatePaths{
		Dir:         dir,
		File:        resolve(c.State.File, "sessions.json"),
		LockFile:    resolve(c.State.LockFile, "sessions.lock"),
		LockDir:     resolve(c.State.LockDir, "sessions.lock.d"),
		LockTimeout: timeout,
		LockPoll:    poll,
		LogDir:      resolve(c.Logging.Dir, "logs"),
		OutputDir:   resolve(c.Loop.OutputDir, "output"),
	}
}

// SessionLogFile returns the log file for a session.
func (p StatePaths) SessionLogFile(name string) string {
	return filepath.Join(p.LogDir, name+".log")
}

// Delay returns the inter-iteration delay.
func (c *LoopConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// WebhookTimeout returns the per-request webhook timeout.
func (c *NotifyConfig) WebhookTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ValidBackends returns the list of supported backend names
func ValidBackends() []string {
	return []string{"claude", "codex", "command"}
}
