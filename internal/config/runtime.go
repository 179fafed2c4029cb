package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "wmsched/pkg/logx"
)

const (
	EnvBaseDir     = "WM_BASE_DIR"
	DefaultBaseDir = "/opt/wm_inst"

	OnReadErrorEmpty = "empty"
	OnReadErrorKeep  = "keep"
)

// BaseDir returns $WM_BASE_DIR, or DefaultBaseDir when unset.
func BaseDir() string {
	if v := strings.TrimSpace(os.Getenv(EnvBaseDir)); v != "" {
		return v
	}
	return DefaultBaseDir
}

// DefaultPath is where the service configuration lives unless overridden.
func DefaultPath(baseDir string) string {
	return filepath.Join(baseDir, "config", "wmsched.json")
}

// Runtime is the validated, defaulted view of a Config.
type Runtime struct {
	BaseDir string

	LogLevel    string
	LogConsole  bool
	LogFile     bool
	LogFilePath string

	Interval time.Duration
	JobsFile string

	Workers     int
	QueueSize   int
	HistorySize int

	OnReadError string
	Debounce    time.Duration

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration

	ProgramDir       string
	ProgramOverrides map[string]string
}

// Resolve applies defaults relative to baseDir and validates the result.
func (c *Config) Resolve(baseDir string) (Runtime, error) {
	if c == nil {
		c = &Config{}
	}
	if strings.TrimSpace(baseDir) == "" {
		baseDir = DefaultBaseDir
	}
	rt := Runtime{BaseDir: baseDir}

	rt.LogLevel = strings.TrimSpace(c.Logging.Level)
	if rt.LogLevel == "" {
		rt.LogLevel = "info"
	}
	rt.LogConsole = c.Logging.Console == nil || *c.Logging.Console
	rt.LogFile = c.Logging.File.Enabled
	rt.LogFilePath = strings.TrimSpace(c.Logging.File.Path)
	if rt.LogFilePath == "" {
		rt.LogFilePath = filepath.Join(baseDir, "logfiles", "wmsched.log")
	}

	var err error
	if rt.Interval, err = durationOr("scheduler.interval", c.Scheduler.Interval, time.Second); err != nil {
		return Runtime{}, err
	}
	rt.JobsFile = strings.TrimSpace(c.Scheduler.JobsFile)
	if rt.JobsFile == "" {
		rt.JobsFile = filepath.Join(baseDir, "config", "scheduler.json")
	}

	rt.Workers = orDefault(c.TaskEngine.Workers, 2)
	rt.QueueSize = orDefault(c.TaskEngine.QueueSize, 256)
	rt.HistorySize = orDefault(c.TaskEngine.HistorySize, 200)

	switch v := strings.ToLower(strings.TrimSpace(c.Reload.OnReadError)); v {
	case "", OnReadErrorEmpty:
		rt.OnReadError = OnReadErrorEmpty
	case OnReadErrorKeep:
		rt.OnReadError = OnReadErrorKeep
	default:
		return Runtime{}, fmt.Errorf("reload.on_read_error: want %q or %q, got %q", OnReadErrorEmpty, OnReadErrorKeep, c.Reload.OnReadError)
	}
	if rt.Debounce, err = durationOr("reload.debounce", c.Reload.Debounce, 250*time.Millisecond); err != nil {
		return Runtime{}, err
	}

	if s := c.Storage; s != nil {
		rt.StorageDriver = strings.ToLower(strings.TrimSpace(s.Driver))
		switch rt.StorageDriver {
		case "", "file":
			rt.StorageDriver = "file"
		case "sqlite", "none":
		default:
			return Runtime{}, fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		rt.StoragePath = strings.TrimSpace(s.Path)
		if rt.StoragePath == "" {
			rt.StoragePath = filepath.Join(baseDir, "logfiles", "wmsched_runs")
		}
		if rt.StorageBusyTimeout, err = durationOr("storage.busy_timeout", s.BusyTimeout, 5*time.Second); err != nil {
			return Runtime{}, err
		}
	} else {
		rt.StorageDriver = "none"
	}

	rt.ProgramDir = strings.TrimSpace(c.Programs.Dir)
	if rt.ProgramDir == "" {
		rt.ProgramDir = filepath.Join(baseDir, "bin")
	}
	rt.ProgramOverrides = make(map[string]string, len(c.Programs.Overrides))
	for k, v := range c.Programs.Overrides {
		rt.ProgramOverrides[k] = v
	}
	return rt, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Logging maps the resolved logging section onto logx.
func (rt Runtime) Logging() logx.Config {
	return logx.Config{
		Level:   rt.LogLevel,
		Console: rt.LogConsole,
		File:    logx.FileConfig{Enabled: rt.LogFile, Path: rt.LogFilePath},
	}
}

// durationOr parses a Go duration; empty or zero yields def. field names the key in errors.
func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", field, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
