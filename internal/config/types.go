package config

// Config is the service configuration file (JSON, or YAML with a .yaml/.yml extension).
// Every section is optional; see Resolve for defaults.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Reload     ReloadConfig     `json:"reload"`
	Storage    *StorageConfig   `json:"storage,omitempty"`
	Programs   ProgramsConfig   `json:"programs"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Console is a pointer so an omitted value can default to true.
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick loop.
//
// Example:
//
//	"scheduler": { "interval": "1s", "jobs_file": "/opt/wm_inst/config/scheduler.json" }
type SchedulerConfig struct {
	// Interval is a Go duration string (default "1s").
	Interval string `json:"interval,omitempty"`
	// JobsFile defaults to <WM_BASE_DIR>/config/scheduler.json.
	JobsFile string `json:"jobs_file,omitempty"`
}

// TaskEngineConfig sizes the worker pool.
//
// Defaults: workers 2, queue_size 256, history_size 200.
type TaskEngineConfig struct {
	Workers     int `json:"workers,omitempty"`
	QueueSize   int `json:"queue_size,omitempty"`
	HistorySize int `json:"history_size,omitempty"`
}

// ReloadConfig controls how the jobs file is re-read after it changes.
type ReloadConfig struct {
	// OnReadError is "empty" (default: an unreadable file clears all jobs)
	// or "keep" (keep the current jobs and log a warning).
	OnReadError string `json:"on_read_error,omitempty"`
	// Debounce is a Go duration string (default "250ms").
	Debounce string `json:"debounce,omitempty"`
}

// StorageConfig controls the run history store. Nil disables it.
//
// Example:
//
//	"storage": { "driver": "file", "path": "/opt/wm_inst/logfiles/wmsched_runs" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ProgramsConfig locates the helper programs run by tasks.
type ProgramsConfig struct {
	// Dir defaults to <WM_BASE_DIR>/bin.
	Dir string `json:"dir,omitempty"`
	// Overrides maps a task or program name to an executable path.
	Overrides map[string]string `json:"overrides,omitempty"`
}
