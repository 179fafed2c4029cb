package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file (<path>.runs.jsonl)
//   - "sqlite": SQLite database file, ".db" appended when path has no extension (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep bounds the number of retained runs (default 5000).
	Keep int
}

// Run statuses.
const (
	StatusFinished = "finished"
	StatusFailed   = "failed"
	StatusDropped  = "dropped"
)

// RunRecord is one task execution.
type RunRecord struct {
	At       time.Time `json:"at"`
	RunID    string    `json:"run_id"`
	JobID    string    `json:"job_id,omitempty"`
	Task     string    `json:"task"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	QueueMS  int64     `json:"queue_ms,omitempty"`
	Program  string    `json:"program,omitempty"`
	PID      int       `json:"pid,omitempty"`
	ExitCode int       `json:"exit_code"`
	Errors   int       `json:"errors,omitempty"`
	Warnings int       `json:"warnings,omitempty"`
	PeakRSS  uint64    `json:"peak_rss,omitempty"`
}

const defaultKeep = 5000
