package engine

import (
	"context"
	"time"
)

// Config controls the worker pool.
type Config struct {
	Workers     int
	QueueSize   int
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Task is one execution handed to the pool.
type Task struct {
	ID    string
	Name  string
	JobID string
	Run   func(ctx context.Context) error

	// Result, if set, is called after Run and attached to the lifecycle event.
	Result func() any
}

// TaskEvent is published on the bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	JobID      string        `json:"job_id,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Result     any           `json:"result,omitempty"`
}

type HistoryItem struct {
	ID         string
	Name       string
	JobID      string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Done     uint64
	Failed   uint64
	Dropped  uint64
	History  []HistoryItem
}
