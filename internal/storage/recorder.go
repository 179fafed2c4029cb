package storage

import (
	"context"
	"time"

	"wmsched/internal/engine"
	"wmsched/internal/eventbus"
	"wmsched/internal/task"
	logx "wmsched/pkg/logx"
)

// Recorder appends a RunRecord for every finished, failed or dropped task event.
type Recorder struct {
	Store Store
	Log   logx.Logger
}

// Run consumes bus events until ctx is done.
func (r *Recorder) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			rec, ok := RecordOf(ev)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := r.Store.AppendRun(wctx, rec); err != nil {
				r.Log.Warn("run history append failed", logx.String("run", rec.RunID), logx.Err(err))
			}
			cancel()
		}
	}
}

// RecordOf converts a task lifecycle event. Other events report false.
func RecordOf(ev eventbus.Event) (RunRecord, bool) {
	te, ok := ev.Data.(engine.TaskEvent)
	if !ok {
		return RunRecord{}, false
	}
	var status string
	switch ev.Type {
	case eventbus.TypeTaskFinished:
		status = StatusFinished
	case eventbus.TypeTaskFailed:
		status = StatusFailed
	case eventbus.TypeTaskDropped:
		status = StatusDropped
	default:
		return RunRecord{}, false
	}

	rec := RunRecord{
		At:      te.Started,
		RunID:   te.ID,
		JobID:   te.JobID,
		Task:    te.Name,
		Status:  status,
		Error:   te.Error,
		TookMS:  te.Duration.Milliseconds(),
		QueueMS: te.QueueDelay.Milliseconds(),
	}
	if rec.At.IsZero() {
		rec.At = ev.Time
	}
	if res, ok := te.Result.(task.Result); ok {
		rec.Program = res.Program
		rec.PID = res.PID
		rec.ExitCode = res.ExitCode
		rec.Errors = res.Errors
		rec.Warnings = res.Warnings
		rec.PeakRSS = res.PeakRSS
	}
	return rec, true
}
