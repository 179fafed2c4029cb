package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"wmsched/internal/config"
	"wmsched/internal/job"
	"wmsched/internal/scheduler"
	"wmsched/internal/task"
	"wmsched/internal/trigger"
	logx "wmsched/pkg/logx"
)

// JobsTool edits the jobs file offline through a scheduler that never ticks.
// Every change is written back, so a running daemon picks it up by reloading.
type JobsTool struct {
	rt    config.Runtime
	store *job.FileStore
	sched *scheduler.Service
}

func OpenJobsTool(cfgPath string, log logx.Logger) (*JobsTool, error) {
	_, rt, err := loadRuntime(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	return openJobsTool(rt, log)
}

func openJobsTool(rt config.Runtime, log logx.Logger) (*JobsTool, error) {
	store := job.NewFileStore(rt.JobsFile, newLoader(rt, log))
	jobs, err := store.Load(time.Now())
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{Interval: rt.Interval}, nil, log, scheduler.WithPersister(store))
	if err := sched.RewriteJobs(jobs); err != nil {
		_ = sched.Close(context.Background())
		return nil, err
	}
	return &JobsTool{rt: rt, store: store, sched: sched}, nil
}

func (t *JobsTool) Path() string { return t.rt.JobsFile }

func (t *JobsTool) Close() error { return t.sched.Close(context.Background()) }

// List returns the jobs ordered by id.
func (t *JobsTool) List() []*job.Job { return t.sched.Jobs() }

// Add builds a job from names and settings and adds it. A nil id gets a fresh one.
// Unsupported task/trigger pairs are rejected.
func (t *JobsTool) Add(id uuid.UUID, taskName string, taskSettings map[string]string, triggerName string, triggerSettings map[string]string) (*job.Job, error) {
	l := t.store.Loader()
	tk := l.Tasks.Make(taskName, taskSettings)
	if tk == nil {
		return nil, fmt.Errorf("unknown task %q", taskName)
	}
	tr := l.Triggers.Make(triggerName, triggerSettings)
	if tr == nil {
		return nil, fmt.Errorf("unknown trigger %q", triggerName)
	}
	if v, ok := tr.(interface{ Valid() error }); ok {
		if err := v.Valid(); err != nil {
			return nil, err
		}
	}
	if e, ok := tr.(*trigger.EventTrigger); ok {
		if _, valid := e.EventID(); !valid {
			return nil, fmt.Errorf("event trigger needs an integer %q setting", trigger.SettingEvent)
		}
	}
	if !task.Supports(tk, tr) {
		return nil, fmt.Errorf("%s does not support %s %v", tk.Name(), tr.Name(), tr.Settings())
	}
	tr.SetPeriodStart(time.Now())
	j := job.New(id, tk, tr)
	if err := t.sched.AddJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// Remove deletes the job with id and reports whether it existed.
func (t *JobsTool) Remove(id uuid.UUID) (bool, error) {
	return t.sched.RemoveJob(id)
}

// Check reads the jobs file without loading it and reports problems.
func Check(cfgPath string, log logx.Logger) (string, []*job.Job, []job.Problem, error) {
	_, rt, err := loadRuntime(cfgPath)
	if err != nil {
		return "", nil, nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	store := job.NewFileStore(rt.JobsFile, newLoader(rt, log))
	data, err := store.Read()
	if errors.Is(err, fs.ErrNotExist) {
		return rt.JobsFile, nil, nil, nil
	}
	if err != nil {
		return rt.JobsFile, nil, nil, err
	}
	jobs, problems, err := store.Loader().Check(data)
	return rt.JobsFile, jobs, problems, err
}
