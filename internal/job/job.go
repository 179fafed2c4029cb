// Package job binds a trigger to a task and persists job lists as JSON.
package job

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"

	"wmsched/internal/task"
	"wmsched/internal/trigger"
)

// Job pairs one trigger with one task under a stable id.
// Only the trigger's period start changes after construction.
type Job struct {
	ID      uuid.UUID
	Task    task.Task
	Trigger trigger.Trigger
}

// New returns a job; a nil id is replaced by a fresh random one.
func New(id uuid.UUID, t task.Task, tr trigger.Trigger) *Job {
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Job{ID: id, Task: t, Trigger: tr}
}

// Generate polls the trigger and returns a clone of the task carrying the signal.
// The job's own task is left untouched.
func (j *Job) Generate(now time.Time) (task.Task, trigger.SignalInfo) {
	info := j.Trigger.SignalInfo(now)
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}
	info.Metadata[trigger.MetaJobID] = j.ID.String()

	t := j.Task.Clone()
	t.SetSignalInfo(info)
	return t, info
}

// Set is a collection of jobs keyed by id. It is not safe for concurrent use.
type Set struct {
	byID map[uuid.UUID]*Job
}

func NewSet(jobs ...*Job) *Set {
	s := &Set{byID: make(map[uuid.UUID]*Job, len(jobs))}
	for _, j := range jobs {
		s.Put(j)
	}
	return s
}

// Put inserts j, replacing any job with the same id. It reports whether one was replaced.
func (s *Set) Put(j *Job) bool {
	if j == nil {
		return false
	}
	_, ok := s.byID[j.ID]
	s.byID[j.ID] = j
	return ok
}

func (s *Set) Remove(id uuid.UUID) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

func (s *Set) Get(id uuid.UUID) (*Job, bool) {
	j, ok := s.byID[id]
	return j, ok
}

func (s *Set) Len() int { return len(s.byID) }

// Jobs returns the jobs ordered by id.
func (s *Set) Jobs() []*Job {
	out := make([]*Job, 0, len(s.byID))
	for _, j := range s.byID {
		out = append(out, j)
	}
	SortByID(out)
	return out
}

func SortByID(jobs []*Job) {
	sort.Slice(jobs, func(a, b int) bool { return bytes.Compare(jobs[a].ID[:], jobs[b].ID[:]) < 0 })
}
