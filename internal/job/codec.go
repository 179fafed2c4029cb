package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wmsched/internal/task"
	"wmsched/internal/trigger"
	logx "wmsched/pkg/logx"
)

// Entry is the persisted form of a job.
type Entry struct {
	UUID    string       `json:"Uuid"`
	Task    task.Spec    `json:"Task"`
	Trigger trigger.Spec `json:"Trigger"`
}

type rawEntry struct {
	UUID    string          `json:"Uuid"`
	Task    json.RawMessage `json:"Task"`
	Trigger json.RawMessage `json:"Trigger"`
}

// Loader turns persisted entries into jobs using the registries.
type Loader struct {
	Tasks    *task.Registry
	Triggers *trigger.Registry
	Log      logx.Logger
}

// Parse decodes a JSON array of jobs. Elements that do not yield a valid id, task and
// trigger are logged and dropped. Triggers start observing at now.
// It fails only when data is not a JSON array.
func (l *Loader) Parse(data []byte, now time.Time) ([]*Job, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("jobs file is not a JSON array: %w", err)
	}

	out := make([]*Job, 0, len(elems))
	for i, raw := range elems {
		j, err := l.parseOne(raw, now)
		if err != nil {
			l.Log.Warn("skipping job entry", logx.Int("index", i), logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (l *Loader) parseOne(raw json.RawMessage, now time.Time) (*Job, error) {
	var e rawEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(e.UUID)
	if err != nil {
		return nil, fmt.Errorf("uuid %q: %w", e.UUID, err)
	}
	if len(e.Task) == 0 || len(e.Trigger) == 0 {
		return nil, fmt.Errorf("job %s: task and trigger are required", id)
	}
	t := l.Tasks.MakeJSON(e.Task)
	if t == nil {
		return nil, fmt.Errorf("job %s: unusable task", id)
	}
	tr := l.Triggers.MakeJSON(e.Trigger)
	if tr == nil {
		return nil, fmt.Errorf("job %s: unusable trigger", id)
	}
	tr.SetPeriodStart(now)
	return New(id, t, tr), nil
}

// EntryOf captures a job's persisted form.
func EntryOf(j *Job) Entry {
	return Entry{UUID: j.ID.String(), Task: task.SpecOf(j.Task), Trigger: trigger.SpecOf(j.Trigger)}
}

// Marshal encodes jobs as an indented JSON array ordered by id.
func Marshal(jobs []*Job) ([]byte, error) {
	sorted := append([]*Job(nil), jobs...)
	SortByID(sorted)
	entries := make([]Entry, 0, len(sorted))
	for _, j := range sorted {
		entries = append(entries, EntryOf(j))
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
