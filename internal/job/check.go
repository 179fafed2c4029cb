package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"wmsched/internal/task"
)

// Problem is one finding about a jobs file entry.
type Problem struct {
	Index int
	ID    string
	// Fatal problems drop the entry at load time; the others only affect how it runs.
	Fatal bool
	Msg   string
}

func (p Problem) String() string {
	sev := "warn"
	if p.Fatal {
		sev = "error"
	}
	id := p.ID
	if id == "" {
		id = "-"
	}
	return fmt.Sprintf("#%d %s %s: %s", p.Index, id, sev, p.Msg)
}

// Check inspects data the way Parse would load it and reports every entry
// that would be dropped, could never run, or pairs a task with a trigger it
// does not support. It returns the jobs that would load.
func (l *Loader) Check(data []byte) ([]*Job, []Problem, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, nil, fmt.Errorf("jobs file is not a JSON array: %w", err)
	}

	var (
		jobs     []*Job
		problems []Problem
		seen     = map[string]int{}
	)
	now := time.Now()
	for i, raw := range elems {
		j, err := l.parseOne(raw, now)
		if err != nil {
			problems = append(problems, Problem{Index: i, Fatal: true, Msg: err.Error()})
			continue
		}
		id := j.ID.String()
		if prev, dup := seen[id]; dup {
			problems = append(problems, Problem{Index: i, ID: id, Msg: fmt.Sprintf("replaces entry #%d with the same id", prev)})
		}
		seen[id] = i

		if v, ok := j.Trigger.(interface{ Valid() error }); ok {
			if err := v.Valid(); err != nil {
				problems = append(problems, Problem{Index: i, ID: id, Msg: "trigger never fires: " + err.Error()})
			}
		}
		if e, ok := j.Trigger.(interface{ EventID() (int, bool) }); ok {
			if _, valid := e.EventID(); !valid {
				problems = append(problems, Problem{Index: i, ID: id, Msg: "trigger never fires: invalid event setting"})
			}
		}
		if !task.Supports(j.Task, j.Trigger) {
			problems = append(problems, Problem{Index: i, ID: id, Msg: fmt.Sprintf("%s does not support %s %v", j.Task.Name(), j.Trigger.Name(), j.Trigger.Settings())})
		}
		if !j.Task.CheckSettings() {
			problems = append(problems, Problem{Index: i, ID: id, Msg: j.Task.Name() + " has missing settings; it fails unless the trigger supplies them"})
		}
		jobs = append(jobs, j)
	}
	return jobs, problems, nil
}
