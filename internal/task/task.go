package task

import (
	"context"

	"wmsched/internal/trigger"
)

// Task is a prototype: the scheduler keeps one per job and runs clones.
type Task interface {
	Name() string

	Settings() map[string]string
	SetSettings(settings map[string]string)

	SetSignalInfo(info trigger.SignalInfo)
	SignalInfo() trigger.SignalInfo

	// CheckSettings reports whether every required setting is present and non-empty.
	// It does no I/O.
	CheckSettings() bool

	// OnlySupportedTriggers lists the trigger combinations this task makes sense with.
	// Empty means any trigger.
	OnlySupportedTriggers() []TriggerSupport

	Clone() Task
	Run(ctx context.Context) error
}

// Reporter is implemented by tasks that expose details of their last run.
type Reporter interface {
	Result() Result
}

// TriggerSupport names a trigger kind, optionally narrowed to one event id.
type TriggerSupport struct {
	Trigger string
	Event   *int
}

func cronOnly() TriggerSupport { return TriggerSupport{Trigger: trigger.CronTriggerName} }

func onEvent(id int) TriggerSupport {
	return TriggerSupport{Trigger: trigger.EventTriggerName, Event: &id}
}

// Matches reports whether tr is covered by this entry.
func (s TriggerSupport) Matches(tr trigger.Trigger) bool {
	if tr == nil || tr.Name() != s.Trigger {
		return false
	}
	if s.Event == nil {
		return true
	}
	et, ok := tr.(interface{ EventID() (int, bool) })
	if !ok {
		return false
	}
	id, valid := et.EventID()
	return valid && id == *s.Event
}

func (s TriggerSupport) String() string {
	if s.Event == nil {
		return s.Trigger
	}
	return s.Trigger + "(" + trigger.EventName(*s.Event) + ")"
}

// Supports reports whether t may be paired with tr.
func Supports(t Task, tr trigger.Trigger) bool {
	list := t.OnlySupportedTriggers()
	if len(list) == 0 {
		return true
	}
	for _, s := range list {
		if s.Matches(tr) {
			return true
		}
	}
	return false
}
