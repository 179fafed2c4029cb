package trigger

import (
	"strconv"
	"strings"
	"time"
)

const (
	EventTriggerName = "EventTrigger"
	SettingEvent     = "event"
)

// EventTrigger counts deliveries of one domain event between polls.
//
// Deliver may be called from any goroutine. Only the metadata of the most
// recent delivery is kept.
type EventTrigger struct {
	base

	eventID int
	valid   bool

	counter uint32
	pending map[string]string
}

func NewEvent(settings map[string]string) *EventTrigger {
	t := &EventTrigger{}
	t.SetSettings(settings)
	return t
}

func (t *EventTrigger) Name() string { return EventTriggerName }

func (t *EventTrigger) SetSettings(settings map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setSettingsLocked(settings)
	id, err := strconv.Atoi(strings.TrimSpace(t.settings[SettingEvent]))
	t.eventID, t.valid = id, err == nil
}

// EventID returns the configured event id; ok is false when the setting is missing or not numeric.
func (t *EventTrigger) EventID() (id int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eventID, t.valid
}

// Deliver records one occurrence of event. It reports whether the event matched.
func (t *EventTrigger) Deliver(event int, metadata map[string]string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid || event != t.eventID {
		return false
	}
	if t.counter < ^uint32(0) {
		t.counter++
	}
	md := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		md[k] = v
	}
	md[MetaSource] = EventName(event)
	md[MetaEvent] = strconv.Itoa(event)
	t.pending = md
	return true
}

func (t *EventTrigger) SignalInfo(now time.Time) SignalInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := t.periodStart
	if start.IsZero() {
		start = now
	}
	info := SignalInfo{
		SignalCount: t.counter,
		PeriodStart: start,
		PeriodEnd:   now,
		Metadata:    t.pending,
		TriggerName: EventTriggerName,
	}
	t.counter = 0
	t.pending = nil
	t.periodStart = now
	return info
}

// Clone copies settings and period start; undelivered occurrences stay with the original.
func (t *EventTrigger) Clone() Trigger {
	t.mu.Lock()
	settings := cloneMap(t.settings)
	ps := t.periodStart
	t.mu.Unlock()

	c := NewEvent(settings)
	c.SetPeriodStart(ps)
	return c
}
