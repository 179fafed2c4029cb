package trigger

import "time"

// Metadata keys stamped onto a SignalInfo.
const (
	MetaJobID  = "JobId"
	MetaSource = "Source"
	MetaEvent  = "Event"
	MetaPath   = "path"
	MetaUUID   = "uuid"
)

// SignalInfo is what a trigger reports when polled: how many times it fired in
// [PeriodStart, PeriodEnd) plus metadata for the task that will run.
type SignalInfo struct {
	SignalCount uint32
	PeriodStart time.Time
	PeriodEnd   time.Time
	Metadata    map[string]string
	TriggerName string
}

// Fired reports whether the trigger fired at least once in the period.
func (s SignalInfo) Fired() bool { return s.SignalCount > 0 }

// Meta returns a metadata value ("" if absent).
func (s SignalInfo) Meta(key string) string {
	if s.Metadata == nil {
		return ""
	}
	return s.Metadata[key]
}

// Clone returns a copy with its own metadata map.
func (s SignalInfo) Clone() SignalInfo {
	s.Metadata = cloneMap(s.Metadata)
	return s
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
