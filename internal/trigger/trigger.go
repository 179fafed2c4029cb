package trigger

import (
	"sync"
	"time"
)

// Trigger is polled by the scheduler once per tick.
//
// SignalInfo must tolerate malformed settings by reporting zero firings; it never
// panics and never returns an error. It advances the trigger's PeriodStart.
type Trigger interface {
	Name() string
	SignalInfo(now time.Time) SignalInfo

	Settings() map[string]string
	SetSettings(settings map[string]string)
	PeriodStart() time.Time
	SetPeriodStart(t time.Time)

	// Clone returns an independent trigger with the same settings and period start.
	Clone() Trigger
}

// base holds the state shared by every variant.
type base struct {
	mu          sync.Mutex
	settings    map[string]string
	periodStart time.Time
}

func (b *base) Settings() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneMap(b.settings)
}

func (b *base) setSettingsLocked(settings map[string]string) {
	b.settings = cloneMap(settings)
	if b.settings == nil {
		b.settings = map[string]string{}
	}
}

func (b *base) PeriodStart() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.periodStart
}

func (b *base) SetPeriodStart(t time.Time) {
	b.mu.Lock()
	b.periodStart = t
	b.mu.Unlock()
}
