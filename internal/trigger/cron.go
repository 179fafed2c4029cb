package trigger

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	logx "wmsched/pkg/logx"
)

const (
	CronTriggerName = "CronTrigger"
	SettingCron     = "cron"
)

// SecondOptional allows both 5-field and 6-field (leading seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// malformedWarnEvery throttles the "malformed cron" warning; the trigger is polled every tick.
const malformedWarnEvery = time.Minute

// CronTrigger fires at the times matched by its `cron` setting.
//
// PeriodStart only ever advances to a matched fire time, never to the poll time,
// so a fire time landing between two polls is counted exactly once.
type CronTrigger struct {
	base

	log  logx.Logger
	warn *rate.Limiter

	expr     string
	sched    cron.Schedule
	parseErr error
}

func NewCron(settings map[string]string, log logx.Logger) *CronTrigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &CronTrigger{
		log:  log,
		warn: rate.NewLimiter(rate.Every(malformedWarnEvery), 1),
	}
	t.SetSettings(settings)
	return t
}

func (t *CronTrigger) Name() string { return CronTriggerName }

func (t *CronTrigger) SetSettings(settings map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setSettingsLocked(settings)
	t.expr = strings.TrimSpace(t.settings[SettingCron])
	t.sched, t.parseErr = ParseCron(t.expr)
}

// Valid reports whether the cron setting parsed.
func (t *CronTrigger) Valid() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parseErr
}

// Next returns the next fire time after the current period start (zero if malformed).
func (t *CronTrigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sched == nil || t.periodStart.IsZero() {
		return time.Time{}
	}
	return t.sched.Next(t.periodStart)
}

func (t *CronTrigger) SignalInfo(now time.Time) SignalInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := SignalInfo{TriggerName: CronTriggerName, PeriodStart: t.periodStart, PeriodEnd: t.periodStart}
	if t.sched == nil {
		if t.warn.Allow() {
			t.log.Warn("cron trigger malformed; reporting no signals", logx.String("cron", t.expr), logx.Err(t.parseErr))
		}
		return info
	}
	if t.periodStart.IsZero() {
		// Never polled and never seeded: start observing from now.
		t.periodStart = now
		info.PeriodStart, info.PeriodEnd = now, now
		return info
	}

	last := t.periodStart
	var count uint32
	// Stopping at MaxUint32 leaves the remainder for the next poll.
	for count < math.MaxUint32 {
		next := t.sched.Next(last)
		if next.IsZero() || !next.Before(now) {
			break
		}
		count++
		last = next
	}
	t.periodStart = last

	info.SignalCount = count
	info.PeriodEnd = last
	return info
}

func (t *CronTrigger) Clone() Trigger {
	t.mu.Lock()
	settings := cloneMap(t.settings)
	ps := t.periodStart
	log := t.log
	t.mu.Unlock()

	c := NewCron(settings, log)
	c.SetPeriodStart(ps)
	return c
}

var errCronMissing = errors.New("cron setting missing")

// ParseCron parses a 5-field (or seconds-prefixed 6-field) cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errCronMissing
	}
	s, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return s, nil
}
