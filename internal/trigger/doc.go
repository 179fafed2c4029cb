// Package trigger decides how often a condition fired during an observational period.
//
// Triggers are pull-based: the scheduler polls SignalInfo(now) on every tick and a
// trigger reports how many times it fired in [PeriodStart, now). A trigger never
// double counts and never drops a firing across polls, however irregular they are.
//
// Variants:
//   - CronTrigger: counts cron fire times (robfig/cron/v3 schedules)
//   - EventTrigger: counts domain events delivered via Deliver()
package trigger
