package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"wmsched/internal/eventbus"
	logx "wmsched/pkg/logx"
)

// worker runs queued tasks until the queue is closed and empty. A canceled ctx
// does not stop it; the remaining tasks receive the canceled context instead.
func (s *Service) worker(ctx context.Context, queue <-chan queuedTask) {
	for qt := range queue {
		atomic.AddInt32(&s.inFlight, 1)
		s.execOne(ctx, qt)
		atomic.AddInt32(&s.inFlight, -1)
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	t := qt.task
	start := time.Now()
	queueDelay := start.Sub(qt.enqueuedAt)
	if queueDelay < 0 {
		queueDelay = 0
	}

	s.log.Debug("task.started", logx.String("task", t.Name), logx.String("job", t.JobID), logx.Duration("queue_delay", queueDelay))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Time: start, Data: TaskEvent{ID: t.ID, Name: t.Name, JobID: t.JobID, Started: start, QueueDelay: queueDelay}})
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = t.Run(ctx)
	}()

	var result any
	if t.Result != nil {
		func() {
			defer func() { _ = recover() }()
			result = t.Result()
		}()
	}

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, JobID: t.JobID, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := TaskEvent{ID: t.ID, Name: t.Name, JobID: t.JobID, Started: start, QueueDelay: queueDelay, Duration: dur, Result: result}
	if err != nil {
		atomic.AddUint64(&s.failed, 1)
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Debug("task.failed", logx.String("task", t.Name), logx.String("job", t.JobID), logx.Err(err), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Time: time.Now(), Data: ev})
		}
	} else {
		atomic.AddUint64(&s.done, 1)
		s.log.Debug("task.completed", logx.String("task", t.Name), logx.String("job", t.JobID), logx.Duration("dur", dur))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFinished, Time: time.Now(), Data: ev})
		}
	}
	s.record(item)
}
