package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"wmsched/internal/engine"
	"wmsched/internal/job"
	rtsup "wmsched/internal/runtime/supervisor"
	"wmsched/internal/task"
	logx "wmsched/pkg/logx"
)

const (
	defaultInterval = time.Second
	warnEvery       = 10 * time.Second
	flushEvery      = 20 * time.Millisecond
)

type Config struct {
	// Interval between ticks (default 1s).
	Interval time.Duration
}

// Pool executes dispatched tasks. Offer must not block; it returns
// engine.ErrQueueFull when the task should be offered again later.
type Pool interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) error
	Offer(t engine.Task) error
}

// Persister receives the full job list after every structural change.
type Persister interface {
	Save(jobs []*job.Job) error
}

type Option func(*Service)

func WithPersister(p Persister) Option { return func(s *Service) { s.persist = p } }

// WithClock replaces time.Now for ticks.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

type Service struct {
	cfg     Config
	log     logx.Logger
	pool    Pool
	persist Persister
	now     func() time.Time
	warn    *rate.Limiter

	cmds      chan func()
	sup       *rtsup.Supervisor
	closeOnce sync.Once

	// Owned by the actor goroutine.
	jobs   *job.Set
	ticker *time.Ticker
	// backlog holds fired runs the pool had no room for, oldest first.
	// A fired signal is never discarded because the queue was full.
	backlog []engine.Task
}

// New starts the actor. pool may be nil for a scheduler that only edits jobs.
func New(cfg Config, pool Pool, log logx.Logger, opts ...Option) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "scheduler")),
		pool: pool,
		now:  time.Now,
		warn: rate.NewLimiter(rate.Every(warnEvery), 1),
		cmds: make(chan func()),
		jobs: job.NewSet(),
	}
	for _, o := range opts {
		o(s)
	}
	s.sup = rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(s.log))
	s.sup.GoRestart("scheduler.actor", s.loop)
	return s
}

func (s *Service) loop(ctx context.Context) error {
	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C
		}
		select {
		case <-ctx.Done():
			if s.ticker != nil {
				s.ticker.Stop()
				s.ticker = nil
			}
			return ctx.Err()
		case fn := <-s.cmds:
			fn()
		case <-tick:
			s.tick(s.now())
		}
	}
}

// do runs fn on the actor and waits for it.
func (s *Service) do(fn func()) error {
	var perr error
	done := make(chan struct{})
	cmd := func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				perr = fmt.Errorf("scheduler: panic: %v", r)
				s.log.Error("scheduler command panicked", logx.Any("panic", r))
			}
		}()
		fn()
	}
	ctx := s.sup.Context()
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ErrClosed
	}
	<-done
	return perr
}

// Start arms the ticker and starts the pool.
func (s *Service) Start(ctx context.Context) error {
	if s.pool != nil {
		s.pool.Start(ctx)
	}
	return s.do(func() {
		if s.ticker == nil {
			s.ticker = time.NewTicker(s.cfg.Interval)
			s.log.Info("scheduler started", logx.Duration("interval", s.cfg.Interval), logx.Int("jobs", s.jobs.Len()))
		}
	})
}

// Stop disarms the ticker, hands every held run to the pool and waits for
// dispatched work to drain. Running tasks are not interrupted. If ctx ends
// while runs are still held they are abandoned and logged.
func (s *Service) Stop(ctx context.Context) error {
	err := s.do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
			s.ticker = nil
			s.log.Info("scheduler stopped")
		}
	})
	if err != nil {
		return err
	}
	if s.pool == nil {
		return nil
	}
	if err := s.drainBacklog(ctx); err != nil {
		_ = s.pool.Stop(ctx)
		return err
	}
	return s.pool.Stop(ctx)
}

func (s *Service) drainBacklog(ctx context.Context) error {
	t := time.NewTicker(flushEvery)
	defer t.Stop()
	for {
		var left int
		if err := s.do(func() { s.flush(); left = len(s.backlog) }); err != nil {
			return err
		}
		if left == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			_ = s.do(func() { left = len(s.backlog); s.backlog = nil })
			s.log.Warn("shutdown abandoned held runs", logx.Int("pending", left), logx.Err(ctx.Err()))
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Close stops the scheduler and ends the actor.
func (s *Service) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		if serr := s.Stop(ctx); serr != nil && !errors.Is(serr, ErrClosed) {
			err = serr
		}
		if werr := s.sup.Stop(ctx); werr != nil && err == nil {
			err = werr
		}
	})
	return err
}

// Running reports whether the ticker is armed.
func (s *Service) Running() bool {
	var on bool
	_ = s.do(func() { on = s.ticker != nil })
	return on
}

// Poll runs one tick at now and returns the number of dispatched runs.
func (s *Service) Poll(now time.Time) (int, error) {
	var n int
	err := s.do(func() { n = s.tick(now) })
	return n, err
}

func (s *Service) tick(now time.Time) int {
	for _, j := range s.jobs.Jobs() {
		t, info := j.Generate(now)
		if !info.Fired() || s.pool == nil {
			continue
		}
		s.backlog = append(s.backlog, s.runOf(j, t))
		s.log.Debug("job fired", logx.String("job", j.ID.String()), logx.String("task", t.Name()), logx.Uint32("signals", info.SignalCount))
	}
	return s.flush()
}

func (s *Service) runOf(j *job.Job, t task.Task) engine.Task {
	et := engine.Task{
		Name:  t.Name(),
		JobID: j.ID.String(),
		Run:   t.Run,
	}
	if r, ok := t.(task.Reporter); ok {
		et.Result = func() any { return r.Result() }
	}
	return et
}

// flush offers the backlog to the pool in order and returns how many runs it took.
// It stops at the first full queue so later runs never overtake earlier ones.
func (s *Service) flush() int {
	n := 0
	for len(s.backlog) > 0 {
		et := s.backlog[0]
		err := s.pool.Offer(et)
		if errors.Is(err, engine.ErrQueueFull) {
			if s.warn.Allow() {
				s.log.Warn("task queue full; runs held for the next tick", logx.Int("pending", len(s.backlog)))
			}
			break
		}
		s.backlog[0] = engine.Task{}
		s.backlog = s.backlog[1:]
		if err != nil {
			s.log.Warn("dispatch failed", logx.String("job", et.JobID), logx.String("task", et.Name), logx.Err(err))
			continue
		}
		n++
		s.log.Debug("job dispatched", logx.String("job", et.JobID), logx.String("task", et.Name))
	}
	if len(s.backlog) == 0 {
		s.backlog = nil
	}
	return n
}

// Pending returns the number of fired runs waiting for room in the pool.
func (s *Service) Pending() int {
	var n int
	_ = s.do(func() { n = len(s.backlog) })
	return n
}

// AddJob inserts or replaces (same id) a job and writes the job list back.
func (s *Service) AddJob(j *job.Job) error {
	if j == nil {
		return nil
	}
	return s.AddJobs([]*job.Job{j})
}

func (s *Service) AddJobs(jobs []*job.Job) error {
	var perr error
	err := s.do(func() {
		for _, j := range jobs {
			if j != nil {
				s.jobs.Put(j)
			}
		}
		perr = s.save()
	})
	if err != nil {
		return err
	}
	return perr
}

// RemoveJob deletes a job by id and writes the job list back. It reports whether the job existed.
func (s *Service) RemoveJob(id uuid.UUID) (bool, error) {
	var (
		found bool
		perr  error
	)
	err := s.do(func() {
		if found = s.jobs.Remove(id); found {
			perr = s.save()
		}
	})
	if err != nil {
		return false, err
	}
	return found, perr
}

// RewriteJobs replaces the whole job set. Runs already dispatched are unaffected.
// Nothing is written back; the caller got the jobs from the file.
func (s *Service) RewriteJobs(jobs []*job.Job) error {
	return s.do(func() {
		s.jobs = job.NewSet(jobs...)
		s.log.Info("jobs replaced", logx.Int("jobs", s.jobs.Len()))
	})
}

// Jobs returns the live jobs ordered by id (nil after Close).
func (s *Service) Jobs() []*job.Job {
	var out []*job.Job
	_ = s.do(func() { out = s.jobs.Jobs() })
	return out
}

// RouteEvent delivers a domain event to every event trigger and returns how many matched.
func (s *Service) RouteEvent(event int, metadata map[string]string) (int, error) {
	var n int
	err := s.do(func() {
		for _, j := range s.jobs.Jobs() {
			d, ok := j.Trigger.(interface {
				Deliver(event int, metadata map[string]string) bool
			})
			if ok && d.Deliver(event, metadata) {
				n++
			}
		}
	})
	return n, err
}

func (s *Service) save() error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.Save(s.jobs.Jobs()); err != nil {
		s.log.Error("jobs write-back failed", logx.Err(err))
		return err
	}
	return nil
}
