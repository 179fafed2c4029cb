package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"wmsched/internal/eventbus"
	rtsup "wmsched/internal/runtime/supervisor"
	logx "wmsched/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a bounded queue drained by a fixed set of workers.
//
// Stop closes the queue and lets the workers finish everything already accepted;
// running tasks are never interrupted.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopping bool
	stopDone chan struct{}

	hmu     sync.Mutex
	history []HistoryItem

	idSeq    uint64
	inFlight int32
	done     uint64
	failed   uint64
	dropped  uint64

	warn *rate.Limiter
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg.withDefaults(),
		log:  log.With(logx.String("comp", "engine")),
		bus:  bus,
		warn: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}
}

// Start launches the workers. It is a no-op while running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.q != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.q != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	queue := make(chan queuedTask, cfg.QueueSize)
	s.q = queue
	s.stopping = false
	s.stopDone = nil
	// Detached from ctx: workers end when the queue is closed, not when the caller's context ends.
	sup := rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	s.sup = sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, queue)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops accepting work and waits until the queue is drained and every running
// task returned. If ctx ends first, tasks that have not started yet see a canceled
// context and Stop returns ctx.Err(); draining continues in the background.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.q == nil {
		s.mu.Unlock()
		return nil
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	s.stopDone = done
	s.stopping = true
	close(s.q)
	sup := s.sup
	s.mu.Unlock()

	go func() {
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.q = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
		return nil
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("task engine stop timed out; pending tasks will be skipped", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

// Enqueue hands t to the pool without blocking. A full queue drops t and
// publishes task.dropped.
func (s *Service) Enqueue(t Task) error { return s.enqueue(t, true) }

// Offer is Enqueue for callers that keep t and retry: a full queue returns
// ErrQueueFull without counting or publishing a drop.
func (s *Service) Offer(t Task) error { return s.enqueue(t, false) }

func (s *Service) enqueue(t Task, dropWhenFull bool) error {
	if t.Run == nil {
		return fmt.Errorf("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = s.newTaskID(now)
	}

	// The send happens under mu so it cannot race with Stop closing the queue.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q == nil {
		return ErrStopped
	}
	if s.stopping {
		return ErrStopping
	}
	select {
	case s.q <- queuedTask{task: t, enqueuedAt: now}:
		return nil
	default:
	}
	if dropWhenFull {
		s.onQueueFull(now, t, len(s.q), cap(s.q))
	}
	return ErrQueueFull
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q != nil && !s.stopping
}

// Supervisor returns the worker supervisor (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := q != nil && !s.stopping
	ql, qc := 0, 0
	if q != nil {
		ql, qc = len(q), cap(q)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:  running,
		Workers:  cfg.Workers,
		QueueLen: ql,
		QueueCap: qc,
		InFlight: int(atomic.LoadInt32(&s.inFlight)),
		Done:     atomic.LoadUint64(&s.done),
		Failed:   atomic.LoadUint64(&s.failed),
		Dropped:  atomic.LoadUint64(&s.dropped),
		History:  h,
	}
}

func (s *Service) newTaskID(now time.Time) string {
	seq := atomic.AddUint64(&s.idSeq, 1)
	return fmt.Sprintf("run-%x-%x", now.UnixNano(), seq)
}

func (s *Service) onQueueFull(now time.Time, t Task, ql, qc int) {
	n := atomic.AddUint64(&s.dropped, 1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskDropped, Time: now, Data: TaskEvent{ID: t.ID, Name: t.Name, JobID: t.JobID, Started: now, Error: "queue_full"}})
	}
	if s.warn.Allow() {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.String("job", t.JobID),
			logx.Int("queue_len", ql),
			logx.Int("queue_cap", qc),
			logx.Uint64("dropped", n),
		)
	}
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = s.history[over:]
	}
	s.hmu.Unlock()
}
