package watcher

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"wmsched/internal/config"
	"wmsched/internal/eventbus"
	"wmsched/internal/job"
	logx "wmsched/pkg/logx"
)

// Rewriter receives the parsed job list.
type Rewriter interface {
	RewriteJobs(jobs []*job.Job) error
}

type Option func(*ConfigWatcher)

// WithPolicy selects the read failure policy (config.OnReadErrorEmpty or config.OnReadErrorKeep).
func WithPolicy(p string) Option { return func(w *ConfigWatcher) { w.policy = p } }

func WithDebounce(d time.Duration) Option { return func(w *ConfigWatcher) { w.debounce = d } }

// WithBus publishes eventbus.TypeJobsReloaded after every reload attempt.
func WithBus(b eventbus.Bus) Option { return func(w *ConfigWatcher) { w.bus = b } }

func WithClock(now func() time.Time) Option { return func(w *ConfigWatcher) { w.now = now } }

// ConfigWatcher keeps the scheduler's job set in sync with the jobs file.
type ConfigWatcher struct {
	store    *job.FileStore
	target   Rewriter
	log      logx.Logger
	bus      eventbus.Bus
	policy   string
	debounce time.Duration
	now      func() time.Time

	reloadMu sync.Mutex

	// lastHash is the content last applied or written by the scheduler. hashMu
	// is never held across RewriteJobs: write-backs call MarkOwnWrite from the
	// scheduler goroutine.
	hashMu   sync.Mutex
	lastHash uint64
	applied  bool
}

// New hooks the store so that its own writes are not reloaded.
func New(store *job.FileStore, target Rewriter, log logx.Logger, opts ...Option) *ConfigWatcher {
	w := &ConfigWatcher{
		store:  store,
		target: target,
		log:    log.With(logx.String("comp", "watcher"), logx.String("path", store.Path())),
		policy: config.OnReadErrorEmpty,
		now:    time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	store.OnWrite(w.MarkOwnWrite)
	return w
}

// MarkOwnWrite records data as already applied.
func (w *ConfigWatcher) MarkOwnWrite(data []byte) {
	w.setHash(hashBytes(data), true)
}

func (w *ConfigWatcher) setHash(h uint64, applied bool) {
	w.hashMu.Lock()
	w.lastHash, w.applied = h, applied
	w.hashMu.Unlock()
}

// Run watches the jobs file until ctx is done. It does not perform the initial load.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	fw := &FileWatch{
		Path:     w.store.Path(),
		Debounce: w.debounce,
		Log:      w.log,
		OnChange: func() { _, _ = w.Reload() },
	}
	return fw.Run(ctx)
}

// Reload reads the jobs file and replaces the job set. It returns the number of
// jobs now scheduled, or -1 when the job set was left as it was (unchanged
// content, or a read failure under the keep policy).
func (w *ConfigWatcher) Reload() (int, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	data, err := w.store.Read()
	if err != nil {
		// Restoring the same content later must reload.
		w.setHash(0, false)
		return w.failed("jobs file unreadable", err)
	}

	h := hashBytes(data)
	w.hashMu.Lock()
	unchanged := w.applied && h == w.lastHash
	w.hashMu.Unlock()
	if unchanged {
		w.log.Debug("jobs file unchanged; skipping reload")
		return -1, nil
	}

	jobs, err := w.store.Loader().Parse(data, w.now())
	if err != nil {
		w.setHash(0, false)
		return w.failed("jobs file rejected", err)
	}
	if err := w.target.RewriteJobs(jobs); err != nil {
		return 0, err
	}
	w.setHash(h, true)
	w.log.Info("jobs reloaded", logx.Int("jobs", len(jobs)))
	w.publish(len(jobs), nil)
	return len(jobs), nil
}

func (w *ConfigWatcher) failed(msg string, cause error) (int, error) {
	if w.policy == config.OnReadErrorKeep {
		w.log.Warn(msg+"; keeping current jobs", logx.Err(cause))
		w.publish(-1, cause)
		return -1, cause
	}
	w.log.Warn(msg+"; clearing jobs", logx.Err(cause))
	if err := w.target.RewriteJobs(nil); err != nil {
		return 0, errors.Join(cause, err)
	}
	w.publish(0, cause)
	return 0, nil
}

func (w *ConfigWatcher) publish(n int, err error) {
	if w.bus == nil {
		return
	}
	r := eventbus.Reload{Path: w.store.Path(), Jobs: n}
	if err != nil {
		r.Error = err.Error()
	}
	w.bus.Publish(eventbus.Event{Type: eventbus.TypeJobsReloaded, Data: r})
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
