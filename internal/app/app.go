package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wmsched/internal/config"
	"wmsched/internal/engine"
	"wmsched/internal/eventbus"
	"wmsched/internal/job"
	rtsup "wmsched/internal/runtime/supervisor"
	"wmsched/internal/scheduler"
	"wmsched/internal/storage"
	"wmsched/internal/watcher"
	logx "wmsched/pkg/logx"
)

// App is the scheduler daemon: the job set from the jobs file, polled on a
// ticker, executed by a worker pool, and kept in sync with the file on disk.
type App struct {
	cfgm *config.ConfigManager
	rt   config.Runtime
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Service
	jobs   *job.FileStore
	watch  *watcher.ConfigWatcher
}

func New(cfgPath string) (*App, error) {
	cfgm, rt, err := loadRuntime(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(rt.Logging())
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	st, err := storage.Open(mapStorageConfig(rt), log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	if st != nil {
		log.Info("run history enabled", logx.String("driver", rt.StorageDriver), logx.String("path", rt.StoragePath))
	}

	jobs := job.NewFileStore(rt.JobsFile, newLoader(rt, log))
	eng := engine.New(mapEngineConfig(rt), log.With(logx.String("comp", "taskengine")), bus)
	sched := scheduler.New(scheduler.Config{Interval: rt.Interval}, eng, log, scheduler.WithPersister(jobs))
	cw := watcher.New(jobs, sched, log,
		watcher.WithPolicy(rt.OnReadError),
		watcher.WithDebounce(rt.Debounce),
		watcher.WithBus(bus),
	)

	return &App{
		cfgm:   cfgm,
		rt:     rt,
		log:    log.With(logx.String("comp", "app")),
		logs:   logSvc,
		bus:    bus,
		store:  st,
		engine: eng,
		sched:  sched,
		jobs:   jobs,
		watch:  cw,
	}, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Bus() eventbus.Bus { return a.bus }

// RouteEvent delivers a domain event to the event triggers and returns how many matched.
// Publishing an eventbus.TypeDomain event on Bus() has the same effect; Publish
// then returns once the event reached the triggers.
func (a *App) RouteEvent(event int, metadata map[string]string) (int, error) {
	return a.sched.RouteEvent(event, metadata)
}

func (a *App) routeBusEvent(e eventbus.Event) {
	de, ok := e.Data.(eventbus.DomainEvent)
	if !ok {
		a.log.Warn("domain event without payload", logx.String("type", e.Type))
		return
	}
	n, err := a.sched.RouteEvent(de.ID, de.Metadata)
	if err != nil {
		a.log.Warn("domain event not routed", logx.Int("event", de.ID), logx.Err(err))
		return
	}
	a.log.Debug("domain event routed", logx.Int("event", de.ID), logx.Int("matched", n))
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if _, err := a.watch.Reload(); err != nil {
		a.log.Warn("initial jobs load failed", logx.String("path", a.rt.JobsFile), logx.Err(err))
	}

	if a.store != nil {
		rec := &storage.Recorder{Store: a.store, Log: a.log.With(logx.String("comp", "storage"))}
		a.sup.Go("storage.recorder", func(c context.Context) error { return rec.Run(c, a.bus) })
	}

	// Domain events are routed inline so none is lost to a full subscriber buffer.
	unroute := a.bus.Handle(eventbus.TypeDomain, a.routeBusEvent)
	a.sup.Go0("eventbus.route", func(c context.Context) {
		<-c.Done()
		unroute()
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("jobs.watch", a.watch.Run)

	a.startConfigReload()

	a.log.Info("app started",
		logx.String("jobs_file", a.rt.JobsFile),
		logx.String("program_dir", a.rt.ProgramDir),
		logx.Int("jobs", len(a.sched.Jobs())),
	)
	return nil
}

// startConfigReload applies logging changes from the service config file and
// reports changes to other sections, which need a restart.
func (a *App) startConfigReload() {
	fw := &watcher.FileWatch{
		Path:     a.cfgm.Path(),
		Debounce: a.rt.Debounce,
		Log:      a.log.With(logx.String("comp", "config.watch")),
		OnChange: func() { _, _ = a.cfgm.Reload() },
	}
	a.sup.Go("config.watch", fw.Run)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				sections, attrs, restart := config.SummarizeConfigChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Info("config reloaded (no changes)")
					continue
				}
				if rt, err := newCfg.Resolve(config.BaseDir()); err == nil {
					if err := a.logs.Apply(rt.Logging()); err != nil {
						a.log.Warn("log sinks partially applied", logx.Err(err))
					}
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
				if len(restart) > 0 {
					a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
				}
			}
		}
	})
}

// Stop drains dispatched runs, then stops the background loops.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	// Running children are never killed; the drain is bounded only by ctx.
	step("scheduler", time.Hour, a.sched.Stop)
	a.sup.Cancel()
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("scheduler.close", time.Second, a.sched.Close)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Uint64("goroutines", c.Started), logx.Uint64("panics", c.Panics), logx.Int64("leaked", c.Active))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
