package app

import (
	"wmsched/internal/config"
	"wmsched/internal/engine"
	"wmsched/internal/job"
	"wmsched/internal/storage"
	"wmsched/internal/task"
	"wmsched/internal/trigger"
	logx "wmsched/pkg/logx"
)

// loadRuntime loads the service configuration (absent file means defaults) and resolves it.
func loadRuntime(cfgPath string) (*config.ConfigManager, config.Runtime, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, config.Runtime{}, err
	}
	rt, err := cfg.Resolve(config.BaseDir())
	if err != nil {
		return nil, config.Runtime{}, err
	}
	return cfgm, rt, nil
}

func newLoader(rt config.Runtime, log logx.Logger) *job.Loader {
	env := task.Env{
		ProgramDir: rt.ProgramDir,
		Overrides:  rt.ProgramOverrides,
		Log:        log,
	}
	return &job.Loader{
		Tasks:    task.NewRegistry(env),
		Triggers: trigger.NewRegistry(log),
		Log:      log.With(logx.String("comp", "jobs")),
	}
}

func mapEngineConfig(rt config.Runtime) engine.Config {
	return engine.Config{
		Workers:     rt.Workers,
		QueueSize:   rt.QueueSize,
		HistorySize: rt.HistorySize,
	}
}

func mapStorageConfig(rt config.Runtime) storage.Config {
	return storage.Config{
		Driver:      rt.StorageDriver,
		Path:        rt.StoragePath,
		BusyTimeout: rt.StorageBusyTimeout,
	}
}
