package config

import (
	"reflect"

	logx "wmsched/pkg/logx"
)

// Sections whose changes take effect without a restart.
var liveSections = map[string]bool{"logging": true}

// SummarizeConfigChange compares two configs section by section. It returns the
// changed section names, attrs describing the new values, and the subset of
// changed sections that need a restart to apply.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	oldRT, _ := oldCfg.Resolve(BaseDir())
	newRT, _ := newCfg.Resolve(BaseDir())

	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
		if !liveSections[section] {
			restart = append(restart, section)
		}
	}

	if oldRT.LogLevel != newRT.LogLevel || oldRT.LogConsole != newRT.LogConsole ||
		oldRT.LogFile != newRT.LogFile || oldRT.LogFilePath != newRT.LogFilePath {
		mark("logging",
			logx.String("logging.level", newRT.LogLevel),
			logx.Bool("logging.console", newRT.LogConsole),
			logx.Bool("logging.file", newRT.LogFile),
		)
	}
	if oldRT.Interval != newRT.Interval || oldRT.JobsFile != newRT.JobsFile {
		mark("scheduler",
			logx.Duration("scheduler.interval", newRT.Interval),
			logx.String("scheduler.jobs_file", newRT.JobsFile),
		)
	}
	if oldRT.Workers != newRT.Workers || oldRT.QueueSize != newRT.QueueSize || oldRT.HistorySize != newRT.HistorySize {
		mark("task_engine",
			logx.Int("task_engine.workers", newRT.Workers),
			logx.Int("task_engine.queue_size", newRT.QueueSize),
		)
	}
	if oldRT.OnReadError != newRT.OnReadError || oldRT.Debounce != newRT.Debounce {
		mark("reload",
			logx.String("reload.on_read_error", newRT.OnReadError),
			logx.Duration("reload.debounce", newRT.Debounce),
		)
	}
	if oldRT.StorageDriver != newRT.StorageDriver || oldRT.StoragePath != newRT.StoragePath ||
		oldRT.StorageBusyTimeout != newRT.StorageBusyTimeout {
		mark("storage",
			logx.String("storage.driver", newRT.StorageDriver),
			logx.String("storage.path", newRT.StoragePath),
		)
	}
	if oldRT.ProgramDir != newRT.ProgramDir || !reflect.DeepEqual(oldRT.ProgramOverrides, newRT.ProgramOverrides) {
		mark("programs",
			logx.String("programs.dir", newRT.ProgramDir),
			logx.Int("programs.overrides", len(newRT.ProgramOverrides)),
		)
	}
	return changed, attrs, restart
}
