package task

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wmsched/internal/trigger"
	logx "wmsched/pkg/logx"
)

// processTask is the shared implementation of every built-in task.
// A clone owns its settings; nothing is shared with the template.
type processTask struct {
	kind *kind
	env  Env

	settings map[string]string
	signal   trigger.SignalInfo
	result   Result
}

func newProcessTask(k *kind, settings map[string]string, env Env) *processTask {
	t := &processTask{kind: k, env: env}
	t.SetSettings(settings)
	return t
}

func (t *processTask) Name() string { return t.kind.name }

func (t *processTask) Settings() map[string]string { return cloneSettings(t.settings) }

func (t *processTask) SetSettings(settings map[string]string) {
	t.settings = cloneSettings(settings)
	if t.settings == nil {
		t.settings = map[string]string{}
	}
	for old, key := range legacyKeys {
		v, ok := t.settings[old]
		if !ok {
			continue
		}
		delete(t.settings, old)
		if _, set := t.settings[key]; !set {
			t.settings[key] = v
		}
	}
}

func (t *processTask) SetSignalInfo(info trigger.SignalInfo) { t.signal = info.Clone() }
func (t *processTask) SignalInfo() trigger.SignalInfo        { return t.signal.Clone() }

func (t *processTask) CheckSettings() bool { return len(t.missing()) == 0 }

func (t *processTask) missing() []string {
	var out []string
	for _, k := range t.kind.required {
		if strings.TrimSpace(t.settings[k]) == "" {
			out = append(out, k)
		}
	}
	return out
}

func (t *processTask) OnlySupportedTriggers() []TriggerSupport {
	return append([]TriggerSupport(nil), t.kind.triggers...)
}

func (t *processTask) Clone() Task {
	c := newProcessTask(t.kind, t.settings, t.env)
	c.signal = t.signal.Clone()
	return c
}

func (t *processTask) Result() Result { return t.result }

// Run applies the signal to the settings, checks them, and supervises the helper program.
func (t *processTask) Run(ctx context.Context) error {
	log := t.env.Log.With(
		logx.String("comp", "task"),
		logx.String("task", t.kind.name),
		logx.String("job", t.signal.Meta(trigger.MetaJobID)),
	)

	t.applySignal(log)

	if miss := t.missing(); len(miss) > 0 {
		log.Error("task not started: missing settings", logx.String("missing", strings.Join(miss, ",")))
		return fmt.Errorf("%w: %s missing %s", ErrSettings, t.kind.name, strings.Join(miss, ","))
	}
	program, args, err := t.kind.command(t.settings)
	if err != nil {
		log.Error("task not started: invalid settings", logx.Err(err))
		return fmt.Errorf("%w: %s: %v", ErrSettings, t.kind.name, err)
	}
	owner := ""
	if program == "" {
		program, owner = t.kind.program, t.kind.name
	}
	if err := ctx.Err(); err != nil {
		log.Warn("task not started: shutting down", logx.Err(err))
		return err
	}

	path := t.env.resolve(owner, program)
	log.Info("task started",
		logx.String("program", path),
		logx.Uint32("signals", t.signal.SignalCount),
		logx.StringMap("signal", t.signal.Metadata),
	)

	res, err := Supervise(Command{Path: path, Args: args}, log)
	t.result = res
	if err != nil {
		log.Error("task failed",
			logx.Err(err),
			logx.Int("exit_code", res.ExitCode),
			logx.Int("errors", res.Errors),
			logx.Duration("took", res.Duration),
		)
		return err
	}
	log.Info("task succeeded",
		logx.Int("warnings", res.Warnings),
		logx.Uint64("peak_rss", res.PeakRSS),
		logx.Duration("took", res.Duration),
	)
	return nil
}

func (t *processTask) applySignal(log logx.Logger) {
	if t.kind.fromSignal != nil {
		t.kind.fromSignal(t.settings, t.signal)
	}
	path := t.signal.Meta(trigger.MetaPath)
	if path == "" {
		return
	}
	values, err := PlaceholderValues(path)
	if err != nil {
		log.Debug("no placeholder values", logx.String("path", path), logx.Err(err))
		return
	}
	t.settings = ExpandPlaceholders(t.settings, values)
}

func cloneSettings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SettingKeys lists the keys of a settings map in order, for stable output.
func SettingKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
