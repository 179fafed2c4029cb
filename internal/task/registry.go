package task

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	logx "wmsched/pkg/logx"
)

// Spec is the persisted form of a task.
type Spec struct {
	Name     string            `json:"Name"`
	Settings map[string]string `json:"Settings"`
}

// SpecOf captures a task's persisted form.
func SpecOf(t Task) Spec {
	s := t.Settings()
	if s == nil {
		s = map[string]string{}
	}
	return Spec{Name: t.Name(), Settings: s}
}

// Factory builds a task from settings.
type Factory func(settings map[string]string, env Env) Task

// Registry maps task names to factories.
type Registry struct {
	env Env
	log logx.Logger

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in tasks, all sharing env.
func NewRegistry(env Env) *Registry {
	r := &Registry{
		env:       env,
		log:       env.Log.With(logx.String("comp", "task.registry")),
		factories: map[string]Factory{},
	}
	for _, k := range kinds {
		k := k
		r.Register(k.name, func(s map[string]string, env Env) Task { return newProcessTask(k, s, env) })
	}
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	name = strings.TrimSpace(name)
	if name == "" || f == nil {
		return
	}
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for n := range r.factories {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Make builds the named task. Unknown names are logged and yield nil.
func (r *Registry) Make(name string, settings map[string]string) Task {
	r.mu.RLock()
	f := r.factories[name]
	r.mu.RUnlock()
	if f == nil {
		r.log.Warn("unknown task", logx.String("task", name))
		return nil
	}
	return f(settings, r.env)
}

// MakeJSON builds a task from its persisted form `{"Name": ..., "Settings": {...}}`.
func (r *Registry) MakeJSON(raw []byte) Task {
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		r.log.Warn("malformed task entry", logx.Err(err))
		return nil
	}
	if strings.TrimSpace(spec.Name) == "" {
		r.log.Warn("task entry without name")
		return nil
	}
	return r.Make(spec.Name, spec.Settings)
}
