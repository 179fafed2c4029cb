package trigger

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	logx "wmsched/pkg/logx"
)

// Spec is the persisted form of a trigger.
type Spec struct {
	Name     string            `json:"Name"`
	Settings map[string]string `json:"Settings"`
}

// SpecOf captures a trigger's persisted form.
func SpecOf(t Trigger) Spec {
	s := t.Settings()
	if s == nil {
		s = map[string]string{}
	}
	return Spec{Name: t.Name(), Settings: s}
}

// Factory builds a trigger from settings.
type Factory func(settings map[string]string, log logx.Logger) Trigger

// Registry maps trigger names to factories.
type Registry struct {
	log logx.Logger

	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in triggers.
func NewRegistry(log logx.Logger) *Registry {
	r := &Registry{
		log:       log.With(logx.String("comp", "trigger.registry")),
		factories: map[string]Factory{},
	}
	r.Register(CronTriggerName, func(s map[string]string, l logx.Logger) Trigger { return NewCron(s, l) })
	r.Register(EventTriggerName, func(s map[string]string, _ logx.Logger) Trigger { return NewEvent(s) })
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

// Make builds the named trigger. Unknown names are logged and yield nil.
func (r *Registry) Make(name string, settings map[string]string) Trigger {
	r.mu.RLock()
	f := r.factories[name]
	r.mu.RUnlock()
	if f == nil {
		r.log.Warn("unknown trigger", logx.String("trigger", name))
		return nil
	}
	return f(settings, r.log.With(logx.String("trigger", name)))
}

// MakeJSON builds a trigger from its persisted form `{"Name": ..., "Settings": {...}}`.
func (r *Registry) MakeJSON(raw []byte) Trigger {
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		r.log.Warn("malformed trigger entry", logx.Err(err))
		return nil
	}
	if strings.TrimSpace(spec.Name) == "" {
		r.log.Warn("trigger entry without name")
		return nil
	}
	return r.Make(spec.Name, spec.Settings)
}
