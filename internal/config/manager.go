package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	logx "wmsched/pkg/logx"
)

// ConfigManager owns the service configuration file.
//
// A missing file is not an error: every section takes its default. Reload is
// meant to be driven by a file watcher; subscribers only ever see the newest
// accepted config.
type ConfigManager struct {
	path string
	log  logx.Logger

	cur atomic.Pointer[snapshot]

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

type snapshot struct {
	cfg  *Config
	hash uint64
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop(), subs: map[chan *Config]struct{}{}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// read decodes and validates the file. A missing file yields an empty Config.
func (m *ConfigManager) read() (*Config, error) {
	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &Config{}, nil
	case err != nil:
		return nil, err
	}
	cfg, err := Decode(m.path, data)
	if err != nil {
		return nil, err
	}
	if _, err := cfg.Resolve(BaseDir()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.read()
	if err != nil {
		return nil, err
	}
	m.cur.Store(&snapshot{cfg: cfg, hash: fingerprint(cfg)})
	return cfg, nil
}

// Get returns the committed config, nil before Load.
func (m *ConfigManager) Get() *Config {
	if s := m.cur.Load(); s != nil {
		return s.cfg
	}
	return nil
}

// Reload re-reads the file and publishes it to subscribers when its content changed.
// A file that fails to parse or validate is logged and the current config is kept.
func (m *ConfigManager) Reload() (bool, error) {
	cfg, err := m.read()
	if err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return false, err
	}
	next := &snapshot{cfg: cfg, hash: fingerprint(cfg)}
	if prev := m.cur.Load(); prev != nil && next.hash != 0 && prev.hash == next.hash {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return false, nil
	}
	m.cur.Store(next)

	m.subsMu.Lock()
	for ch := range m.subs {
		m.offer(ch, cfg)
	}
	m.subsMu.Unlock()
	m.log.Debug("config published", logx.String("path", m.path), logx.String("hash", fmt.Sprintf("%016x", next.hash)))
	return true, nil
}

// offer sends cfg without blocking, evicting a stale queued config if needed.
func (m *ConfigManager) offer(ch chan *Config, cfg *Config) {
	for range 2 {
		select {
		case ch <- cfg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
	m.log.Debug("config update dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown or already removed channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}
