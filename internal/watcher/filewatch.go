package watcher

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "wmsched/pkg/logx"
)

const (
	defaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// FileWatch calls OnChange once per burst of filesystem events on Path.
//
// The parent directory is watched rather than the file so that editors which
// replace the file (write temp + rename) keep being observed.
type FileWatch struct {
	Path     string
	Debounce time.Duration
	Log      logx.Logger
	OnChange func()
}

// Run blocks until ctx is done. Watcher failures are retried with a jittered backoff.
func (w *FileWatch) Run(ctx context.Context) error {
	dir := filepath.Dir(w.Path)
	file := filepath.Base(w.Path)
	log := w.Log.With(logx.String("dir", dir), logx.String("file", file))

	wait := w.Debounce
	if wait <= 0 {
		wait = defaultDebounce
	}

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		log.Debug("change detected; scheduling reload")
		timer = time.AfterFunc(wait, func() {
			if ctx.Err() == nil {
				w.OnChange()
			}
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	backoff := restartBackoffBase
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	sleep := func(reason string) bool {
		d := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		log.Warn(reason, logx.Duration("backoff", d))
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for ctx.Err() == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			log.Warn("watch init failed", logx.Err(err))
			if !sleep("watcher not started; retrying") {
				return nil
			}
			continue
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			log.Warn("watch add failed", logx.Err(err))
			if !sleep("watcher not started; retrying") {
				return nil
			}
			continue
		}

		backoff = restartBackoffBase
		log.Debug("watcher started")

		if w.serve(ctx, fw, file, log, trigger) {
			_ = fw.Close()
			return nil
		}
		_ = fw.Close()
		// Events may have been missed while the watcher was broken.
		trigger()
		if !sleep("watcher stopped; restarting") {
			return nil
		}
	}
	return nil
}

// serve pumps events until ctx is done (true) or the watcher breaks (false).
func (w *FileWatch) serve(ctx context.Context, fw *fsnotify.Watcher, file string, log logx.Logger, trigger func()) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-fw.Events:
			if !ok {
				return false
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				trigger()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return false
			}
			if err == nil {
				continue
			}
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "overflow") {
				log.Warn("watch overflow; forcing reload", logx.Err(err))
				trigger()
				continue
			}
			log.Warn("watch error", logx.Err(err))
			if strings.Contains(msg, "closed") {
				return false
			}
		}
	}
}
