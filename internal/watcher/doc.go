// Package watcher reloads files when they change on disk.
//
// FileWatch is the low-level fsnotify loop (directory watch, debounce,
// self-healing restart). ConfigWatcher applies it to the jobs file and
// replaces the scheduler's job set on every external modification.
package watcher
