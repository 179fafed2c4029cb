// Package storage keeps the history of task runs.
//
// Two drivers exist: "file" (JSON Lines, compacted in place) and "sqlite"
// (built with -tags sqlite). Recorder feeds a Store from the event bus.
package storage
