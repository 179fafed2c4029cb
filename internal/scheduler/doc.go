// Package scheduler owns the live job set and turns trigger signals into task runs.
//
// A single goroutine (started by New, ended by Close) serves every operation:
// ticks, job mutations, and event routing. Start and Stop only arm and disarm
// the ticker, so the same API also edits job files without ever ticking.
package scheduler
