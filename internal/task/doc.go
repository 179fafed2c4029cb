// Package task holds the units of work a job runs.
//
// Every built-in task runs a helper program as a child process. The child gets
// the write end of a pipe as fd 3 (and "3" as its first argument) and reports
// progress as newline-delimited messages prefixed by a severity sigil:
//
//	# error   $ warning   & info   ? debug
//
// A run fails when the child reports an error, exits abnormally, or never
// writes a recognized line.
package task
