package task

import "errors"

var (
	// ErrSettings is returned when required settings are missing or invalid; nothing is spawned.
	ErrSettings = errors.New("task settings invalid")
	// ErrSpawn is returned when the pipe or the child process could not be created.
	ErrSpawn = errors.New("task spawn failed")
	// ErrFailed is returned when the child reported an error, exited abnormally, or stayed silent.
	ErrFailed = errors.New("task failed")
)
