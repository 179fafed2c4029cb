package task

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	logx "wmsched/pkg/logx"
)

// pipeFD is the descriptor number the child sees for the log pipe (first ExtraFiles entry).
const pipeFD = 3

const maxLineBytes = 1 << 20

// Command is a program invocation. Args follow the pipe descriptor argument.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Result describes one supervised run.
type Result struct {
	Program  string        `json:"program"`
	PID      int           `json:"pid,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`

	Errors       int `json:"errors"`
	Warnings     int `json:"warnings"`
	Infos        int `json:"infos"`
	Debugs       int `json:"debugs"`
	Unrecognized int `json:"unrecognized"`

	// PeakRSS is the largest resident set size sampled while the child was writing (bytes).
	PeakRSS uint64 `json:"peak_rss,omitempty"`
}

// Recognized is the number of lines that carried a sigil.
func (r Result) Recognized() int { return r.Errors + r.Warnings + r.Infos + r.Debugs }

// Sigil maps a message prefix to a log level.
func Sigil(line string) (logx.Level, string, bool) {
	if line == "" {
		return logx.LevelDebug, line, false
	}
	msg := strings.TrimSpace(line[1:])
	switch line[0] {
	case '#':
		return logx.LevelError, msg, true
	case '$':
		return logx.LevelWarn, msg, true
	case '&':
		return logx.LevelInfo, msg, true
	case '?':
		return logx.LevelDebug, msg, true
	default:
		return logx.LevelDebug, line, false
	}
}

// Supervise runs c with a log pipe on fd 3 and forwards every message to log.
// It always reaps the child before returning and never kills it.
//
// The run fails on an error sigil, an abnormal exit, any non-blank line
// without a sigil, or when no sigil line was written at all.
func Supervise(c Command, log logx.Logger) (Result, error) {
	res := Result{Program: c.Path, ExitCode: -1}

	r, w, err := os.Pipe()
	if err != nil {
		return res, fmt.Errorf("%w: pipe: %v", ErrSpawn, err)
	}

	args := append([]string{strconv.Itoa(pipeFD)}, c.Args...)
	cmd := exec.Command(c.Path, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.ExtraFiles = []*os.File{w}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return res, fmt.Errorf("%w: %s: %v", ErrSpawn, c.Path, err)
	}
	// Only the child may hold the write end, otherwise EOF never arrives.
	_ = w.Close()

	res.PID = cmd.Process.Pid
	plog := log.With(logx.Int("pid", res.PID))

	proc, perr := process.NewProcess(int32(res.PID))
	if perr != nil {
		proc = nil
	}
	sample := func() {
		if proc == nil {
			return
		}
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil && mi.RSS > res.PeakRSS {
			res.PeakRSS = mi.RSS
		}
	}
	sample()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		level, msg, ok := Sigil(line)
		if !ok {
			res.Unrecognized++
			plog.Debug("unrecognized child output", logx.String("line", line))
			continue
		}
		switch level {
		case logx.LevelError:
			res.Errors++
		case logx.LevelWarn:
			res.Warnings++
		case logx.LevelInfo:
			res.Infos++
		default:
			res.Debugs++
		}
		plog.Log(level, msg)
		sample()
	}
	if err := sc.Err(); err != nil {
		plog.Warn("child log pipe read failed; discarding the rest", logx.Err(err))
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
	_ = r.Close()

	waitErr := cmd.Wait()
	res.Duration = time.Since(started)
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case waitErr != nil:
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			return res, fmt.Errorf("%w: %s exited abnormally: %v", ErrFailed, c.Path, waitErr)
		}
		return res, fmt.Errorf("%w: wait %s: %v", ErrFailed, c.Path, waitErr)
	case res.Errors > 0:
		return res, fmt.Errorf("%w: %s reported %d error(s)", ErrFailed, c.Path, res.Errors)
	case res.Unrecognized > 0:
		return res, fmt.Errorf("%w: %s wrote %d line(s) without a severity sigil", ErrFailed, c.Path, res.Unrecognized)
	case res.Recognized() == 0:
		return res, fmt.Errorf("%w: %s wrote no recognized log line", ErrFailed, c.Path)
	}
	return res, nil
}
