package task

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	logx "wmsched/pkg/logx"
)

// Env is what tasks need from the host: where helper programs live and where to log.
type Env struct {
	// ProgramDir holds the helper programs (wm_backup, wm_transfer, ...).
	ProgramDir string
	// Overrides maps a task name or a program name to an explicit executable path.
	Overrides map[string]string
	Log       logx.Logger
}

// resolve finds the executable for a task. Overrides win, then ProgramDir, then PATH.
// taskName is empty when the program came from the task's own settings.
func (e Env) resolve(taskName, program string) string {
	if taskName != "" {
		if p := strings.TrimSpace(e.Overrides[taskName]); p != "" {
			return p
		}
	}
	if p := strings.TrimSpace(e.Overrides[program]); p != "" {
		return p
	}
	if strings.ContainsRune(program, os.PathSeparator) {
		return program
	}
	if e.ProgramDir != "" {
		p := filepath.Join(e.ProgramDir, program)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if p, err := exec.LookPath(program); err == nil {
		return p
	}
	return filepath.Join(e.ProgramDir, program)
}
