package task

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	logx "wmsched/pkg/logx"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	p := filepath.Join(t.TempDir(), "prog.sh")
	if err := os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return p
}

func TestSigil(t *testing.T) {
	tests := []struct {
		line  string
		level logx.Level
		msg   string
		ok    bool
	}{
		{"#disk full", logx.LevelError, "disk full", true},
		{"$ slow link", logx.LevelWarn, "slow link", true},
		{"&copied 3 files", logx.LevelInfo, "copied 3 files", true},
		{"?state=2", logx.LevelDebug, "state=2", true},
		{"plain text", logx.LevelDebug, "plain text", false},
		{"", logx.LevelDebug, "", false},
	}
	for _, tt := range tests {
		level, msg, ok := Sigil(tt.line)
		if level != tt.level || msg != tt.msg || ok != tt.ok {
			t.Fatalf("Sigil(%q)=(%v,%q,%v) want (%v,%q,%v)", tt.line, level, msg, ok, tt.level, tt.msg, tt.ok)
		}
	}
}

func TestSuperviseOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  error
		wantExit int
		check    func(t *testing.T, r Result)
	}{
		{
			name: "success",
			body: "echo '&hello' >&3\necho '?detail' >&3\necho >&3\necho '$careful' >&3",
			check: func(t *testing.T, r Result) {
				if r.Infos != 1 || r.Debugs != 1 || r.Warnings != 1 || r.Unrecognized != 0 {
					t.Fatalf("counts=%+v", r)
				}
			},
		},
		{
			name:    "error sigil",
			body:    "echo '&start' >&3\necho '#boom' >&3",
			wantErr: ErrFailed,
			check: func(t *testing.T, r Result) {
				if r.Errors != 1 {
					t.Fatalf("errors=%d", r.Errors)
				}
			},
		},
		{
			name:     "abnormal exit",
			body:     "echo '&start' >&3\nexit 3",
			wantErr:  ErrFailed,
			wantExit: 3,
		},
		{
			name:    "line without sigil",
			body:    "echo '&started' >&3\necho 'garbage line' >&3",
			wantErr: ErrFailed,
			check: func(t *testing.T, r Result) {
				if r.Infos != 1 || r.Unrecognized != 1 || r.ExitCode != 0 {
					t.Fatalf("counts=%+v", r)
				}
			},
		},
		{
			name:    "nothing recognized",
			body:    "echo 'just text' >&3",
			wantErr: ErrFailed,
		},
		{
			name:    "silent",
			body:    "true",
			wantErr: ErrFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeScript(t, tt.body)
			res, err := Supervise(Command{Path: path}, logx.Nop())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err=%v want %v", err, tt.wantErr)
			}
			if res.ExitCode != tt.wantExit {
				t.Fatalf("exit=%d want %d", res.ExitCode, tt.wantExit)
			}
			if res.PID <= 0 {
				t.Fatalf("pid not recorded")
			}
			if tt.check != nil {
				tt.check(t, res)
			}
		})
	}
}

func TestSupervisePassesPipeDescriptorFirst(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args")
	path := writeScript(t, `printf '%s\n' "$@" > "$ARGS_OUT"`+"\necho \"&fd $1\" >&$1")

	_, err := Supervise(Command{Path: path, Args: []string{"--a=1", "b c"}, Env: []string{"ARGS_OUT=" + out}}, logx.Nop())
	if err != nil {
		t.Fatalf("supervise: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	if got, want := string(b), "3\n--a=1\nb c\n"; got != want {
		t.Fatalf("args=%q want %q", got, want)
	}
}

func TestSuperviseForwardsMessagesAtMappedLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logx.NewWriter(&buf, "debug")
	path := writeScript(t, "echo '&copied' >&3\necho '$retrying' >&3")

	if _, err := Supervise(Command{Path: path}, log); err != nil {
		t.Fatalf("supervise: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"level":"info"`, `"message":"copied"`, `"level":"warn"`, `"message":"retrying"`, `"pid":`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %s:\n%s", want, out)
		}
	}
}

func TestSuperviseSpawnFailure(t *testing.T) {
	_, err := Supervise(Command{Path: filepath.Join(t.TempDir(), "missing")}, logx.Nop())
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("err=%v want ErrSpawn", err)
	}
}
