package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseSettings(t *testing.T) {
	got, err := parseSettings([]string{"backupPath=/b", " TimeToLiveDays =7", "Command=sh -c 'a=b'"})
	if err != nil {
		t.Fatalf("parseSettings: %v", err)
	}
	if got["backupPath"] != "/b" || got["TimeToLiveDays"] != "7" || got["Command"] != "sh -c 'a=b'" {
		t.Fatalf("got %v", got)
	}
	if _, err := parseSettings([]string{"novalue"}); err == nil {
		t.Fatalf("missing '=' accepted")
	}
}

func TestFormatSettingsMasksPasswords(t *testing.T) {
	s := formatSettings(map[string]string{"TargetPassword": "secret", "TargetUserName": "wm"})
	if strings.Contains(s, "secret") || s != "TargetPassword=*** TargetUserName=wm" {
		t.Fatalf("got %q", s)
	}
}

func TestJobsCommands(t *testing.T) {
	base := t.TempDir()
	t.Setenv("WM_BASE_DIR", base)
	cfg := filepath.Join(base, "absent.json")

	out, err := execute(t, "--config", cfg, "jobs", "add",
		"--id", "5b0e3a52-8d0e-4a53-9b6b-2f0c3a4d7e11",
		"--task", "DeleteBackupsTask", "--set", "backupPath=/b", "--set", "TimeToLiveDays=14",
		"--cron", "0 3 * * *")
	if err != nil {
		t.Fatalf("add: %v (%s)", err, out)
	}

	out, err = execute(t, "--config", cfg, "jobs", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "5b0e3a52-8d0e-4a53-9b6b-2f0c3a4d7e11") || !strings.Contains(out, `cron "0 3 * * *"`) {
		t.Fatalf("list output:\n%s", out)
	}

	if out, err := execute(t, "--config", cfg, "check"); err != nil {
		t.Fatalf("check: %v (%s)", err, out)
	}

	if _, err := execute(t, "--config", cfg, "jobs", "add", "--task", "BackupLocalDirectoryTask", "--set", "backupPath=/b", "--event", "2"); err == nil {
		t.Fatalf("unsupported trigger accepted")
	}

	if _, err := execute(t, "--config", cfg, "jobs", "remove", "5b0e3a52-8d0e-4a53-9b6b-2f0c3a4d7e11"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := execute(t, "--config", cfg, "jobs", "remove", "5b0e3a52-8d0e-4a53-9b6b-2f0c3a4d7e11"); err == nil {
		t.Fatalf("second remove succeeded")
	}
}
