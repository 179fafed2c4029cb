package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wmsched/internal/trigger"
	logx "wmsched/pkg/logx"
)

// argsRecorder returns a script that stores its arguments in a file and reports success.
func argsRecorder(t *testing.T) (script, out string) {
	t.Helper()
	out = filepath.Join(t.TempDir(), "args")
	script = writeScript(t, "printf '%s\\n' \"$@\" > '"+out+"'\necho '&ok' >&3")
	return script, out
}

func readArgs(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	return strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCheckSettings(t *testing.T) {
	r := NewRegistry(Env{Log: logx.Nop()})
	full := map[string]string{
		SettingBackupPath:          "/b",
		SettingTimeToLiveDays:      "7",
		SettingTargetIP:            "10.0.0.1",
		SettingTargetUser:          "u",
		SettingTargetPassword:      "p",
		SettingTargetDirectoryPath: "/r",
		SettingTargetDirectoryName: "d",
		SettingTargetFileName:      "f",
		SettingSourceDirectoryPath: "/s",
		SettingSourceDirectoryName: "sd",
		SettingSourceFileName:      "sf",
		SettingUUID:                "x",
		SettingCommand:             "true",
	}
	for _, name := range r.Names() {
		t.Run(name, func(t *testing.T) {
			tk := r.Make(name, full)
			if !tk.CheckSettings() {
				t.Fatalf("complete settings rejected")
			}
			if r.Make(name, nil).CheckSettings() {
				t.Fatalf("empty settings accepted")
			}
			blank := tk.Settings()
			for k := range blank {
				blank[k] = "  "
			}
			if r.Make(name, blank).CheckSettings() {
				t.Fatalf("blank settings accepted")
			}
		})
	}
}

func TestRunWithMissingSettingsSpawnsNothing(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "ran")
	script := writeScript(t, "touch '"+marker+"'\necho '&ok' >&3")
	r := NewRegistry(Env{Log: logx.Nop(), Overrides: map[string]string{"wm_backup": script}})

	err := r.Make(BackupLocalDirectoryName, map[string]string{}).Run(context.Background())
	if !errors.Is(err, ErrSettings) {
		t.Fatalf("err=%v want ErrSettings", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("program ran despite missing settings")
	}
}

func TestRunInvalidTimeToLive(t *testing.T) {
	r := NewRegistry(Env{Log: logx.Nop()})
	tk := r.Make(DeleteBackupsName, map[string]string{SettingBackupPath: "/b", SettingTimeToLiveDays: "soon"})
	if err := tk.Run(context.Background()); !errors.Is(err, ErrSettings) {
		t.Fatalf("err=%v want ErrSettings", err)
	}
}

func TestRunBuildsProgramArguments(t *testing.T) {
	remote := map[string]string{
		SettingTargetIP:       "10.0.0.9",
		SettingTargetUser:     "svc",
		SettingTargetPassword: "pw",
	}
	with := func(extra map[string]string) map[string]string {
		out := map[string]string{}
		for k, v := range remote {
			out[k] = v
		}
		for k, v := range extra {
			out[k] = v
		}
		return out
	}

	tests := []struct {
		task     string
		settings map[string]string
		want     []string
	}{
		{
			task:     BackupLocalDirectoryName,
			settings: map[string]string{SettingBackupPath: "/data/backup", SettingLogs: "1", SettingSoftware: "true", SettingConfig: "0"},
			want:     []string{"3", "--backupPath=/data/backup", "--logs", "--software"},
		},
		{
			task:     BackupToRemoteName,
			settings: with(map[string]string{SettingTargetDirectoryPath: "/srv", SettingTargetPort: "22", SettingProtocol: "sftp"}),
			want:     []string{"3", "--ip=10.0.0.9", "--user=svc", "--password=pw", "--remotePath=/srv", "--port=22", "--protocol=sftp"},
		},
		{
			task:     DeleteBackupsName,
			settings: map[string]string{SettingBackupPath: "/data/backup", SettingTimeToLiveDays: "14"},
			want:     []string{"3", "/data/backup", "14"},
		},
		{
			task: TransferFileName,
			settings: with(map[string]string{
				SettingSourceDirectoryPath: "/in", SettingSourceFileName: "a.csv",
				SettingTargetDirectoryPath: "/out", SettingTargetFileName: "b.csv",
				SettingHTTPMethod: "PUT", SettingDebug: "yes",
			}),
			want: []string{"3", "--ip=10.0.0.9", "--user=svc", "--password=pw",
				"--sourcePath=/in", "--sourceFile=a.csv", "--remotePath=/out", "--remoteFile=b.csv",
				"--httpMethod=PUT", "--debug"},
		},
		{
			task: TransferDirectoryName,
			settings: with(map[string]string{
				SettingSourceDirectoryPath: "/in", SettingSourceDirectoryName: "run1",
				SettingTargetDirectoryPath: "/out", SettingTargetDirectoryName: "run1",
			}),
			want: []string{"3", "--ip=10.0.0.9", "--user=svc", "--password=pw",
				"--sourcePath=/in", "--sourceDir=run1", "--remotePath=/out", "--remoteDir=run1"},
		},
		{
			task:     ExportProductName,
			settings: with(map[string]string{SettingUUID: "p-1", SettingTargetDirectoryPath: "/exp"}),
			want:     []string{"3", "p-1", "--ip=10.0.0.9", "--user=svc", "--password=pw", "--remotePath=/exp"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			script, out := argsRecorder(t)
			r := NewRegistry(Env{Log: logx.Nop(), Overrides: map[string]string{tt.task: script}})
			tk := r.Make(tt.task, tt.settings)
			if err := tk.Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if got := readArgs(t, out); !equalArgs(got, tt.want) {
				t.Fatalf("args=%q want %q", got, tt.want)
			}
			if res := tk.(Reporter).Result(); res.Infos != 1 || res.ExitCode != 0 {
				t.Fatalf("result=%+v", res)
			}
		})
	}
}

func TestProgramTaskSplitsCommand(t *testing.T) {
	script, out := argsRecorder(t)
	r := NewRegistry(Env{Log: logx.Nop()})
	tk := r.Make(ProgramName, map[string]string{SettingCommand: script + ` "two words" --flag='x y'`})
	if err := tk.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"3", "two words", "--flag=x y"}
	if got := readArgs(t, out); !equalArgs(got, want) {
		t.Fatalf("args=%q want %q", got, want)
	}

	bad := r.Make(ProgramName, map[string]string{SettingCommand: `"unterminated`})
	if err := bad.Run(context.Background()); !errors.Is(err, ErrSettings) {
		t.Fatalf("err=%v want ErrSettings", err)
	}
}

func TestRunTakesValuesFromSignal(t *testing.T) {
	dir := t.TempDir()
	meta := `{"productName":"Gear","serialNumber":12345678901234567890,"uuid":"u-1","date":"2024-05-01"}`
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(meta), 0o644); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	t.Run("placeholders", func(t *testing.T) {
		script, out := argsRecorder(t)
		r := NewRegistry(Env{Log: logx.Nop(), Overrides: map[string]string{ExportProductName: script}})
		tk := r.Make(ExportProductName, map[string]string{
			SettingUUID:                "${UUID}",
			SettingTargetIP:            "h",
			SettingTargetUser:          "u",
			SettingTargetPassword:      "p",
			SettingTargetDirectoryPath: "/exp/${PRODUCT_NAME}/${SERIALNUMBER}/${DATE}/${UNKNOWN}",
		})
		tk.SetSignalInfo(trigger.SignalInfo{SignalCount: 1, Metadata: map[string]string{trigger.MetaPath: filepath.Join(dir, "result.json")}})
		if err := tk.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		got := readArgs(t, out)
		if got[1] != "u-1" {
			t.Fatalf("uuid arg=%q", got[1])
		}
		if want := "--remotePath=/exp/Gear/12345678901234567890/2024-05-01/${UNKNOWN}"; got[5] != want {
			t.Fatalf("remote path=%q want %q", got[5], want)
		}
	})

	t.Run("export uuid from event", func(t *testing.T) {
		script, out := argsRecorder(t)
		r := NewRegistry(Env{Log: logx.Nop(), Overrides: map[string]string{ExportProductName: script}})
		tk := r.Make(ExportProductName, map[string]string{
			SettingTargetIP:            "h",
			SettingTargetUser:          "u",
			SettingTargetPassword:      "p",
			SettingTargetDirectoryPath: "/exp",
		})
		if tk.CheckSettings() {
			t.Fatalf("uuid should be required before the signal arrives")
		}
		tk.SetSignalInfo(trigger.SignalInfo{SignalCount: 1, Metadata: map[string]string{trigger.MetaUUID: "from-event"}})
		if err := tk.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		if got := readArgs(t, out); got[1] != "from-event" {
			t.Fatalf("uuid arg=%q", got[1])
		}
	})

	t.Run("transfer directory from path", func(t *testing.T) {
		script, out := argsRecorder(t)
		r := NewRegistry(Env{Log: logx.Nop(), Overrides: map[string]string{"wm_transfer": script}})
		tk := r.Make(TransferDirectoryName, map[string]string{
			SettingTargetIP:            "h",
			SettingTargetUser:          "u",
			SettingTargetPassword:      "p",
			SettingTargetDirectoryPath: "/out",
			SettingTargetDirectoryName: "${PRODUCT_NAME}",
		})
		tk.SetSignalInfo(trigger.SignalInfo{SignalCount: 1, Metadata: map[string]string{trigger.MetaPath: dir}})
		if err := tk.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
		want := []string{"3", "--ip=h", "--user=u", "--password=p",
			"--sourcePath=" + filepath.Dir(dir), "--sourceDir=" + filepath.Base(dir),
			"--remotePath=/out", "--remoteDir=Gear"}
		if got := readArgs(t, out); !equalArgs(got, want) {
			t.Fatalf("args=%q want %q", got, want)
		}
	})
}

func TestCanceledContextSkipsSpawn(t *testing.T) {
	script, out := argsRecorder(t)
	r := NewRegistry(Env{Log: logx.Nop(), Overrides: map[string]string{DeleteBackupsName: script}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Make(DeleteBackupsName, map[string]string{SettingBackupPath: "/b", SettingTimeToLiveDays: "1"}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("program ran on a canceled context")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := NewRegistry(Env{Log: logx.Nop()})
	tpl := r.Make(BackupLocalDirectoryName, map[string]string{SettingBackupPath: "/a"})
	c := tpl.Clone()
	c.SetSettings(map[string]string{SettingBackupPath: "/b"})
	c.SetSignalInfo(trigger.SignalInfo{SignalCount: 4, Metadata: map[string]string{"k": "v"}})

	if got := tpl.Settings()[SettingBackupPath]; got != "/a" {
		t.Fatalf("template settings changed to %q", got)
	}
	if tpl.SignalInfo().SignalCount != 0 {
		t.Fatalf("template signal changed")
	}
	s := c.Settings()
	s[SettingBackupPath] = "/c"
	if c.Settings()[SettingBackupPath] != "/b" {
		t.Fatalf("Settings returned the internal map")
	}
}

func TestSupports(t *testing.T) {
	r := NewRegistry(Env{Log: logx.Nop()})
	cron := trigger.NewCron(map[string]string{trigger.SettingCron: "0 3 * * *"}, logx.Nop())
	event := func(id string) trigger.Trigger { return trigger.NewEvent(map[string]string{trigger.SettingEvent: id}) }

	tests := []struct {
		task string
		tr   trigger.Trigger
		want bool
	}{
		{BackupLocalDirectoryName, cron, true},
		{BackupLocalDirectoryName, event("2"), false},
		{DeleteBackupsName, event("0"), false},
		{ExportProductName, event("2"), true},
		{ExportProductName, event("3"), true},
		{ExportProductName, event("1"), false},
		{ExportProductName, event("bogus"), false},
		{TransferDirectoryName, event("1"), true},
		{TransferFileName, event("3"), true},
		{ProgramName, cron, true},
	}
	for _, tt := range tests {
		if got := Supports(r.Make(tt.task, nil), tt.tr); got != tt.want {
			t.Fatalf("Supports(%s, %s %v)=%v want %v", tt.task, tt.tr.Name(), tt.tr.Settings(), got, tt.want)
		}
	}
}

func TestRegistryMakeJSON(t *testing.T) {
	r := NewRegistry(Env{Log: logx.Nop()})
	if tk := r.MakeJSON([]byte(`{"Name":"DeleteBackupsTask","Settings":{"backupPath":"/b","TimeToLiveDays":"3"}}`)); tk == nil || !tk.CheckSettings() {
		t.Fatalf("valid entry rejected")
	}
	for _, raw := range []string{`{"Name":"NoSuchTask"}`, `{"Settings":{}}`, `[]`, `{"Name":"ProgramTask","Settings":{"Command":["ls"]}}`} {
		if tk := r.MakeJSON([]byte(raw)); tk != nil {
			t.Fatalf("MakeJSON(%s) = %s, want nil", raw, tk.Name())
		}
	}
}

func TestBackupPathKeySpellings(t *testing.T) {
	r := NewRegistry(Env{Log: logx.Nop()})
	tests := []struct {
		name     string
		task     string
		settings map[string]string
		want     string
	}{
		{"local canonical", BackupLocalDirectoryName, map[string]string{"backupPath": "/data/backup"}, "/data/backup"},
		{"delete canonical", DeleteBackupsName, map[string]string{"backupPath": "/data/backup", SettingTimeToLiveDays: "14"}, "/data/backup"},
		{"local legacy", BackupLocalDirectoryName, map[string]string{"BackupPath": "/old"}, "/old"},
		{"both set", DeleteBackupsName, map[string]string{"BackupPath": "/old", "backupPath": "/new", SettingTimeToLiveDays: "1"}, "/new"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := r.Make(tt.task, tt.settings)
			if !tk.CheckSettings() {
				t.Fatalf("CheckSettings=false for %v", tt.settings)
			}
			s := tk.Settings()
			if s[SettingBackupPath] != tt.want {
				t.Fatalf("backupPath=%q want %q", s[SettingBackupPath], tt.want)
			}
			if _, ok := s["BackupPath"]; ok {
				t.Fatalf("legacy key kept: %v", s)
			}
		})
	}
}
