package job

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"wmsched/internal/task"
	"wmsched/internal/trigger"
	logx "wmsched/pkg/logx"
)

func newLoader() *Loader {
	return &Loader{
		Tasks:    task.NewRegistry(task.Env{Log: logx.Nop()}),
		Triggers: trigger.NewRegistry(logx.Nop()),
		Log:      logx.Nop(),
	}
}

func newJob(t *testing.T, l *Loader, id uuid.UUID) *Job {
	t.Helper()
	tk := l.Tasks.Make(task.DeleteBackupsName, map[string]string{task.SettingBackupPath: "/b", task.SettingTimeToLiveDays: "3"})
	tr := l.Triggers.Make(trigger.CronTriggerName, map[string]string{trigger.SettingCron: "0 2 * * *"})
	if tk == nil || tr == nil {
		t.Fatalf("registry returned nil")
	}
	return New(id, tk, tr)
}

func TestSetIdentity(t *testing.T) {
	l := newLoader()
	id := uuid.New()

	s := NewSet()
	if s.Put(newJob(t, l, id)) {
		t.Fatalf("first insert reported a replacement")
	}
	if !s.Put(newJob(t, l, id)) {
		t.Fatalf("duplicate id not reported as replacement")
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
	s.Put(newJob(t, l, uuid.New()))
	if s.Len() != 2 {
		t.Fatalf("len=%d want 2", s.Len())
	}
	if !s.Remove(id) || s.Remove(id) {
		t.Fatalf("remove semantics broken")
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
}

func TestNewAssignsID(t *testing.T) {
	l := newLoader()
	if j := newJob(t, l, uuid.Nil); j.ID == uuid.Nil {
		t.Fatalf("nil id kept")
	}
}

func TestGenerateStampsJobAndClonesTask(t *testing.T) {
	l := newLoader()
	tr := trigger.NewEvent(map[string]string{trigger.SettingEvent: "2"})
	tk := l.Tasks.Make(task.ExportProductName, map[string]string{task.SettingTargetDirectoryPath: "/x"})
	j := New(uuid.New(), tk, tr)

	tr.Deliver(trigger.EventProductAdded, map[string]string{"uuid": "p"})
	clone, info := j.Generate(time.Now())

	if info.SignalCount != 1 || info.Meta(trigger.MetaJobID) != j.ID.String() {
		t.Fatalf("info=%+v", info)
	}
	if clone == tk {
		t.Fatalf("Generate returned the template")
	}
	if clone.SignalInfo().Meta(trigger.MetaJobID) != j.ID.String() {
		t.Fatalf("clone did not receive the signal")
	}
	if tk.SignalInfo().SignalCount != 0 {
		t.Fatalf("template received the signal")
	}

	_, info = j.Generate(time.Now())
	if info.SignalCount != 0 || info.Meta(trigger.MetaJobID) == "" {
		t.Fatalf("second generate=%+v", info)
	}
}

func TestRoundTrip(t *testing.T) {
	l := newLoader()
	jobs := []*Job{newJob(t, l, uuid.New()), newJob(t, l, uuid.New())}
	jobs = append(jobs, New(uuid.New(),
		l.Tasks.Make(task.ProgramName, map[string]string{task.SettingCommand: "echo hi"}),
		l.Triggers.Make(trigger.EventTriggerName, map[string]string{trigger.SettingEvent: "1"}),
	))

	data, err := Marshal(jobs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	now := time.Now()
	back, err := l.Parse(data, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(back) != len(jobs) {
		t.Fatalf("len=%d want %d", len(back), len(jobs))
	}
	want := NewSet(jobs...)
	for _, b := range back {
		a, ok := want.Get(b.ID)
		if !ok {
			t.Fatalf("unexpected id %s", b.ID)
		}
		if a.Task.Name() != b.Task.Name() || a.Trigger.Name() != b.Trigger.Name() {
			t.Fatalf("names differ for %s", b.ID)
		}
		if !sameMap(a.Task.Settings(), b.Task.Settings()) || !sameMap(a.Trigger.Settings(), b.Trigger.Settings()) {
			t.Fatalf("settings differ for %s", b.ID)
		}
		if !b.Trigger.PeriodStart().Equal(now) {
			t.Fatalf("period start not seeded")
		}
	}

	again, err := Marshal(back)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(again) != string(data) {
		t.Fatalf("second encoding differs:\n%s\n---\n%s", data, again)
	}
}

func sameMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func TestParseDropsBadEntries(t *testing.T) {
	l := newLoader()
	good := uuid.New().String()
	data := `[
	  {"Uuid":"` + good + `","Task":{"Name":"DeleteBackupsTask","Settings":{"backupPath":"/b","TimeToLiveDays":"1"}},"Trigger":{"Name":"CronTrigger","Settings":{"cron":"0 1 * * *"}}},
	  {"Uuid":"not-a-uuid","Task":{"Name":"DeleteBackupsTask","Settings":{}},"Trigger":{"Name":"CronTrigger","Settings":{}}},
	  {"Uuid":"` + uuid.New().String() + `","Task":{"Name":"NoSuchTask","Settings":{}},"Trigger":{"Name":"CronTrigger","Settings":{}}},
	  {"Uuid":"` + uuid.New().String() + `","Task":{"Name":"DeleteBackupsTask","Settings":{}},"Trigger":{"Name":"NoSuchTrigger"}},
	  {"Uuid":"` + uuid.New().String() + `","Task":{"Name":"DeleteBackupsTask","Settings":{}}},
	  42
	]`
	jobs, err := l.Parse([]byte(data), time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID.String() != good {
		t.Fatalf("jobs=%v", jobs)
	}
}

func TestParseRejectsNonArray(t *testing.T) {
	l := newLoader()
	for _, in := range []string{`{}`, `"x"`, `[`} {
		if _, err := l.Parse([]byte(in), time.Now()); err == nil {
			t.Fatalf("Parse(%s) accepted", in)
		}
	}
	if jobs, err := l.Parse([]byte("  \n"), time.Now()); err != nil || len(jobs) != 0 {
		t.Fatalf("blank input: %v %v", jobs, err)
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	l := newLoader()
	path := filepath.Join(t.TempDir(), "config", "scheduler.json")
	fs := NewFileStore(path, l)

	if jobs, err := fs.Load(time.Now()); err != nil || len(jobs) != 0 {
		t.Fatalf("missing file: %v %v", jobs, err)
	}

	var seen []byte
	fs.OnWrite(func(data []byte) { seen = append([]byte(nil), data...) })

	jobs := []*Job{newJob(t, l, uuid.New())}
	if err := fs.Save(jobs); err != nil {
		t.Fatalf("save: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(seen) != string(onDisk) {
		t.Fatalf("hook saw different content")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
	if !strings.Contains(string(onDisk), `"Uuid": "`+jobs[0].ID.String()+`"`) {
		t.Fatalf("unexpected content:\n%s", onDisk)
	}

	back, err := fs.Load(time.Now())
	if err != nil || len(back) != 1 || back[0].ID != jobs[0].ID {
		t.Fatalf("load: %v %v", back, err)
	}
}

func TestCheckReportsProblems(t *testing.T) {
	l := newLoader()
	id := uuid.New().String()
	data := `[
  {"Uuid":"` + id + `","Task":{"Name":"DeleteBackupsTask","Settings":{"backupPath":"/b","TimeToLiveDays":"3"}},"Trigger":{"Name":"CronTrigger","Settings":{"cron":"0 2 * * *"}}},
  {"Uuid":"nope","Task":{"Name":"DeleteBackupsTask","Settings":{}},"Trigger":{"Name":"CronTrigger","Settings":{}}},
  {"Uuid":"` + uuid.New().String() + `","Task":{"Name":"BackupLocalDirectoryTask","Settings":{"backupPath":"/b"}},"Trigger":{"Name":"EventTrigger","Settings":{"event":"2"}}},
  {"Uuid":"` + uuid.New().String() + `","Task":{"Name":"DeleteBackupsTask","Settings":{"backupPath":"/b"}},"Trigger":{"Name":"CronTrigger","Settings":{"cron":"settings with mistake"}}}
]`
	jobs, problems, err := l.Check([]byte(data))
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("jobs=%d want 3", len(jobs))
	}

	var fatal, unsupported, neverFires, missing int
	for _, p := range problems {
		switch {
		case p.Fatal:
			fatal++
		case strings.Contains(p.Msg, "does not support"):
			unsupported++
		case strings.Contains(p.Msg, "never fires"):
			neverFires++
		case strings.Contains(p.Msg, "missing settings"):
			missing++
		}
	}
	if fatal != 1 || unsupported != 1 || neverFires != 1 || missing != 1 {
		t.Fatalf("fatal=%d unsupported=%d neverFires=%d missing=%d: %v", fatal, unsupported, neverFires, missing, problems)
	}
	if _, _, err := l.Check([]byte(`{}`)); err == nil {
		t.Fatalf("non-array accepted")
	}
}
