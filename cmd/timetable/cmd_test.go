package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"timetable/internal/app"
	"timetable/internal/calsync"
	"timetable/internal/config"
	"timetable/internal/testutil"
)

type blockedOpener struct{}

func (blockedOpener) Open(context.Context, string, calsync.Geometry) (calsync.Window, error) {
	return nil, fmt.Errorf("%w: no display", calsync.ErrPopupBlocked)
}

// setup points the package-level config at a fake backend and a temporary
// cache, and resets every command flag.
func setup(t *testing.T) *testutil.FakeBackend {
	t.Helper()
	fb := testutil.NewFakeBackend(t)
	fb.Bootstrap = testutil.SampleBootstrap()
	fb.Schedules["23K-0001"] = testutil.SampleSnapshot()

	dir := t.TempDir()
	cfgFile = filepath.Join(dir, "config.yaml")
	logLevel = ""

	cfg = config.DefaultConfig()
	cfg.BackendURL = fb.URL
	cfg.Timezone = "UTC"
	cfg.Cache.Path = filepath.Join(dir, "last_schedule.json")
	cfg.Loader.Retries = 0

	oldNewApp := newApp
	newApp = func(c *config.Config, opts app.Options) (*app.App, error) {
		opts.Opener = blockedOpener{}
		return app.New(c, opts)
	}
	t.Cleanup(func() { newApp = oldNewApp })

	showJSON = false
	fetchRemember = false
	resolveJSON = false
	exportLocal = false
	exportOutput = ""
	serveListen = ""
	return fb
}

func newCmd() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetContext(context.Background())
	return cmd, &out, &errOut
}

func fetchSample(t *testing.T) {
	t.Helper()
	cmd, _, _ := newCmd()
	if err := runFetch(cmd, []string{"23K-0001"}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
}

func TestFetchPrintsResolvedSchedule(t *testing.T) {
	setup(t)
	cmd, out, _ := newCmd()

	if err := runFetch(cmd, []string{" 23k-0001 "}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Roll 23K-0001 - Mid Term Examination",
		"Compiler Construction",
		"Room 12",
		"Ayesha Khan (Assistant Professor)",
		"Hassan Abidi Lab",
		"Mon,23,Feb,26",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFetchUnknownRoll(t *testing.T) {
	setup(t)
	cmd, _, _ := newCmd()

	err := runFetch(cmd, []string{"99K-9999"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected a not found error, got %v", err)
	}
}

func TestFetchWithoutRoll(t *testing.T) {
	setup(t)
	cmd, _, _ := newCmd()

	err := runFetch(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "roll_number") {
		t.Fatalf("expected a roll_number validation error, got %v", err)
	}
}

func TestFetchRemember(t *testing.T) {
	setup(t)
	fetchRemember = true
	cmd, _, _ := newCmd()

	if err := runFetch(cmd, []string{"23k-0001"}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	saved, err := config.Load(cfgFile)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if saved.RollNumber != "23K-0001" {
		t.Errorf("saved roll number = %q, want 23K-0001", saved.RollNumber)
	}

	// The saved roll number is the default for later fetches.
	fetchRemember = false
	cmd, out, _ := newCmd()
	if err := runFetch(cmd, nil); err != nil {
		t.Fatalf("fetch with remembered roll failed: %v", err)
	}
	if !strings.Contains(out.String(), "Roll 23K-0001") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestShowWithoutSchedule(t *testing.T) {
	setup(t)
	cmd, out, _ := newCmd()

	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out.String(), "No schedule cached") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestShowOfflineUsesCache(t *testing.T) {
	fb := setup(t)
	fetchSample(t)

	fb.Lock()
	fb.BootstrapFailures = 1000
	fb.Unlock()

	showJSON = true
	cmd, out, errOut := newCmd()
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(errOut.String(), "Backend unreachable") {
		t.Errorf("missing offline warning, stderr:\n%s", errOut.String())
	}

	var got struct {
		Schedule struct {
			RollNumber string `json:"roll_number"`
		} `json:"schedule"`
		Rows []struct {
			Teacher map[string]any `json:"teacher"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if got.Schedule.RollNumber != "23K-0001" || len(got.Rows) != 3 {
		t.Fatalf("unexpected schedule: %+v", got)
	}
	if got.Rows[0].Teacher["is_placeholder"] != true {
		t.Errorf("teacher without directory = %v, want placeholder", got.Rows[0].Teacher)
	}
}

func TestResolve(t *testing.T) {
	setup(t)
	cmd, out, _ := newCmd()

	if err := runResolve(cmd, []string{"Dr. Ayesha Khan5", "Imran Qureshi", "Zafar Iqbal"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Ayesha Khan (Assistant Professor)",
		"Imran Qureshi (Faculty, unverified)",
		"Zafar Iqbal (Instructor, unverified)",
		"placeholder",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestResolveJSON(t *testing.T) {
	setup(t)
	resolveJSON = true
	cmd, out, _ := newCmd()

	if err := runResolve(cmd, []string{"Ali Raza"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	var got []struct {
		Query    string         `json:"query"`
		Identity map[string]any `json:"identity"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got) != 1 || got[0].Identity["name"] != "Ali Raza" || got[0].Identity["is_placeholder"] != false {
		t.Errorf("unexpected identities: %+v", got)
	}
}

func TestSyncAuthenticated(t *testing.T) {
	fb := setup(t)
	fetchSample(t)
	fb.Lock()
	fb.Authenticated = true
	fb.Unlock()

	cmd, out, _ := newCmd()
	if err := runSync(cmd, nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{"checking_auth", "syncing", "SYNCED", "Synced successfully"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if n := fb.Hits("/sync"); n != 1 {
		t.Errorf("sync calls = %d, want 1", n)
	}
}

func TestSyncPopupBlocked(t *testing.T) {
	fb := setup(t)
	fetchSample(t)

	cmd, out, _ := newCmd()
	err := runSync(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "popup_blocked") {
		t.Fatalf("expected popup_blocked error, got %v", err)
	}
	if !strings.Contains(out.String(), "WINDOW BLOCKED") {
		t.Errorf("missing badge:\n%s", out.String())
	}
	if n := fb.Hits("/sync"); n != 0 {
		t.Errorf("sync calls = %d, want 0", n)
	}
}

func TestSyncWithoutSchedule(t *testing.T) {
	fb := setup(t)
	cmd, _, _ := newCmd()

	err := runSync(cmd, nil)
	if err == nil || !strings.Contains(err.Error(), "timetable fetch") {
		t.Fatalf("expected a fetch hint, got %v", err)
	}
	if n := fb.TotalHits(); n != 0 {
		t.Errorf("backend hits = %d, want 0", n)
	}
}

func TestExport(t *testing.T) {
	tests := []struct {
		name  string
		local bool
		want  string
	}{
		{name: "backend", local: false, want: "PRODID:fake"},
		{name: "local", local: true, want: "RRULE:FREQ=WEEKLY;COUNT=16"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t)
			fetchSample(t)

			exportLocal = tt.local
			exportOutput = filepath.Join(t.TempDir(), "out.ics")
			cmd, out, _ := newCmd()
			if err := runExport(cmd, nil); err != nil {
				t.Fatalf("export failed: %v", err)
			}

			data, err := os.ReadFile(exportOutput)
			if err != nil {
				t.Fatalf("read export: %v", err)
			}
			if !strings.Contains(string(data), tt.want) {
				t.Errorf("export lacks %q:\n%s", tt.want, data)
			}
			if !strings.Contains(out.String(), "Wrote "+exportOutput) {
				t.Errorf("unexpected output: %s", out.String())
			}
		})
	}
}

func TestReset(t *testing.T) {
	setup(t)
	fetchSample(t)

	cmd, _, _ := newCmd()
	if err := runReset(cmd, nil); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	cmd, out, _ := newCmd()
	if err := runShow(cmd, nil); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	if !strings.Contains(out.String(), "No schedule cached") {
		t.Errorf("schedule survived reset:\n%s", out.String())
	}
}

func TestPlan(t *testing.T) {
	setup(t)
	cmd, out, _ := newCmd()

	if err := runPlan(cmd, nil); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	for _, want := range []string{"WEEK", "Commencement of classes", "Mid term examinations"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestLoadConfig(t *testing.T) {
	setup(t)
	cmd, _, _ := newCmd()

	if err := loadConfig(cmd, nil); err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if _, err := os.Stat(cfgFile); err != nil {
		t.Errorf("default config not written: %v", err)
	}

	logLevel = "verbose"
	if err := loadConfig(cmd, nil); err == nil {
		t.Error("expected an error for an unknown log level")
	}
}

func TestRefresh(t *testing.T) {
	fb := setup(t)
	fb.Lock()
	fb.BootstrapFailures = 1
	fb.Unlock()
	cfg.RollNumber = "23K-0001"

	a, err := newApp(cfg, app.Options{})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.Start(ctx); err == nil {
		t.Fatal("expected the first bootstrap to fail")
	}

	// The first refresh retries the directory, then fetches.
	refresh(ctx, a)
	st := a.Status()
	if !st.DirectoryReady || !st.HasSchedule || st.RollNumber != "23K-0001" {
		t.Fatalf("status after refresh = %+v", st)
	}
	rows := a.Rows()
	if len(rows) == 0 || teacherLabel(rows[0].Teacher) != "Ayesha Khan (Assistant Professor)" {
		t.Errorf("rows not resolved against the directory: %+v", rows)
	}

	// Once installed the directory is not requested again.
	refresh(ctx, a)
	if n := fb.Hits("/bootstrap"); n != 2 {
		t.Errorf("bootstrap calls = %d, want 2", n)
	}
	if n := fb.Hits("/parse"); n != 2 {
		t.Errorf("parse calls = %d, want 2", n)
	}
}

func TestRefreshKeepsScheduleOnFailure(t *testing.T) {
	fb := setup(t)
	cfg.RollNumber = "23K-0001"
	fetchSample(t)

	a, err := newApp(cfg, app.Options{})
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	defer a.Close()
	a.Restore()

	fb.Lock()
	delete(fb.Schedules, "23K-0001")
	fb.Unlock()

	refresh(context.Background(), a)
	if snap, ok := a.Snapshot(); !ok || snap.RollNumber != "23K-0001" {
		t.Errorf("schedule lost after a failed refresh: %v %v", snap, ok)
	}
}

func TestRefreshSchedule(t *testing.T) {
	tests := []struct {
		name     string
		roll     string
		spec     string
		wantCron bool
		wantErr  bool
	}{
		{name: "enabled", roll: "23K-0001", spec: "0 */6 * * *", wantCron: true},
		{name: "no roll number", roll: "", spec: "0 */6 * * *"},
		{name: "no schedule", roll: "23K-0001", spec: ""},
		{name: "invalid schedule", roll: "23K-0001", spec: "every six hours", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup(t)
			cfg.RollNumber = tt.roll
			cfg.RefreshCron = tt.spec

			a, err := newApp(cfg, app.Options{})
			if err != nil {
				t.Fatalf("newApp failed: %v", err)
			}
			defer a.Close()

			c, err := refreshSchedule(context.Background(), a)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error for an invalid schedule")
				}
				return
			}
			if err != nil {
				t.Fatalf("refreshSchedule failed: %v", err)
			}
			if (c != nil) != tt.wantCron {
				t.Fatalf("cron = %v, want present=%v", c, tt.wantCron)
			}
			if c != nil && len(c.Entries()) != 1 {
				t.Errorf("entries = %d, want 1", len(c.Entries()))
			}
		})
	}
}
