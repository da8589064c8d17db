// Package app holds the per-session state of the timetable client: the
// current schedule, the faculty directory, the result cache and the sync
// orchestrator. Every surface (CLI, local web API) goes through an *App.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"code.cloudfoundry.org/clock"

	"timetable/internal/backend"
	"timetable/internal/browser"
	"timetable/internal/cache"
	"timetable/internal/calsync"
	"timetable/internal/config"
	"timetable/internal/ics"
	"timetable/internal/loader"
	appLog "timetable/internal/log"
	"timetable/internal/model"
	"timetable/internal/resolver"
)

// ErrNoSchedule is returned by operations that need a loaded schedule.
var ErrNoSchedule = errors.New("no schedule loaded; fetch a roll number first")

// ValidationError reports missing or malformed user input. No network call
// is made when one is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Options overrides collaborators, mostly for tests.
type Options struct {
	Clock      clock.Clock
	HTTPClient *http.Client
	Opener     calsync.WindowOpener
	Cache      *cache.Cache

	// OnSyncTransition receives every sync session transition.
	OnSyncTransition func(calsync.Session)
}

// App is the explicit session context. Build it with New and release it
// with Close.
type App struct {
	cfg      *config.Config
	clock    clock.Clock
	backend  *backend.Client
	resolver *resolver.Resolver
	cache    *cache.Cache
	sync     *calsync.Orchestrator

	mu        sync.RWMutex
	snapshot  *model.ScheduleSnapshot
	plan      []model.AcademicPlanItem
	official  *model.OfficialDocs
	views     *int
	degraded  string
	bootstrap error
}

func New(cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewClock()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.Loader.RequestTimeout}
	}
	if opts.Opener == nil {
		opts.Opener = browser.NewOpener(browser.Options{ExecPath: cfg.Sync.BrowserPath})
	}
	if opts.Cache == nil {
		c, err := cache.Open(cfg.Cache.Backend, cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		opts.Cache = c
	}

	l := loader.New(cfg.BackendURL,
		loader.WithPolicy(loader.Policy{
			Retries:        cfg.Loader.Retries,
			InitialBackoff: cfg.Loader.InitialBackoff,
			Multiplier:     cfg.Loader.Multiplier,
		}),
		loader.WithClock(opts.Clock),
		loader.WithHTTPClient(opts.HTTPClient),
	)
	client := backend.New(l)

	viewport := calsync.Geometry{
		Left:   cfg.Sync.Viewport.Left,
		Top:    cfg.Sync.Viewport.Top,
		Width:  cfg.Sync.Viewport.Width,
		Height: cfg.Sync.Viewport.Height,
	}
	syncOpts := []calsync.Option{
		calsync.WithClock(opts.Clock),
		calsync.WithPollInterval(cfg.Sync.PollInterval),
		calsync.WithPollTimeout(cfg.Sync.PollTimeout),
		calsync.WithWindow(viewport, cfg.Sync.Window.Width, cfg.Sync.Window.Height),
	}
	if opts.OnSyncTransition != nil {
		syncOpts = append(syncOpts, calsync.WithObserver(opts.OnSyncTransition))
	}

	return &App{
		cfg:      cfg,
		clock:    opts.Clock,
		backend:  client,
		resolver: resolver.New(),
		cache:    opts.Cache,
		sync:     calsync.New(client, opts.Opener, syncOpts...),
	}, nil
}

// Close releases the cache.
func (a *App) Close() error {
	return a.cache.Close()
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Start restores the cached schedule and then loads the reference data.
// A bootstrap failure is returned (typically a *loader.ConnectivityError)
// but the restored schedule stays in place.
func (a *App) Start(ctx context.Context) error {
	a.Restore()
	return a.LoadBootstrap(ctx)
}

// Restore reads the cache slot into the current schedule and reports
// whether one was found.
func (a *App) Restore() bool {
	snap, ok := a.cache.Load()
	if !ok {
		return false
	}
	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()
	appLog.Info("restored cached schedule", "roll_number", snap.RollNumber)
	return true
}

// LoadBootstrap fetches the reference data once and fans it out to the
// directory, academic plan, official metadata and view counter.
func (a *App) LoadBootstrap(ctx context.Context) error {
	_, err := a.backend.Bootstrap(ctx,
		a.resolver.InstallBootstrap,
		a.setPlan,
		a.setOfficial,
		a.setViews,
	)

	a.mu.Lock()
	a.bootstrap = err
	a.mu.Unlock()

	if err != nil {
		appLog.Error("bootstrap failed; keeping cached state", err)
		return err
	}
	return nil
}

func (a *App) setPlan(b model.Bootstrap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.plan = b.AcademicPlan
	a.degraded = b.Error
}

func (a *App) setOfficial(b model.Bootstrap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.official = b.Official
}

func (a *App) setViews(b model.Bootstrap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.views = b.Views
}

// Status summarizes what the session currently holds.
type Status struct {
	RollNumber     string              `json:"roll_number,omitempty"`
	HasSchedule    bool                `json:"has_schedule"`
	DirectoryReady bool                `json:"directory_ready"`
	BootstrapError string              `json:"bootstrap_error,omitempty"`
	Degraded       string              `json:"degraded,omitempty"`
	Official       *model.OfficialDocs `json:"official,omitempty"`
	Views          *int                `json:"views,omitempty"`
}

func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := Status{
		HasSchedule:    !a.snapshot.Empty(),
		DirectoryReady: a.resolver.Loaded(),
		Degraded:       a.degraded,
		Official:       a.official,
		Views:          a.views,
	}
	if a.snapshot != nil {
		st.RollNumber = a.snapshot.RollNumber
	}
	if a.bootstrap != nil {
		st.BootstrapError = a.bootstrap.Error()
	}
	return st
}

// Snapshot returns a copy of the current schedule.
func (a *App) Snapshot() (*model.ScheduleSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.snapshot.Empty() {
		return nil, false
	}
	cp := *a.snapshot
	cp.Classes = slices.Clone(a.snapshot.Classes)
	cp.Exams = slices.Clone(a.snapshot.Exams)
	return &cp, true
}

// Plan returns the academic plan from the last bootstrap.
func (a *App) Plan() []model.AcademicPlanItem {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.plan)
}

// Fetch asks the backend for roll's schedule, makes it current and stores
// it in the cache. On failure the current schedule is left untouched; a
// backend rejection comes back as a *backend.ExtractionError.
func (a *App) Fetch(ctx context.Context, roll string) (*model.ScheduleSnapshot, error) {
	roll = backend.NormalizeRollNumber(roll)
	if roll == "" {
		return nil, &ValidationError{Field: "roll_number", Message: "a roll number is required"}
	}

	snap, err := a.backend.Parse(ctx, roll)
	if err != nil {
		return nil, err
	}
	if snap.Empty() {
		return nil, &backend.ExtractionError{
			RollNumber: roll,
			Code:       http.StatusOK,
			Detail:     "No schedule was returned for roll number " + roll + ".",
		}
	}

	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()

	if err := a.cache.Store(snap); err != nil {
		appLog.Error("caching schedule failed", err, "roll_number", snap.RollNumber)
	}
	cp, _ := a.Snapshot()
	return cp, nil
}

// Reset clears the cache slot and then forgets the current schedule. If
// the slot cannot be cleared the current schedule is kept.
func (a *App) Reset() error {
	if err := a.cache.Clear(); err != nil {
		return err
	}
	a.mu.Lock()
	a.snapshot = nil
	a.mu.Unlock()
	appLog.Info("schedule reset")
	return nil
}

// Resolve looks a raw teacher name up in the directory.
func (a *App) Resolve(raw string) (resolver.Identity, bool) {
	return a.resolver.Resolve(raw)
}

// Rows annotates the current schedule with resolved teachers and rooms.
func (a *App) Rows() []resolver.Row {
	snap, ok := a.Snapshot()
	if !ok {
		return nil
	}
	return a.resolver.Annotate(snap)
}

// Sync runs a calendar sync session for the current schedule to completion.
func (a *App) Sync(ctx context.Context) (calsync.Session, error) {
	snap, ok := a.Snapshot()
	if !ok {
		return calsync.Session{}, ErrNoSchedule
	}
	return a.sync.Run(ctx, snap)
}

// StartSync starts a sync session in the background and returns it in its
// initial phase.
func (a *App) StartSync(ctx context.Context) (calsync.Session, error) {
	snap, ok := a.Snapshot()
	if !ok {
		return calsync.Session{}, ErrNoSchedule
	}
	return a.sync.Start(ctx, snap)
}

// Busy reports whether a sync session is live.
func (a *App) Busy() bool {
	return a.sync.Busy()
}

// SyncStatus returns the live or last sync session.
func (a *App) SyncStatus() (calsync.Session, bool) {
	return a.sync.Current()
}

func (a *App) semester() (ics.Semester, error) {
	start, err := a.cfg.SemesterStart()
	if err != nil {
		return ics.Semester{}, err
	}
	return ics.Semester{Start: start, Weeks: a.cfg.Semester.Weeks}, nil
}

func (a *App) events() (*model.ScheduleSnapshot, []ics.Event, []ics.Skipped, error) {
	snap, ok := a.Snapshot()
	if !ok {
		return nil, nil, nil, ErrNoSchedule
	}
	sem, err := a.semester()
	if err != nil {
		return nil, nil, nil, err
	}
	events, skipped := ics.Events(snap, sem, a.cfg.Location())
	return snap, events, skipped, nil
}

// Occurrences expands the current schedule across the semester.
func (a *App) Occurrences() (ics.ExpandResult, error) {
	_, events, _, err := a.events()
	if err != nil {
		return ics.ExpandResult{}, err
	}
	sem, err := a.semester()
	if err != nil {
		return ics.ExpandResult{}, err
	}
	return ics.Expand(events, ics.SemesterRange(sem, a.cfg.Location()))
}

// ExportLocal renders the current schedule as an .ics file without the
// backend. Entries that cannot be placed are returned alongside.
func (a *App) ExportLocal() (*backend.ICSFile, []ics.Skipped, error) {
	snap, events, skipped, err := a.events()
	if err != nil {
		return nil, nil, err
	}
	data, err := ics.Build(snap.RollNumber, events, a.cfg.Location(), a.clock.Now())
	if err != nil {
		return nil, skipped, err
	}
	return &backend.ICSFile{Name: icsName(snap.RollNumber), Data: data}, skipped, nil
}

// ExportBackend has the backend render the current schedule and checks the
// blob parses as a calendar.
func (a *App) ExportBackend(ctx context.Context) (*backend.ICSFile, error) {
	snap, ok := a.Snapshot()
	if !ok {
		return nil, ErrNoSchedule
	}
	file, err := a.backend.DownloadICS(ctx, snap)
	if err != nil {
		return nil, err
	}
	events, err := ics.Parse(file.Data)
	if err != nil {
		return nil, fmt.Errorf("backend calendar is unreadable: %w", err)
	}
	appLog.Info("backend calendar downloaded", "name", file.Name, "events", len(events))
	return file, nil
}

func icsName(roll string) string {
	return "schedule_" + strings.ToUpper(roll) + ".ics"
}
