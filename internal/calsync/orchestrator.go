// Package calsync drives the calendar authorization flow and the schedule
// push as a single-session state machine.
package calsync

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"timetable/internal/loader"
	appLog "timetable/internal/log"
	"timetable/internal/model"
)

// Backend is the subset of the timetable API the orchestrator needs.
type Backend interface {
	AuthStatus(ctx context.Context) (model.AuthStatus, error)
	Sync(ctx context.Context, snap *model.ScheduleSnapshot) (*model.SyncResult, error)
}

// Geometry places a window on screen, in CSS pixels.
type Geometry struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CenterIn returns a width x height window centered in viewport and
// clamped to it.
func CenterIn(viewport Geometry, width, height int) Geometry {
	if width > viewport.Width {
		width = viewport.Width
	}
	if height > viewport.Height {
		height = viewport.Height
	}
	return Geometry{
		Left:   viewport.Left + (viewport.Width-width)/2,
		Top:    viewport.Top + (viewport.Height-height)/2,
		Width:  width,
		Height: height,
	}
}

// Window is an open authorization window.
type Window interface {
	// Closed reports whether the user has closed the window.
	Closed() bool
	// Close dismisses the window; closing twice is harmless.
	Close() error
}

// WindowOpener shows the provider's authorization page. Any error means the
// window could not be shown and is treated as blocked.
type WindowOpener interface {
	Open(ctx context.Context, url string, g Geometry) (Window, error)
}

// Orchestrator owns at most one live Session at a time.
type Orchestrator struct {
	backend Backend
	opener  WindowOpener
	clock   clock.Clock

	pollInterval time.Duration
	pollTimeout  time.Duration
	viewport     Geometry
	windowWidth  int
	windowHeight int
	observer     func(Session)

	mu     sync.Mutex
	active *Session
	last   *Session
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithPollInterval sets how often the window is checked for closure.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithPollTimeout bounds the polling phase. Zero polls until the window is
// closed or the context ends.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollTimeout = d }
}

// WithWindow sets the viewport and the authorization window size.
func WithWindow(viewport Geometry, width, height int) Option {
	return func(o *Orchestrator) {
		o.viewport = viewport
		o.windowWidth = width
		o.windowHeight = height
	}
}

// WithObserver registers fn to receive a copy of the session on every
// transition. fn runs on the session goroutine.
func WithObserver(fn func(Session)) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func New(backend Backend, opener WindowOpener, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:      backend,
		opener:       opener,
		clock:        clock.NewClock(),
		pollInterval: time.Second,
		viewport:     Geometry{Width: 1280, Height: 800},
		windowWidth:  500,
		windowHeight: 600,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Current returns the live session, or the last finished one.
func (o *Orchestrator) Current() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.active != nil:
		return *o.active, true
	case o.last != nil:
		return *o.last, true
	}
	return Session{}, false
}

// Busy reports whether a session is live.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Run executes one session to a terminal phase and returns it. The error is
// nil on success and otherwise an *AuthFlowError or *SyncError (also
// available as Session.Err). ErrNothingToSync and ErrSessionInFlight are
// returned without a session being created.
func (o *Orchestrator) Run(ctx context.Context, snap *model.ScheduleSnapshot) (Session, error) {
	s, err := o.claim(snap)
	if err != nil {
		return Session{}, err
	}
	o.run(ctx, s, snap)
	final := o.release(s)
	return final, final.err
}

// Start claims the session slot and runs the session in the background.
func (o *Orchestrator) Start(ctx context.Context, snap *model.ScheduleSnapshot) (Session, error) {
	s, err := o.claim(snap)
	if err != nil {
		return Session{}, err
	}
	started := *s
	go func() {
		o.run(ctx, s, snap)
		o.release(s)
	}()
	return started, nil
}

func (o *Orchestrator) claim(snap *model.ScheduleSnapshot) (*Session, error) {
	if snap.Empty() {
		return nil, ErrNothingToSync
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		appLog.Warn("sync request rejected; session in flight", "session", o.active.ID)
		return nil, ErrSessionInFlight
	}
	s := &Session{
		ID:         uuid.New(),
		RollNumber: snap.RollNumber,
		Phase:      PhaseIdle,
		StartedAt:  o.clock.Now(),
	}
	o.active = s
	return s, nil
}

func (o *Orchestrator) release(s *Session) Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	s.EndedAt = o.clock.Now()
	final := *s
	o.last = &final
	o.active = nil
	return final
}

// enter moves s to phase and notifies the observer.
func (o *Orchestrator) enter(s *Session, phase Phase) {
	o.mu.Lock()
	s.Phase = phase
	snapshot := *s
	o.mu.Unlock()

	appLog.Info("sync session transition", "session", s.ID, "phase", phase)
	if o.observer != nil {
		o.observer(snapshot)
	}
}

func (o *Orchestrator) fail(s *Session, reason Reason, err error) {
	var typed error
	if reason.IsAuthFlow() {
		typed = &AuthFlowError{Reason: reason, Err: err}
	} else {
		typed = &SyncError{Reason: reason, Err: err}
	}

	o.mu.Lock()
	s.Reason = reason
	s.err = typed
	if err != nil {
		s.LastError = err.Error()
	}
	o.mu.Unlock()

	appLog.Error("sync session failed", typed, "session", s.ID, "reason", reason)
	o.enter(s, PhaseFailed)
}

func (o *Orchestrator) run(ctx context.Context, s *Session, snap *model.ScheduleSnapshot) {
	o.enter(s, PhaseCheckingAuth)
	st, err := o.backend.AuthStatus(ctx)
	if err != nil {
		o.fail(s, ReasonNetwork, err)
		return
	}

	if !st.Authenticated {
		if st.URL == "" {
			if st.Error != "" {
				o.fail(s, BackendReason(st.Error), errors.New(st.Error))
			} else {
				o.fail(s, ReasonAuthNeeded, nil)
			}
			return
		}
		if !o.authorize(ctx, s, st.URL) {
			return
		}
	}

	o.push(ctx, s, snap)
}

// authorize runs AwaitingUserAuth and Polling and re-checks the status once
// the window is gone. It reports whether the session may proceed to sync.
func (o *Orchestrator) authorize(ctx context.Context, s *Session, url string) bool {
	o.enter(s, PhaseAwaitingUserAuth)
	g := CenterIn(o.viewport, o.windowWidth, o.windowHeight)
	win, err := o.opener.Open(ctx, url, g)
	if err != nil {
		o.fail(s, ReasonPopupBlocked, err)
		return false
	}

	defer func() {
		if cerr := win.Close(); cerr != nil {
			appLog.Warn("closing authorization window failed", "err", cerr)
		}
	}()

	o.enter(s, PhasePolling)
	if err := o.waitClosed(ctx, win); err != nil {
		o.fail(s, ReasonAuthFailed, err)
		return false
	}

	// Anything short of a confirmed grant after the window closes is an
	// authorization failure, including an unreachable backend.
	st, err := o.backend.AuthStatus(ctx)
	if err != nil {
		o.fail(s, ReasonAuthFailed, err)
		return false
	}
	if !st.Authenticated {
		o.fail(s, ReasonAuthFailed, nil)
		return false
	}
	return true
}

// waitClosed checks win every poll interval. It returns nil once the window
// is closed, ErrPollTimeout when the poll timeout elapses, or the context
// error.
func (o *Orchestrator) waitClosed(ctx context.Context, win Window) error {
	ticker := o.clock.NewTicker(o.pollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if o.pollTimeout > 0 {
		timer := o.clock.NewTimer(o.pollTimeout)
		defer timer.Stop()
		deadline = timer.C()
	}

	for {
		select {
		case <-ticker.C():
			if win.Closed() {
				return nil
			}
		case <-deadline:
			return ErrPollTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) push(ctx context.Context, s *Session, snap *model.ScheduleSnapshot) {
	o.enter(s, PhaseSyncing)
	res, err := o.backend.Sync(ctx, snap)
	if err != nil {
		var se *loader.StatusError
		switch {
		case loader.IsStatus(err, http.StatusUnauthorized):
			o.fail(s, ReasonAuthNeeded, err)
		case errors.As(err, &se):
			o.fail(s, BackendReason(se.Detail), err)
		default:
			o.fail(s, ReasonNetwork, err)
		}
		return
	}

	o.mu.Lock()
	s.Result = res
	o.mu.Unlock()
	o.enter(s, PhaseSuccess)
}
