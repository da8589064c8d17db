package calsync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"timetable/internal/model"
)

// Phase is a state of the sync session state machine.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseCheckingAuth     Phase = "checking_auth"
	PhaseAwaitingUserAuth Phase = "awaiting_user_auth"
	PhasePolling          Phase = "polling"
	PhaseSyncing          Phase = "syncing"
	PhaseSuccess          Phase = "success"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseSuccess || p == PhaseFailed
}

// Reason qualifies PhaseFailed.
type Reason string

const (
	ReasonAuthNeeded   Reason = "auth_needed"
	ReasonAuthFailed   Reason = "auth_failed"
	ReasonPopupBlocked Reason = "popup_blocked"
	ReasonNetwork      Reason = "network"
)

const backendReasonPrefix = "backend:"

// BackendReason is the failure reason for a backend rejection carrying the
// server-provided detail.
func BackendReason(detail string) Reason {
	return Reason(backendReasonPrefix + detail)
}

// IsBackend reports whether r is a backend:<detail> reason.
func (r Reason) IsBackend() bool {
	return strings.HasPrefix(string(r), backendReasonPrefix)
}

// Detail returns the server detail of a backend reason.
func (r Reason) Detail() string {
	return strings.TrimPrefix(string(r), backendReasonPrefix)
}

// IsAuthFlow reports whether r is one of the authorization outcomes shown
// as a status badge.
func (r Reason) IsAuthFlow() bool {
	switch r {
	case ReasonAuthNeeded, ReasonAuthFailed, ReasonPopupBlocked:
		return true
	}
	return false
}

var (
	// ErrSessionInFlight rejects a sync request while another session is live.
	ErrSessionInFlight = errors.New("a calendar sync is already in progress")
	// ErrNothingToSync is returned without starting a session when there is
	// no schedule to push.
	ErrNothingToSync = errors.New("no schedule to sync")
	// ErrPopupBlocked is returned by a WindowOpener that could not show the
	// authorization window.
	ErrPopupBlocked = errors.New("authorization window was blocked")
	// ErrPollTimeout ends a session whose authorization window stayed open
	// past the configured poll timeout.
	ErrPollTimeout = errors.New("authorization window was not closed in time")
)

// AuthFlowError is a terminal auth_needed, auth_failed or popup_blocked
// outcome. Only the reason is meant for the user.
type AuthFlowError struct {
	Reason Reason
	Err    error
}

func (e *AuthFlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("calendar authorization: %s: %v", e.Reason, e.Err)
	}
	return "calendar authorization: " + string(e.Reason)
}

func (e *AuthFlowError) Unwrap() error {
	return e.Err
}

// SyncError is a terminal network or backend:<detail> outcome.
type SyncError struct {
	Reason Reason
	Err    error
}

func (e *SyncError) Error() string {
	if e.Reason.IsBackend() {
		return e.Reason.Detail()
	}
	return fmt.Sprintf("calendar sync: %s: %v", e.Reason, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Session is one run of the authorization and push state machine. Values
// handed out by the orchestrator are copies.
type Session struct {
	ID         uuid.UUID         `json:"id"`
	RollNumber string            `json:"roll_number"`
	Phase      Phase             `json:"phase"`
	Reason     Reason            `json:"reason,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    time.Time         `json:"ended_at,omitzero"`
	Result     *model.SyncResult `json:"result,omitempty"`

	err error
}

// Err returns the typed terminal error, nil for Success or a live session.
func (s Session) Err() error {
	return s.err
}
