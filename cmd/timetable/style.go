package main

import (
	"github.com/charmbracelet/lipgloss"

	"timetable/internal/calsync"
)

// Colors
var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#10B981")
	colorMuted   = lipgloss.Color("#6B7280")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorWhite   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(colorWhite)
)

// badge renders the status badge shown for a sync session.
func badge(s calsync.Session) string {
	switch {
	case s.Phase == calsync.PhaseSuccess:
		return badgeStyle.Background(colorSuccess).Render("SYNCED")
	case s.Phase != calsync.PhaseFailed:
		return badgeStyle.Background(colorMuted).Render(string(s.Phase))
	}

	switch s.Reason {
	case calsync.ReasonAuthNeeded:
		return badgeStyle.Background(colorWarning).Render("AUTHORIZATION NEEDED")
	case calsync.ReasonAuthFailed:
		return badgeStyle.Background(colorWarning).Render("AUTHORIZATION FAILED")
	case calsync.ReasonPopupBlocked:
		return badgeStyle.Background(colorWarning).Render("WINDOW BLOCKED")
	case calsync.ReasonNetwork:
		return badgeStyle.Background(colorError).Render("OFFLINE")
	}
	return badgeStyle.Background(colorError).Render("SYNC FAILED")
}

// badgeDetail is the line printed under a badge. Authorization outcomes
// carry no detail.
func badgeDetail(s calsync.Session) string {
	switch {
	case s.Phase == calsync.PhaseSuccess && s.Result != nil:
		return s.Result.Message
	case s.Reason == calsync.ReasonAuthNeeded:
		return "Run `timetable sync` again to sign in to your calendar."
	case s.Reason == calsync.ReasonAuthFailed:
		return "The authorization window was closed before access was granted."
	case s.Reason == calsync.ReasonPopupBlocked:
		return "Could not open a browser window for calendar authorization."
	case s.Reason == calsync.ReasonNetwork:
		return "The backend could not be reached."
	case s.Reason.IsBackend():
		return s.Reason.Detail()
	}
	return ""
}
