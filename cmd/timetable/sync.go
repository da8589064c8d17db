package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"timetable/internal/app"
	"timetable/internal/calsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push the cached schedule to your calendar",
	Long: `Push the cached schedule to the calendar linked on the backend.

When the backend is not yet authorized, a browser window opens on the
consent page. Close it once access is granted and the push continues.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	a, err := openApp(cmd, false, app.Options{
		OnSyncTransition: func(s calsync.Session) {
			if s.Phase.Terminal() {
				return
			}
			fmt.Fprintln(out, mutedStyle.Render("... "+string(s.Phase)))
			if s.Phase == calsync.PhaseAwaitingUserAuth {
				fmt.Fprintln(out, "Grant calendar access in the browser window, then close it.")
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.Sync(ctx)
	if errors.Is(err, app.ErrNoSchedule) {
		return errors.New("no schedule cached; run `timetable fetch <roll-number>` first")
	}
	if session.Phase == "" {
		return err
	}

	fmt.Fprintln(out, badge(session))
	if detail := badgeDetail(session); detail != "" {
		fmt.Fprintln(out, detail)
	}
	if session.Phase == calsync.PhaseFailed {
		return fmt.Errorf("sync %s", session.Reason)
	}
	return nil
}
