package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"timetable/internal/app"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the cached schedule with resolved teachers and rooms",
	Long: `Show the last fetched schedule. Teacher names are matched against the
faculty directory when the backend is reachable; otherwise they are
listed as unverified.`,
	Args: cobra.NoArgs,
	RunE: runShow,
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the schedule and annotated rows as JSON")
}

func runShow(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, true, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	snap, ok := a.Snapshot()
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No schedule cached. Run `timetable fetch <roll-number>` first."))
		return nil
	}
	rows := a.Rows()
	if showJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"schedule": snap, "rows": rows})
	}
	return printSchedule(cmd.OutOrStdout(), snap, rows)
}
