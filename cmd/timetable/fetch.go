package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"timetable/internal/app"
	appLog "timetable/internal/log"
)

var fetchRemember bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <roll-number>",
	Short: "Fetch the schedule for a roll number",
	Long: `Ask the backend for a student's schedule and cache it locally.

Examples:
  timetable fetch 23K-0001
  timetable fetch 23k-0001 --remember`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().BoolVar(&fetchRemember, "remember", false, "Save the roll number in the config for scheduled refreshes")
}

func runFetch(cmd *cobra.Command, args []string) error {
	roll := cfg.RollNumber
	if len(args) == 1 {
		roll = args[0]
	}

	a, err := openApp(cmd, true, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.Fetch(cmd.Context(), roll)
	if err != nil {
		return err
	}

	if fetchRemember && cfg.RollNumber != snap.RollNumber {
		cfg.RollNumber = snap.RollNumber
		if err := cfg.Save(configPath()); err != nil {
			return fmt.Errorf("save roll number: %w", err)
		}
		appLog.Info("roll number saved", "roll_number", snap.RollNumber, "config", configPath())
	}

	return printSchedule(cmd.OutOrStdout(), snap, a.Rows())
}
