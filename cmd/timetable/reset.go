package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"timetable/internal/app"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the cached schedule",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

func init() {
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Cached schedule cleared.")
	return nil
}
