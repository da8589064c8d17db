package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"timetable/internal/app"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the academic plan",
	Args:  cobra.NoArgs,
	RunE:  runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.LoadBootstrap(cmd.Context()); err != nil {
		return err
	}

	plan := a.Plan()
	if len(plan) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("The backend has no academic plan."))
		return nil
	}
	tw := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(tw, "WEEK\tDATE\tACTIVITY")
	for _, item := range plan {
		activity := item.Activity
		if activity == "" {
			activity = item.Event
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", item.Week, item.Date, activity)
	}
	return tw.Flush()
}
