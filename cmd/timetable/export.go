package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"timetable/internal/app"
	"timetable/internal/backend"
	"timetable/internal/ics"
)

var (
	exportLocal  bool
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the cached schedule as an .ics calendar file",
	Long: `Write the cached schedule as an iCalendar file.

By default the backend renders the file. With --local it is built here,
with one weekly recurring event per class anchored on semester.start.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().BoolVar(&exportLocal, "local", false, "Build the calendar locally instead of asking the backend")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output path (default is the suggested file name)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd, false, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	var file *backend.ICSFile
	if exportLocal {
		var skipped []ics.Skipped
		file, skipped, err = a.ExportLocal()
		if err != nil {
			return err
		}
		for _, s := range skipped {
			fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render(fmt.Sprintf("skipped %s %q: %v", s.Kind, s.Subject, s.Err)))
		}
	} else {
		file, err = a.ExportBackend(cmd.Context())
		if err != nil {
			return err
		}
	}

	path := exportOutput
	if path == "" {
		path = file.Name
	}
	if err := os.WriteFile(path, file.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(file.Data))
	return nil
}
