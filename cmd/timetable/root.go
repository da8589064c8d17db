package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"timetable/internal/app"
	"timetable/internal/config"
	appLog "timetable/internal/log"
)

var (
	cfgFile  string
	logLevel string

	// cfg is loaded by the root command before any subcommand runs.
	cfg *config.Config
)

// newApp builds the session context for a command. Tests swap it to inject
// collaborators.
var newApp = func(c *config.Config, opts app.Options) (*app.App, error) {
	return app.New(c, opts)
}

var rootCmd = &cobra.Command{
	Use:   "timetable",
	Short: "Class and exam timetable client",
	Long: `timetable fetches a student's class and exam schedule from the
timetable backend, matches the extracted teacher names against the
faculty directory and pushes the schedule to a calendar.

The last fetched schedule is cached locally and shown when the backend
is unreachable.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error (overrides config)")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path := configPath()
	c, err := config.Load(path)
	if err != nil {
		if c == nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		appLog.Warn("running with unsaved default config", "path", path, "err", err)
	}

	level := c.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := appLog.ParseLevel(level)
	if err != nil {
		return err
	}
	appLog.SetLevel(lvl)

	appLog.Debug("effective config",
		"path", path,
		"backend_url", c.BackendURL,
		"timezone", c.Timezone,
		"cache_backend", c.Cache.Backend,
		"semester_start", c.Semester.Start,
	)
	cfg = c
	return nil
}

// openApp builds the App and restores the cached schedule. The directory is
// loaded too when withDirectory is set; a bootstrap failure only warns
// since cached data stays usable.
func openApp(cmd *cobra.Command, withDirectory bool, opts app.Options) (*app.App, error) {
	a, err := newApp(cfg, opts)
	if err != nil {
		return nil, err
	}
	a.Restore()
	if withDirectory {
		if err := a.LoadBootstrap(cmd.Context()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("Backend unreachable; showing cached data without the faculty directory."))
		}
	}
	return a, nil
}
