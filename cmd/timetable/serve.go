package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"timetable/internal/app"
	appLog "timetable/internal/log"
	"timetable/internal/web"
)

const shutdownTimeout = 10 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API",
	Long: `Serve the cached schedule, teacher resolution and calendar sync over a
local HTTP API. When roll_number and refresh are configured the schedule
is re-fetched on that cron schedule.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveListen != "" {
		cfg.Listen = serveListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		appLog.Warn("starting without faculty directory", "err", err)
	}
	if _, ok := a.Snapshot(); !ok && cfg.RollNumber != "" {
		refresh(ctx, a)
	}

	c, err := refreshSchedule(ctx, a)
	if err != nil {
		return err
	}
	if c != nil {
		c.Start()
		appLog.Info("scheduled refresh enabled", "cron", cfg.RefreshCron, "roll_number", cfg.RollNumber)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(ctx, a).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLog.Info("http server listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("shutting down")
		if c != nil {
			<-c.Stop().Done()
		}
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// refreshSchedule builds the unstarted cron that re-fetches the configured
// roll number. It returns nil when refresh or roll_number is unset.
func refreshSchedule(ctx context.Context, a *app.App) (*cron.Cron, error) {
	if cfg.RefreshCron == "" || cfg.RollNumber == "" {
		return nil, nil
	}
	c := cron.New(cron.WithLocation(cfg.Location()))
	if _, err := c.AddFunc(cfg.RefreshCron, func() { refresh(ctx, a) }); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.RefreshCron, err)
	}
	return c, nil
}

// refresh re-fetches the configured roll number. The faculty directory is
// installed at most once per process; it is only requested again while no
// bootstrap has succeeded, so a degraded directory stays until restart.
func refresh(ctx context.Context, a *app.App) {
	if !a.Status().DirectoryReady {
		if err := a.LoadBootstrap(ctx); err != nil {
			appLog.Warn("faculty directory still unavailable", "err", err)
		}
	}
	snap, err := a.Fetch(ctx, cfg.RollNumber)
	if err != nil {
		appLog.Error("scheduled refresh failed", err, "roll_number", cfg.RollNumber)
		return
	}
	appLog.Info("schedule refreshed",
		"roll_number", snap.RollNumber,
		"classes", len(snap.Classes),
		"exams", len(snap.Exams),
	)
}
