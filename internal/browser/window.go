// Package browser opens the calendar provider's consent page in a real
// Chromium window and reports when the user has closed it.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"timetable/internal/calsync"
	appLog "timetable/internal/log"
)

// DefaultLaunchTimeout bounds starting Chromium and loading the first page.
const DefaultLaunchTimeout = 30 * time.Second

// targetsTimeout bounds a single closure probe.
const targetsTimeout = 2 * time.Second

// Options configures the Chromium launch.
type Options struct {
	// ExecPath overrides the Chromium binary; empty lets chromedp search the
	// usual locations.
	ExecPath string

	// LaunchTimeout bounds the launch and first navigation. If zero,
	// DefaultLaunchTimeout is used.
	LaunchTimeout time.Duration
}

// Opener implements calsync.WindowOpener with chromedp.
type Opener struct {
	opts Options
}

func NewOpener(opts Options) *Opener {
	if opts.LaunchTimeout <= 0 {
		opts.LaunchTimeout = DefaultLaunchTimeout
	}
	return &Opener{opts: opts}
}

// flags returns the Chromium command line switches for a visible window at g.
func flags(g calsync.Geometry) map[string]any {
	return map[string]any{
		"headless":                 false,
		"hide-scrollbars":          false,
		"mute-audio":               false,
		"window-position":          fmt.Sprintf("%d,%d", g.Left, g.Top),
		"window-size":              fmt.Sprintf("%d,%d", g.Width, g.Height),
		"new-window":               true,
		"no-first-run":             true,
		"no-default-browser-check": true,
	}
}

func (o *Opener) allocatorOptions(g calsync.Geometry) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range flags(g) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if o.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.opts.ExecPath))
	}
	return opts
}

// Open launches Chromium at g and navigates to url. A launch or navigation
// failure is reported as calsync.ErrPopupBlocked.
func (o *Opener) Open(ctx context.Context, url string, g calsync.Geometry) (calsync.Window, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, o.allocatorOptions(g)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	w := &Window{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}

	launchCtx, launchCancel := context.WithTimeout(browserCtx, o.opts.LaunchTimeout)
	defer launchCancel()
	if err := chromedp.Run(launchCtx, chromedp.Navigate(url)); err != nil {
		w.cancel()
		return nil, fmt.Errorf("%w: %v", calsync.ErrPopupBlocked, err)
	}

	appLog.Info("authorization window opened", "url", appLog.RedactURL(url), "geometry", fmt.Sprintf("%dx%d+%d+%d", g.Width, g.Height, g.Left, g.Top))
	return w, nil
}

// Window is a running Chromium instance showing the consent page.
type Window struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// Closed reports true once the browser is gone or has no page left open.
func (w *Window) Closed() bool {
	if w.ctx.Err() != nil {
		return true
	}
	ctx, cancel := context.WithTimeout(w.ctx, targetsTimeout)
	defer cancel()

	infos, err := chromedp.Targets(ctx)
	if err != nil {
		return true
	}
	for _, info := range infos {
		if info.Type == "page" {
			return false
		}
	}
	return true
}

// Close shuts the browser down.
func (w *Window) Close() error {
	w.once.Do(func() {
		w.cancel()
		appLog.Debug("authorization window closed")
	})
	return nil
}
