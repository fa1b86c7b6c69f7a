package dashboard

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"

	"showtime-analytics/utils"
)

// SnapshotOptions configures a headless-browser capture of the dashboard.
type SnapshotOptions struct {
	URL       string
	Path      string
	ChromeBin string
	Timeout   time.Duration
	Width     int
	Height    int
}

// Snapshot loads the dashboard in headless Chrome and writes a full-page PNG.
func Snapshot(ctx context.Context, opts SnapshotOptions, logger *utils.Logger) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 900
	}

	chromeBin := opts.ChromeBin
	if chromeBin == "" {
		chromeBin = FindChromeBinary()
	}
	logger.Info("[snapshot] Using browser binary: %s", chromeBin)

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if chromeBin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, opts.Timeout)
	defer cancelTimeout()

	var png []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible("main", chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 90),
	)
	if err != nil {
		return fmt.Errorf("snapshot: capture %s: %w", opts.URL, err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return fmt.Errorf("snapshot: create output dir: %w", err)
	}
	if err := os.WriteFile(opts.Path, png, 0644); err != nil {
		return fmt.Errorf("snapshot: write %q: %w", opts.Path, err)
	}

	logger.Info("[snapshot] Saved %s (%d bytes)", opts.Path, len(png))
	return nil
}

// FindChromeBinary returns the first Chrome or Chromium executable found on
// PATH or in the usual install locations, or "" to let chromedp decide.
func FindChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
