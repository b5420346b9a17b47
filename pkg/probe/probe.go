package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single check when the parent context has no deadline.
const DefaultTimeout = 5 * time.Second

// CheckFunc performs one startup check and returns nil when it passes.
type CheckFunc func(ctx context.Context) error

// Probe is a single startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool // a failure prevents the server from starting
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes the probes concurrently. Results keep the input order.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))

	var g errgroup.Group
	for i, p := range probes {
		g.Go(func() error {
			start := time.Now()
			checkCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
			defer cancel()

			results[i] = Result{
				Probe:    p,
				Error:    p.Check(checkCtx),
				Duration: time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// AnalyzeResults logs a summary and joins the errors of failed critical probes.
func AnalyzeResults(results []Result) error {
	var criticalErrors []error

	slog.Info("Startup Checks Summary")

	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}

		msg := fmt.Sprintf("[%s] %-24s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))

		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Probe.Critical:
			slog.Error(msg, "error", r.Error)
			criticalErrors = append(criticalErrors, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}

	return errors.Join(criticalErrors...)
}

// WritableDir checks that dir exists (creating it if needed) and accepts files.
func WritableDir(dir string) CheckFunc {
	return func(ctx context.Context) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".probe-*")
		if err != nil {
			return fmt.Errorf("directory not writable: %w", err)
		}
		name := f.Name()
		f.Close()
		return os.Remove(filepath.Clean(name))
	}
}

// Credential fails when an engine that needs a key has none.
func Credential(engine, key string) CheckFunc {
	return func(ctx context.Context) error {
		if key == "" {
			return fmt.Errorf("no credential configured for %s", engine)
		}
		return nil
	}
}

// Ping wraps a reachability call such as a sidecar health request.
func Ping(fn func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) error {
		if fn == nil {
			return errors.New("not configured")
		}
		return fn(ctx)
	}
}
