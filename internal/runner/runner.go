// Package runner times query executions and keeps track of their outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
)

// Library identifies the engine a measurement belongs to.
type Library struct {
	Name    string
	Version string
}

// QueryFunc executes one query; only its duration is timed.
type QueryFunc func(ctx context.Context) (*frame.DataFrame, error)

// Failure is a query that errored, panicked or returned a wrong result.
type Failure struct {
	Query   int
	Library string
	Err     error
}

func (f Failure) Error() string { return fmt.Sprintf("q%v (%v): %v", f.Query, f.Library, f.Err) }

func (f Failure) Unwrap() error { return f.Err }

type Runner struct {
	settings    config.Settings
	timings     *TimingsLog
	checker     Checker
	recorder    *Measurements
	out         io.Writer
	clearCaches func() error

	mu       sync.Mutex
	failures []Failure
}

type Option func(*Runner)

// WithOutput sets where results are shown; stdout by default.
func WithOutput(w io.Writer) Option { return func(r *Runner) { r.out = w } }

// WithMeasurements mirrors every record into m.
func WithMeasurements(m *Measurements) Option { return func(r *Runner) { r.recorder = m } }

func WithCacheClearer(clear func() error) Option { return func(r *Runner) { r.clearCaches = clear } }

func New(settings config.Settings, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		timings:  NewTimingsLog(settings.Paths),
		checker: Checker{
			Dir:         settings.Paths.Answers,
			ScaleFactor: settings.ScaleFactor,
			Tolerance:   frame.DefaultTolerance,
		},
		out:         os.Stdout,
		clearCaches: ClearCaches,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Settings() config.Settings { return r.settings }

// Run executes fn run.iterations times. Failures are logged and recorded, the
// caller goes on with the next query.
func (r *Runner) Run(ctx context.Context, number int, lib Library, fn QueryFunc) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			r.Fail(number, lib, err)
		}
	}()
	run := r.settings.Run
	iterations := max(run.Iterations, 1)
	for i := 0; i < iterations; i++ {
		if run.ClearCaches {
			logger.Logger.Info("clear caches")
			if err := r.clearCaches(); err != nil {
				return fmt.Errorf("clear caches: %w", err)
			}
		}

		start := time.Now()
		result, err := fn(ctx)
		elapsed := time.Since(start)
		if err != nil {
			return err
		}

		record := Record{
			Solution:    lib.Name,
			Version:     lib.Version,
			Query:       number,
			Duration:    elapsed,
			IOType:      run.IOType,
			ScaleFactor: r.settings.ScaleFactor,
		}
		logger.Logger.Infof("%v q%v #%v/%v: %vs", lib.Name, number, i+1, iterations, record.Seconds())
		if run.LogTimings {
			if err := r.timings.Append(record); err != nil {
				return fmt.Errorf("log timings: %w", err)
			}
		}
		if r.recorder != nil {
			if err := r.recorder.Record(ctx, i, record); err != nil {
				logger.Logger.Warnf("failed to mirror measurement of q%v: %v", number, err)
			}
		}
		if run.ShowResults {
			result.Print(r.out, 0)
		}
		if run.CheckResults {
			if err := r.checker.Check(ctx, number, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fail records a failure that happened outside of Run.
func (r *Runner) Fail(number int, lib Library, err error) {
	logger.Logger.Errorf("q%v FAILED\n%v", number, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{Query: number, Library: lib.Name, Err: err})
}

func (r *Runner) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Err joins every recorded failure; nil when all queries succeeded.
func (r *Runner) Err() error {
	failures := r.Failures()
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
