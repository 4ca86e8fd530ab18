// Package dataframe runs the TPC-H queries on the lazy dataframe engine.
package dataframe

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

type explainer interface {
	Explain(lf *frame.LazyFrame) (string, error)
}

// Executor pairs a table source with the backend chosen by the run strategy.
type Executor struct {
	src         tpch.Source
	backend     runner.Backend
	scaleFactor float64
	showPlan    bool
	out         io.Writer
}

func NewExecutor(src tpch.Source, backend runner.Backend, scaleFactor float64, showPlan bool) *Executor {
	return &Executor{src: src, backend: backend, scaleFactor: scaleFactor, showPlan: showPlan, out: os.Stdout}
}

func (e *Executor) Library() runner.Library {
	return runner.Library{Name: e.backend.Name(), Version: runner.FrameVersion()}
}

// Execute builds and collects query n without timing it.
func (e *Executor) Execute(ctx context.Context, n int) (*frame.DataFrame, error) {
	lf, err := Query(n, e.src, e.scaleFactor)
	if err != nil {
		return nil, err
	}
	return e.backend.Collect(ctx, lf)
}

// Run times every query in numbers through r. The backend is warmed up before
// each timed execution.
func (e *Executor) Run(ctx context.Context, r *runner.Runner, numbers ...int) {
	lib := e.Library()
	for _, n := range numbers {
		lf, err := Query(n, e.src, e.scaleFactor)
		if err != nil {
			r.Fail(n, lib, err)
			continue
		}
		if e.showPlan {
			if err := e.printPlan(lf); err != nil {
				r.Fail(n, lib, err)
				continue
			}
		}
		if err := e.backend.Warmup(ctx); err != nil {
			r.Fail(n, lib, fmt.Errorf("warmup: %w", err))
			continue
		}
		r.Run(ctx, n, lib, func(ctx context.Context) (*frame.DataFrame, error) {
			return e.backend.Collect(ctx, lf)
		})
	}
}

func (e *Executor) printPlan(lf *frame.LazyFrame) error {
	var (
		plan string
		err  error
	)
	if ex, ok := e.backend.(explainer); ok {
		plan, err = ex.Explain(lf)
	} else {
		plan, err = lf.Explain()
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, plan)
	return nil
}
