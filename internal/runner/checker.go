package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
)

var (
	ErrCheckScaleFactor = errors.New("result checking is only supported for scale factor 1")
	ErrMismatch         = errors.New("result mismatch")
)

// Checker compares query results with the reference answers stored as
// <Dir>/q<N>.parquet.
type Checker struct {
	Dir         string
	ScaleFactor float64
	Tolerance   frame.Tolerance
}

func (c Checker) AnswerPath(number int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("q%v.parquet", number))
}

func (c Checker) Check(ctx context.Context, number int, got *frame.DataFrame) error {
	if c.ScaleFactor != 1 {
		return ErrCheckScaleFactor
	}
	want, err := frame.ReadParquet(ctx, c.AnswerPath(number))
	if err != nil {
		return fmt.Errorf("load answer of q%v: %w", number, err)
	}
	if err := frame.Diff(got, want, queries.Ordered(number), c.Tolerance); err != nil {
		return fmt.Errorf("%w: q%v: %v", ErrMismatch, number, err)
	}
	return nil
}
