package runner

import (
	"context"
	"fmt"
	"slices"

	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
)

// Compare runs query number on every engine and reports the first engine whose
// result differs from the first one in name order.
func Compare(ctx context.Context, number int, engines map[string]QueryFunc, tol frame.Tolerance) error {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) < 2 {
		return fmt.Errorf("q%v: need at least two engines to compare, got %v", number, names)
	}
	results := make([]*frame.DataFrame, len(names))
	for i, name := range names {
		df, err := engines[name](ctx)
		if err != nil {
			return fmt.Errorf("q%v on %v: %w", number, name, err)
		}
		results[i] = df
	}
	for i := 1; i < len(names); i++ {
		if err := frame.Diff(results[i], results[0], queries.Ordered(number), tol); err != nil {
			return fmt.Errorf("%w: q%v results are different for %v and %v: %v", ErrMismatch, number, names[0], names[i], err)
		}
	}
	return nil
}
