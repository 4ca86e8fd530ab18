package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sivukhin/tpch-benchmark/internal/config"
)

// Strategy selects how the dataframe engine executes a plan.
type Strategy int

const (
	InMemory Strategy = iota
	Eager
	Streaming
	OldStreaming
	GPU
	Cloud
)

func (s Strategy) String() string {
	return [...]string{"in-memory", "eager", "streaming", "old-streaming", "gpu", "cloud"}[s]
}

var ErrStrategyConflict = errors.New("conflicting execution strategies")

// ParseStrategy maps the run flags to a Strategy. At most one flag may be set.
func ParseStrategy(run config.Run) (Strategy, error) {
	flags := []struct {
		set      bool
		strategy Strategy
	}{
		{run.FrameEager, Eager},
		{run.FrameOldStreaming, OldStreaming},
		{run.FrameStreaming, Streaming},
		{run.FrameGPU, GPU},
		{run.FrameCloud, Cloud},
	}
	var selected []string
	strategy := InMemory
	for _, flag := range flags {
		if flag.set {
			selected = append(selected, flag.strategy.String())
			strategy = flag.strategy
		}
	}
	if len(selected) > 1 {
		return 0, fmt.Errorf(
			"%w: specify at most one of eager, old streaming, streaming, cloud or gpu, got %v",
			ErrStrategyConflict, strings.Join(selected, ", "),
		)
	}
	return strategy, nil
}
