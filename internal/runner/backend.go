package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync/atomic"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
)

var ErrBackendUnavailable = errors.New("backend unavailable")

// Backend executes lazy plans for one strategy.
type Backend interface {
	Name() string
	// Warmup pays one-time engine costs so they stay out of the timings.
	Warmup(ctx context.Context) error
	Collect(ctx context.Context, lf *frame.LazyFrame) (*frame.DataFrame, error)
}

// MemoryResource describes the device memory allocator for a GPU run.
type MemoryResource struct {
	Kind            string
	InitialPoolSize uint64
	Prefetch        bool
}

// NewMemoryResource sizes the pool at 80% of the free device memory,
// rounded down to a multiple of 256 bytes.
func NewMemoryResource(kind string, freeMemory uint64) (MemoryResource, error) {
	mr := MemoryResource{Kind: kind}
	switch kind {
	case "cuda", "managed":
	case "cuda-pool", "cuda-async", "managed-pool":
		mr.InitialPoolSize = 256 * (freeMemory * 8 / 10 / 256)
	default:
		return MemoryResource{}, fmt.Errorf("unknown memory resource type %q", kind)
	}
	mr.Prefetch = kind == "managed" || kind == "managed-pool"
	return mr, nil
}

// Device runs plans on an accelerator.
type Device interface {
	FreeMemory(ctx context.Context, device int) (uint64, error)
	Collect(ctx context.Context, lf *frame.LazyFrame, device int, mr MemoryResource) (*frame.DataFrame, error)
}

// ComputeContext runs plans on a remote cluster, leaving results under dst.
type ComputeContext interface {
	Spawn(ctx context.Context, lf *frame.LazyFrame, dst string) (Result, error)
}

// Result of a spawned plan.
type Result interface {
	Plan() (string, error)
	Lazy() *frame.LazyFrame
}

type Options struct {
	Device  Device
	Compute ComputeContext
	// Destination is where a compute context leaves results; defaults to
	// <tmp>/dst.
	Destination string
	// Out receives the remote plans printed with show_results.
	Out io.Writer
}

// FrameVersion is the version of the module the dataframe engine ships in.
func FrameVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// NewBackend is the single dispatch from a strategy to its backend.
func NewBackend(ctx context.Context, strategy Strategy, run config.Run, opts Options) (Backend, error) {
	switch strategy {
	case InMemory:
		return &localBackend{name: "frame"}, nil
	case Eager:
		return &localBackend{name: "frame-eager", opts: []frame.CollectOption{frame.NoOptimization()}}, nil
	case Streaming:
		return &localBackend{name: "frame-streaming", opts: []frame.CollectOption{frame.Streaming(run.FrameWorkers)}}, nil
	case OldStreaming:
		return &localBackend{name: "frame-old-streaming", opts: []frame.CollectOption{frame.Streaming(1)}}, nil
	case GPU:
		if opts.Device == nil {
			return nil, fmt.Errorf("%w: no gpu device registered", ErrBackendUnavailable)
		}
		free, err := opts.Device.FreeMemory(ctx, run.FrameGPUDevice)
		if err != nil {
			return nil, fmt.Errorf("gpu device %v: %w", run.FrameGPUDevice, err)
		}
		mr, err := NewMemoryResource(run.UseRmmMr, free)
		if err != nil {
			return nil, err
		}
		return &gpuBackend{device: opts.Device, index: run.FrameGPUDevice, mr: mr}, nil
	case Cloud:
		if opts.Compute == nil {
			return nil, fmt.Errorf("%w: no compute context", ErrBackendUnavailable)
		}
		dst := opts.Destination
		if dst == "" {
			dst = filepath.Join(os.TempDir(), "dst")
		}
		out := opts.Out
		if out == nil {
			out = os.Stdout
		}
		return &cloudBackend{compute: opts.Compute, dst: dst, showPlan: run.ShowResults, out: out}, nil
	}
	return nil, fmt.Errorf("unknown strategy %v", strategy)
}

// warmup collects a one row parquet scan with collect.
func warmup(ctx context.Context, collect func(context.Context, *frame.LazyFrame) (*frame.DataFrame, error)) error {
	dir, err := os.MkdirTemp("", "warmup")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "test.parquet")
	if err := frame.WriteParquet(frame.MustNew(frame.NewInt64("a", []int64{1})), path); err != nil {
		return err
	}
	_, err = collect(ctx, frame.ScanParquet(path))
	return err
}

type localBackend struct {
	name string
	opts []frame.CollectOption
}

func (b *localBackend) Name() string { return b.name }

func (b *localBackend) Warmup(ctx context.Context) error { return warmup(ctx, b.Collect) }

func (b *localBackend) Collect(ctx context.Context, lf *frame.LazyFrame) (*frame.DataFrame, error) {
	return lf.Collect(ctx, b.opts...)
}

// Explain renders the plan the backend would run.
func (b *localBackend) Explain(lf *frame.LazyFrame) (string, error) {
	return lf.Explain(b.opts...)
}

type gpuBackend struct {
	device Device
	index  int
	mr     MemoryResource
}

func (b *gpuBackend) Name() string { return "frame-gpu-" + b.mr.Kind }

func (b *gpuBackend) Warmup(ctx context.Context) error { return warmup(ctx, b.Collect) }

func (b *gpuBackend) Collect(ctx context.Context, lf *frame.LazyFrame) (*frame.DataFrame, error) {
	return b.device.Collect(ctx, lf, b.index, b.mr)
}

type cloudBackend struct {
	compute  ComputeContext
	dst      string
	showPlan bool
	out      io.Writer
}

func (b *cloudBackend) Name() string { return "frame-cloud" }

func (b *cloudBackend) Warmup(ctx context.Context) error { return warmup(ctx, b.Collect) }

func (b *cloudBackend) Collect(ctx context.Context, lf *frame.LazyFrame) (*frame.DataFrame, error) {
	result, err := b.compute.Spawn(ctx, lf, b.dst)
	if err != nil {
		return nil, err
	}
	if b.showPlan {
		plan, err := result.Plan()
		if err != nil {
			return nil, err
		}
		fmt.Fprintln(b.out, plan)
	}
	return result.Lazy().Collect(ctx)
}

// LocalCompute is a ComputeContext running plans in process: the result is
// written as parquet under dst and read back lazily.
type LocalCompute struct {
	Options []frame.CollectOption

	spawned atomic.Int64
}

func (c *LocalCompute) Spawn(ctx context.Context, lf *frame.LazyFrame, dst string) (Result, error) {
	plan, err := lf.Explain(c.Options...)
	if err != nil {
		return nil, err
	}
	df, err := lf.Collect(ctx, c.Options...)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dst, fmt.Sprintf("result-%v-%v.parquet", os.Getpid(), c.spawned.Add(1)))
	if err := frame.WriteParquet(df, path); err != nil {
		return nil, err
	}
	logger.Logger.Debugf("spawned plan wrote %v rows to %v", df.Height(), path)
	return &localResult{plan: plan, path: path}, nil
}

type localResult struct {
	plan string
	path string
}

func (r *localResult) Plan() (string, error) { return r.plan, nil }

func (r *localResult) Lazy() *frame.LazyFrame { return frame.ScanParquet(r.path) }
