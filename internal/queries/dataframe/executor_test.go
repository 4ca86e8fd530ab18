package dataframe

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
	"github.com/sivukhin/tpch-benchmark/internal/tpch/tpchtest"
)

func settings(t *testing.T, overrides map[string]any) config.Settings {
	values := map[string]any{
		"paths.tables":  t.TempDir(),
		"paths.timings": t.TempDir(),
	}
	for key, value := range overrides {
		values[key] = value
	}
	s, err := config.Load(config.WithEnvFile(""), config.WithOverrides(values))
	require.Nil(t, err)
	return s
}

func TestBackendsAgree(t *testing.T) {
	ctx := context.Background()
	data := tpchtest.Generate(6)
	run := config.Run{FrameWorkers: 3}
	opts := runner.Options{Compute: &runner.LocalCompute{}, Destination: t.TempDir()}

	base, err := runner.NewBackend(ctx, runner.InMemory, run, opts)
	require.Nil(t, err)
	reference := NewExecutor(data, base, 1, false)

	for _, strategy := range []runner.Strategy{runner.Eager, runner.Streaming, runner.OldStreaming, runner.Cloud} {
		backend, err := runner.NewBackend(ctx, strategy, run, opts)
		require.Nil(t, err)
		e := NewExecutor(data, backend, 1, false)
		for _, n := range queries.Numbers() {
			want, err := reference.Execute(ctx, n)
			require.Nil(t, err, "q%v", n)
			got, err := e.Execute(ctx, n)
			require.Nil(t, err, "%v q%v", strategy, n)
			require.Nil(t, frame.Diff(got, want, false, frame.DefaultTolerance), "%v q%v", strategy, n)
		}
	}
}

func TestScannerSource(t *testing.T) {
	ctx := context.Background()
	data := tpchtest.Generate(1)
	backend, err := runner.NewBackend(ctx, runner.InMemory, config.Run{}, runner.Options{})
	require.Nil(t, err)
	reference := NewExecutor(data, backend, 1, false)

	for _, ioType := range []config.IOType{config.IOParquet, config.IOFeather, config.IOCSV, config.IOSkip} {
		s := settings(t, map[string]any{"run.io_type": string(ioType)})
		require.Nil(t, data.Write(s.DatasetBaseDir(), ioType))
		scanner, err := tpch.NewScanner(ctx, s)
		require.Nil(t, err)
		e := NewExecutor(scanner, backend, 1, false)
		for _, n := range []int{1, 5, 13, 22} {
			want, err := reference.Execute(ctx, n)
			require.Nil(t, err)
			got, err := e.Execute(ctx, n)
			require.Nil(t, err, "%v q%v", ioType, n)
			require.Nil(t, frame.Diff(got, want, false, frame.DefaultTolerance), "%v q%v", ioType, n)
		}
	}
}

func TestExecutorRun(t *testing.T) {
	ctx := context.Background()
	s := settings(t, map[string]any{"run.log_timings": true, "run.show_results": true})
	backend, err := runner.NewBackend(ctx, runner.Streaming, s.Run, runner.Options{})
	require.Nil(t, err)

	var plans, results bytes.Buffer
	e := NewExecutor(tpchtest.Generate(1), backend, s.ScaleFactor, true)
	e.out = &plans
	require.Equal(t, "frame-streaming", e.Library().Name)
	require.NotEmpty(t, e.Library().Version)

	r := runner.New(s, runner.WithOutput(&results))
	e.Run(ctx, r, 1, 11, 0)
	require.Len(t, r.Failures(), 1)
	require.Equal(t, 0, r.Failures()[0].Query)
	require.ErrorIs(t, r.Err(), queries.ErrUnknownQuery)

	require.Contains(t, plans.String(), "AGGREGATE")
	require.Contains(t, results.String(), "l_returnflag")
	require.Contains(t, results.String(), "ps_partkey")

	records, err := runner.ReadTimings(filepath.Join(s.Paths.Timings, s.Paths.TimingsFilename))
	require.Nil(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, records[0].Query)
	require.Equal(t, 11, records[1].Query)
	for _, record := range records {
		require.Equal(t, "frame-streaming", record.Solution)
	}
}

func TestExecutorRunReportsMissingTables(t *testing.T) {
	ctx := context.Background()
	s := settings(t, nil)
	backend, err := runner.NewBackend(ctx, runner.InMemory, s.Run, runner.Options{})
	require.Nil(t, err)
	e := NewExecutor(tpch.Preloaded{}, backend, 1, false)

	r := runner.New(s)
	e.Run(ctx, r, 6)
	require.Len(t, r.Failures(), 1)
	require.ErrorIs(t, r.Err(), tpch.ErrUnknownTable)
}
