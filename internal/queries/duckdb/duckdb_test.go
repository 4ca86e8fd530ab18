package duckdb_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
	"github.com/sivukhin/tpch-benchmark/internal/queries/dataframe"
	"github.com/sivukhin/tpch-benchmark/internal/queries/duckdb"
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

func open(t *testing.T, data tpch.Preloaded, ioType config.IOType) *duckdb.Executor {
	return openAt(t, data, ioType, 1)
}

func openAt(t *testing.T, data tpch.Preloaded, ioType config.IOType, scaleFactor float64) *duckdb.Executor {
	s := settings(t, map[string]any{"run.io_type": string(ioType), "scale_factor": scaleFactor})
	require.Nil(t, data.Write(s.DatasetBaseDir(), ioType))
	e, err := duckdb.Open(context.Background(), s)
	require.Nil(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestMatchesDataframeEngine(t *testing.T) {
	ctx := context.Background()
	data := tpchtest.Generate(1)
	e := open(t, data, config.IOParquet)
	for _, n := range queries.Numbers() {
		got, err := e.Execute(ctx, n)
		require.Nil(t, err, "q%v", n)

		lf, err := dataframe.Query(n, data, 1)
		require.Nil(t, err, "q%v", n)
		want, err := lf.Collect(ctx)
		require.Nil(t, err, "q%v", n)

		require.Nil(t, frame.Diff(got, want, false, frame.DefaultTolerance), "q%v", n)
	}
}

func TestQ11ThresholdMatchesDataframeEngine(t *testing.T) {
	ctx := context.Background()
	data := tpchtest.Generate(1)
	heights := make(map[float64]int)
	for _, sf := range []float64{0.002, 10} {
		got, err := openAt(t, data, config.IOParquet, sf).Execute(ctx, 11)
		require.Nil(t, err, "sf %v", sf)

		lf, err := dataframe.Query(11, data, sf)
		require.Nil(t, err, "sf %v", sf)
		want, err := lf.Collect(ctx)
		require.Nil(t, err, "sf %v", sf)

		require.Nil(t, frame.Diff(got, want, false, frame.DefaultTolerance), "sf %v", sf)
		require.Greater(t, got.Height(), 0, "sf %v", sf)
		heights[sf] = got.Height()
	}
	require.LessOrEqual(t, heights[0.002], heights[10])
}

func TestRepeatedExecutionIsStable(t *testing.T) {
	ctx := context.Background()
	e := open(t, tpchtest.Generate(3), config.IOParquet)
	for _, n := range queries.Numbers() {
		first, err := e.Execute(ctx, n)
		require.Nil(t, err, "q%v", n)
		second, err := e.Execute(ctx, n)
		require.Nil(t, err, "q%v", n)
		require.Nil(t, frame.Diff(first, second, false, frame.DefaultTolerance), "q%v", n)
	}
}

func TestIOTypesAgree(t *testing.T) {
	ctx := context.Background()
	data := tpchtest.Generate(5)
	parquet := open(t, data, config.IOParquet)
	for _, ioType := range []config.IOType{config.IOCSV, config.IOSkip} {
		e := open(t, data, ioType)
		for _, n := range []int{1, 3, 6, 11, 18} {
			got, err := e.Execute(ctx, n)
			require.Nil(t, err, "%v q%v", ioType, n)
			want, err := parquet.Execute(ctx, n)
			require.Nil(t, err, "%v q%v", ioType, n)
			require.Nil(t, frame.Diff(got, want, false, frame.DefaultTolerance), "%v q%v", ioType, n)
		}
	}
}

func TestFeatherIsRejected(t *testing.T) {
	s := settings(t, map[string]any{"run.io_type": string(config.IOFeather)})
	_, err := duckdb.Open(context.Background(), s)
	require.ErrorIs(t, err, tpch.ErrUnsupportedIOType)
}

func TestQueryText(t *testing.T) {
	s := settings(t, map[string]any{"scale_factor": 10.0})
	e, err := duckdb.Open(context.Background(), s)
	require.Nil(t, err)
	defer e.Close()

	text, err := e.Query(11)
	require.Nil(t, err)
	require.InDelta(t, 1e-5, queries.Q11Fraction(10), 1e-12)
	require.Contains(t, text, strconv.FormatFloat(queries.Q11Fraction(10), 'g', -1, 64))
	require.Contains(t, text, "read_parquet(['"+filepath.Join(s.DatasetBaseDir(), "partsupp.parquet")+"'])")
	require.NotContains(t, text, "{{")

	_, err = e.Query(0)
	require.ErrorIs(t, err, queries.ErrUnknownQuery)
	_, err = e.Query(queries.Count + 1)
	require.ErrorIs(t, err, queries.ErrUnknownQuery)

	require.Equal(t, duckdb.LibraryName, e.Library().Name)
	require.NotEmpty(t, e.Library().Version)
}

func TestRunLogsTimings(t *testing.T) {
	ctx := context.Background()
	data := tpchtest.Generate(1)
	s := settings(t, map[string]any{"run.log_timings": true, "run.iterations": 2})
	require.Nil(t, data.Write(s.DatasetBaseDir(), config.IOParquet))
	e, err := duckdb.Open(ctx, s)
	require.Nil(t, err)
	defer e.Close()

	r := runner.New(s)
	e.Run(ctx, r, 1, 6, 23)
	require.Len(t, r.Failures(), 1)
	require.ErrorIs(t, r.Err(), queries.ErrUnknownQuery)

	records, err := runner.ReadTimings(filepath.Join(s.Paths.Timings, s.Paths.TimingsFilename))
	require.Nil(t, err)
	require.Len(t, records, 4)
	for _, record := range records {
		require.Equal(t, duckdb.LibraryName, record.Solution)
		require.Equal(t, config.IOParquet, record.IOType)
		require.Equal(t, 1.0, record.ScaleFactor)
	}
	require.Equal(t, []int{1, 1, 6, 6}, []int{records[0].Query, records[1].Query, records[2].Query, records[3].Query})
}

func TestRunFailsOnMissingData(t *testing.T) {
	ctx := context.Background()
	s := settings(t, nil)
	e, err := duckdb.Open(ctx, s)
	require.Nil(t, err)
	defer e.Close()

	r := runner.New(s)
	e.Run(ctx, r, 6)
	require.Len(t, r.Failures(), 1)
	require.Equal(t, 6, r.Failures()[0].Query)
	_, err = os.Stat(filepath.Join(s.Paths.Timings, s.Paths.TimingsFilename))
	require.True(t, os.IsNotExist(err))
	require.True(t, strings.Contains(r.Err().Error(), "q6"))
}
