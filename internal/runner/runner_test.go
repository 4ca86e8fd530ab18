package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
)

func testSettings(t *testing.T) config.Settings {
	return config.Settings{
		ScaleFactor: 1,
		Paths: config.Paths{
			Answers:         t.TempDir(),
			Tables:          t.TempDir(),
			Timings:         t.TempDir(),
			TimingsFilename: "timings.csv",
			Plots:           t.TempDir(),
		},
		Run: config.Run{IOType: config.IOParquet, Iterations: 1},
	}
}

func result() *frame.DataFrame {
	return frame.MustNew(
		frame.NewString("name", []string{"a", "b"}),
		frame.NewFloat64("value", []float64{1.5, 2.25}),
	)
}

func constant(df *frame.DataFrame) QueryFunc {
	return func(context.Context) (*frame.DataFrame, error) { return df, nil }
}

var testLibrary = Library{Name: "test", Version: "0.1.0"}

func TestRunLogsEveryIteration(t *testing.T) {
	settings := testSettings(t)
	settings.Run.LogTimings = true
	settings.Run.Iterations = 3
	r := New(settings)

	calls := 0
	err := r.Run(context.Background(), 4, testLibrary, func(context.Context) (*frame.DataFrame, error) {
		calls++
		time.Sleep(time.Millisecond)
		return result(), nil
	})
	require.Nil(t, err)
	require.Equal(t, 3, calls)
	require.Nil(t, r.Err())

	records, err := ReadTimings(filepath.Join(settings.Paths.Timings, "timings.csv"))
	require.Nil(t, err)
	require.Len(t, records, 3)
	for _, record := range records {
		require.Equal(t, "test", record.Solution)
		require.Equal(t, "0.1.0", record.Version)
		require.Equal(t, 4, record.Query)
		require.Equal(t, config.IOParquet, record.IOType)
		require.GreaterOrEqual(t, record.Duration, time.Millisecond)
	}

	content, err := os.ReadFile(filepath.Join(settings.Paths.Timings, "timings.csv"))
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(string(content), "solution,version,query_number,duration[s],io_type,scale_factor\n"))
	require.Equal(t, 1, strings.Count(string(content), "solution"))
}

func TestRunWithoutTimingsLog(t *testing.T) {
	settings := testSettings(t)
	r := New(settings)
	require.Nil(t, r.Run(context.Background(), 1, testLibrary, constant(result())))
	_, err := os.Stat(filepath.Join(settings.Paths.Timings, "timings.csv"))
	require.True(t, os.IsNotExist(err))
}

func TestRunRecordsFailures(t *testing.T) {
	settings := testSettings(t)
	settings.Run.LogTimings = true
	r := New(settings)
	ctx := context.Background()

	boom := errors.New("boom")
	err := r.Run(ctx, 2, testLibrary, func(context.Context) (*frame.DataFrame, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	err = r.Run(ctx, 3, testLibrary, func(context.Context) (*frame.DataFrame, error) { panic("out of memory") })
	require.ErrorContains(t, err, "out of memory")

	require.Nil(t, r.Run(ctx, 5, testLibrary, constant(result())))

	failures := r.Failures()
	require.Len(t, failures, 2)
	require.Equal(t, 2, failures[0].Query)
	require.Equal(t, "test", failures[0].Library)
	require.Equal(t, 3, failures[1].Query)
	require.ErrorIs(t, r.Err(), boom)
	require.Contains(t, r.Err().Error(), "q3 (test)")

	records, err := ReadTimings(filepath.Join(settings.Paths.Timings, "timings.csv"))
	require.Nil(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 5, records[0].Query)
}

func TestRunChecksResults(t *testing.T) {
	settings := testSettings(t)
	settings.Run.CheckResults = true
	ctx := context.Background()
	require.Nil(t, frame.WriteParquet(result(), filepath.Join(settings.Paths.Answers, "q1.parquet")))

	r := New(settings)
	require.Nil(t, r.Run(ctx, 1, testLibrary, constant(result())))

	near := frame.MustNew(
		frame.NewString("name", []string{"a", "b"}),
		frame.NewFloat64("value", []float64{1.501, 2.25}),
	)
	require.Nil(t, r.Run(ctx, 1, testLibrary, constant(near)))

	wrong := frame.MustNew(
		frame.NewString("name", []string{"a", "b"}),
		frame.NewFloat64("value", []float64{1.5, 3}),
	)
	require.ErrorIs(t, r.Run(ctx, 1, testLibrary, constant(wrong)), ErrMismatch)

	swapped := frame.MustNew(
		frame.NewString("name", []string{"b", "a"}),
		frame.NewFloat64("value", []float64{2.25, 1.5}),
	)
	require.ErrorIs(t, r.Run(ctx, 1, testLibrary, constant(swapped)), ErrMismatch)

	// q6 has no order, the row order does not matter
	require.Nil(t, frame.WriteParquet(result(), filepath.Join(settings.Paths.Answers, "q6.parquet")))
	require.Nil(t, r.Run(ctx, 6, testLibrary, constant(swapped)))

	require.NotNil(t, r.Run(ctx, 2, testLibrary, constant(result())))

	settings.ScaleFactor = 10
	r = New(settings)
	require.ErrorIs(t, r.Run(ctx, 1, testLibrary, constant(result())), ErrCheckScaleFactor)
}

func TestRunShowsResults(t *testing.T) {
	settings := testSettings(t)
	settings.Run.ShowResults = true
	var out bytes.Buffer
	r := New(settings, WithOutput(&out))
	require.Nil(t, r.Run(context.Background(), 1, testLibrary, constant(result())))
	require.Contains(t, out.String(), "shape: (2, 2)")
	require.Contains(t, out.String(), "2.25")
}

func TestRunClearsCaches(t *testing.T) {
	settings := testSettings(t)
	settings.Run.ClearCaches = true
	settings.Run.Iterations = 2
	cleared := 0
	r := New(settings, WithCacheClearer(func() error {
		cleared++
		return nil
	}))
	require.Nil(t, r.Run(context.Background(), 1, testLibrary, constant(result())))
	require.Equal(t, 2, cleared)

	r = New(settings, WithCacheClearer(func() error { return errors.New("permission denied") }))
	require.ErrorContains(t, r.Run(context.Background(), 1, testLibrary, constant(result())), "permission denied")
}

func TestFail(t *testing.T) {
	r := New(testSettings(t))
	require.Nil(t, r.Err())
	r.Fail(7, testLibrary, errors.New("unsupported"))
	require.Len(t, r.Failures(), 1)
	var failure Failure
	require.True(t, errors.As(r.Err(), &failure))
	require.Equal(t, 7, failure.Query)
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	engines := map[string]QueryFunc{
		"a": constant(result()),
		"b": constant(result()),
	}
	require.Nil(t, Compare(ctx, 1, engines, frame.DefaultTolerance))

	engines["c"] = constant(result().Head(1))
	err := Compare(ctx, 1, engines, frame.DefaultTolerance)
	require.ErrorIs(t, err, ErrMismatch)
	require.Contains(t, err.Error(), "a and c")

	require.NotNil(t, Compare(ctx, 1, map[string]QueryFunc{"a": constant(result())}, frame.DefaultTolerance))

	boom := errors.New("boom")
	engines["c"] = func(context.Context) (*frame.DataFrame, error) { return nil, boom }
	require.ErrorIs(t, Compare(ctx, 1, engines, frame.DefaultTolerance), boom)
}
