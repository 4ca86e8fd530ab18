package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
)

func record(solution string, query int, d time.Duration, sf float64) runner.Record {
	return runner.Record{Solution: solution, Version: "v1", Query: query, Duration: d, IOType: config.IOParquet, ScaleFactor: sf}
}

func TestNewKeepsLatestRecords(t *testing.T) {
	r := New([]runner.Record{
		record("frame", 3, time.Second, 1),
		record("duckdb", 1, 2*time.Second, 1),
		record("frame", 1, 5*time.Second, 10),
		record("frame", 1, 3*time.Second, 1),
		record("frame", 3, 4*time.Second, 1),
		record("duckdb", 9, time.Second, 1),
	}, 1, 2)
	require.Equal(t, []string{"duckdb", "frame"}, r.Solutions)
	require.Equal(t, []int{1, 3}, r.Queries)

	d, ok := r.Duration(3, "frame")
	require.True(t, ok)
	require.Equal(t, 4*time.Second, d)
	d, ok = r.Duration(1, "frame")
	require.True(t, ok)
	require.Equal(t, 3*time.Second, d)
	_, ok = r.Duration(3, "duckdb")
	require.False(t, ok)
	_, ok = r.Duration(9, "duckdb")
	require.False(t, ok)
}

func TestBar(t *testing.T) {
	require.Equal(t, strings.Repeat("█", barWidth), bar(2*time.Second, 2))
	require.Equal(t, strings.Repeat("█", barWidth/2), bar(time.Second, 2))
	require.Equal(t, strings.Repeat("█", barWidth)+"▶", bar(3*time.Second, 2))
	require.Equal(t, "", bar(time.Second, 0))
}

func TestRender(t *testing.T) {
	r := New([]runner.Record{
		record("frame", 1, 1500*time.Millisecond, 1),
		record("duckdb", 1, 250*time.Millisecond, 1),
		record("duckdb", 2, 100*time.Millisecond, 1),
	}, 1, 0)
	var out bytes.Buffer
	r.Render(&out, nil)
	text := out.String()
	require.True(t, strings.HasPrefix(text, "scale factor 1.0, duration in seconds\n"))
	for _, fragment := range []string{"query", "duckdb", "frame", "chart", "q1", "q2", "1.500", "0.250", "0.100", "-"} {
		require.Contains(t, text, fragment)
	}
	require.Contains(t, text, "frame  "+strings.Repeat("█", barWidth))
}

func TestWrite(t *testing.T) {
	yLimit := 1.0
	settings := config.Settings{
		ScaleFactor: 1,
		Paths: config.Paths{
			Timings:         t.TempDir(),
			TimingsFilename: "timings.csv",
			Plots:           filepath.Join(t.TempDir(), "plot"),
		},
		Plot: config.Plot{Show: true, NQueries: 7, YLimit: &yLimit},
	}
	var out bytes.Buffer
	_, err := Write(settings, &out)
	require.NotNil(t, err)

	log := runner.NewTimingsLog(settings.Paths)
	require.Nil(t, log.Append(record("duckdb", 6, 2*time.Second, 10)))
	_, err = Write(settings, &out)
	require.ErrorContains(t, err, "no timings at scale factor 1.0")

	require.Nil(t, log.Append(record("duckdb", 6, 2*time.Second, 1)))
	path, err := Write(settings, &out)
	require.Nil(t, err)
	require.Equal(t, filepath.Join(settings.Paths.Plots, Filename), path)

	content, err := os.ReadFile(path)
	require.Nil(t, err)
	require.Equal(t, string(content), out.String())
	require.Contains(t, string(content), "▶")

	out.Reset()
	settings.Plot.Show = false
	_, err = Write(settings, &out)
	require.Nil(t, err)
	require.Empty(t, out.String())
}
