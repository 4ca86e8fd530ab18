package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/report"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
)

func TestLoadSettingsAppliesChangedFlags(t *testing.T) {
	t.Setenv("RUN_ITERATIONS", "3")
	t.Setenv("SCALE_FACTOR", "5")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Float64("scale-factor", 1.0, "")
	flags.Int("iterations", 1, "")
	flags.Bool("log-timings", false, "")
	require.Nil(t, flags.Parse([]string{"--scale-factor", "0.1", "--log-timings"}))

	settings, err := loadSettings(flags, runSettings)
	require.Nil(t, err)
	require.Equal(t, 0.1, settings.ScaleFactor)
	require.Equal(t, 3, settings.Run.Iterations)
	require.True(t, settings.Run.LogTimings)
}

func TestRunRejectsUnknownEngine(t *testing.T) {
	RootCmd.SetArgs([]string{"run", "--engine", "spark"})
	require.ErrorContains(t, RootCmd.Execute(), "unknown engine")
}

func TestReportCommand(t *testing.T) {
	timings, plots := t.TempDir(), t.TempDir()
	t.Setenv("PATH_TIMINGS", timings)
	t.Setenv("PATH_PLOTS", plots)
	log := runner.NewTimingsLog(config.Paths{Timings: timings, TimingsFilename: "timings.csv"})
	require.Nil(t, log.Append(runner.Record{Solution: "duckdb", Version: "v1", Query: 1, Duration: time.Second, IOType: config.IOParquet, ScaleFactor: 1}))

	RootCmd.SetArgs([]string{"report", "--n-queries", "3"})
	require.Nil(t, RootCmd.Execute())
	_, err := os.Stat(filepath.Join(plots, report.Filename))
	require.Nil(t, err)
}
