package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func noEnvFile() Option { return WithEnvFile("") }

func TestDefaults(t *testing.T) {
	s, err := Load(noEnvFile())
	require.Nil(t, err)
	require.Equal(t, 1.0, s.ScaleFactor)
	require.Nil(t, s.NumBatches)
	require.Equal(t, "data/answers", s.Paths.Answers)
	require.Equal(t, "timings.csv", s.Paths.TimingsFilename)
	require.Equal(t, IOParquet, s.Run.IOType)
	require.Equal(t, 1, s.Run.Iterations)
	require.False(t, s.Run.LogTimings)
	require.Equal(t, "cuda-async", s.Run.UseRmmMr)
	require.Equal(t, 7, s.Plot.NQueries)
	require.Nil(t, s.Plot.YLimit)
	require.True(t, s.Run.IncludeIO())
	require.Equal(t, filepath.Join("data/tables", "scale-1.0"), s.DatasetBaseDir())
}

func TestEnvironment(t *testing.T) {
	t.Setenv("SCALE_FACTOR", "10")
	t.Setenv("NUM_BATCHES", "3")
	t.Setenv("PATH_TABLES", "/tmp/tables")
	t.Setenv("RUN_IO_TYPE", "skip")
	t.Setenv("RUN_FRAME_STREAMING", "true")
	t.Setenv("PLOT_Y_LIMIT", "12.5")
	t.Setenv("STORAGE_DB_NAME", "measurements")
	t.Setenv("RUN_UNKNOWN_KEY", "ignored")

	s, err := Load(noEnvFile())
	require.Nil(t, err)
	require.Equal(t, 10.0, s.ScaleFactor)
	require.Equal(t, 3, *s.NumBatches)
	require.Equal(t, IOSkip, s.Run.IOType)
	require.False(t, s.Run.IncludeIO())
	require.True(t, s.Run.FrameStreaming)
	require.Equal(t, 12.5, *s.Plot.YLimit)
	require.Equal(t, "measurements", s.Storage.DBName)
	require.Equal(t, filepath.Join("/tmp/tables", "scale-10.0"), s.DatasetBaseDir())
}

func TestLowercaseEnvironment(t *testing.T) {
	t.Setenv("run_io_type", "csv")
	t.Setenv("path_tables", "/tmp/lower")
	t.Setenv("scale_factor", "0.1")

	s, err := Load(noEnvFile())
	require.Nil(t, err)
	require.Equal(t, IOCSV, s.Run.IOType)
	require.Equal(t, 0.1, s.ScaleFactor)
	require.Equal(t, filepath.Join("/tmp/lower", "scale-0.1"), s.DatasetBaseDir())
}

func TestPrecedence(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.Nil(t, os.WriteFile(envFile, []byte("RUN_ITERATIONS=3\nRUN_IO_TYPE=csv\nPATH_PLOTS=from-file\nSOMETHING_ELSE=1\n"), 0o644))
	t.Setenv("RUN_IO_TYPE", "feather")
	t.Setenv("PATH_PLOTS", "from-env")

	s, err := Load(WithEnvFile(envFile), WithOverrides(map[string]any{"paths.plots": "from-override"}))
	require.Nil(t, err)
	require.Equal(t, 3, s.Run.Iterations)
	require.Equal(t, IOFeather, s.Run.IOType)
	require.Equal(t, "from-override", s.Paths.Plots)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(WithEnvFile(filepath.Join(t.TempDir(), "missing.env")))
	require.Nil(t, err)
}

func TestInvalidValuesFailFast(t *testing.T) {
	for name, env := range map[string][2]string{
		"non numeric scale factor": {"SCALE_FACTOR", "large"},
		"zero scale factor":        {"SCALE_FACTOR", "0"},
		"unknown io type":          {"RUN_IO_TYPE", "orc"},
		"bad bool":                 {"RUN_SHOW_RESULTS", "maybe"},
		"zero iterations":          {"RUN_ITERATIONS", "0"},
		"unknown memory resource":  {"RUN_USE_RMM_MR", "pinned"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load(noEnvFile())
			require.NotNil(t, err)
		})
	}
}

func TestFormatScaleFactor(t *testing.T) {
	require.Equal(t, "1.0", FormatScaleFactor(1))
	require.Equal(t, "0.1", FormatScaleFactor(0.1))
	require.Equal(t, "10.0", FormatScaleFactor(10))
	require.Equal(t, "0.01", FormatScaleFactor(0.01))
}

func TestEnvName(t *testing.T) {
	require.Equal(t, "PATH_TIMINGS_FILENAME", EnvName("paths.timings_filename"))
	require.Equal(t, "RUN_FRAME_GPU_DEVICE", EnvName("run.frame_gpu_device"))
	require.Equal(t, "NUM_BATCHES", EnvName("num_batches"))
}
