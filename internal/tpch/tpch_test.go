package tpch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
	"github.com/sivukhin/tpch-benchmark/internal/tpch/tpchtest"
)

func settings(t *testing.T, ioType config.IOType) config.Settings {
	s, err := config.Load(config.WithEnvFile(""), config.WithOverrides(map[string]any{
		"paths.tables": t.TempDir(),
		"run.io_type":  string(ioType),
	}))
	require.Nil(t, err)
	return s
}

func TestSchemasMatchGenerator(t *testing.T) {
	data := tpchtest.Generate(1)
	for _, table := range tpch.Tables {
		schema, err := tpch.Schema(table)
		require.Nil(t, err)
		require.Equal(t, schema, data[table].Schema(), table)
	}
	_, err := tpch.Schema("hits")
	require.ErrorIs(t, err, tpch.ErrUnknownTable)
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, b := tpchtest.Generate(7), tpchtest.Generate(7)
	for _, table := range tpch.Tables {
		require.Nil(t, frame.Diff(a[table], b[table], true, frame.Tolerance{}), table)
	}
}

func TestPath(t *testing.T) {
	s := settings(t, config.IOFeather)
	paths, err := tpch.Path(s, tpch.Orders)
	require.Nil(t, err)
	require.Equal(t, []string{filepath.Join(s.Paths.Tables, "scale-1.0", "orders.feather")}, paths)

	s = settings(t, config.IOParquet)
	paths, err = tpch.Path(s, tpch.Region)
	require.Nil(t, err)
	require.Equal(t, []string{filepath.Join(s.DatasetBaseDir(), "region.parquet")}, paths)

	for _, partition := range []string{"1_0", "0_1", "0_0"} {
		dir := filepath.Join(s.DatasetBaseDir(), "lineitem", partition)
		require.Nil(t, os.MkdirAll(dir, 0o755))
		require.Nil(t, os.WriteFile(filepath.Join(dir, "part.parquet"), nil, 0o644))
	}
	paths, err = tpch.Path(s, tpch.Lineitem)
	require.Nil(t, err)
	require.Len(t, paths, 3)
	require.Equal(t, "0_0", filepath.Base(filepath.Dir(paths[0])))
	require.Equal(t, "1_0", filepath.Base(filepath.Dir(paths[2])))
}

func TestScannerReadsEveryIOType(t *testing.T) {
	data := tpchtest.Generate(3)
	for _, ioType := range config.IOTypes {
		t.Run(string(ioType), func(t *testing.T) {
			s := settings(t, ioType)
			require.Nil(t, data.Write(s.DatasetBaseDir(), ioType))

			scanner, err := tpch.NewScanner(context.Background(), s)
			require.Nil(t, err)
			for _, table := range []string{tpch.Nation, tpch.Orders} {
				lf, err := scanner.Table(table)
				require.Nil(t, err)
				df, err := lf.Collect(context.Background())
				require.Nil(t, err)
				require.Nil(t, frame.Diff(df, data[table], true, frame.DefaultTolerance))
			}
		})
	}
}

func TestSkipLoadsEagerly(t *testing.T) {
	s := settings(t, config.IOSkip)
	require.Nil(t, tpchtest.Generate(3).Write(s.DatasetBaseDir(), config.IOParquet))
	scanner, err := tpch.NewScanner(context.Background(), s)
	require.Nil(t, err)

	require.Nil(t, os.RemoveAll(s.DatasetBaseDir()))
	lf, err := scanner.Table(tpch.Region)
	require.Nil(t, err)
	df, err := lf.Collect(context.Background())
	require.Nil(t, err)
	require.Equal(t, 5, df.Height())
}

func TestScannerReadsLazilyWithIO(t *testing.T) {
	s := settings(t, config.IOParquet)
	require.True(t, s.Run.IncludeIO())
	require.Nil(t, tpchtest.Generate(3).Write(s.DatasetBaseDir(), config.IOParquet))
	scanner, err := tpch.NewScanner(context.Background(), s)
	require.Nil(t, err)

	require.Nil(t, os.RemoveAll(s.DatasetBaseDir()))
	lf, err := scanner.Table(tpch.Region)
	if err == nil {
		_, err = lf.Collect(context.Background())
	}
	require.NotNil(t, err)
}

func TestPreloadedUnknownTable(t *testing.T) {
	_, err := tpch.Preloaded{}.Table(tpch.Part)
	require.ErrorIs(t, err, tpch.ErrUnknownTable)
}
