package frame

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func withNulls() *DataFrame {
	return MustNew(
		NewInt64("id", []int64{1, 2, 3}),
		NewString("name", []string{"x", "y", "z"}),
		NewFloat64("price", []float64{1.25, 0, 3.5}).WithNulls([]bool{false, true, false}),
		NewBool("flag", []bool{true, false, true}),
	)
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.parquet")
	require.Nil(t, WriteParquet(sales(), path))

	df, err := ReadParquet(context.Background(), path)
	require.Nil(t, err)
	require.Equal(t, sales().Schema(), df.Schema())
	require.Nil(t, Diff(df, sales(), true, Tolerance{}))

	path = filepath.Join(t.TempDir(), "nulls.parquet")
	require.Nil(t, WriteParquet(withNulls(), path))
	df, err = ReadParquet(context.Background(), path)
	require.Nil(t, err)
	require.Equal(t, [][]any{
		{int64(1), "x", 1.25, true},
		{int64(2), "y", nil, false},
		{int64(3), "z", 3.5, true},
	}, df.Rows())
}

func TestFeatherRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.feather")
	require.Nil(t, WriteFeather(sales(), path))
	df, err := ReadFeather(context.Background(), path)
	require.Nil(t, err)
	require.Nil(t, Diff(df, sales(), true, Tolerance{}))
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nulls.csv")
	require.Nil(t, WriteCSV(withNulls(), path))
	df, err := ReadCSV(context.Background(), withNulls().Schema(), path)
	require.Nil(t, err)
	require.Nil(t, Diff(df, withNulls(), true, Tolerance{}))
}

func TestParquetWriterAppendsAndScanPrunes(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "part-0.parquet")
	w, err := NewParquetWriter(first, sales().Schema())
	require.Nil(t, err)
	require.Nil(t, w.Write(sales().Head(2)))
	require.Nil(t, w.Write(sales().Slice(2, 3)))
	require.Nil(t, w.Close())
	second := filepath.Join(dir, "part-1.parquet")
	require.Nil(t, WriteParquet(sales(), second))

	lf := ScanParquet(first, second).
		Filter(Col("v").Gt(3)).
		Select(Col("key"), Col("f").Mul(2).Alias("double"))
	explain, err := lf.Explain()
	require.Nil(t, err)
	require.Contains(t, explain, "SELECTION")
	require.Contains(t, explain, "PROJECT 2 COLUMNS [key f]")

	df := collectAll(t, lf)
	require.Equal(t, [][]any{{"c", 9.0}, {"b", 11.0}, {"c", 9.0}, {"b", 11.0}}, df.Rows())
}

func TestScanCountsRowsWithoutColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sales.parquet")
	require.Nil(t, WriteParquet(sales(), path))
	df := collectAll(t, ScanParquet(path).Select(Len()))
	require.Equal(t, [][]any{{int64(5)}}, df.Rows())
}

func TestRowBuilder(t *testing.T) {
	b := NewRowBuilder(Schema{{Name: "n", Type: Int64}, {Name: "d", Type: Date}})
	require.Nil(t, b.AppendString(0, "7"))
	require.Nil(t, b.AppendString(1, "1998-09-02"))
	require.Nil(t, b.AppendString(0, ""))
	require.Nil(t, b.AppendString(1, "1992-01-01"))
	require.Equal(t, 2, b.Len())
	err := b.AppendString(0, "seven")
	require.NotNil(t, err)
	require.True(t, strings.Contains(err.Error(), `"n"`))

	df := b.Flush()
	require.Equal(t, 0, b.Len())
	require.Equal(t, 2, df.Height())
	n, err := df.Column("n")
	require.Nil(t, err)
	require.True(t, n.IsNull(1))
	d, err := df.Column("d")
	require.Nil(t, err)
	require.Equal(t, "1998-09-02", FormatDate(d.Int64s()[0]))
}
