package frame

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

const printRows = 10

// Print renders at most maxRows rows as an ASCII table; the middle rows are
// elided for taller frames.
func (df *DataFrame) Print(w io.Writer, maxRows int) {
	fmt.Fprintf(w, "shape: (%v, %v)\n", df.Height(), df.Width())
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	header := make([]string, df.Width())
	for i, column := range df.columns {
		header[i] = column.name + "\n" + column.dtype.String()
	}
	table.SetHeader(header)
	appendRow := func(i int) {
		row := make([]string, df.Width())
		for j, column := range df.columns {
			row[j] = column.format(i)
		}
		table.Append(row)
	}
	if maxRows <= 0 || df.Height() <= maxRows {
		for i := 0; i < df.Height(); i++ {
			appendRow(i)
		}
	} else {
		top := (maxRows + 1) / 2
		for i := 0; i < top; i++ {
			appendRow(i)
		}
		ellipsis := make([]string, df.Width())
		for j := range ellipsis {
			ellipsis[j] = "…"
		}
		table.Append(ellipsis)
		for i := df.Height() - (maxRows - top); i < df.Height(); i++ {
			appendRow(i)
		}
	}
	table.Render()
}

func (df *DataFrame) String() string {
	var sb strings.Builder
	df.Print(&sb, printRows)
	return sb.String()
}

type Tolerance struct {
	Abs float64
	Rel float64
}

var DefaultTolerance = Tolerance{Abs: 1e-2, Rel: 1e-8}

// Diff reports the first difference between two frames, or nil when they are
// equal. Unordered frames are compared after putting both in canonical order.
// Numbers match within the tolerance, everything else must be equal.
func Diff(got, want *DataFrame, ordered bool, tol Tolerance) error {
	if !slices.Equal(got.Columns(), want.Columns()) {
		return fmt.Errorf("columns differ: got %v, want %v", got.Columns(), want.Columns())
	}
	if got.Height() != want.Height() {
		return fmt.Errorf("row count differs: got %v, want %v", got.Height(), want.Height())
	}
	if !ordered {
		got, want = canonical(got, tol), canonical(want, tol)
	}
	for j := range got.columns {
		g, w := got.columns[j], want.columns[j]
		numeric := g.dtype.numeric() && w.dtype.numeric()
		if !numeric && g.dtype != w.dtype {
			return fmt.Errorf("column %q type differs: got %v, want %v", g.name, g.dtype, w.dtype)
		}
		for i := 0; i < g.Len(); i++ {
			if g.IsNull(i) || w.IsNull(i) {
				if g.IsNull(i) != w.IsNull(i) {
					return fmt.Errorf("column %q row %v: got %v, want %v", g.name, i, g.format(i), w.format(i))
				}
				continue
			}
			if numeric {
				if !closeEnough(g.float(i), w.float(i), tol) {
					return fmt.Errorf("column %q row %v: got %v, want %v", g.name, i, g.format(i), w.format(i))
				}
				continue
			}
			if compareRows(g, i, w, i) != 0 {
				return fmt.Errorf("column %q row %v: got %q, want %q", g.name, i, g.format(i), w.format(i))
			}
		}
	}
	return nil
}

// canonical sorts rows by the exact columns first and then by the float
// columns rounded to tol.Abs, so that floats differing within the tolerance
// do not reorder rows.
func canonical(df *DataFrame, tol Tolerance) *DataFrame {
	var exact, floats []Series
	for _, column := range df.columns {
		if column.dtype == Float64 {
			floats = append(floats, column)
		} else {
			exact = append(exact, column)
		}
	}
	rounded := func(s Series, i int) float64 {
		if tol.Abs <= 0 {
			return s.float(i)
		}
		return math.Round(s.float(i) / tol.Abs)
	}
	idx := make([]int, df.Height())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, key := range exact {
			if c := compareRows(key, idx[a], key, idx[b]); c != 0 {
				return c < 0
			}
		}
		for _, key := range floats {
			an, bn := key.IsNull(idx[a]), key.IsNull(idx[b])
			if an || bn {
				if an != bn {
					return bn
				}
				continue
			}
			if x, y := rounded(key, idx[a]), rounded(key, idx[b]); x != y {
				return x < y
			}
		}
		return false
	})
	return df.take(idx)
}

func closeEnough(a, b float64, tol Tolerance) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	return diff <= tol.Abs || diff <= tol.Rel*math.Abs(b)
}
