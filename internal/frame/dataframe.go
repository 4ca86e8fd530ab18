package frame

import (
	"fmt"
	"slices"
	"sort"
)

type Field struct {
	Name string
	Type DType
}

type Schema []Field

func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, field := range s {
		names[i] = field.Name
	}
	return names
}

func (s Schema) Index(name string) int {
	for i, field := range s {
		if field.Name == name {
			return i
		}
	}
	return -1
}

// DataFrame is an immutable, materialized table of equally sized series.
type DataFrame struct {
	columns []Series
}

func New(columns ...Series) (*DataFrame, error) {
	seen := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		if _, ok := seen[column.name]; ok {
			return nil, fmt.Errorf("duplicate column name %q", column.name)
		}
		seen[column.name] = struct{}{}
		if column.Len() != columns[0].Len() {
			return nil, fmt.Errorf("column %q has %v rows, expected %v", column.name, column.Len(), columns[0].Len())
		}
	}
	return &DataFrame{columns: columns}, nil
}

func MustNew(columns ...Series) *DataFrame {
	df, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return df
}

// Empty returns a frame with the given schema and no rows.
func Empty(schema Schema) *DataFrame {
	columns := make([]Series, len(schema))
	for i, field := range schema {
		columns[i] = emptySeries(field.Name, field.Type, 0)
	}
	return &DataFrame{columns: columns}
}

func (df *DataFrame) Height() int {
	if len(df.columns) == 0 {
		return 0
	}
	return df.columns[0].Len()
}

func (df *DataFrame) Width() int { return len(df.columns) }

func (df *DataFrame) Columns() []string {
	names := make([]string, len(df.columns))
	for i, column := range df.columns {
		names[i] = column.name
	}
	return names
}

func (df *DataFrame) Schema() Schema {
	schema := make(Schema, len(df.columns))
	for i, column := range df.columns {
		schema[i] = Field{Name: column.name, Type: column.dtype}
	}
	return schema
}

func (df *DataFrame) Column(name string) (Series, error) {
	for _, column := range df.columns {
		if column.name == name {
			return column, nil
		}
	}
	return Series{}, fmt.Errorf("column %q not found among %v", name, df.Columns())
}

func (df *DataFrame) ColumnAt(i int) Series { return df.columns[i] }

func (df *DataFrame) Row(i int) []any {
	row := make([]any, len(df.columns))
	for j, column := range df.columns {
		row[j] = column.Value(i)
	}
	return row
}

func (df *DataFrame) Rows() [][]any {
	rows := make([][]any, df.Height())
	for i := range rows {
		rows[i] = df.Row(i)
	}
	return rows
}

// Lazy starts a lazy query over the frame.
func (df *DataFrame) Lazy() *LazyFrame {
	return &LazyFrame{plan: &frameNode{df: df}}
}

func (df *DataFrame) Select(names ...string) (*DataFrame, error) {
	columns := make([]Series, 0, len(names))
	for _, name := range names {
		column, err := df.Column(name)
		if err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	return New(columns...)
}

func (df *DataFrame) take(idx []int) *DataFrame {
	columns := make([]Series, len(df.columns))
	for i, column := range df.columns {
		columns[i] = column.take(idx)
	}
	return &DataFrame{columns: columns}
}

func (df *DataFrame) Slice(offset, length int) *DataFrame {
	lo := min(max(offset, 0), df.Height())
	hi := min(lo+max(length, 0), df.Height())
	columns := make([]Series, len(df.columns))
	for i, column := range df.columns {
		columns[i] = column.slice(lo, hi)
	}
	return &DataFrame{columns: columns}
}

func (df *DataFrame) Head(n int) *DataFrame { return df.Slice(0, n) }

// with replaces the column of the same name or appends a new one.
func (df *DataFrame) with(column Series) *DataFrame {
	columns := slices.Clone(df.columns)
	for i := range columns {
		if columns[i].name == column.name {
			columns[i] = column
			return &DataFrame{columns: columns}
		}
	}
	return &DataFrame{columns: append(columns, column)}
}

func (df *DataFrame) chunks(size int) []*DataFrame {
	if size <= 0 || df.Height() <= size {
		return []*DataFrame{df}
	}
	chunks := make([]*DataFrame, 0, df.Height()/size+1)
	for offset := 0; offset < df.Height(); offset += size {
		chunks = append(chunks, df.Slice(offset, size))
	}
	return chunks
}

func Concat(frames ...*DataFrame) (*DataFrame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	if len(frames) == 1 {
		return frames[0], nil
	}
	columns := make([]Series, frames[0].Width())
	for i := range columns {
		parts := make([]Series, len(frames))
		for j, frame := range frames {
			if frame.Width() != len(columns) || frame.columns[i].name != frames[0].columns[i].name {
				return nil, fmt.Errorf("cannot concatenate frames with columns %v and %v", frames[0].Columns(), frame.Columns())
			}
			parts[j] = frame.columns[i]
		}
		column, err := concatSeries(parts)
		if err != nil {
			return nil, err
		}
		columns[i] = column
	}
	return &DataFrame{columns: columns}, nil
}

type SortBy struct {
	Column     string
	Descending bool
}

func Asc(column string) SortBy  { return SortBy{Column: column} }
func Desc(column string) SortBy { return SortBy{Column: column, Descending: true} }

// Sort orders rows by the given keys; the sort is stable and nulls come last.
func (df *DataFrame) Sort(by ...SortBy) (*DataFrame, error) {
	keys := make([]Series, len(by))
	for i, key := range by {
		column, err := df.Column(key.Column)
		if err != nil {
			return nil, err
		}
		keys[i] = column
	}
	idx := make([]int, df.Height())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for k, key := range keys {
			c := compareRows(key, idx[a], key, idx[b])
			if c == 0 {
				continue
			}
			if by[k].Descending && !key.IsNull(idx[a]) && !key.IsNull(idx[b]) {
				c = -c
			}
			return c < 0
		}
		return false
	})
	return df.take(idx), nil
}

func (df *DataFrame) Rename(mapping map[string]string) *DataFrame {
	columns := slices.Clone(df.columns)
	for i := range columns {
		if name, ok := mapping[columns[i].name]; ok {
			columns[i] = columns[i].Rename(name)
		}
	}
	return &DataFrame{columns: columns}
}
