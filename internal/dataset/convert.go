package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

const DefaultRowsPerFile = 500_000

var ErrNoInput = errors.New("no generated files")

// Converter turns the raw '|' separated generator output found in Dir into
// parquet. Partitioned output goes to <Dir>/<table>/<BatchIdx>_<n>/part.parquet
// with at most RowsPerFile rows per file, otherwise to <Dir>/<table>.parquet.
type Converter struct {
	Dir         string
	RowsPerFile int
	Partitioned bool
	BatchIdx    int
}

func (c Converter) Convert(ctx context.Context) error {
	for _, table := range tpch.Tables {
		if tpch.IsStatic(table) && c.BatchIdx != 0 {
			continue
		}
		if err := c.convertTable(ctx, table); err != nil {
			return fmt.Errorf("convert %v: %w", table, err)
		}
	}
	return nil
}

func (c Converter) rowsPerFile() int {
	if c.RowsPerFile <= 0 {
		return DefaultRowsPerFile
	}
	return c.RowsPerFile
}

func (c Converter) convertTable(ctx context.Context, table string) error {
	schema, err := tpch.Schema(table)
	if err != nil {
		return err
	}
	inputs, err := filepath.Glob(filepath.Join(c.Dir, table+".tbl*"))
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: %v", ErrNoInput, filepath.Join(c.Dir, table+".tbl*"))
	}
	slices.Sort(inputs)
	logger.Logger.Infof("converting %v from %v files", table, len(inputs))

	out := &partitionedWriter{converter: c, table: table, schema: schema}
	defer out.close()

	builder := frame.NewRowBuilder(schema)
	flush := func() error {
		if builder.Len() == 0 {
			return nil
		}
		return out.write(builder.Flush())
	}
	for _, input := range inputs {
		err := readTbl(ctx, input, len(schema), func(fields []string) error {
			for i := range schema {
				if err := builder.AppendString(i, fields[i]); err != nil {
					return err
				}
			}
			if builder.Len() == out.remaining() {
				return flush()
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%v: %w", input, err)
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if out.files == 0 && out.writer == nil {
		if err := out.write(frame.Empty(schema)); err != nil {
			return err
		}
	}
	return out.close()
}

// readTbl calls fn for every row of a generator file; rows end with a
// separator, so each one carries an extra empty trailing field.
func readTbl(ctx context.Context, path string, columns int, fn func([]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.Comma = '|'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = columns + 1
	reader.ReuseRecord = true
	for row := 0; ; row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(fields[:columns]); err != nil {
			line, _ := reader.FieldPos(0)
			return fmt.Errorf("line %v: %w", line, err)
		}
	}
}

// partitionedWriter rolls over to a new file every RowsPerFile rows when
// partitioned.
type partitionedWriter struct {
	converter Converter
	table     string
	schema    frame.Schema
	writer    *frame.ParquetWriter
	rows      int
	files     int
}

func (w *partitionedWriter) remaining() int {
	if !w.converter.Partitioned || w.writer == nil {
		return w.converter.rowsPerFile()
	}
	return w.converter.rowsPerFile() - w.rows
}

func (w *partitionedWriter) path() string {
	if !w.converter.Partitioned {
		return filepath.Join(w.converter.Dir, w.table+".parquet")
	}
	partition := fmt.Sprintf("%v_%v", w.converter.BatchIdx, w.files)
	return filepath.Join(w.converter.Dir, w.table, partition, "part.parquet")
}

func (w *partitionedWriter) write(df *frame.DataFrame) error {
	if w.writer == nil {
		writer, err := frame.NewParquetWriter(w.path(), w.schema)
		if err != nil {
			return err
		}
		w.writer, w.rows = writer, 0
	}
	if err := w.writer.Write(df); err != nil {
		return err
	}
	w.rows += df.Height()
	if w.converter.Partitioned && w.rows >= w.converter.rowsPerFile() {
		return w.close()
	}
	return nil
}

func (w *partitionedWriter) close() error {
	if w.writer == nil {
		return nil
	}
	writer := w.writer
	w.writer = nil
	w.files++
	return writer.Close()
}
