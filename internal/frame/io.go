package frame

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

func ScanParquet(paths ...string) *LazyFrame { return Scan(&parquetSource{paths: paths}) }
func ScanFeather(paths ...string) *LazyFrame { return Scan(&featherSource{paths: paths}) }

// ScanCSV reads comma separated files with a header row; the schema gives the
// column types.
func ScanCSV(schema Schema, paths ...string) *LazyFrame {
	return Scan(&csvSource{paths: paths, schema: schema})
}

func ReadParquet(ctx context.Context, paths ...string) (*DataFrame, error) {
	return ScanParquet(paths...).Collect(ctx, NoOptimization())
}

func ReadFeather(ctx context.Context, paths ...string) (*DataFrame, error) {
	return ScanFeather(paths...).Collect(ctx, NoOptimization())
}

func ReadCSV(ctx context.Context, schema Schema, paths ...string) (*DataFrame, error) {
	return ScanCSV(schema, paths...).Collect(ctx, NoOptimization())
}

func sourceName(paths []string) string {
	if len(paths) == 0 {
		return "<empty>"
	}
	if len(paths) == 1 {
		return paths[0]
	}
	return fmt.Sprintf("%v (+%v files)", paths[0], len(paths)-1)
}

type parquetSource struct {
	paths []string
}

func (s *parquetSource) Name() string { return sourceName(s.paths) }

func (s *parquetSource) Schema() (Schema, error) {
	if len(s.paths) == 0 {
		return nil, fmt.Errorf("parquet scan without files")
	}
	pf, err := file.OpenParquetFile(s.paths[0], false)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", s.paths[0], err)
	}
	defer pf.Close()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, err
	}
	schema, err := reader.Schema()
	if err != nil {
		return nil, err
	}
	return fromArrowSchema(schema)
}

func (s *parquetSource) ReadChunks(ctx context.Context, columns []string, chunkSize int, fn func(*DataFrame) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	for _, path := range s.paths {
		if err := s.readFile(ctx, path, columns, chunkSize, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *parquetSource) readFile(ctx context.Context, path string, columns []string, chunkSize int, fn func(*DataFrame) error) error {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return fmt.Errorf("open %v: %w", path, err)
	}
	defer pf.Close()
	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(chunkSize)}, memory.DefaultAllocator)
	if err != nil {
		return err
	}
	var indices []int
	if columns != nil {
		indices = make([]int, len(columns))
		for i, name := range columns {
			if indices[i] = pf.MetaData().Schema.ColumnIndexByName(name); indices[i] < 0 {
				return fmt.Errorf("column %q not found in %v", name, path)
			}
		}
	}
	records, err := reader.GetRecordReader(ctx, indices, nil)
	if err != nil {
		return err
	}
	defer records.Release()
	for records.Next() {
		df, err := fromArrowRecord(records.Record(), columns)
		if err != nil {
			return fmt.Errorf("read %v: %w", path, err)
		}
		if err := fn(df); err != nil {
			return err
		}
	}
	if err := records.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read %v: %w", path, err)
	}
	return nil
}

type featherSource struct {
	paths []string
}

func (s *featherSource) Name() string { return sourceName(s.paths) }

func (s *featherSource) Schema() (Schema, error) {
	if len(s.paths) == 0 {
		return nil, fmt.Errorf("feather scan without files")
	}
	f, err := os.Open(s.paths[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	reader, err := ipc.NewFileReader(f)
	if err != nil {
		return nil, fmt.Errorf("open %v: %w", s.paths[0], err)
	}
	defer reader.Close()
	return fromArrowSchema(reader.Schema())
}

func (s *featherSource) ReadChunks(ctx context.Context, columns []string, chunkSize int, fn func(*DataFrame) error) error {
	for _, path := range s.paths {
		if err := s.readFile(ctx, path, columns, chunkSize, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *featherSource) readFile(ctx context.Context, path string, columns []string, chunkSize int, fn func(*DataFrame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader, err := ipc.NewFileReader(f)
	if err != nil {
		return fmt.Errorf("open %v: %w", path, err)
	}
	defer reader.Close()
	for i := 0; i < reader.NumRecords(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := reader.Record(i)
		if err != nil {
			return fmt.Errorf("read %v: %w", path, err)
		}
		df, err := fromArrowRecord(record, columns)
		if err != nil {
			return fmt.Errorf("read %v: %w", path, err)
		}
		for _, chunk := range df.chunks(chunkSize) {
			if err := fn(chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

type csvSource struct {
	paths  []string
	schema Schema
}

func (s *csvSource) Name() string            { return sourceName(s.paths) }
func (s *csvSource) Schema() (Schema, error) { return s.schema, nil }

func (s *csvSource) ReadChunks(ctx context.Context, columns []string, chunkSize int, fn func(*DataFrame) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if columns == nil {
		columns = s.schema.Names()
	}
	fields, err := projectSchema(s.schema, columns)
	if err != nil {
		return err
	}
	for _, path := range s.paths {
		if err := s.readFile(ctx, path, fields, chunkSize, fn); err != nil {
			return err
		}
	}
	return nil
}

func (s *csvSource) readFile(ctx context.Context, path string, fields Schema, chunkSize int, fn func(*DataFrame) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	reader := csv.NewReader(f)
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header of %v: %w", path, err)
	}
	positions := make([]int, len(fields))
	for i, field := range fields {
		positions[i] = -1
		for j, name := range header {
			if name == field.Name {
				positions[i] = j
			}
		}
		if positions[i] < 0 {
			return fmt.Errorf("column %q not found in %v", field.Name, path)
		}
	}
	builder := NewRowBuilder(fields)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %v: %w", path, err)
		}
		for i, pos := range positions {
			if err := builder.AppendString(i, record[pos]); err != nil {
				return fmt.Errorf("read %v line %v: %w", path, builder.Len()+2, err)
			}
		}
		if builder.Len() >= chunkSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(builder.Flush()); err != nil {
				return err
			}
		}
	}
	if builder.Len() > 0 {
		return fn(builder.Flush())
	}
	return nil
}

// RowBuilder accumulates text fields into typed columns. Empty fields of
// non-string columns become nulls.
type RowBuilder struct {
	schema  Schema
	columns []Series
	nulls   [][]bool
	rows    int
}

func NewRowBuilder(schema Schema) *RowBuilder {
	b := &RowBuilder{schema: schema}
	b.reset()
	return b
}

func (b *RowBuilder) reset() {
	b.columns = make([]Series, len(b.schema))
	b.nulls = make([][]bool, len(b.schema))
	for i, field := range b.schema {
		b.columns[i] = emptySeries(field.Name, field.Type, 1024)
	}
	b.rows = 0
}

func (b *RowBuilder) Len() int { return b.rows }

// AppendString parses value into column i; a row is complete once its last
// column has been appended.
func (b *RowBuilder) AppendString(i int, value string) error {
	column := &b.columns[i]
	null := value == "" && column.dtype != String
	if null {
		if b.nulls[i] == nil {
			b.nulls[i] = make([]bool, column.Len(), column.Len()+1024)
		}
		column.appendZero()
	} else {
		switch column.dtype {
		case Int64:
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("column %q: %w", column.name, err)
			}
			column.ints = append(column.ints, v)
		case Float64:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return fmt.Errorf("column %q: %w", column.name, err)
			}
			column.floats = append(column.floats, v)
		case Date:
			v, err := ParseDate(value)
			if err != nil {
				return fmt.Errorf("column %q: %w", column.name, err)
			}
			column.ints = append(column.ints, v)
		case Bool:
			v, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("column %q: %w", column.name, err)
			}
			column.bools = append(column.bools, v)
		case String:
			column.strs = append(column.strs, strings.Clone(value))
		}
	}
	if b.nulls[i] != nil {
		b.nulls[i] = append(b.nulls[i], null)
	}
	if i == len(b.columns)-1 {
		b.rows++
	}
	return nil
}

// Flush returns the buffered rows as a frame and starts a new one.
func (b *RowBuilder) Flush() *DataFrame {
	columns := make([]Series, len(b.columns))
	for i, column := range b.columns {
		columns[i] = column.WithNulls(b.nulls[i])
	}
	b.reset()
	return &DataFrame{columns: columns}
}

func fromArrowSchema(schema *arrow.Schema) (Schema, error) {
	out := make(Schema, schema.NumFields())
	for i, field := range schema.Fields() {
		dtype, err := fromArrowType(field.Type)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", field.Name, err)
		}
		out[i] = Field{Name: field.Name, Type: dtype}
	}
	return out, nil
}

func fromArrowType(t arrow.DataType) (DType, error) {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64, arrow.UINT8, arrow.UINT16, arrow.UINT32:
		return Int64, nil
	case arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128:
		return Float64, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return String, nil
	case arrow.DATE32, arrow.DATE64:
		return Date, nil
	case arrow.BOOL:
		return Bool, nil
	}
	return 0, fmt.Errorf("unsupported arrow type %v", t)
}

// fromArrowRecord converts the requested columns, in the requested order; nil
// columns means all of them.
func fromArrowRecord(record arrow.Record, columns []string) (*DataFrame, error) {
	if columns == nil {
		for i := 0; i < int(record.NumCols()); i++ {
			columns = append(columns, record.ColumnName(i))
		}
	}
	out := make([]Series, len(columns))
	for i, name := range columns {
		indices := record.Schema().FieldIndices(name)
		if len(indices) == 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
		s, err := fromArrowArray(name, record.Column(indices[0]))
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return New(out...)
}

func fromArrowArray(name string, column arrow.Array) (Series, error) {
	n := column.Len()
	var nulls []bool
	if column.NullN() > 0 {
		nulls = make([]bool, n)
		for i := range nulls {
			nulls[i] = column.IsNull(i)
		}
	}
	var s Series
	switch a := column.(type) {
	case *array.Int64:
		s = NewInt64(name, append([]int64(nil), a.Int64Values()...))
	case *array.Int32:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewInt64(name, values)
	case *array.Int16:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewInt64(name, values)
	case *array.Int8:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewInt64(name, values)
	case *array.Uint32:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewInt64(name, values)
	case *array.Uint16:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewInt64(name, values)
	case *array.Uint8:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewInt64(name, values)
	case *array.Float64:
		s = NewFloat64(name, append([]float64(nil), a.Float64Values()...))
	case *array.Float32:
		values := make([]float64, n)
		for i := range values {
			values[i] = float64(a.Value(i))
		}
		s = NewFloat64(name, values)
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		values := make([]float64, n)
		for i := range values {
			values[i] = a.Value(i).ToFloat64(scale)
		}
		s = NewFloat64(name, values)
	case *array.String:
		values := make([]string, n)
		for i := range values {
			values[i] = strings.Clone(a.Value(i))
		}
		s = NewString(name, values)
	case *array.LargeString:
		values := make([]string, n)
		for i := range values {
			values[i] = strings.Clone(a.Value(i))
		}
		s = NewString(name, values)
	case *array.Date32:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i))
		}
		s = NewDate(name, values)
	case *array.Date64:
		values := make([]int64, n)
		for i := range values {
			values[i] = int64(a.Value(i)) / 86_400_000
		}
		s = NewDate(name, values)
	case *array.Boolean:
		values := make([]bool, n)
		for i := range values {
			values[i] = a.Value(i)
		}
		s = NewBool(name, values)
	default:
		return Series{}, fmt.Errorf("column %q: unsupported arrow type %v", name, column.DataType())
	}
	return s.WithNulls(nulls), nil
}

func toArrowType(t DType) arrow.DataType {
	switch t {
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Float64:
		return arrow.PrimitiveTypes.Float64
	case Date:
		return arrow.FixedWidthTypes.Date32
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	}
	return arrow.BinaryTypes.String
}

func toArrowSchema(schema Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(schema))
	for i, field := range schema {
		fields[i] = arrow.Field{Name: field.Name, Type: toArrowType(field.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

func validity(s Series) []bool {
	if s.nulls == nil {
		return nil
	}
	valid := make([]bool, len(s.nulls))
	for i, null := range s.nulls {
		valid[i] = !null
	}
	return valid
}

// toArrowRecord builds a record; the caller releases it.
func toArrowRecord(df *DataFrame, schema *arrow.Schema) arrow.Record {
	mem := memory.DefaultAllocator
	columns := make([]arrow.Array, df.Width())
	for i, s := range df.columns {
		valid := validity(s)
		switch s.dtype {
		case Int64:
			b := array.NewInt64Builder(mem)
			b.AppendValues(s.ints, valid)
			columns[i] = b.NewArray()
			b.Release()
		case Float64:
			b := array.NewFloat64Builder(mem)
			b.AppendValues(s.floats, valid)
			columns[i] = b.NewArray()
			b.Release()
		case Date:
			b := array.NewDate32Builder(mem)
			days := make([]arrow.Date32, len(s.ints))
			for j, v := range s.ints {
				days[j] = arrow.Date32(v)
			}
			b.AppendValues(days, valid)
			columns[i] = b.NewArray()
			b.Release()
		case Bool:
			b := array.NewBooleanBuilder(mem)
			b.AppendValues(s.bools, valid)
			columns[i] = b.NewArray()
			b.Release()
		case String:
			b := array.NewStringBuilder(mem)
			b.AppendValues(s.strs, valid)
			columns[i] = b.NewArray()
			b.Release()
		}
	}
	record := array.NewRecord(schema, columns, int64(df.Height()))
	for _, column := range columns {
		column.Release()
	}
	return record
}

// ParquetWriter appends frames of a fixed schema to a snappy compressed
// parquet file.
type ParquetWriter struct {
	f      *os.File
	schema *arrow.Schema
	writer *pqarrow.FileWriter
}

func NewParquetWriter(path string, schema Schema) (*ParquetWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	arrowSchema := toArrowSchema(schema)
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	writer, err := pqarrow.NewFileWriter(arrowSchema, f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ParquetWriter{f: f, schema: arrowSchema, writer: writer}, nil
}

func (w *ParquetWriter) Write(df *DataFrame) error {
	record := toArrowRecord(df, w.schema)
	defer record.Release()
	return w.writer.Write(record)
}

func (w *ParquetWriter) Close() error {
	if err := w.writer.Close(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

func WriteParquet(df *DataFrame, path string) error {
	w, err := NewParquetWriter(path, df.Schema())
	if err != nil {
		return err
	}
	if err := w.Write(df); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func WriteFeather(df *DataFrame, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	schema := toArrowSchema(df.Schema())
	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return err
	}
	record := toArrowRecord(df, schema)
	defer record.Release()
	if err := writer.Write(record); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return f.Close()
}

// WriteCSV writes a header row followed by the rows; nulls become empty fields.
func WriteCSV(df *DataFrame, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	writer := csv.NewWriter(f)
	if err := writer.Write(df.Columns()); err != nil {
		return err
	}
	record := make([]string, df.Width())
	for i := 0; i < df.Height(); i++ {
		for j, column := range df.columns {
			if column.IsNull(i) {
				record[j] = ""
				continue
			}
			record[j] = column.format(i)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return f.Close()
}
