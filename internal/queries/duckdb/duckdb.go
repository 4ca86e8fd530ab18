// Package duckdb runs the TPC-H queries on an embedded DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"text/template"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/logger"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
	"github.com/sivukhin/tpch-benchmark/internal/runner"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

const LibraryName = "duckdb"

var templates = func() map[int]*template.Template {
	parsed := make(map[int]*template.Template, len(queriesSQL))
	for n, text := range queriesSQL {
		parsed[n] = template.Must(template.New(fmt.Sprintf("q%v", n)).Option("missingkey=error").Parse(text))
	}
	return parsed
}()

// Executor owns the database handle and the table references of one dataset.
type Executor struct {
	db       *sql.DB
	settings config.Settings
	refs     map[string]string
	version  string
}

// Open starts an in-memory database over the dataset configured in settings.
// Feather files cannot be read by DuckDB.
func Open(ctx context.Context, settings config.Settings) (*Executor, error) {
	if settings.Run.IOType == config.IOFeather {
		return nil, fmt.Errorf("%w: duckdb cannot read %q", tpch.ErrUnsupportedIOType, settings.Run.IOType)
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, err
	}
	// tables created for the skip io type and SET statements live on one connection
	db.SetMaxOpenConns(1)
	e := &Executor{db: db, settings: settings, refs: make(map[string]string, len(tpch.Tables))}
	if err := e.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Executor) init(ctx context.Context) error {
	if threads := e.settings.Run.DuckDBThreads; threads > 0 {
		if _, err := e.db.ExecContext(ctx, fmt.Sprintf("SET threads TO %v", threads)); err != nil {
			return fmt.Errorf("set threads: %w", err)
		}
	}
	if err := e.db.QueryRowContext(ctx, "select version()").Scan(&e.version); err != nil {
		return fmt.Errorf("duckdb version: %w", err)
	}
	for _, table := range tpch.Tables {
		paths, err := tpch.Path(e.settings, table)
		if err != nil {
			return err
		}
		switch e.settings.Run.IOType {
		case config.IOParquet:
			e.refs[table] = readParquet(paths)
		case config.IOCSV:
			ref, err := readCSV(table, paths)
			if err != nil {
				return err
			}
			e.refs[table] = ref
		case config.IOSkip:
			stmt := fmt.Sprintf("create or replace table %v as select * from %v", table, readParquet(paths))
			if _, err := e.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("load %v: %w", table, err)
			}
			e.refs[table] = table
		default:
			return fmt.Errorf("%w: %q", tpch.ErrUnsupportedIOType, e.settings.Run.IOType)
		}
	}
	return nil
}

func quote(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func readParquet(paths []string) string {
	quoted := make([]string, len(paths))
	for i, path := range paths {
		quoted[i] = quote(path)
	}
	return fmt.Sprintf("read_parquet([%v])", strings.Join(quoted, ", "))
}

var sqlTypes = map[frame.DType]string{
	frame.Int64:   "BIGINT",
	frame.Float64: "DOUBLE",
	frame.String:  "VARCHAR",
	frame.Date:    "DATE",
	frame.Bool:    "BOOLEAN",
}

func readCSV(table string, paths []string) (string, error) {
	schema, err := tpch.Schema(table)
	if err != nil {
		return "", err
	}
	columns := make([]string, len(schema))
	for i, field := range schema {
		columns[i] = fmt.Sprintf("%v: %v", quote(field.Name), quote(sqlTypes[field.Type]))
	}
	quoted := make([]string, len(paths))
	for i, path := range paths {
		quoted[i] = quote(path)
	}
	return fmt.Sprintf("read_csv([%v], header = true, columns = {%v})", strings.Join(quoted, ", "), strings.Join(columns, ", ")), nil
}

func (e *Executor) Close() error { return e.db.Close() }

func (e *Executor) Library() runner.Library {
	return runner.Library{Name: LibraryName, Version: e.version}
}

type templateArgs struct {
	Customer, Lineitem, Nation, Orders, Part, Partsupp, Region, Supplier string

	Fraction string
}

// Query renders the SQL text of query n against the executor's tables.
func (e *Executor) Query(n int) (string, error) {
	if err := queries.Validate(n); err != nil {
		return "", err
	}
	args := templateArgs{
		Customer: e.refs[tpch.Customer],
		Lineitem: e.refs[tpch.Lineitem],
		Nation:   e.refs[tpch.Nation],
		Orders:   e.refs[tpch.Orders],
		Part:     e.refs[tpch.Part],
		Partsupp: e.refs[tpch.Partsupp],
		Region:   e.refs[tpch.Region],
		Supplier: e.refs[tpch.Supplier],
		Fraction: strconv.FormatFloat(queries.Q11Fraction(e.settings.ScaleFactor), 'g', -1, 64),
	}
	var sb strings.Builder
	if err := templates[n].Execute(&sb, args); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Execute runs query n and materializes its result.
func (e *Executor) Execute(ctx context.Context, n int) (*frame.DataFrame, error) {
	text, err := e.Query(n)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, text)
}

func (e *Executor) execute(ctx context.Context, text string) (*frame.DataFrame, error) {
	rows, err := e.db.QueryContext(ctx, text)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRows(rows)
}

// Run times every query in numbers through r.
func (e *Executor) Run(ctx context.Context, r *runner.Runner, numbers ...int) {
	lib := e.Library()
	for _, n := range numbers {
		text, err := e.Query(n)
		if err != nil {
			r.Fail(n, lib, err)
			continue
		}
		logger.Logger.Debugf("q%v sql:\n%v", n, text)
		r.Run(ctx, n, lib, func(ctx context.Context) (*frame.DataFrame, error) {
			return e.execute(ctx, text)
		})
	}
}

type column struct {
	name    string
	dtype   frame.DType
	ints    []int64
	floats  []float64
	strs    []string
	bools   []bool
	nulls   []bool
	hasNull bool
}

func dtypeOf(databaseType string) frame.DType {
	switch {
	case strings.HasPrefix(databaseType, "DECIMAL"),
		databaseType == "DOUBLE", databaseType == "FLOAT":
		return frame.Float64
	case databaseType == "VARCHAR":
		return frame.String
	case databaseType == "DATE", strings.HasPrefix(databaseType, "TIMESTAMP"):
		return frame.Date
	case databaseType == "BOOLEAN":
		return frame.Bool
	case strings.HasSuffix(databaseType, "INT"), strings.HasSuffix(databaseType, "INTEGER"):
		return frame.Int64
	}
	return frame.String
}

func (c *column) append(value any) error {
	if value == nil {
		c.nulls = append(c.nulls, true)
		c.hasNull = true
		switch c.dtype {
		case frame.Int64, frame.Date:
			c.ints = append(c.ints, 0)
		case frame.Float64:
			c.floats = append(c.floats, 0)
		case frame.String:
			c.strs = append(c.strs, "")
		case frame.Bool:
			c.bools = append(c.bools, false)
		}
		return nil
	}
	c.nulls = append(c.nulls, false)
	switch c.dtype {
	case frame.Int64:
		switch v := value.(type) {
		case int64:
			c.ints = append(c.ints, v)
		case int32:
			c.ints = append(c.ints, int64(v))
		case int16:
			c.ints = append(c.ints, int64(v))
		case int8:
			c.ints = append(c.ints, int64(v))
		case uint64:
			c.ints = append(c.ints, int64(v))
		case uint32:
			c.ints = append(c.ints, int64(v))
		case *big.Int:
			c.ints = append(c.ints, v.Int64())
		default:
			return fmt.Errorf("column %q: unexpected %T", c.name, value)
		}
	case frame.Float64:
		switch v := value.(type) {
		case float64:
			c.floats = append(c.floats, v)
		case float32:
			c.floats = append(c.floats, float64(v))
		case interface{ Float64() float64 }:
			c.floats = append(c.floats, v.Float64())
		default:
			return fmt.Errorf("column %q: unexpected %T", c.name, value)
		}
	case frame.Date:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("column %q: unexpected %T", c.name, value)
		}
		c.ints = append(c.ints, frame.DateFromTime(v))
	case frame.Bool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("column %q: unexpected %T", c.name, value)
		}
		c.bools = append(c.bools, v)
	default:
		switch v := value.(type) {
		case string:
			c.strs = append(c.strs, v)
		case []byte:
			c.strs = append(c.strs, string(v))
		default:
			c.strs = append(c.strs, fmt.Sprint(v))
		}
	}
	return nil
}

func (c *column) series() frame.Series {
	var s frame.Series
	switch c.dtype {
	case frame.Int64:
		s = frame.NewInt64(c.name, c.ints)
	case frame.Date:
		s = frame.NewDate(c.name, c.ints)
	case frame.Float64:
		s = frame.NewFloat64(c.name, c.floats)
	case frame.Bool:
		s = frame.NewBool(c.name, c.bools)
	default:
		s = frame.NewString(c.name, c.strs)
	}
	if c.hasNull {
		s = s.WithNulls(c.nulls)
	}
	return s
}

func collectRows(rows *sql.Rows) (*frame.DataFrame, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	columns := make([]*column, len(types))
	for i, t := range types {
		columns[i] = &column{name: t.Name(), dtype: dtypeOf(t.DatabaseTypeName())}
	}
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, c := range columns {
			if err := c.append(values[i]); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	series := make([]frame.Series, len(columns))
	for i, c := range columns {
		series[i] = c.series()
	}
	return frame.New(series...)
}
