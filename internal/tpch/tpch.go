package tpch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sivukhin/tpch-benchmark/internal/config"
	"github.com/sivukhin/tpch-benchmark/internal/frame"
)

const (
	Customer = "customer"
	Lineitem = "lineitem"
	Nation   = "nation"
	Orders   = "orders"
	Part     = "part"
	Partsupp = "partsupp"
	Region   = "region"
	Supplier = "supplier"
)

// Tables lists the TPC-H tables in generation order.
var Tables = []string{Customer, Lineitem, Nation, Orders, Part, Partsupp, Region, Supplier}

// StaticTables do not depend on the scale factor and are produced once per dataset.
var StaticTables = []string{Nation, Region}

var ErrUnknownTable = errors.New("unknown table")

var ErrUnsupportedIOType = errors.New("unsupported io type")

func f(name string, t frame.DType) frame.Field { return frame.Field{Name: name, Type: t} }

// columns follow the dbgen output order.
var schemas = map[string]frame.Schema{
	Customer: {
		f("c_custkey", frame.Int64),
		f("c_name", frame.String),
		f("c_address", frame.String),
		f("c_nationkey", frame.Int64),
		f("c_phone", frame.String),
		f("c_acctbal", frame.Float64),
		f("c_mktsegment", frame.String),
		f("c_comment", frame.String),
	},
	Lineitem: {
		f("l_orderkey", frame.Int64),
		f("l_partkey", frame.Int64),
		f("l_suppkey", frame.Int64),
		f("l_linenumber", frame.Int64),
		f("l_quantity", frame.Float64),
		f("l_extendedprice", frame.Float64),
		f("l_discount", frame.Float64),
		f("l_tax", frame.Float64),
		f("l_returnflag", frame.String),
		f("l_linestatus", frame.String),
		f("l_shipdate", frame.Date),
		f("l_commitdate", frame.Date),
		f("l_receiptdate", frame.Date),
		f("l_shipinstruct", frame.String),
		f("l_shipmode", frame.String),
		f("l_comment", frame.String),
	},
	Nation: {
		f("n_nationkey", frame.Int64),
		f("n_name", frame.String),
		f("n_regionkey", frame.Int64),
		f("n_comment", frame.String),
	},
	Orders: {
		f("o_orderkey", frame.Int64),
		f("o_custkey", frame.Int64),
		f("o_orderstatus", frame.String),
		f("o_totalprice", frame.Float64),
		f("o_orderdate", frame.Date),
		f("o_orderpriority", frame.String),
		f("o_clerk", frame.String),
		f("o_shippriority", frame.Int64),
		f("o_comment", frame.String),
	},
	Part: {
		f("p_partkey", frame.Int64),
		f("p_name", frame.String),
		f("p_mfgr", frame.String),
		f("p_brand", frame.String),
		f("p_type", frame.String),
		f("p_size", frame.Int64),
		f("p_container", frame.String),
		f("p_retailprice", frame.Float64),
		f("p_comment", frame.String),
	},
	Partsupp: {
		f("ps_partkey", frame.Int64),
		f("ps_suppkey", frame.Int64),
		f("ps_availqty", frame.Int64),
		f("ps_supplycost", frame.Float64),
		f("ps_comment", frame.String),
	},
	Region: {
		f("r_regionkey", frame.Int64),
		f("r_name", frame.String),
		f("r_comment", frame.String),
	},
	Supplier: {
		f("s_suppkey", frame.Int64),
		f("s_name", frame.String),
		f("s_address", frame.String),
		f("s_nationkey", frame.Int64),
		f("s_phone", frame.String),
		f("s_acctbal", frame.Float64),
		f("s_comment", frame.String),
	},
}

func Schema(table string) (frame.Schema, error) {
	schema, ok := schemas[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return slices.Clone(schema), nil
}

func IsStatic(table string) bool { return slices.Contains(StaticTables, table) }

// Path returns the files holding table for the configured io type. A
// partitioned parquet table is a directory whose partitions each hold a
// part.parquet file; it expands to all of them in name order.
func Path(settings config.Settings, table string) ([]string, error) {
	if _, ok := schemas[table]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	base := filepath.Join(settings.DatasetBaseDir(), table)
	switch settings.Run.IOType {
	case config.IOSkip, config.IOParquet:
		if info, err := os.Stat(base); err == nil && info.IsDir() {
			parts, err := filepath.Glob(filepath.Join(base, "*", "part.parquet"))
			if err != nil {
				return nil, err
			}
			if len(parts) == 0 {
				return nil, fmt.Errorf("no partitions found under %v", base)
			}
			slices.Sort(parts)
			return parts, nil
		}
		return []string{base + ".parquet"}, nil
	case config.IOFeather:
		return []string{base + ".feather"}, nil
	case config.IOCSV:
		return []string{base + ".csv"}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedIOType, settings.Run.IOType)
}

// Source hands out the lazy frame for a table.
type Source interface {
	Table(name string) (*frame.LazyFrame, error)
}

// Scanner reads tables from the dataset directory.
type Scanner struct {
	settings config.Settings
	loaded   map[string]*frame.DataFrame
}

// NewScanner prepares a Scanner. With the skip io type every table is read
// into memory right away so that the query timings exclude IO.
func NewScanner(ctx context.Context, settings config.Settings) (*Scanner, error) {
	s := &Scanner{settings: settings}
	if settings.Run.IncludeIO() {
		return s, nil
	}
	s.loaded = make(map[string]*frame.DataFrame, len(Tables))
	for _, table := range Tables {
		paths, err := Path(settings, table)
		if err != nil {
			return nil, err
		}
		df, err := frame.ReadParquet(ctx, paths...)
		if err != nil {
			return nil, fmt.Errorf("load %v: %w", table, err)
		}
		s.loaded[table] = df
	}
	return s, nil
}

func (s *Scanner) Table(name string) (*frame.LazyFrame, error) {
	if df, ok := s.loaded[name]; ok {
		return df.Lazy(), nil
	}
	paths, err := Path(s.settings, name)
	if err != nil {
		return nil, err
	}
	switch s.settings.Run.IOType {
	case config.IOParquet:
		return frame.ScanParquet(paths...), nil
	case config.IOFeather:
		return frame.ScanFeather(paths...), nil
	case config.IOCSV:
		return frame.ScanCSV(schemas[name], paths...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedIOType, s.settings.Run.IOType)
}

// Preloaded serves tables already held in memory.
type Preloaded map[string]*frame.DataFrame

func (p Preloaded) Table(name string) (*frame.LazyFrame, error) {
	df, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return df.Lazy(), nil
}

// Write stores every table of p under dir in the given io type.
func (p Preloaded) Write(dir string, ioType config.IOType) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, table := range Tables {
		df, ok := p[table]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTable, table)
		}
		path := filepath.Join(dir, table)
		var err error
		switch ioType {
		case config.IOSkip, config.IOParquet:
			err = frame.WriteParquet(df, path+".parquet")
		case config.IOFeather:
			err = frame.WriteFeather(df, path+".feather")
		case config.IOCSV:
			err = frame.WriteCSV(df, path+".csv")
		default:
			err = fmt.Errorf("%w: %q", ErrUnsupportedIOType, ioType)
		}
		if err != nil {
			return fmt.Errorf("write %v: %w", table, err)
		}
	}
	return nil
}
