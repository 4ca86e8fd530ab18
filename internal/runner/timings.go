package runner

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/govalues/decimal"

	"github.com/sivukhin/tpch-benchmark/internal/config"
)

var TimingsHeader = []string{"solution", "version", "query_number", "duration[s]", "io_type", "scale_factor"}

// Record is one timed query execution.
type Record struct {
	Solution    string
	Version     string
	Query       int
	Duration    time.Duration
	IOType      config.IOType
	ScaleFactor float64
}

// Seconds renders the duration with microsecond precision.
func (r Record) Seconds() string {
	d, err := decimal.NewFromFloat64(r.Duration.Seconds())
	if err != nil {
		return strconv.FormatFloat(r.Duration.Seconds(), 'f', 6, 64)
	}
	return d.Round(6).Trim(0).String()
}

func (r Record) row() []string {
	return []string{
		r.Solution,
		r.Version,
		strconv.Itoa(r.Query),
		r.Seconds(),
		string(r.IOType),
		config.FormatScaleFactor(r.ScaleFactor),
	}
}

// ParseRecord reads a row written by TimingsLog.
func ParseRecord(row []string) (Record, error) {
	if len(row) != len(TimingsHeader) {
		return Record{}, fmt.Errorf("timing record has %v fields, want %v", len(row), len(TimingsHeader))
	}
	query, err := strconv.Atoi(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("query number %q: %w", row[2], err)
	}
	seconds, err := decimal.Parse(row[3])
	if err != nil {
		return Record{}, fmt.Errorf("duration %q: %w", row[3], err)
	}
	nanos, err := seconds.Mul(decimal.MustNew(int64(time.Second), 0))
	if err != nil {
		return Record{}, err
	}
	whole, _, ok := nanos.Int64(0)
	if !ok {
		return Record{}, fmt.Errorf("duration %q out of range", row[3])
	}
	scaleFactor, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return Record{}, fmt.Errorf("scale factor %q: %w", row[5], err)
	}
	return Record{
		Solution:    row[0],
		Version:     row[1],
		Query:       query,
		Duration:    time.Duration(whole),
		IOType:      config.IOType(row[4]),
		ScaleFactor: scaleFactor,
	}, nil
}

// TimingsLog appends records to a CSV file, writing the header when the file
// is created.
type TimingsLog struct {
	Path string

	mu sync.Mutex
}

func NewTimingsLog(paths config.Paths) *TimingsLog {
	return &TimingsLog{Path: filepath.Join(paths.Timings, paths.TimingsFilename)}
}

func (l *TimingsLog) Append(records ...Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return err
	}
	_, err := os.Stat(l.Path)
	created := errors.Is(err, os.ErrNotExist)
	file, err := os.OpenFile(l.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if created {
		if err := w.Write(TimingsHeader); err != nil {
			return err
		}
	}
	for _, record := range records {
		if err := w.Write(record.row()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

// ReadTimings loads every record of a timings file.
func ReadTimings(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	r := csv.NewReader(file)
	r.FieldsPerRecord = len(TimingsHeader)
	var records []Record
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && row[0] == TimingsHeader[0] {
			continue
		}
		record, err := ParseRecord(row)
		if err != nil {
			return nil, fmt.Errorf("%v line %v: %w", path, line, err)
		}
		records = append(records, record)
	}
}
