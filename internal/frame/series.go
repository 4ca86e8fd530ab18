package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type DType int

const (
	Int64 DType = iota
	Float64
	String
	Date
	Bool
)

func (t DType) String() string {
	switch t {
	case Int64:
		return "i64"
	case Float64:
		return "f64"
	case String:
		return "str"
	case Date:
		return "date"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("dtype(%d)", int(t))
}

func (t DType) numeric() bool { return t == Int64 || t == Float64 }

// Series is a named, typed column. Dates are stored as days since the unix epoch
// in the int64 buffer. A nil null mask means the series has no nulls.
type Series struct {
	name   string
	dtype  DType
	ints   []int64
	floats []float64
	strs   []string
	bools  []bool
	nulls  []bool
}

func NewInt64(name string, values []int64) Series {
	return Series{name: name, dtype: Int64, ints: values}
}

func NewFloat64(name string, values []float64) Series {
	return Series{name: name, dtype: Float64, floats: values}
}

func NewString(name string, values []string) Series {
	return Series{name: name, dtype: String, strs: values}
}

func NewBool(name string, values []bool) Series {
	return Series{name: name, dtype: Bool, bools: values}
}

// NewDate builds a date series from days since the unix epoch.
func NewDate(name string, days []int64) Series {
	return Series{name: name, dtype: Date, ints: days}
}

func emptySeries(name string, dtype DType, capacity int) Series {
	s := Series{name: name, dtype: dtype}
	switch dtype {
	case Int64, Date:
		s.ints = make([]int64, 0, capacity)
	case Float64:
		s.floats = make([]float64, 0, capacity)
	case String:
		s.strs = make([]string, 0, capacity)
	case Bool:
		s.bools = make([]bool, 0, capacity)
	}
	return s
}

func (s Series) Name() string { return s.name }
func (s Series) DType() DType { return s.dtype }

func (s Series) Len() int {
	switch s.dtype {
	case Int64, Date:
		return len(s.ints)
	case Float64:
		return len(s.floats)
	case String:
		return len(s.strs)
	case Bool:
		return len(s.bools)
	}
	return 0
}

func (s Series) Rename(name string) Series {
	s.name = name
	return s
}

// WithNulls returns a copy of s where rows with mask[i] == true are null.
func (s Series) WithNulls(mask []bool) Series {
	for _, null := range mask {
		if null {
			s.nulls = mask
			return s
		}
	}
	s.nulls = nil
	return s
}

func (s Series) IsNull(i int) bool { return s.nulls != nil && s.nulls[i] }

func (s Series) NullCount() int {
	count := 0
	for _, null := range s.nulls {
		if null {
			count++
		}
	}
	return count
}

func (s Series) Int64s() []int64     { return s.ints }
func (s Series) Float64s() []float64 { return s.floats }
func (s Series) Strings() []string   { return s.strs }
func (s Series) Bools() []bool       { return s.bools }

// Value returns the boxed value of row i: int64, float64, string, bool or
// time.Time for dates, and nil for nulls.
func (s Series) Value(i int) any {
	if s.IsNull(i) {
		return nil
	}
	switch s.dtype {
	case Int64:
		return s.ints[i]
	case Date:
		return DateToTime(s.ints[i])
	case Float64:
		return s.floats[i]
	case String:
		return s.strs[i]
	case Bool:
		return s.bools[i]
	}
	return nil
}

func (s Series) float(i int) float64 {
	switch s.dtype {
	case Int64, Date:
		return float64(s.ints[i])
	case Float64:
		return s.floats[i]
	case Bool:
		if s.bools[i] {
			return 1
		}
	}
	return 0
}

func (s Series) format(i int) string {
	if s.IsNull(i) {
		return "null"
	}
	switch s.dtype {
	case Int64:
		return strconv.FormatInt(s.ints[i], 10)
	case Date:
		return FormatDate(s.ints[i])
	case Float64:
		return strconv.FormatFloat(s.floats[i], 'f', -1, 64)
	case String:
		return s.strs[i]
	case Bool:
		return strconv.FormatBool(s.bools[i])
	}
	return ""
}

// take gathers rows by index; a negative index produces a null.
func (s Series) take(idx []int) Series {
	out := emptySeries(s.name, s.dtype, len(idx))
	var nulls []bool
	for j, i := range idx {
		if i < 0 || s.IsNull(i) {
			if nulls == nil {
				nulls = make([]bool, len(idx))
			}
			nulls[j] = true
		}
		if i < 0 {
			out.appendZero()
			continue
		}
		out.appendFrom(s, i)
	}
	out.nulls = nulls
	return out
}

func (s *Series) appendZero() {
	switch s.dtype {
	case Int64, Date:
		s.ints = append(s.ints, 0)
	case Float64:
		s.floats = append(s.floats, 0)
	case String:
		s.strs = append(s.strs, "")
	case Bool:
		s.bools = append(s.bools, false)
	}
}

func (s *Series) appendFrom(other Series, i int) {
	switch s.dtype {
	case Int64, Date:
		s.ints = append(s.ints, other.ints[i])
	case Float64:
		s.floats = append(s.floats, other.floats[i])
	case String:
		s.strs = append(s.strs, other.strs[i])
	case Bool:
		s.bools = append(s.bools, other.bools[i])
	}
}

func (s Series) slice(lo, hi int) Series {
	out := Series{name: s.name, dtype: s.dtype}
	switch s.dtype {
	case Int64, Date:
		out.ints = s.ints[lo:hi]
	case Float64:
		out.floats = s.floats[lo:hi]
	case String:
		out.strs = s.strs[lo:hi]
	case Bool:
		out.bools = s.bools[lo:hi]
	}
	if s.nulls != nil {
		out = out.WithNulls(s.nulls[lo:hi])
	}
	return out
}

// broadcast repeats a single-row series n times.
func (s Series) broadcast(n int) Series {
	if s.Len() == n {
		return s
	}
	idx := make([]int, n)
	return s.take(idx)
}

func concatSeries(parts []Series) (Series, error) {
	if len(parts) == 0 {
		return Series{}, fmt.Errorf("nothing to concatenate")
	}
	total := 0
	for _, part := range parts {
		if part.dtype != parts[0].dtype {
			return Series{}, fmt.Errorf("cannot concatenate %v with %v in column %v", parts[0].dtype, part.dtype, parts[0].name)
		}
		total += part.Len()
	}
	out := emptySeries(parts[0].name, parts[0].dtype, total)
	var nulls []bool
	offset := 0
	for _, part := range parts {
		switch out.dtype {
		case Int64, Date:
			out.ints = append(out.ints, part.ints...)
		case Float64:
			out.floats = append(out.floats, part.floats...)
		case String:
			out.strs = append(out.strs, part.strs...)
		case Bool:
			out.bools = append(out.bools, part.bools...)
		}
		if part.nulls != nil {
			if nulls == nil {
				nulls = make([]bool, total)
			}
			copy(nulls[offset:], part.nulls)
		}
		offset += part.Len()
	}
	out.nulls = nulls
	return out, nil
}

// compareRows orders row i of a against row j of b; nulls sort last.
func compareRows(a Series, i int, b Series, j int) int {
	an, bn := a.IsNull(i), b.IsNull(j)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	if a.dtype == String && b.dtype == String {
		return strings.Compare(a.strs[i], b.strs[j])
	}
	if (a.dtype == Int64 || a.dtype == Date) && a.dtype == b.dtype {
		switch {
		case a.ints[i] < b.ints[j]:
			return -1
		case a.ints[i] > b.ints[j]:
			return 1
		}
		return 0
	}
	x, y := a.float(i), b.float(j)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	case math.IsNaN(x) && !math.IsNaN(y):
		return 1
	case !math.IsNaN(x) && math.IsNaN(y):
		return -1
	}
	return 0
}

// appendKey encodes row i into buf so that equal values produce equal bytes.
func (s Series) appendKey(buf []byte, i int) []byte {
	if s.IsNull(i) {
		return append(buf, 0)
	}
	switch s.dtype {
	case Int64, Date:
		buf = append(buf, 1)
		buf = strconv.AppendInt(buf, s.ints[i], 10)
	case Float64:
		buf = append(buf, 2)
		buf = strconv.AppendUint(buf, math.Float64bits(s.floats[i]), 16)
	case String:
		buf = append(buf, 3)
		buf = strconv.AppendInt(buf, int64(len(s.strs[i])), 10)
		buf = append(buf, ':')
		buf = append(buf, s.strs[i]...)
	case Bool:
		buf = append(buf, 4)
		buf = strconv.AppendBool(buf, s.bools[i])
	}
	return append(buf, '|')
}

func DateOf(year int, month time.Month, day int) int64 {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

func ParseDate(value string) (int64, error) {
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return 0, err
	}
	return t.Unix() / 86400, nil
}

func DateFromTime(t time.Time) int64 {
	return DateOf(t.Year(), t.Month(), t.Day())
}

func DateToTime(days int64) time.Time {
	return time.Unix(days*86400, 0).UTC()
}

func FormatDate(days int64) string {
	return DateToTime(days).Format(time.DateOnly)
}
