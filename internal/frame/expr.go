package frame

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Expr is a deferred column expression. Plain expressions produce one value per
// row, aggregations produce one value per group (or one value per frame outside
// of a group by).
type Expr struct {
	node node
}

type node interface {
	eval(ctx evalCtx) (Series, error)
	outputName() string
	refs(dst map[string]struct{})
	aggregate() bool
	String() string
}

type evalCtx struct {
	df     *DataFrame
	groups *grouping
}

func Col(name string) Expr { return Expr{node: &colNode{name: name}} }

// Lit wraps int, int64, float64, string, bool or time.Time values.
func Lit(value any) Expr { return Expr{node: &litNode{value: value}} }

// Len counts rows, per group inside a group by.
func Len() Expr { return Expr{node: &aggNode{kind: aggLen}} }

func asExpr(value any) Expr {
	if e, ok := value.(Expr); ok {
		return e
	}
	return Lit(value)
}

func (e Expr) Name() string   { return e.node.outputName() }
func (e Expr) String() string { return e.node.String() }

func (e Expr) Columns() []string {
	refs := make(map[string]struct{})
	e.node.refs(refs)
	names := make([]string, 0, len(refs))
	for name := range refs {
		names = append(names, name)
	}
	return names
}

func (e Expr) binary(op binaryOp, other any) Expr {
	return Expr{node: &binaryNode{op: op, left: e.node, right: asExpr(other).node}}
}

func (e Expr) Add(other any) Expr { return e.binary(opAdd, other) }
func (e Expr) Sub(other any) Expr { return e.binary(opSub, other) }
func (e Expr) Mul(other any) Expr { return e.binary(opMul, other) }
func (e Expr) Div(other any) Expr { return e.binary(opDiv, other) }
func (e Expr) Eq(other any) Expr  { return e.binary(opEq, other) }
func (e Expr) Neq(other any) Expr { return e.binary(opNeq, other) }
func (e Expr) Lt(other any) Expr  { return e.binary(opLt, other) }
func (e Expr) Le(other any) Expr  { return e.binary(opLe, other) }
func (e Expr) Gt(other any) Expr  { return e.binary(opGt, other) }
func (e Expr) Ge(other any) Expr  { return e.binary(opGe, other) }
func (e Expr) And(other any) Expr { return e.binary(opAnd, other) }
func (e Expr) Or(other any) Expr  { return e.binary(opOr, other) }

func (e Expr) Not() Expr { return Expr{node: &notNode{input: e.node}} }

// IsBetween is inclusive on both ends.
func (e Expr) IsBetween(lo, hi any) Expr { return e.Ge(lo).And(e.Le(hi)) }

func (e Expr) IsIn(values ...any) Expr {
	return Expr{node: &isInNode{input: e.node, values: values}}
}

func (e Expr) StartsWith(prefix string) Expr { return e.str(strStartsWith, prefix) }
func (e Expr) EndsWith(suffix string) Expr   { return e.str(strEndsWith, suffix) }
func (e Expr) Contains(substr string) Expr   { return e.str(strContains, substr) }

func (e Expr) ContainsRegex(pattern string) Expr {
	n := &strNode{op: strRegex, input: e.node, pattern: pattern}
	n.re, n.err = regexp.Compile(pattern)
	return Expr{node: n}
}

func (e Expr) str(op strOp, pattern string) Expr {
	return Expr{node: &strNode{op: op, input: e.node, pattern: pattern}}
}

// Slice takes length bytes starting at the zero-based offset.
func (e Expr) Slice(offset, length int) Expr {
	return Expr{node: &sliceNode{input: e.node, offset: offset, length: length}}
}

func (e Expr) Year() Expr { return Expr{node: &yearNode{input: e.node}} }

func (e Expr) FillNull(value any) Expr {
	return Expr{node: &fillNullNode{input: e.node, value: asExpr(value).node}}
}

func (e Expr) IsNull() Expr { return Expr{node: &isNullNode{input: e.node}} }

func (e Expr) Round(decimals int) Expr {
	return Expr{node: &roundNode{input: e.node, decimals: decimals}}
}

func (e Expr) Alias(name string) Expr { return Expr{node: &aliasNode{input: e.node, name: name}} }

func (e Expr) Sum() Expr     { return e.agg(aggSum) }
func (e Expr) Mean() Expr    { return e.agg(aggMean) }
func (e Expr) Min() Expr     { return e.agg(aggMin) }
func (e Expr) Max() Expr     { return e.agg(aggMax) }
func (e Expr) First() Expr   { return e.agg(aggFirst) }
func (e Expr) Count() Expr   { return e.agg(aggCount) }
func (e Expr) NUnique() Expr { return e.agg(aggNUnique) }

func (e Expr) agg(kind aggKind) Expr { return Expr{node: &aggNode{kind: kind, input: e.node}} }

type WhenThen struct {
	cond, then node
}

type When struct{ cond node }

func NewWhen(cond Expr) When { return When{cond: cond.node} }

func (w When) Then(value any) WhenThen { return WhenThen{cond: w.cond, then: asExpr(value).node} }

func (w WhenThen) Otherwise(value any) Expr {
	return Expr{node: &whenNode{cond: w.cond, then: w.then, otherwise: asExpr(value).node}}
}

type colNode struct{ name string }

func (n *colNode) eval(ctx evalCtx) (Series, error) {
	if ctx.groups != nil {
		return Series{}, fmt.Errorf("column %q must be aggregated", n.name)
	}
	return ctx.df.Column(n.name)
}
func (n *colNode) outputName() string            { return n.name }
func (n *colNode) refs(dst map[string]struct{}) { dst[n.name] = struct{}{} }
func (n *colNode) aggregate() bool               { return false }
func (n *colNode) String() string                { return fmt.Sprintf("col(%q)", n.name) }

type litNode struct{ value any }

func (n *litNode) eval(evalCtx) (Series, error) { return literalSeries(n.value) }
func (n *litNode) outputName() string            { return "literal" }
func (n *litNode) refs(map[string]struct{})      {}
func (n *litNode) aggregate() bool               { return false }

func (n *litNode) String() string {
	switch v := n.value.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case time.Time:
		return v.Format(time.DateOnly)
	}
	return fmt.Sprintf("%v", n.value)
}

func literalSeries(value any) (Series, error) {
	switch v := value.(type) {
	case int:
		return NewInt64("literal", []int64{int64(v)}), nil
	case int32:
		return NewInt64("literal", []int64{int64(v)}), nil
	case int64:
		return NewInt64("literal", []int64{v}), nil
	case float64:
		return NewFloat64("literal", []float64{v}), nil
	case float32:
		return NewFloat64("literal", []float64{float64(v)}), nil
	case string:
		return NewString("literal", []string{v}), nil
	case bool:
		return NewBool("literal", []bool{v}), nil
	case time.Time:
		return NewDate("literal", []int64{DateFromTime(v)}), nil
	}
	return Series{}, fmt.Errorf("unsupported literal %v (%T)", value, value)
}

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
	opEq
	opNeq
	opLt
	opLe
	opGt
	opGe
	opAnd
	opOr
)

var binarySymbols = map[binaryOp]string{
	opAdd: "+", opSub: "-", opMul: "*", opDiv: "/",
	opEq: "==", opNeq: "!=", opLt: "<", opLe: "<=", opGt: ">", opGe: ">=",
	opAnd: "&", opOr: "|",
}

type binaryNode struct {
	op          binaryOp
	left, right node
}

func (n *binaryNode) outputName() string { return n.left.outputName() }
func (n *binaryNode) refs(dst map[string]struct{}) {
	n.left.refs(dst)
	n.right.refs(dst)
}
func (n *binaryNode) aggregate() bool { return n.left.aggregate() || n.right.aggregate() }
func (n *binaryNode) String() string {
	return fmt.Sprintf("[(%v) %v (%v)]", n.left, binarySymbols[n.op], n.right)
}

func (n *binaryNode) eval(ctx evalCtx) (Series, error) {
	l, err := n.left.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	r, err := n.right.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	length, ls, rs, err := alignLengths(l, r)
	if err != nil {
		return Series{}, err
	}
	var out Series
	switch n.op {
	case opAdd, opSub, opMul, opDiv:
		out, err = arithmetic(n.op, l, r, length, ls, rs)
	case opAnd, opOr:
		out, err = logical(n.op, l, r, length, ls, rs)
	default:
		out = comparison(n.op, l, r, length, ls, rs)
	}
	if err != nil {
		return Series{}, err
	}
	return out.Rename(l.name), nil
}

// alignLengths returns the output length and the index strides of both sides;
// a single-row side is broadcast with a zero stride.
func alignLengths(l, r Series) (int, int, int, error) {
	n, m := l.Len(), r.Len()
	switch {
	case n == m:
		return n, 1, 1, nil
	case n == 1:
		return m, 0, 1, nil
	case m == 1:
		return n, 1, 0, nil
	}
	return 0, 0, 0, fmt.Errorf("length mismatch between %q (%v) and %q (%v)", l.name, n, r.name, m)
}

func binaryNulls(l, r Series, length, ls, rs int) []bool {
	if l.nulls == nil && r.nulls == nil {
		return nil
	}
	nulls := make([]bool, length)
	for i := range nulls {
		nulls[i] = l.IsNull(i*ls) || r.IsNull(i*rs)
	}
	return nulls
}

func arithmetic(op binaryOp, l, r Series, length, ls, rs int) (Series, error) {
	if !l.dtype.numeric() || !r.dtype.numeric() {
		return Series{}, fmt.Errorf("arithmetic on %v and %v is not supported", l.dtype, r.dtype)
	}
	nulls := binaryNulls(l, r, length, ls, rs)
	if l.dtype == Int64 && r.dtype == Int64 && op != opDiv {
		out := make([]int64, length)
		for i := range out {
			a, b := l.ints[i*ls], r.ints[i*rs]
			switch op {
			case opAdd:
				out[i] = a + b
			case opSub:
				out[i] = a - b
			case opMul:
				out[i] = a * b
			}
		}
		return NewInt64(l.name, out).WithNulls(nulls), nil
	}
	out := make([]float64, length)
	for i := range out {
		a, b := l.float(i*ls), r.float(i*rs)
		switch op {
		case opAdd:
			out[i] = a + b
		case opSub:
			out[i] = a - b
		case opMul:
			out[i] = a * b
		case opDiv:
			out[i] = a / b
		}
	}
	return NewFloat64(l.name, out).WithNulls(nulls), nil
}

func logical(op binaryOp, l, r Series, length, ls, rs int) (Series, error) {
	if l.dtype != Bool || r.dtype != Bool {
		return Series{}, fmt.Errorf("logical operation on %v and %v is not supported", l.dtype, r.dtype)
	}
	out := make([]bool, length)
	for i := range out {
		a := l.bools[i*ls] && !l.IsNull(i*ls)
		b := r.bools[i*rs] && !r.IsNull(i*rs)
		if op == opAnd {
			out[i] = a && b
		} else {
			out[i] = a || b
		}
	}
	return NewBool(l.name, out), nil
}

// comparison treats a null on either side as false.
func comparison(op binaryOp, l, r Series, length, ls, rs int) Series {
	out := make([]bool, length)
	for i := range out {
		li, ri := i*ls, i*rs
		if l.IsNull(li) || r.IsNull(ri) {
			continue
		}
		c := compareRows(l, li, r, ri)
		switch op {
		case opEq:
			out[i] = c == 0
		case opNeq:
			out[i] = c != 0
		case opLt:
			out[i] = c < 0
		case opLe:
			out[i] = c <= 0
		case opGt:
			out[i] = c > 0
		case opGe:
			out[i] = c >= 0
		}
	}
	return NewBool(l.name, out)
}

type notNode struct{ input node }

func (n *notNode) outputName() string            { return n.input.outputName() }
func (n *notNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *notNode) aggregate() bool               { return n.input.aggregate() }
func (n *notNode) String() string                { return fmt.Sprintf("%v.not()", n.input) }

func (n *notNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	if s.dtype != Bool {
		return Series{}, fmt.Errorf("not on %v is not supported", s.dtype)
	}
	out := make([]bool, s.Len())
	for i, v := range s.bools {
		out[i] = !v
	}
	return NewBool(s.name, out).WithNulls(s.nulls), nil
}

type isInNode struct {
	input  node
	values []any
}

func (n *isInNode) outputName() string            { return n.input.outputName() }
func (n *isInNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *isInNode) aggregate() bool               { return n.input.aggregate() }
func (n *isInNode) String() string                { return fmt.Sprintf("%v.is_in(%v)", n.input, n.values) }

func (n *isInNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	set := make(map[string]struct{}, len(n.values))
	for _, value := range n.values {
		lit, err := literalSeries(value)
		if err != nil {
			return Series{}, err
		}
		if s.dtype == Float64 && lit.dtype == Int64 {
			lit = NewFloat64(lit.name, []float64{lit.float(0)})
		}
		set[string(lit.appendKey(nil, 0))] = struct{}{}
	}
	out := make([]bool, s.Len())
	var buf []byte
	for i := range out {
		if s.IsNull(i) {
			continue
		}
		buf = s.appendKey(buf[:0], i)
		_, out[i] = set[string(buf)]
	}
	return NewBool(s.name, out), nil
}

type strOp int

const (
	strStartsWith strOp = iota
	strEndsWith
	strContains
	strRegex
)

type strNode struct {
	op      strOp
	input   node
	pattern string
	re      *regexp.Regexp
	err     error
}

func (n *strNode) outputName() string            { return n.input.outputName() }
func (n *strNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *strNode) aggregate() bool               { return n.input.aggregate() }

func (n *strNode) String() string {
	name := [...]string{"starts_with", "ends_with", "contains_literal", "contains"}[n.op]
	return fmt.Sprintf("%v.str.%v(%q)", n.input, name, n.pattern)
}

func (n *strNode) eval(ctx evalCtx) (Series, error) {
	if n.err != nil {
		return Series{}, n.err
	}
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	if s.dtype != String {
		return Series{}, fmt.Errorf("string operation on %v column %q", s.dtype, s.name)
	}
	out := make([]bool, s.Len())
	for i, v := range s.strs {
		switch n.op {
		case strStartsWith:
			out[i] = strings.HasPrefix(v, n.pattern)
		case strEndsWith:
			out[i] = strings.HasSuffix(v, n.pattern)
		case strContains:
			out[i] = strings.Contains(v, n.pattern)
		case strRegex:
			out[i] = n.re.MatchString(v)
		}
	}
	return NewBool(s.name, out).WithNulls(s.nulls), nil
}

type sliceNode struct {
	input          node
	offset, length int
}

func (n *sliceNode) outputName() string            { return n.input.outputName() }
func (n *sliceNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *sliceNode) aggregate() bool               { return n.input.aggregate() }
func (n *sliceNode) String() string {
	return fmt.Sprintf("%v.str.slice(%v, %v)", n.input, n.offset, n.length)
}

func (n *sliceNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	if s.dtype != String {
		return Series{}, fmt.Errorf("slice on %v column %q", s.dtype, s.name)
	}
	out := make([]string, s.Len())
	for i, v := range s.strs {
		lo := min(n.offset, len(v))
		hi := min(lo+n.length, len(v))
		out[i] = v[lo:hi]
	}
	return NewString(s.name, out).WithNulls(s.nulls), nil
}

type yearNode struct{ input node }

func (n *yearNode) outputName() string            { return n.input.outputName() }
func (n *yearNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *yearNode) aggregate() bool               { return n.input.aggregate() }
func (n *yearNode) String() string                { return fmt.Sprintf("%v.dt.year()", n.input) }

func (n *yearNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	if s.dtype != Date {
		return Series{}, fmt.Errorf("year of %v column %q", s.dtype, s.name)
	}
	out := make([]int64, s.Len())
	for i, days := range s.ints {
		out[i] = int64(DateToTime(days).Year())
	}
	return NewInt64(s.name, out).WithNulls(s.nulls), nil
}

type whenNode struct {
	cond, then, otherwise node
}

func (n *whenNode) outputName() string { return n.then.outputName() }
func (n *whenNode) refs(dst map[string]struct{}) {
	n.cond.refs(dst)
	n.then.refs(dst)
	n.otherwise.refs(dst)
}
func (n *whenNode) aggregate() bool {
	return n.cond.aggregate() || n.then.aggregate() || n.otherwise.aggregate()
}
func (n *whenNode) String() string {
	return fmt.Sprintf("when(%v).then(%v).otherwise(%v)", n.cond, n.then, n.otherwise)
}

func (n *whenNode) eval(ctx evalCtx) (Series, error) {
	cond, err := n.cond.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	then, err := n.then.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	otherwise, err := n.otherwise.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	if cond.dtype != Bool {
		return Series{}, fmt.Errorf("when condition must be boolean, got %v", cond.dtype)
	}
	length := 1
	for _, s := range []Series{cond, then, otherwise} {
		if s.Len() != 1 {
			length = s.Len()
		}
	}
	for _, s := range []Series{cond, then, otherwise} {
		if s.Len() != length && s.Len() != 1 {
			return Series{}, fmt.Errorf("length mismatch in when/then/otherwise")
		}
	}
	stride := func(s Series) int {
		if s.Len() == 1 {
			return 0
		}
		return 1
	}
	cs, ts, os := stride(cond), stride(then), stride(otherwise)
	idx := make([]int, length)
	pick := make([]bool, length)
	for i := range idx {
		pick[i] = cond.bools[i*cs] && !cond.IsNull(i*cs)
		if pick[i] {
			idx[i] = i * ts
		} else {
			idx[i] = i * os
		}
	}
	if then.dtype == otherwise.dtype {
		out := emptySeries(then.name, then.dtype, length)
		nulls := make([]bool, length)
		for i := range idx {
			source := otherwise
			if pick[i] {
				source = then
			}
			out.appendFrom(source, idx[i])
			nulls[i] = source.IsNull(idx[i])
		}
		return out.WithNulls(nulls), nil
	}
	if !then.dtype.numeric() || !otherwise.dtype.numeric() {
		return Series{}, fmt.Errorf("when branches have incompatible types %v and %v", then.dtype, otherwise.dtype)
	}
	out := make([]float64, length)
	nulls := make([]bool, length)
	for i := range idx {
		source := otherwise
		if pick[i] {
			source = then
		}
		out[i] = source.float(idx[i])
		nulls[i] = source.IsNull(idx[i])
	}
	return NewFloat64(then.name, out).WithNulls(nulls), nil
}

type fillNullNode struct{ input, value node }

func (n *fillNullNode) outputName() string { return n.input.outputName() }
func (n *fillNullNode) refs(dst map[string]struct{}) {
	n.input.refs(dst)
	n.value.refs(dst)
}
func (n *fillNullNode) aggregate() bool { return n.input.aggregate() }
func (n *fillNullNode) String() string  { return fmt.Sprintf("%v.fill_null(%v)", n.input, n.value) }

func (n *fillNullNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	if s.nulls == nil {
		return s, nil
	}
	value, err := n.value.eval(evalCtx{df: ctx.df})
	if err != nil {
		return Series{}, err
	}
	if value.Len() != 1 {
		return Series{}, fmt.Errorf("fill_null expects a single value")
	}
	out := emptySeries(s.name, s.dtype, s.Len())
	for i := 0; i < s.Len(); i++ {
		if !s.IsNull(i) {
			out.appendFrom(s, i)
			continue
		}
		switch {
		case value.dtype == s.dtype:
			out.appendFrom(value, 0)
		case s.dtype == Int64 && value.dtype.numeric():
			out.ints = append(out.ints, int64(value.float(0)))
		case s.dtype == Float64 && value.dtype.numeric():
			out.floats = append(out.floats, value.float(0))
		default:
			return Series{}, fmt.Errorf("cannot fill %v column %q with %v", s.dtype, s.name, value.dtype)
		}
	}
	return out, nil
}

type isNullNode struct{ input node }

func (n *isNullNode) outputName() string            { return n.input.outputName() }
func (n *isNullNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *isNullNode) aggregate() bool               { return n.input.aggregate() }
func (n *isNullNode) String() string                { return fmt.Sprintf("%v.is_null()", n.input) }

func (n *isNullNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	out := make([]bool, s.Len())
	for i := range out {
		out[i] = s.IsNull(i)
	}
	return NewBool(s.name, out), nil
}

type roundNode struct {
	input    node
	decimals int
}

func (n *roundNode) outputName() string            { return n.input.outputName() }
func (n *roundNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *roundNode) aggregate() bool               { return n.input.aggregate() }
func (n *roundNode) String() string                { return fmt.Sprintf("%v.round(%v)", n.input, n.decimals) }

func (n *roundNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	switch s.dtype {
	case Int64:
		return s, nil
	case Float64:
		out := make([]float64, s.Len())
		for i, v := range s.floats {
			out[i] = roundFloat(v, n.decimals)
		}
		return NewFloat64(s.name, out).WithNulls(s.nulls), nil
	}
	return Series{}, fmt.Errorf("round on %v column %q", s.dtype, s.name)
}

// roundFloat rounds half away from zero on the scaled value, the way SQL
// engines round doubles.
func roundFloat(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	rounded := math.Round(v*scale) / scale
	if math.IsInf(rounded, 0) || math.IsNaN(rounded) {
		return v
	}
	return rounded
}

type aliasNode struct {
	input node
	name  string
}

func (n *aliasNode) outputName() string            { return n.name }
func (n *aliasNode) refs(dst map[string]struct{}) { n.input.refs(dst) }
func (n *aliasNode) aggregate() bool               { return n.input.aggregate() }
func (n *aliasNode) String() string                { return fmt.Sprintf("%v.alias(%q)", n.input, n.name) }

func (n *aliasNode) eval(ctx evalCtx) (Series, error) {
	s, err := n.input.eval(ctx)
	if err != nil {
		return Series{}, err
	}
	return s.Rename(n.name), nil
}
