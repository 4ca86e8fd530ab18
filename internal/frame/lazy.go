package frame

import (
	"context"
	"fmt"
	"strings"
)

// Source feeds a scan with chunks of a table. Implementations read only the
// requested columns, in the requested order.
type Source interface {
	Name() string
	Schema() (Schema, error)
	ReadChunks(ctx context.Context, columns []string, chunkSize int, fn func(*DataFrame) error) error
}

type JoinType int

const (
	Inner JoinType = iota
	Left
	Semi
	Anti
)

func (j JoinType) String() string {
	return [...]string{"INNER", "LEFT", "SEMI", "ANTI"}[j]
}

const rightSuffix = "_right"

// LazyFrame is a query plan; nothing is computed until Collect.
type LazyFrame struct {
	plan planNode
}

func Scan(source Source) *LazyFrame {
	return &LazyFrame{plan: &scanNode{source: source}}
}

func (lf *LazyFrame) Schema() (Schema, error) { return lf.plan.schema() }

func (lf *LazyFrame) Filter(predicate Expr) *LazyFrame {
	return &LazyFrame{plan: &filterNode{input: lf.plan, predicate: predicate}}
}

func (lf *LazyFrame) Select(exprs ...Expr) *LazyFrame {
	return &LazyFrame{plan: &selectNode{input: lf.plan, exprs: exprs}}
}

// SelectColumns is Select over plain column references.
func (lf *LazyFrame) SelectColumns(names ...string) *LazyFrame {
	exprs := make([]Expr, len(names))
	for i, name := range names {
		exprs[i] = Col(name)
	}
	return lf.Select(exprs...)
}

// WithColumns adds or replaces columns; all expressions see the input frame.
func (lf *LazyFrame) WithColumns(exprs ...Expr) *LazyFrame {
	return &LazyFrame{plan: &withColumnsNode{input: lf.plan, exprs: exprs}}
}

func (lf *LazyFrame) Join(other *LazyFrame, leftOn, rightOn string, how JoinType) *LazyFrame {
	return lf.JoinOn(other, []string{leftOn}, []string{rightOn}, how)
}

// JoinOn joins on several key columns. Right key columns are dropped from the
// output and other right columns clashing with left names get the "_right" suffix.
func (lf *LazyFrame) JoinOn(other *LazyFrame, leftOn, rightOn []string, how JoinType) *LazyFrame {
	return &LazyFrame{plan: &joinNode{left: lf.plan, right: other.plan, leftOn: leftOn, rightOn: rightOn, how: how}}
}

func (lf *LazyFrame) CrossJoin(other *LazyFrame) *LazyFrame {
	return &LazyFrame{plan: &crossJoinNode{left: lf.plan, right: other.plan}}
}

type GroupBy struct {
	input planNode
	keys  []string
}

func (lf *LazyFrame) GroupBy(keys ...string) *GroupBy {
	return &GroupBy{input: lf.plan, keys: keys}
}

// Agg produces one row per distinct key, groups in order of first appearance.
func (g *GroupBy) Agg(exprs ...Expr) *LazyFrame {
	return &LazyFrame{plan: &groupByNode{input: g.input, keys: g.keys, aggs: exprs}}
}

func (lf *LazyFrame) Sort(by ...SortBy) *LazyFrame {
	return &LazyFrame{plan: &sortNode{input: lf.plan, by: by}}
}

func (lf *LazyFrame) Head(n int) *LazyFrame {
	return &LazyFrame{plan: &headNode{input: lf.plan, n: n}}
}

// Unique keeps the first row of every distinct subset value; an empty subset
// means all columns.
func (lf *LazyFrame) Unique(subset ...string) *LazyFrame {
	return &LazyFrame{plan: &uniqueNode{input: lf.plan, subset: subset}}
}

func (lf *LazyFrame) Rename(mapping map[string]string) *LazyFrame {
	return &LazyFrame{plan: &renameNode{input: lf.plan, mapping: mapping}}
}

type planNode interface {
	schema() (Schema, error)
	children() []planNode
	withChildren(children []planNode) planNode
	label() string
}

type scanNode struct {
	source Source
	// columns is the projected output, nil for all columns.
	columns   []string
	predicate *Expr
}

func (n *scanNode) schema() (Schema, error) {
	schema, err := n.source.Schema()
	if err != nil {
		return nil, err
	}
	if n.columns == nil {
		return schema, nil
	}
	return projectSchema(schema, n.columns)
}

func (n *scanNode) children() []planNode              { return nil }
func (n *scanNode) withChildren([]planNode) planNode { return n }

func (n *scanNode) label() string {
	projection := "*"
	if n.columns != nil {
		projection = fmt.Sprintf("%v COLUMNS %v", len(n.columns), n.columns)
	}
	selection := "None"
	if n.predicate != nil {
		selection = n.predicate.String()
	}
	return fmt.Sprintf("SCAN %v PROJECT %v SELECTION %v", n.source.Name(), projection, selection)
}

// readColumns lists the columns a scan has to load: the projection plus the
// columns of its predicate.
func (n *scanNode) readColumns() ([]string, error) {
	if n.columns == nil {
		return nil, nil
	}
	if n.predicate == nil {
		return n.columns, nil
	}
	full, err := n.source.Schema()
	if err != nil {
		return nil, err
	}
	needed := make(map[string]struct{})
	for _, name := range n.columns {
		needed[name] = struct{}{}
	}
	for _, name := range n.predicate.Columns() {
		needed[name] = struct{}{}
	}
	var columns []string
	for _, field := range full {
		if _, ok := needed[field.Name]; ok {
			columns = append(columns, field.Name)
		}
	}
	return columns, nil
}

type frameNode struct{ df *DataFrame }

func (n *frameNode) schema() (Schema, error)           { return n.df.Schema(), nil }
func (n *frameNode) children() []planNode              { return nil }
func (n *frameNode) withChildren([]planNode) planNode { return n }
func (n *frameNode) label() string {
	return fmt.Sprintf("DF %v; %v ROWS", n.df.Columns(), n.df.Height())
}

type filterNode struct {
	input     planNode
	predicate Expr
}

func (n *filterNode) schema() (Schema, error) { return n.input.schema() }
func (n *filterNode) children() []planNode    { return []planNode{n.input} }
func (n *filterNode) withChildren(c []planNode) planNode {
	return &filterNode{input: c[0], predicate: n.predicate}
}
func (n *filterNode) label() string { return fmt.Sprintf("FILTER %v", n.predicate) }

type selectNode struct {
	input planNode
	exprs []Expr
}

func (n *selectNode) schema() (Schema, error) {
	input, err := n.input.schema()
	if err != nil {
		return nil, err
	}
	return exprsSchema(input, n.exprs, nil)
}
func (n *selectNode) children() []planNode { return []planNode{n.input} }
func (n *selectNode) withChildren(c []planNode) planNode {
	return &selectNode{input: c[0], exprs: n.exprs}
}
func (n *selectNode) label() string { return fmt.Sprintf("SELECT %v", exprList(n.exprs)) }

type withColumnsNode struct {
	input planNode
	exprs []Expr
}

func (n *withColumnsNode) schema() (Schema, error) {
	input, err := n.input.schema()
	if err != nil {
		return nil, err
	}
	added, err := exprsSchema(input, n.exprs, nil)
	if err != nil {
		return nil, err
	}
	out := append(Schema(nil), input...)
	for _, field := range added {
		if i := out.Index(field.Name); i >= 0 {
			out[i] = field
		} else {
			out = append(out, field)
		}
	}
	return out, nil
}
func (n *withColumnsNode) children() []planNode { return []planNode{n.input} }
func (n *withColumnsNode) withChildren(c []planNode) planNode {
	return &withColumnsNode{input: c[0], exprs: n.exprs}
}
func (n *withColumnsNode) label() string { return fmt.Sprintf("WITH_COLUMNS %v", exprList(n.exprs)) }

type joinNode struct {
	left, right     planNode
	leftOn, rightOn []string
	how             JoinType
}

func (n *joinNode) schema() (Schema, error) {
	left, err := n.left.schema()
	if err != nil {
		return nil, err
	}
	right, err := n.right.schema()
	if err != nil {
		return nil, err
	}
	if len(n.leftOn) != len(n.rightOn) || len(n.leftOn) == 0 {
		return nil, fmt.Errorf("join needs the same non-zero number of keys on both sides, got %v and %v", n.leftOn, n.rightOn)
	}
	for i := range n.leftOn {
		if left.Index(n.leftOn[i]) < 0 {
			return nil, fmt.Errorf("left join key %q not found among %v", n.leftOn[i], left.Names())
		}
		if right.Index(n.rightOn[i]) < 0 {
			return nil, fmt.Errorf("right join key %q not found among %v", n.rightOn[i], right.Names())
		}
	}
	if n.how == Semi || n.how == Anti {
		return left, nil
	}
	return mergeSchemas(left, right, n.rightOn), nil
}
func (n *joinNode) children() []planNode { return []planNode{n.left, n.right} }
func (n *joinNode) withChildren(c []planNode) planNode {
	return &joinNode{left: c[0], right: c[1], leftOn: n.leftOn, rightOn: n.rightOn, how: n.how}
}
func (n *joinNode) label() string {
	return fmt.Sprintf("%v JOIN LEFT ON %v RIGHT ON %v", n.how, n.leftOn, n.rightOn)
}

type crossJoinNode struct {
	left, right planNode
}

func (n *crossJoinNode) schema() (Schema, error) {
	left, err := n.left.schema()
	if err != nil {
		return nil, err
	}
	right, err := n.right.schema()
	if err != nil {
		return nil, err
	}
	return mergeSchemas(left, right, nil), nil
}
func (n *crossJoinNode) children() []planNode { return []planNode{n.left, n.right} }
func (n *crossJoinNode) withChildren(c []planNode) planNode {
	return &crossJoinNode{left: c[0], right: c[1]}
}
func (n *crossJoinNode) label() string { return "CROSS JOIN" }

type groupByNode struct {
	input planNode
	keys  []string
	aggs  []Expr
}

func (n *groupByNode) schema() (Schema, error) {
	input, err := n.input.schema()
	if err != nil {
		return nil, err
	}
	keys, err := projectSchema(input, n.keys)
	if err != nil {
		return nil, err
	}
	aggs, err := exprsSchema(input, n.aggs, &grouping{})
	if err != nil {
		return nil, err
	}
	return append(keys, aggs...), nil
}
func (n *groupByNode) children() []planNode { return []planNode{n.input} }
func (n *groupByNode) withChildren(c []planNode) planNode {
	return &groupByNode{input: c[0], keys: n.keys, aggs: n.aggs}
}
func (n *groupByNode) label() string {
	return fmt.Sprintf("AGGREGATE %v BY %v", exprList(n.aggs), n.keys)
}

type sortNode struct {
	input planNode
	by    []SortBy
}

func (n *sortNode) schema() (Schema, error) { return n.input.schema() }
func (n *sortNode) children() []planNode    { return []planNode{n.input} }
func (n *sortNode) withChildren(c []planNode) planNode {
	return &sortNode{input: c[0], by: n.by}
}
func (n *sortNode) label() string {
	keys := make([]string, len(n.by))
	for i, by := range n.by {
		keys[i] = by.Column
		if by.Descending {
			keys[i] += " DESC"
		}
	}
	return fmt.Sprintf("SORT BY [%v]", strings.Join(keys, ", "))
}

type headNode struct {
	input planNode
	n     int
}

func (n *headNode) schema() (Schema, error) { return n.input.schema() }
func (n *headNode) children() []planNode    { return []planNode{n.input} }
func (n *headNode) withChildren(c []planNode) planNode {
	return &headNode{input: c[0], n: n.n}
}
func (n *headNode) label() string { return fmt.Sprintf("SLICE offset: 0; len: %v", n.n) }

type uniqueNode struct {
	input  planNode
	subset []string
}

func (n *uniqueNode) schema() (Schema, error) { return n.input.schema() }
func (n *uniqueNode) children() []planNode    { return []planNode{n.input} }
func (n *uniqueNode) withChildren(c []planNode) planNode {
	return &uniqueNode{input: c[0], subset: n.subset}
}
func (n *uniqueNode) label() string { return fmt.Sprintf("UNIQUE BY %v", n.subset) }

type renameNode struct {
	input   planNode
	mapping map[string]string
}

func (n *renameNode) schema() (Schema, error) {
	input, err := n.input.schema()
	if err != nil {
		return nil, err
	}
	out := append(Schema(nil), input...)
	for i := range out {
		if name, ok := n.mapping[out[i].Name]; ok {
			out[i].Name = name
		}
	}
	return out, nil
}
func (n *renameNode) children() []planNode { return []planNode{n.input} }
func (n *renameNode) withChildren(c []planNode) planNode {
	return &renameNode{input: c[0], mapping: n.mapping}
}
func (n *renameNode) label() string { return fmt.Sprintf("RENAME %v", n.mapping) }

func projectSchema(schema Schema, names []string) (Schema, error) {
	out := make(Schema, 0, len(names))
	for _, name := range names {
		i := schema.Index(name)
		if i < 0 {
			return nil, fmt.Errorf("column %q not found among %v", name, schema.Names())
		}
		out = append(out, schema[i])
	}
	return out, nil
}

// mergeSchemas appends the right columns except the dropped keys, suffixing
// names that clash with the left side.
func mergeSchemas(left, right Schema, dropped []string) Schema {
	out := append(Schema(nil), left...)
	for _, field := range right {
		if contains(dropped, field.Name) {
			continue
		}
		if left.Index(field.Name) >= 0 {
			field.Name += rightSuffix
		}
		out = append(out, field)
	}
	return out
}

// exprsSchema infers output types by evaluating the expressions on an empty
// frame of the input schema.
func exprsSchema(input Schema, exprs []Expr, groups *grouping) (Schema, error) {
	empty := Empty(input)
	out := make(Schema, 0, len(exprs))
	for _, expr := range exprs {
		s, err := expr.node.eval(evalCtx{df: empty, groups: groups})
		if err != nil {
			return nil, err
		}
		if out.Index(expr.Name()) >= 0 {
			return nil, fmt.Errorf("duplicate output column %q", expr.Name())
		}
		out = append(out, Field{Name: expr.Name(), Type: s.dtype})
	}
	return out, nil
}

func exprList(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, expr := range exprs {
		parts[i] = expr.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
