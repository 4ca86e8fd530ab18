package frame

import (
	"context"
	"fmt"
	"runtime"

	"github.com/xlab/treeprint"
	"golang.org/x/sync/errgroup"
)

const DefaultChunkSize = 64 * 1024

type collectConfig struct {
	optimize  bool
	streaming bool
	workers   int
	chunkSize int
}

type CollectOption func(*collectConfig)

// NoOptimization executes the plan exactly as written.
func NoOptimization() CollectOption {
	return func(c *collectConfig) { c.optimize = false }
}

// Streaming processes the plan in chunks with at most workers chunks in
// flight; workers <= 0 means GOMAXPROCS.
func Streaming(workers int) CollectOption {
	return func(c *collectConfig) {
		c.streaming = true
		c.workers = workers
	}
}

func WithChunkSize(rows int) CollectOption {
	return func(c *collectConfig) { c.chunkSize = rows }
}

func newCollectConfig(opts []CollectOption) collectConfig {
	c := collectConfig{optimize: true, chunkSize: DefaultChunkSize}
	for _, opt := range opts {
		opt(&c)
	}
	if c.workers <= 0 {
		c.workers = runtime.GOMAXPROCS(0)
	}
	if c.chunkSize <= 0 {
		c.chunkSize = DefaultChunkSize
	}
	return c
}

func (lf *LazyFrame) physicalPlan(opts collectConfig) (planNode, error) {
	if _, err := lf.plan.schema(); err != nil {
		return nil, err
	}
	if !opts.optimize {
		return lf.plan, nil
	}
	return optimize(lf.plan)
}

func (lf *LazyFrame) Collect(ctx context.Context, opts ...CollectOption) (*DataFrame, error) {
	c := newCollectConfig(opts)
	plan, err := lf.physicalPlan(c)
	if err != nil {
		return nil, err
	}
	e := &executor{streaming: c.streaming, workers: c.workers, chunkSize: c.chunkSize}
	return e.collect(ctx, plan)
}

// Explain renders the plan that Collect would execute with the same options.
func (lf *LazyFrame) Explain(opts ...CollectOption) (string, error) {
	c := newCollectConfig(opts)
	plan, err := lf.physicalPlan(c)
	if err != nil {
		return "", err
	}
	root := treeprint.NewWithRoot(plan.label())
	explainChildren(root, plan)
	return root.String(), nil
}

func explainChildren(tree treeprint.Tree, plan planNode) {
	for _, child := range plan.children() {
		explainChildren(tree.AddBranch(child.label()), child)
	}
}

type executor struct {
	streaming bool
	workers   int
	chunkSize int
}

func (e *executor) collect(ctx context.Context, plan planNode) (*DataFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !e.streaming || !streamable(plan) {
		return e.run(ctx, plan)
	}
	parts, err := e.morsels(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		schema, err := plan.schema()
		if err != nil {
			return nil, err
		}
		return Empty(schema), nil
	}
	return Concat(parts...)
}

func streamable(plan planNode) bool {
	switch n := plan.(type) {
	case *scanNode, *frameNode, *renameNode, *joinNode:
		return true
	case *filterNode:
		return !n.predicate.node.aggregate()
	case *selectNode:
		return !anyAggregate(n.exprs) && len(exprRefs(n.exprs)) > 0
	case *withColumnsNode:
		return !anyAggregate(n.exprs)
	}
	return false
}

func anyAggregate(exprs []Expr) bool {
	for _, expr := range exprs {
		if expr.node.aggregate() {
			return true
		}
	}
	return false
}

// morsels produces the output of a streamable node as ordered chunks. Other
// nodes are pipeline breakers and get materialized first.
func (e *executor) morsels(ctx context.Context, plan planNode) ([]*DataFrame, error) {
	if !streamable(plan) {
		df, err := e.run(ctx, plan)
		if err != nil {
			return nil, err
		}
		return df.chunks(e.chunkSize), nil
	}
	switch n := plan.(type) {
	case *scanNode:
		var parts []*DataFrame
		if err := e.scan(ctx, n, func(df *DataFrame) error {
			parts = append(parts, df)
			return nil
		}); err != nil {
			return nil, err
		}
		if n.predicate == nil && n.columns == nil {
			return parts, nil
		}
		return e.parallel(ctx, parts, func(df *DataFrame) (*DataFrame, error) {
			return finishScan(df, n)
		})
	case *frameNode:
		return n.df.chunks(e.chunkSize), nil
	case *joinNode:
		right, err := e.collect(ctx, n.right)
		if err != nil {
			return nil, err
		}
		table, err := buildHashTable(right, n.rightOn)
		if err != nil {
			return nil, err
		}
		parts, err := e.morsels(ctx, n.left)
		if err != nil {
			return nil, err
		}
		return e.parallel(ctx, parts, func(df *DataFrame) (*DataFrame, error) {
			return table.probe(df, n.leftOn, n.how)
		})
	}
	input := plan.children()[0]
	parts, err := e.morsels(ctx, input)
	if err != nil {
		return nil, err
	}
	return e.parallel(ctx, parts, func(df *DataFrame) (*DataFrame, error) {
		return applyRowwise(df, plan)
	})
}

// parallel maps fn over the chunks with a bounded worker group, keeping order.
func (e *executor) parallel(ctx context.Context, parts []*DataFrame, fn func(*DataFrame) (*DataFrame, error)) ([]*DataFrame, error) {
	out := make([]*DataFrame, len(parts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, part := range parts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			df, err := fn(part)
			if err != nil {
				return err
			}
			out[i] = df
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *executor) scan(ctx context.Context, n *scanNode, fn func(*DataFrame) error) error {
	columns, err := n.readColumns()
	if err != nil {
		return err
	}
	chunkSize := 0
	if e.streaming {
		chunkSize = e.chunkSize
	}
	if err := n.source.ReadChunks(ctx, columns, chunkSize, fn); err != nil {
		return fmt.Errorf("scan %v: %w", n.source.Name(), err)
	}
	return nil
}

// finishScan applies the pushed-down predicate and drops predicate-only columns.
func finishScan(df *DataFrame, n *scanNode) (*DataFrame, error) {
	var err error
	if n.predicate != nil {
		if df, err = filterFrame(df, *n.predicate); err != nil {
			return nil, err
		}
	}
	if n.columns != nil && len(n.columns) != df.Width() {
		return df.Select(n.columns...)
	}
	return df, nil
}

func applyRowwise(df *DataFrame, plan planNode) (*DataFrame, error) {
	switch n := plan.(type) {
	case *filterNode:
		return filterFrame(df, n.predicate)
	case *selectNode:
		return selectFrame(df, n.exprs, nil)
	case *withColumnsNode:
		return withColumnsFrame(df, n.exprs)
	case *renameNode:
		return df.Rename(n.mapping), nil
	}
	return nil, fmt.Errorf("%v is not a row-wise operation", plan.label())
}

func (e *executor) run(ctx context.Context, plan planNode) (*DataFrame, error) {
	switch n := plan.(type) {
	case *scanNode:
		var parts []*DataFrame
		if err := e.scan(ctx, n, func(df *DataFrame) error {
			parts = append(parts, df)
			return nil
		}); err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			schema, err := n.source.Schema()
			if err != nil {
				return nil, err
			}
			parts = append(parts, Empty(schema))
		}
		df, err := Concat(parts...)
		if err != nil {
			return nil, err
		}
		return finishScan(df, n)
	case *frameNode:
		return n.df, nil
	case *joinNode:
		left, err := e.collect(ctx, n.left)
		if err != nil {
			return nil, err
		}
		right, err := e.collect(ctx, n.right)
		if err != nil {
			return nil, err
		}
		table, err := buildHashTable(right, n.rightOn)
		if err != nil {
			return nil, err
		}
		return table.probe(left, n.leftOn, n.how)
	case *crossJoinNode:
		left, err := e.collect(ctx, n.left)
		if err != nil {
			return nil, err
		}
		right, err := e.collect(ctx, n.right)
		if err != nil {
			return nil, err
		}
		return crossJoin(left, right), nil
	}
	input, err := e.collect(ctx, plan.children()[0])
	if err != nil {
		return nil, err
	}
	switch n := plan.(type) {
	case *groupByNode:
		return groupByFrame(input, n.keys, n.aggs)
	case *sortNode:
		return input.Sort(n.by...)
	case *headNode:
		return input.Head(n.n), nil
	case *uniqueNode:
		return uniqueFrame(input, n.subset)
	}
	return applyRowwise(input, plan)
}

func filterFrame(df *DataFrame, predicate Expr) (*DataFrame, error) {
	mask, err := predicate.node.eval(evalCtx{df: df})
	if err != nil {
		return nil, err
	}
	if mask.dtype != Bool {
		return nil, fmt.Errorf("filter predicate %v is %v, expected bool", predicate, mask.dtype)
	}
	if mask.Len() == 1 {
		if mask.bools[0] && !mask.IsNull(0) {
			return df, nil
		}
		return df.Head(0), nil
	}
	idx := make([]int, 0, mask.Len())
	for i, keep := range mask.bools {
		if keep && !mask.IsNull(i) {
			idx = append(idx, i)
		}
	}
	if len(idx) == df.Height() {
		return df, nil
	}
	return df.take(idx), nil
}

// selectFrame evaluates the expressions and broadcasts single-row results to
// the common height.
func selectFrame(df *DataFrame, exprs []Expr, groups *grouping) (*DataFrame, error) {
	columns := make([]Series, len(exprs))
	height := 1
	for i, expr := range exprs {
		s, err := expr.node.eval(evalCtx{df: df, groups: groups})
		if err != nil {
			return nil, err
		}
		columns[i] = s.Rename(expr.Name())
		if s.Len() != 1 {
			height = s.Len()
		}
	}
	for i := range columns {
		if columns[i].Len() == 1 && height != 1 {
			columns[i] = columns[i].broadcast(height)
		}
	}
	return New(columns...)
}

func withColumnsFrame(df *DataFrame, exprs []Expr) (*DataFrame, error) {
	out := df
	for _, expr := range exprs {
		s, err := expr.node.eval(evalCtx{df: df})
		if err != nil {
			return nil, err
		}
		if s.Len() != df.Height() {
			if s.Len() != 1 {
				return nil, fmt.Errorf("column %q has %v rows, expected %v", expr.Name(), s.Len(), df.Height())
			}
			s = s.broadcast(df.Height())
		}
		out = out.with(s.Rename(expr.Name()))
	}
	return out, nil
}

func keyColumns(df *DataFrame, names []string) ([]Series, error) {
	keys := make([]Series, len(names))
	for i, name := range names {
		column, err := df.Column(name)
		if err != nil {
			return nil, err
		}
		keys[i] = column
	}
	return keys, nil
}

func groupByFrame(df *DataFrame, keys []string, aggs []Expr) (*DataFrame, error) {
	keyCols, err := keyColumns(df, keys)
	if err != nil {
		return nil, err
	}
	groups, firsts := groupRows(keyCols, df.Height())
	columns := make([]Series, 0, len(keys)+len(aggs))
	for _, key := range keyCols {
		columns = append(columns, key.take(firsts))
	}
	for _, agg := range aggs {
		s, err := agg.node.eval(evalCtx{df: df, groups: groups})
		if err != nil {
			return nil, err
		}
		if s.Len() != groups.n {
			return nil, fmt.Errorf("aggregation %v produced %v rows for %v groups", agg, s.Len(), groups.n)
		}
		columns = append(columns, s.Rename(agg.Name()))
	}
	return New(columns...)
}

func uniqueFrame(df *DataFrame, subset []string) (*DataFrame, error) {
	if len(subset) == 0 {
		subset = df.Columns()
	}
	keys, err := keyColumns(df, subset)
	if err != nil {
		return nil, err
	}
	_, firsts := groupRows(keys, df.Height())
	return df.take(firsts), nil
}

func crossJoin(left, right *DataFrame) *DataFrame {
	n := left.Height() * right.Height()
	li := make([]int, 0, n)
	ri := make([]int, 0, n)
	for i := 0; i < left.Height(); i++ {
		for j := 0; j < right.Height(); j++ {
			li = append(li, i)
			ri = append(ri, j)
		}
	}
	return joinOutput(left, right, li, ri, nil)
}

// joinOutput gathers left and right rows; right columns listed in dropped are
// skipped and clashing names get the right suffix.
func joinOutput(left, right *DataFrame, li, ri []int, dropped []string) *DataFrame {
	columns := make([]Series, 0, left.Width()+right.Width())
	leftNames := make(map[string]bool, left.Width())
	for _, column := range left.columns {
		leftNames[column.name] = true
		columns = append(columns, column.take(li))
	}
	for _, column := range right.columns {
		if contains(dropped, column.name) {
			continue
		}
		out := column.take(ri)
		if leftNames[column.name] {
			out = out.Rename(column.name + rightSuffix)
		}
		columns = append(columns, out)
	}
	return &DataFrame{columns: columns}
}

type hashTable struct {
	df    *DataFrame
	on    []string
	keys  []Series
	ints  map[int64][]int
	bytes map[string][]int
}

func buildHashTable(df *DataFrame, on []string) (*hashTable, error) {
	keys, err := keyColumns(df, on)
	if err != nil {
		return nil, err
	}
	h := &hashTable{df: df, on: on, keys: keys}
	if intKey(keys) {
		h.ints = make(map[int64][]int, df.Height())
		for i, v := range keys[0].ints {
			if !keys[0].IsNull(i) {
				h.ints[v] = append(h.ints[v], i)
			}
		}
		return h, nil
	}
	h.bytes = make(map[string][]int, df.Height())
	var buf []byte
	for i := 0; i < df.Height(); i++ {
		if rowHasNull(keys, i) {
			continue
		}
		buf = buf[:0]
		for _, key := range keys {
			buf = key.appendKey(buf, i)
		}
		h.bytes[string(buf)] = append(h.bytes[string(buf)], i)
	}
	return h, nil
}

func intKey(keys []Series) bool {
	return len(keys) == 1 && (keys[0].dtype == Int64 || keys[0].dtype == Date)
}

func rowHasNull(keys []Series, i int) bool {
	for _, key := range keys {
		if key.IsNull(i) {
			return true
		}
	}
	return false
}

func (h *hashTable) probe(left *DataFrame, on []string, how JoinType) (*DataFrame, error) {
	keys, err := keyColumns(left, on)
	if err != nil {
		return nil, err
	}
	if len(keys) != len(h.keys) {
		return nil, fmt.Errorf("join keys %v and %v differ in length", on, h.on)
	}
	for i := range keys {
		if keys[i].dtype != h.keys[i].dtype {
			return nil, fmt.Errorf("join key %q is %v but %q is %v", on[i], keys[i].dtype, h.on[i], h.keys[i].dtype)
		}
	}
	lookup := func(i int) []int {
		if rowHasNull(keys, i) {
			return nil
		}
		if h.ints != nil {
			return h.ints[keys[0].ints[i]]
		}
		var buf []byte
		for _, key := range keys {
			buf = key.appendKey(buf, i)
		}
		return h.bytes[string(buf)]
	}
	var li, ri []int
	for i := 0; i < left.Height(); i++ {
		matches := lookup(i)
		switch how {
		case Inner:
			for _, j := range matches {
				li = append(li, i)
				ri = append(ri, j)
			}
		case Left:
			if len(matches) == 0 {
				li = append(li, i)
				ri = append(ri, -1)
			}
			for _, j := range matches {
				li = append(li, i)
				ri = append(ri, j)
			}
		case Semi:
			if len(matches) > 0 {
				li = append(li, i)
			}
		case Anti:
			if len(matches) == 0 {
				li = append(li, i)
			}
		}
	}
	if how == Semi || how == Anti {
		return left.take(li), nil
	}
	return joinOutput(left, h.df, li, ri, h.on), nil
}
