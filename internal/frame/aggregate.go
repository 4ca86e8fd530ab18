package frame

import (
	"fmt"
)

type aggKind int

const (
	aggSum aggKind = iota
	aggMean
	aggMin
	aggMax
	aggFirst
	aggCount
	aggNUnique
	aggLen
)

var aggNames = [...]string{"sum", "mean", "min", "max", "first", "count", "n_unique", "len"}

// grouping assigns every row of a frame to a group. A nil ids slice puts all
// rows into the single group 0.
type grouping struct {
	ids  []int
	n    int
	rows int
}

func (g *grouping) id(i int) int {
	if g.ids == nil {
		return 0
	}
	return g.ids[i]
}

func singleGroup(rows int) *grouping { return &grouping{n: 1, rows: rows} }

// groupRows hashes the key columns and returns the grouping together with the
// first row of every group, in order of first appearance.
func groupRows(keys []Series, rows int) (*grouping, []int) {
	g := &grouping{ids: make([]int, rows), rows: rows}
	var firsts []int
	if len(keys) == 1 && (keys[0].dtype == Int64 || keys[0].dtype == Date) && keys[0].nulls == nil {
		seen := make(map[int64]int)
		for i, v := range keys[0].ints {
			id, ok := seen[v]
			if !ok {
				id = len(firsts)
				seen[v] = id
				firsts = append(firsts, i)
			}
			g.ids[i] = id
		}
		g.n = len(firsts)
		return g, firsts
	}
	seen := make(map[string]int)
	var buf []byte
	for i := 0; i < rows; i++ {
		buf = buf[:0]
		for _, key := range keys {
			buf = key.appendKey(buf, i)
		}
		id, ok := seen[string(buf)]
		if !ok {
			id = len(firsts)
			seen[string(buf)] = id
			firsts = append(firsts, i)
		}
		g.ids[i] = id
	}
	g.n = len(firsts)
	return g, firsts
}

type aggNode struct {
	kind  aggKind
	input node
}

func (n *aggNode) outputName() string {
	if n.input == nil {
		return "len"
	}
	return n.input.outputName()
}

func (n *aggNode) refs(dst map[string]struct{}) {
	if n.input != nil {
		n.input.refs(dst)
	}
}

func (n *aggNode) aggregate() bool { return true }

func (n *aggNode) String() string {
	if n.input == nil {
		return "len()"
	}
	return fmt.Sprintf("%v.%v()", n.input, aggNames[n.kind])
}

func (n *aggNode) eval(ctx evalCtx) (Series, error) {
	groups := ctx.groups
	if groups == nil {
		groups = singleGroup(ctx.df.Height())
	}
	if n.kind == aggLen {
		counts := make([]int64, groups.n)
		for i := 0; i < groups.rows; i++ {
			counts[groups.id(i)]++
		}
		return NewInt64("len", counts), nil
	}
	if n.input.aggregate() {
		return Series{}, fmt.Errorf("nested aggregation in %v", n)
	}
	s, err := n.input.eval(evalCtx{df: ctx.df})
	if err != nil {
		return Series{}, err
	}
	if s.Len() != groups.rows {
		s = s.broadcast(groups.rows)
	}
	return reduce(n.kind, s, groups)
}

func reduce(kind aggKind, s Series, g *grouping) (Series, error) {
	switch kind {
	case aggSum:
		return reduceSum(s, g)
	case aggMean:
		if !s.dtype.numeric() {
			return Series{}, fmt.Errorf("mean of %v column %q", s.dtype, s.name)
		}
		sums := make([]float64, g.n)
		counts := make([]int64, g.n)
		for i := 0; i < s.Len(); i++ {
			if s.IsNull(i) {
				continue
			}
			id := g.id(i)
			sums[id] += s.float(i)
			counts[id]++
		}
		nulls := make([]bool, g.n)
		for id := range sums {
			if counts[id] == 0 {
				nulls[id] = true
				continue
			}
			sums[id] /= float64(counts[id])
		}
		return NewFloat64(s.name, sums).WithNulls(nulls), nil
	case aggMin, aggMax:
		best := make([]int, g.n)
		for id := range best {
			best[id] = -1
		}
		for i := 0; i < s.Len(); i++ {
			if s.IsNull(i) {
				continue
			}
			id := g.id(i)
			if best[id] < 0 {
				best[id] = i
				continue
			}
			c := compareRows(s, i, s, best[id])
			if (kind == aggMin && c < 0) || (kind == aggMax && c > 0) {
				best[id] = i
			}
		}
		return s.take(best), nil
	case aggFirst:
		first := make([]int, g.n)
		for id := range first {
			first[id] = -1
		}
		for i := 0; i < s.Len(); i++ {
			if id := g.id(i); first[id] < 0 {
				first[id] = i
			}
		}
		return s.take(first), nil
	case aggCount:
		counts := make([]int64, g.n)
		for i := 0; i < s.Len(); i++ {
			if !s.IsNull(i) {
				counts[g.id(i)]++
			}
		}
		return NewInt64(s.name, counts), nil
	case aggNUnique:
		seen := make(map[string]struct{})
		counts := make([]int64, g.n)
		var buf []byte
		for i := 0; i < s.Len(); i++ {
			if s.IsNull(i) {
				continue
			}
			id := g.id(i)
			buf = appendGroupID(buf[:0], id)
			buf = s.appendKey(buf, i)
			if _, ok := seen[string(buf)]; ok {
				continue
			}
			seen[string(buf)] = struct{}{}
			counts[id]++
		}
		return NewInt64(s.name, counts), nil
	}
	return Series{}, fmt.Errorf("unknown aggregation %v", kind)
}

// reduceSum follows SQL: a group without non-null values sums to null.
func reduceSum(s Series, g *grouping) (Series, error) {
	counts := make([]int, g.n)
	for i := 0; i < s.Len(); i++ {
		if !s.IsNull(i) {
			counts[g.id(i)]++
		}
	}
	var nulls []bool
	for id, count := range counts {
		if count == 0 {
			if nulls == nil {
				nulls = make([]bool, g.n)
			}
			nulls[id] = true
		}
	}
	switch s.dtype {
	case Int64:
		sums := make([]int64, g.n)
		for i, v := range s.ints {
			if !s.IsNull(i) {
				sums[g.id(i)] += v
			}
		}
		return NewInt64(s.name, sums).WithNulls(nulls), nil
	case Float64:
		sums := make([]float64, g.n)
		for i, v := range s.floats {
			if !s.IsNull(i) {
				sums[g.id(i)] += v
			}
		}
		return NewFloat64(s.name, sums).WithNulls(nulls), nil
	case Bool:
		sums := make([]int64, g.n)
		for i, v := range s.bools {
			if v && !s.IsNull(i) {
				sums[g.id(i)]++
			}
		}
		return NewInt64(s.name, sums).WithNulls(nulls), nil
	}
	return Series{}, fmt.Errorf("sum of %v column %q", s.dtype, s.name)
}

func appendGroupID(buf []byte, id int) []byte {
	return append(buf, byte(id>>56), byte(id>>48), byte(id>>40), byte(id>>32), byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
}
