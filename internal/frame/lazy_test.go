package frame

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sales() *DataFrame {
	return MustNew(
		NewString("key", []string{"a", "b", "a", "c", "b"}),
		NewInt64("v", []int64{1, 2, 3, 4, 5}),
		NewFloat64("f", []float64{1.5, 2.5, 3.5, 4.5, 5.5}),
		NewDate("d", []int64{
			DateOf(1994, time.January, 1),
			DateOf(1995, time.June, 15),
			DateOf(1996, time.December, 31),
			DateOf(1994, time.March, 3),
			DateOf(1998, time.August, 2),
		}),
	)
}

func collectAll(t *testing.T, lf *LazyFrame) *DataFrame {
	t.Helper()
	ctx := context.Background()
	optimized, err := lf.Collect(ctx)
	require.Nil(t, err)
	eager, err := lf.Collect(ctx, NoOptimization())
	require.Nil(t, err)
	streaming, err := lf.Collect(ctx, Streaming(2), WithChunkSize(2))
	require.Nil(t, err)
	require.Nil(t, Diff(eager, optimized, true, DefaultTolerance))
	require.Nil(t, Diff(eager, streaming, true, DefaultTolerance))
	return optimized
}

func TestGroupByKeepsFirstAppearanceOrder(t *testing.T) {
	df := collectAll(t, sales().Lazy().
		GroupBy("key").
		Agg(Col("v").Sum(), Col("f").Mean().Alias("f_mean"), Len()))
	require.Equal(t, []string{"key", "v", "f_mean", "len"}, df.Columns())
	require.Equal(t, [][]any{
		{"a", int64(4), 2.5, int64(2)},
		{"b", int64(7), 4.0, int64(2)},
		{"c", int64(4), 4.5, int64(1)},
	}, df.Rows())
}

func TestGroupByAggregations(t *testing.T) {
	df := collectAll(t, sales().Lazy().
		GroupBy("key").
		Agg(
			Col("v").Min().Alias("min"),
			Col("v").Max().Alias("max"),
			Col("f").First().Alias("first"),
			Col("v").NUnique().Alias("unique"),
			Col("v").Gt(1).Sum().Alias("over_one"),
			Col("v").Sum().Div(Col("f").Sum()).Alias("ratio"),
		).
		Sort(Asc("key")))
	require.Equal(t, [][]any{
		{"a", int64(1), int64(3), 1.5, int64(2), int64(1), 4.0 / 5.0},
		{"b", int64(2), int64(5), 2.5, int64(2), int64(2), 7.0 / 8.0},
		{"c", int64(4), int64(4), 4.5, int64(1), int64(1), 4.0 / 4.5},
	}, df.Rows())
}

func TestSelectAggregatesWholeFrame(t *testing.T) {
	df := collectAll(t, sales().Lazy().Select(
		Col("v").Sum().Alias("total"),
		Col("f").Max().Alias("max"),
		Len(),
	))
	require.Equal(t, [][]any{{int64(15), 5.5, int64(5)}}, df.Rows())
}

func TestSumOfNothingIsNull(t *testing.T) {
	df := collectAll(t, sales().Lazy().Filter(Col("v").Gt(10)).Select(Col("f").Sum(), Len()))
	require.Equal(t, [][]any{{nil, int64(0)}}, df.Rows())
}

func TestFilterWithExpressions(t *testing.T) {
	df := collectAll(t, sales().Lazy().
		Filter(Col("d").IsBetween(Lit(time.Date(1994, 1, 1, 0, 0, 0, 0, time.UTC)), Lit(time.Date(1995, 12, 31, 0, 0, 0, 0, time.UTC)))).
		Filter(Col("key").IsIn("a", "b")).
		SelectColumns("key", "v"))
	require.Equal(t, [][]any{{"a", int64(1)}, {"b", int64(2)}}, df.Rows())
}

func TestWithColumns(t *testing.T) {
	df := collectAll(t, sales().Lazy().WithColumns(
		Col("d").Year().Alias("year"),
		Col("key").Slice(0, 1).Alias("first"),
		NewWhen(Col("v").Gt(2)).Then(Col("f")).Otherwise(0).Alias("big"),
		Col("f").Mul(Lit(1).Sub(Col("v").Div(10))).Round(2).Alias("net"),
		Col("v").Add(100),
	))
	require.Equal(t, []string{"key", "v", "f", "d", "year", "first", "big", "net"}, df.Columns())
	year, err := df.Column("year")
	require.Nil(t, err)
	require.Equal(t, []int64{1994, 1995, 1996, 1994, 1998}, year.Int64s())
	big, err := df.Column("big")
	require.Nil(t, err)
	require.Equal(t, []float64{0, 0, 3.5, 4.5, 5.5}, big.Float64s())
	net, err := df.Column("net")
	require.Nil(t, err)
	require.Equal(t, []float64{1.35, 2, 2.45, 2.7, 2.75}, net.Float64s())
	v, err := df.Column("v")
	require.Nil(t, err)
	require.Equal(t, []int64{101, 102, 103, 104, 105}, v.Int64s())
}

func TestStringPredicates(t *testing.T) {
	df := MustNew(NewString("s", []string{"PROMO BRUSHED", "STANDARD TIN", "Customer#Complaints", "LARGE PROMO"}))
	count := func(e Expr) int {
		out := collectAll(t, df.Lazy().Filter(e))
		return out.Height()
	}
	require.Equal(t, 1, count(Col("s").StartsWith("PROMO")))
	require.Equal(t, 1, count(Col("s").EndsWith("TIN")))
	require.Equal(t, 2, count(Col("s").Contains("PROMO")))
	require.Equal(t, 1, count(Col("s").ContainsRegex("Customer.*Complaints")))
	require.Equal(t, 3, count(Col("s").ContainsRegex("Customer.*Complaints").Not()))
}

func TestJoins(t *testing.T) {
	orders := MustNew(
		NewInt64("o_key", []int64{1, 2, 3}),
		NewInt64("o_cust", []int64{10, 20, 30}),
	).Lazy()
	customers := MustNew(
		NewInt64("c_key", []int64{10, 20, 40}),
		NewString("c_name", []string{"x", "y", "z"}),
	).Lazy()

	inner := collectAll(t, orders.Join(customers, "o_cust", "c_key", Inner))
	require.Equal(t, []string{"o_key", "o_cust", "c_name"}, inner.Columns())
	require.Equal(t, [][]any{{int64(1), int64(10), "x"}, {int64(2), int64(20), "y"}}, inner.Rows())

	left := collectAll(t, orders.Join(customers, "o_cust", "c_key", Left))
	require.Equal(t, [][]any{
		{int64(1), int64(10), "x"},
		{int64(2), int64(20), "y"},
		{int64(3), int64(30), nil},
	}, left.Rows())

	semi := collectAll(t, orders.Join(customers, "o_cust", "c_key", Semi))
	require.Equal(t, [][]any{{int64(1), int64(10)}, {int64(2), int64(20)}}, semi.Rows())

	anti := collectAll(t, orders.Join(customers, "o_cust", "c_key", Anti))
	require.Equal(t, [][]any{{int64(3), int64(30)}}, anti.Rows())
}

func TestJoinSuffixesClashingColumns(t *testing.T) {
	left := MustNew(NewInt64("k", []int64{1, 2}), NewString("name", []string{"l1", "l2"})).Lazy()
	right := MustNew(NewInt64("k2", []int64{2, 1}), NewString("name", []string{"r2", "r1"})).Lazy()
	df := collectAll(t, left.Join(right, "k", "k2", Inner).Select(Col("k"), Col("name_right")))
	require.Equal(t, [][]any{{int64(1), "r1"}, {int64(2), "r2"}}, df.Rows())
}

func TestMultiKeyJoin(t *testing.T) {
	left := MustNew(
		NewInt64("a", []int64{1, 1, 2}),
		NewString("b", []string{"x", "y", "x"}),
	).Lazy()
	right := MustNew(
		NewInt64("ra", []int64{1, 2}),
		NewString("rb", []string{"y", "x"}),
		NewFloat64("value", []float64{0.5, 1.5}),
	).Lazy()
	df := collectAll(t, left.JoinOn(right, []string{"a", "b"}, []string{"ra", "rb"}, Inner))
	require.Equal(t, [][]any{{int64(1), "y", 0.5}, {int64(2), "x", 1.5}}, df.Rows())
}

func TestCrossJoinWithScalar(t *testing.T) {
	total := sales().Lazy().Select(Col("v").Sum().Alias("total"))
	df := collectAll(t, sales().Lazy().
		CrossJoin(total).
		Filter(Col("v").Mul(5).Gt(Col("total"))).
		SelectColumns("v"))
	require.Equal(t, []int64{4, 5}, func() []int64 {
		v, _ := df.Column("v")
		return v.Int64s()
	}())
}

func TestSortHeadUnique(t *testing.T) {
	df := collectAll(t, sales().Lazy().Sort(Desc("key"), Asc("v")).Head(3))
	require.Equal(t, [][]any{
		{"c", int64(4)},
		{"b", int64(2)},
		{"b", int64(5)},
	}, selectRows(t, df, "key", "v"))

	unique := collectAll(t, sales().Lazy().Unique("key").SelectColumns("key", "v"))
	require.Equal(t, [][]any{{"a", int64(1)}, {"b", int64(2)}, {"c", int64(4)}}, unique.Rows())
}

func TestSortPutsNullsLast(t *testing.T) {
	df := MustNew(NewInt64("v", []int64{3, 0, 1}).WithNulls([]bool{false, true, false}))
	asc, err := df.Sort(Asc("v"))
	require.Nil(t, err)
	require.Equal(t, [][]any{{int64(1)}, {int64(3)}, {nil}}, asc.Rows())
	desc, err := df.Sort(Desc("v"))
	require.Nil(t, err)
	require.Equal(t, [][]any{{int64(3)}, {int64(1)}, {nil}}, desc.Rows())
}

func TestFillNullAfterLeftJoin(t *testing.T) {
	customers := MustNew(NewInt64("c_key", []int64{1, 2, 3})).Lazy()
	orders := MustNew(NewInt64("o_cust", []int64{1, 1, 3})).Lazy()
	df := collectAll(t, customers.
		Join(orders.Select(Col("o_cust"), Lit(1).Alias("one")), "c_key", "o_cust", Left).
		GroupBy("c_key").
		Agg(Col("one").Count().Alias("count"), Col("one").Sum().FillNull(0).Alias("sum")))
	require.Equal(t, [][]any{
		{int64(1), int64(2), int64(2)},
		{int64(2), int64(0), int64(0)},
		{int64(3), int64(1), int64(1)},
	}, df.Rows())
}

func TestRename(t *testing.T) {
	df := collectAll(t, sales().Lazy().Rename(map[string]string{"v": "value"}).Filter(Col("value").Gt(4)).SelectColumns("key", "value"))
	require.Equal(t, [][]any{{"b", int64(5)}}, df.Rows())
}

func TestExplainShowsPushdown(t *testing.T) {
	orders := MustNew(
		NewInt64("o_key", []int64{1, 2, 3}),
		NewInt64("o_cust", []int64{10, 20, 30}),
	).Lazy()
	customers := MustNew(
		NewInt64("c_key", []int64{10, 20, 40}),
		NewString("c_name", []string{"x", "y", "z"}),
	).Lazy()
	lf := orders.Join(customers, "o_cust", "c_key", Inner).Filter(Col("c_name").Eq("x"))

	plain, err := lf.Explain(NoOptimization())
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(plain, "FILTER"), plain)

	optimized, err := lf.Explain()
	require.Nil(t, err)
	require.True(t, strings.HasPrefix(optimized, "INNER JOIN"), optimized)
	require.Contains(t, optimized, "FILTER")
}

func TestFilterOnAggregateSeesWholeInput(t *testing.T) {
	df := collectAll(t, sales().Lazy().
		Filter(Col("key").Neq("c")).
		Filter(Col("v").Eq(Col("v").Max())).
		Filter(Col("key").Eq("b")))
	require.Equal(t, [][]any{{"b", int64(5)}}, selectRows(t, df, "key", "v"))

	empty := collectAll(t, sales().Lazy().
		Filter(Col("v").Eq(Col("v").Max())).
		Filter(Col("key").Eq("a")))
	require.Equal(t, 0, empty.Height())
}

func TestUnknownColumnFails(t *testing.T) {
	_, err := sales().Lazy().Select(Col("missing")).Collect(context.Background())
	require.NotNil(t, err)
	require.Contains(t, err.Error(), "missing")
}

func TestPlainColumnInAggregationFails(t *testing.T) {
	_, err := sales().Lazy().GroupBy("key").Agg(Col("v")).Collect(context.Background())
	require.NotNil(t, err)
}

func TestDiff(t *testing.T) {
	a := MustNew(NewString("k", []string{"x", "y"}), NewFloat64("v", []float64{1.0, 2.0}))
	b := MustNew(NewString("k", []string{"y", "x"}), NewFloat64("v", []float64{2.001, 1.0}))
	require.Nil(t, Diff(a, b, false, DefaultTolerance))
	require.NotNil(t, Diff(a, b, true, DefaultTolerance))
	c := MustNew(NewString("k", []string{"x", "y"}), NewFloat64("v", []float64{1.0, 2.5}))
	require.NotNil(t, Diff(a, c, false, DefaultTolerance))
	require.NotNil(t, Diff(a, a.Head(1), false, DefaultTolerance))
}

func TestUnorderedDiffIgnoresFloatNoiseInOrder(t *testing.T) {
	a := MustNew(NewFloat64("v", []float64{1.0, 1.0001}), NewString("k", []string{"b", "a"}))
	b := MustNew(NewFloat64("v", []float64{1.0001, 1.0}), NewString("k", []string{"b", "a"}))
	require.Nil(t, Diff(a, b, false, DefaultTolerance))

	x := MustNew(NewFloat64("x", []float64{1.0, 1.001}), NewFloat64("y", []float64{5.0, 3.0}))
	y := MustNew(NewFloat64("x", []float64{1.001, 1.0}), NewFloat64("y", []float64{5.0, 3.0}))
	require.Nil(t, Diff(x, y, false, DefaultTolerance))
	require.NotNil(t, Diff(x, y, false, Tolerance{}))
}

func TestPrint(t *testing.T) {
	out := sales().String()
	require.Contains(t, out, "shape: (5, 4)")
	require.Contains(t, out, "1995-06-15")
}

func selectRows(t *testing.T, df *DataFrame, names ...string) [][]any {
	t.Helper()
	out, err := df.Select(names...)
	require.Nil(t, err)
	return out.Rows()
}
