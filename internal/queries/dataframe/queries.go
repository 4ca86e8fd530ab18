package dataframe

import (
	"fmt"
	"time"

	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/queries"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

var (
	col  = frame.Col
	lit  = frame.Lit
	asc  = frame.Asc
	desc = frame.Desc
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// disc is l_extendedprice * (1 - l_discount).
func disc() frame.Expr {
	return col("l_extendedprice").Mul(lit(1.0).Sub(col("l_discount")))
}

// tables looks up source tables and keeps the first failure, so that query
// builders read straight through.
type tables struct {
	src tpch.Source
	err error
}

func (t *tables) get(name string) *frame.LazyFrame {
	lf, err := t.src.Table(name)
	if err == nil {
		return lf
	}
	if t.err == nil {
		t.err = fmt.Errorf("table %v: %w", name, err)
	}
	schema, _ := tpch.Schema(name)
	return frame.Empty(schema).Lazy()
}

var builders = map[int]func(t *tables, scaleFactor float64) *frame.LazyFrame{
	1: q1, 2: q2, 3: q3, 4: q4, 5: q5, 6: q6, 7: q7, 8: q8, 9: q9, 10: q10, 11: q11,
	12: q12, 13: q13, 14: q14, 15: q15, 16: q16, 17: q17, 18: q18, 19: q19, 20: q20, 21: q21, 22: q22,
}

// Query builds the lazy plan of query n over the tables of src.
func Query(n int, src tpch.Source, scaleFactor float64) (*frame.LazyFrame, error) {
	if err := queries.Validate(n); err != nil {
		return nil, err
	}
	t := &tables{src: src}
	lf := builders[n](t, scaleFactor)
	if t.err != nil {
		return nil, fmt.Errorf("q%v: %w", n, t.err)
	}
	return lf, nil
}

func q1(t *tables, _ float64) *frame.LazyFrame {
	return t.get(tpch.Lineitem).
		Filter(col("l_shipdate").Le(date(1998, 9, 2))).
		GroupBy("l_returnflag", "l_linestatus").
		Agg(
			col("l_quantity").Sum().Alias("sum_qty"),
			col("l_extendedprice").Sum().Alias("sum_base_price"),
			disc().Sum().Alias("sum_disc_price"),
			disc().Mul(lit(1.0).Add(col("l_tax"))).Sum().Alias("sum_charge"),
			col("l_quantity").Mean().Alias("avg_qty"),
			col("l_extendedprice").Mean().Alias("avg_price"),
			col("l_discount").Mean().Alias("avg_disc"),
			frame.Len().Alias("count_order"),
		).
		Sort(asc("l_returnflag"), asc("l_linestatus"))
}

func q2(t *tables, _ float64) *frame.LazyFrame {
	europe := t.get(tpch.Region).
		Filter(col("r_name").Eq("EUROPE")).
		Join(t.get(tpch.Nation), "r_regionkey", "n_regionkey", frame.Inner).
		Join(t.get(tpch.Supplier), "n_nationkey", "s_nationkey", frame.Inner).
		Join(t.get(tpch.Partsupp), "s_suppkey", "ps_suppkey", frame.Inner)
	brass := t.get(tpch.Part).
		Filter(col("p_size").Eq(15).And(col("p_type").EndsWith("BRASS"))).
		Join(europe, "p_partkey", "ps_partkey", frame.Inner)
	cheapest := brass.GroupBy("p_partkey").Agg(col("ps_supplycost").Min())
	keys := []string{"p_partkey", "ps_supplycost"}
	return brass.
		JoinOn(cheapest, keys, keys, frame.Inner).
		SelectColumns("s_acctbal", "s_name", "n_name", "p_partkey", "p_mfgr", "s_address", "s_phone", "s_comment").
		Sort(desc("s_acctbal"), asc("n_name"), asc("s_name"), asc("p_partkey")).
		Head(100)
}

func q3(t *tables, _ float64) *frame.LazyFrame {
	cutoff := date(1995, 3, 15)
	customers := t.get(tpch.Customer).Filter(col("c_mktsegment").Eq("BUILDING"))
	orders := t.get(tpch.Orders).Filter(col("o_orderdate").Lt(cutoff))
	return t.get(tpch.Lineitem).
		Filter(col("l_shipdate").Gt(cutoff)).
		Join(orders, "l_orderkey", "o_orderkey", frame.Inner).
		Join(customers, "o_custkey", "c_custkey", frame.Inner).
		GroupBy("l_orderkey", "o_orderdate", "o_shippriority").
		Agg(disc().Sum().Alias("revenue")).
		SelectColumns("l_orderkey", "revenue", "o_orderdate", "o_shippriority").
		Sort(desc("revenue"), asc("o_orderdate")).
		Head(10)
}

func q4(t *tables, _ float64) *frame.LazyFrame {
	late := t.get(tpch.Lineitem).Filter(col("l_commitdate").Lt(col("l_receiptdate")))
	return t.get(tpch.Orders).
		Filter(col("o_orderdate").Ge(date(1993, 7, 1)).And(col("o_orderdate").Lt(date(1993, 10, 1)))).
		Join(late, "o_orderkey", "l_orderkey", frame.Semi).
		GroupBy("o_orderpriority").
		Agg(frame.Len().Alias("order_count")).
		Sort(asc("o_orderpriority"))
}

func q5(t *tables, _ float64) *frame.LazyFrame {
	asia := t.get(tpch.Region).
		Filter(col("r_name").Eq("ASIA")).
		Join(t.get(tpch.Nation), "r_regionkey", "n_regionkey", frame.Inner)
	orders := t.get(tpch.Orders).
		Filter(col("o_orderdate").Ge(date(1994, 1, 1)).And(col("o_orderdate").Lt(date(1995, 1, 1))))
	return t.get(tpch.Customer).
		Join(asia, "c_nationkey", "n_nationkey", frame.Inner).
		Join(orders, "c_custkey", "o_custkey", frame.Inner).
		Join(t.get(tpch.Lineitem), "o_orderkey", "l_orderkey", frame.Inner).
		JoinOn(t.get(tpch.Supplier), []string{"l_suppkey", "c_nationkey"}, []string{"s_suppkey", "s_nationkey"}, frame.Inner).
		GroupBy("n_name").
		Agg(disc().Sum().Alias("revenue")).
		Sort(desc("revenue"))
}

func q6(t *tables, _ float64) *frame.LazyFrame {
	return t.get(tpch.Lineitem).
		Filter(
			col("l_shipdate").Ge(date(1994, 1, 1)).
				And(col("l_shipdate").Lt(date(1995, 1, 1))).
				And(col("l_discount").IsBetween(0.05, 0.07)).
				And(col("l_quantity").Lt(24)),
		).
		Select(col("l_extendedprice").Mul(col("l_discount")).Sum().Alias("revenue"))
}

func q7(t *tables, _ float64) *frame.LazyFrame {
	nations := t.get(tpch.Nation).
		Filter(col("n_name").IsIn("FRANCE", "GERMANY")).
		SelectColumns("n_nationkey", "n_name")
	suppliers := nations.Rename(map[string]string{"n_nationkey": "supp_nationkey", "n_name": "supp_nation"})
	customers := nations.Rename(map[string]string{"n_nationkey": "cust_nationkey", "n_name": "cust_nation"})
	pair := func(supp, cust string) frame.Expr {
		return col("supp_nation").Eq(supp).And(col("cust_nation").Eq(cust))
	}
	return t.get(tpch.Lineitem).
		Filter(col("l_shipdate").IsBetween(date(1995, 1, 1), date(1996, 12, 31))).
		Join(t.get(tpch.Supplier), "l_suppkey", "s_suppkey", frame.Inner).
		Join(suppliers, "s_nationkey", "supp_nationkey", frame.Inner).
		Join(t.get(tpch.Orders), "l_orderkey", "o_orderkey", frame.Inner).
		Join(t.get(tpch.Customer), "o_custkey", "c_custkey", frame.Inner).
		Join(customers, "c_nationkey", "cust_nationkey", frame.Inner).
		Filter(pair("FRANCE", "GERMANY").Or(pair("GERMANY", "FRANCE"))).
		WithColumns(col("l_shipdate").Year().Alias("l_year"), disc().Alias("volume")).
		GroupBy("supp_nation", "cust_nation", "l_year").
		Agg(col("volume").Sum().Alias("revenue")).
		Sort(asc("supp_nation"), asc("cust_nation"), asc("l_year"))
}

func q8(t *tables, _ float64) *frame.LazyFrame {
	america := t.get(tpch.Region).
		Filter(col("r_name").Eq("AMERICA")).
		Join(t.get(tpch.Nation), "r_regionkey", "n_regionkey", frame.Inner).
		SelectColumns("n_nationkey")
	customers := t.get(tpch.Customer).Join(america, "c_nationkey", "n_nationkey", frame.Inner)
	orders := t.get(tpch.Orders).
		Filter(col("o_orderdate").IsBetween(date(1995, 1, 1), date(1996, 12, 31)))
	brazil := frame.NewWhen(col("nation").Eq("BRAZIL")).Then(col("volume")).Otherwise(0.0)
	return t.get(tpch.Part).
		Filter(col("p_type").Eq("ECONOMY ANODIZED STEEL")).
		Join(t.get(tpch.Lineitem), "p_partkey", "l_partkey", frame.Inner).
		Join(t.get(tpch.Supplier), "l_suppkey", "s_suppkey", frame.Inner).
		Join(orders, "l_orderkey", "o_orderkey", frame.Inner).
		Join(customers, "o_custkey", "c_custkey", frame.Inner).
		Join(t.get(tpch.Nation).SelectColumns("n_nationkey", "n_name"), "s_nationkey", "n_nationkey", frame.Inner).
		WithColumns(
			col("o_orderdate").Year().Alias("o_year"),
			disc().Alias("volume"),
			col("n_name").Alias("nation"),
		).
		GroupBy("o_year").
		Agg(brazil.Sum().Div(col("volume").Sum()).Round(2).Alias("mkt_share")).
		Sort(asc("o_year"))
}

func q9(t *tables, _ float64) *frame.LazyFrame {
	return t.get(tpch.Part).
		Filter(col("p_name").Contains("green")).
		Join(t.get(tpch.Lineitem), "p_partkey", "l_partkey", frame.Inner).
		JoinOn(t.get(tpch.Partsupp), []string{"l_suppkey", "p_partkey"}, []string{"ps_suppkey", "ps_partkey"}, frame.Inner).
		Join(t.get(tpch.Supplier), "l_suppkey", "s_suppkey", frame.Inner).
		Join(t.get(tpch.Orders), "l_orderkey", "o_orderkey", frame.Inner).
		Join(t.get(tpch.Nation), "s_nationkey", "n_nationkey", frame.Inner).
		WithColumns(
			col("n_name").Alias("nation"),
			col("o_orderdate").Year().Alias("o_year"),
			disc().Sub(col("ps_supplycost").Mul(col("l_quantity"))).Alias("amount"),
		).
		GroupBy("nation", "o_year").
		Agg(col("amount").Sum().Round(2).Alias("sum_profit")).
		Sort(asc("nation"), desc("o_year"))
}

func q10(t *tables, _ float64) *frame.LazyFrame {
	orders := t.get(tpch.Orders).
		Filter(col("o_orderdate").Ge(date(1993, 10, 1)).And(col("o_orderdate").Lt(date(1994, 1, 1))))
	returned := t.get(tpch.Lineitem).Filter(col("l_returnflag").Eq("R"))
	return t.get(tpch.Customer).
		Join(orders, "c_custkey", "o_custkey", frame.Inner).
		Join(returned, "o_orderkey", "l_orderkey", frame.Inner).
		Join(t.get(tpch.Nation), "c_nationkey", "n_nationkey", frame.Inner).
		GroupBy("c_custkey", "c_name", "c_acctbal", "c_phone", "n_name", "c_address", "c_comment").
		Agg(disc().Sum().Round(2).Alias("revenue")).
		SelectColumns("c_custkey", "c_name", "revenue", "c_acctbal", "n_name", "c_address", "c_phone", "c_comment").
		Sort(desc("revenue")).
		Head(20)
}

func q11(t *tables, scaleFactor float64) *frame.LazyFrame {
	stock := t.get(tpch.Partsupp).
		Join(t.get(tpch.Supplier), "ps_suppkey", "s_suppkey", frame.Inner).
		Join(t.get(tpch.Nation).Filter(col("n_name").Eq("GERMANY")), "s_nationkey", "n_nationkey", frame.Inner).
		WithColumns(col("ps_supplycost").Mul(col("ps_availqty")).Alias("value"))
	threshold := stock.Select(col("value").Sum().Mul(queries.Q11Fraction(scaleFactor)).Alias("threshold"))
	return stock.
		GroupBy("ps_partkey").
		Agg(col("value").Sum()).
		CrossJoin(threshold).
		Filter(col("value").Gt(col("threshold"))).
		Select(col("ps_partkey"), col("value").Round(2)).
		Sort(desc("value"))
}

func q12(t *tables, _ float64) *frame.LazyFrame {
	high := col("o_orderpriority").IsIn("1-URGENT", "2-HIGH")
	return t.get(tpch.Lineitem).
		Filter(
			col("l_shipmode").IsIn("MAIL", "SHIP").
				And(col("l_commitdate").Lt(col("l_receiptdate"))).
				And(col("l_shipdate").Lt(col("l_commitdate"))).
				And(col("l_receiptdate").Ge(date(1994, 1, 1))).
				And(col("l_receiptdate").Lt(date(1995, 1, 1))),
		).
		Join(t.get(tpch.Orders), "l_orderkey", "o_orderkey", frame.Inner).
		GroupBy("l_shipmode").
		Agg(
			frame.NewWhen(high).Then(1).Otherwise(0).Sum().Alias("high_line_count"),
			frame.NewWhen(high).Then(0).Otherwise(1).Sum().Alias("low_line_count"),
		).
		Sort(asc("l_shipmode"))
}

func q13(t *tables, _ float64) *frame.LazyFrame {
	orders := t.get(tpch.Orders).Filter(col("o_comment").ContainsRegex("special.*requests").Not())
	return t.get(tpch.Customer).
		Join(orders, "c_custkey", "o_custkey", frame.Left).
		GroupBy("c_custkey").
		Agg(col("o_orderkey").Count().Alias("c_count")).
		GroupBy("c_count").
		Agg(frame.Len().Alias("custdist")).
		Sort(desc("custdist"), desc("c_count"))
}

func q14(t *tables, _ float64) *frame.LazyFrame {
	promo := frame.NewWhen(col("p_type").StartsWith("PROMO")).Then(col("revenue")).Otherwise(0.0)
	return t.get(tpch.Lineitem).
		Filter(col("l_shipdate").Ge(date(1995, 9, 1)).And(col("l_shipdate").Lt(date(1995, 10, 1)))).
		Join(t.get(tpch.Part), "l_partkey", "p_partkey", frame.Inner).
		WithColumns(disc().Alias("revenue")).
		Select(lit(100.0).Mul(promo.Sum()).Div(col("revenue").Sum()).Round(2).Alias("promo_revenue"))
}

func q15(t *tables, _ float64) *frame.LazyFrame {
	revenue := t.get(tpch.Lineitem).
		Filter(col("l_shipdate").Ge(date(1996, 1, 1)).And(col("l_shipdate").Lt(date(1996, 4, 1)))).
		GroupBy("l_suppkey").
		Agg(disc().Sum().Alias("total_revenue"))
	return t.get(tpch.Supplier).
		Join(revenue, "s_suppkey", "l_suppkey", frame.Inner).
		Filter(col("total_revenue").Eq(col("total_revenue").Max())).
		Select(col("s_suppkey"), col("s_name"), col("s_address"), col("s_phone"), col("total_revenue").Round(2)).
		Sort(asc("s_suppkey"))
}

func q16(t *tables, _ float64) *frame.LazyFrame {
	complaints := t.get(tpch.Supplier).
		Filter(col("s_comment").ContainsRegex("Customer.*Complaints")).
		SelectColumns("s_suppkey")
	return t.get(tpch.Part).
		Filter(
			col("p_brand").Neq("Brand#45").
				And(col("p_type").StartsWith("MEDIUM POLISHED").Not()).
				And(col("p_size").IsIn(49, 14, 23, 45, 19, 3, 36, 9)),
		).
		Join(t.get(tpch.Partsupp), "p_partkey", "ps_partkey", frame.Inner).
		Join(complaints, "ps_suppkey", "s_suppkey", frame.Anti).
		GroupBy("p_brand", "p_type", "p_size").
		Agg(col("ps_suppkey").NUnique().Alias("supplier_cnt")).
		Sort(desc("supplier_cnt"), asc("p_brand"), asc("p_type"), asc("p_size"))
}

func q17(t *tables, _ float64) *frame.LazyFrame {
	lines := t.get(tpch.Part).
		Filter(col("p_brand").Eq("Brand#23").And(col("p_container").Eq("MED BOX"))).
		Join(t.get(tpch.Lineitem), "p_partkey", "l_partkey", frame.Inner)
	small := lines.GroupBy("p_partkey").Agg(col("l_quantity").Mean().Mul(0.2).Alias("small_quantity"))
	return lines.
		Join(small, "p_partkey", "p_partkey", frame.Inner).
		Filter(col("l_quantity").Lt(col("small_quantity"))).
		Select(col("l_extendedprice").Sum().Div(7.0).Round(2).Alias("avg_yearly"))
}

func q18(t *tables, _ float64) *frame.LazyFrame {
	large := t.get(tpch.Lineitem).
		GroupBy("l_orderkey").
		Agg(col("l_quantity").Sum().Alias("sum_quantity")).
		Filter(col("sum_quantity").Gt(300))
	return t.get(tpch.Orders).
		Join(large, "o_orderkey", "l_orderkey", frame.Semi).
		Join(t.get(tpch.Customer), "o_custkey", "c_custkey", frame.Inner).
		Join(t.get(tpch.Lineitem), "o_orderkey", "l_orderkey", frame.Inner).
		GroupBy("c_name", "o_custkey", "o_orderkey", "o_orderdate", "o_totalprice").
		Agg(col("l_quantity").Sum().Alias("sum_quantity")).
		Select(
			col("c_name"),
			col("o_custkey").Alias("c_custkey"),
			col("o_orderkey"),
			col("o_orderdate"),
			col("o_totalprice"),
			col("sum_quantity"),
		).
		Sort(desc("o_totalprice"), asc("o_orderdate")).
		Head(100)
}

func q19(t *tables, _ float64) *frame.LazyFrame {
	clause := func(brand string, containers []any, lo, hi, size int) frame.Expr {
		return col("p_brand").Eq(brand).
			And(col("p_container").IsIn(containers...)).
			And(col("l_quantity").IsBetween(lo, hi)).
			And(col("p_size").IsBetween(1, size))
	}
	return t.get(tpch.Lineitem).
		Join(t.get(tpch.Part), "l_partkey", "p_partkey", frame.Inner).
		Filter(
			col("l_shipmode").IsIn("AIR", "AIR REG").
				And(col("l_shipinstruct").Eq("DELIVER IN PERSON")).
				And(
					clause("Brand#12", []any{"SM CASE", "SM BOX", "SM PACK", "SM PKG"}, 1, 11, 5).
						Or(clause("Brand#23", []any{"MED BAG", "MED BOX", "MED PKG", "MED PACK"}, 10, 20, 10)).
						Or(clause("Brand#34", []any{"LG CASE", "LG BOX", "LG PACK", "LG PKG"}, 20, 30, 15)),
				),
		).
		Select(disc().Sum().Round(2).Alias("revenue"))
}

func q20(t *tables, _ float64) *frame.LazyFrame {
	shipped := t.get(tpch.Lineitem).
		Filter(col("l_shipdate").Ge(date(1994, 1, 1)).And(col("l_shipdate").Lt(date(1995, 1, 1)))).
		GroupBy("l_partkey", "l_suppkey").
		Agg(col("l_quantity").Sum().Mul(0.5).Alias("half_quantity"))
	forest := t.get(tpch.Part).Filter(col("p_name").StartsWith("forest")).SelectColumns("p_partkey")
	excess := t.get(tpch.Partsupp).
		Join(forest, "ps_partkey", "p_partkey", frame.Semi).
		JoinOn(shipped, []string{"ps_partkey", "ps_suppkey"}, []string{"l_partkey", "l_suppkey"}, frame.Inner).
		Filter(col("ps_availqty").Gt(col("half_quantity"))).
		SelectColumns("ps_suppkey")
	return t.get(tpch.Supplier).
		Join(t.get(tpch.Nation).Filter(col("n_name").Eq("CANADA")), "s_nationkey", "n_nationkey", frame.Inner).
		Join(excess, "s_suppkey", "ps_suppkey", frame.Semi).
		SelectColumns("s_name", "s_address").
		Sort(asc("s_name"))
}

func q21(t *tables, _ float64) *frame.LazyFrame {
	lineitem := t.get(tpch.Lineitem)
	shared := lineitem.
		GroupBy("l_orderkey").
		Agg(col("l_suppkey").NUnique().Alias("suppliers")).
		Filter(col("suppliers").Gt(1)).
		SelectColumns("l_orderkey")
	late := lineitem.
		Filter(col("l_receiptdate").Gt(col("l_commitdate"))).
		Join(shared, "l_orderkey", "l_orderkey", frame.Semi)
	alone := late.
		GroupBy("l_orderkey").
		Agg(col("l_suppkey").NUnique().Alias("late_suppliers")).
		Filter(col("late_suppliers").Eq(1)).
		SelectColumns("l_orderkey")
	return late.
		Join(alone, "l_orderkey", "l_orderkey", frame.Semi).
		Join(t.get(tpch.Supplier), "l_suppkey", "s_suppkey", frame.Inner).
		Join(t.get(tpch.Nation).Filter(col("n_name").Eq("SAUDI ARABIA")), "s_nationkey", "n_nationkey", frame.Inner).
		Join(t.get(tpch.Orders).Filter(col("o_orderstatus").Eq("F")), "l_orderkey", "o_orderkey", frame.Inner).
		GroupBy("s_name").
		Agg(frame.Len().Alias("numwait")).
		Sort(desc("numwait"), asc("s_name")).
		Head(100)
}

func q22(t *tables, _ float64) *frame.LazyFrame {
	customers := t.get(tpch.Customer).
		WithColumns(col("c_phone").Slice(0, 2).Alias("cntrycode")).
		Filter(col("cntrycode").IsIn("13", "31", "23", "29", "30", "18", "17"))
	average := customers.
		Filter(col("c_acctbal").Gt(0.0)).
		Select(col("c_acctbal").Mean().Alias("avg_acctbal"))
	return customers.
		Join(t.get(tpch.Orders), "c_custkey", "o_custkey", frame.Anti).
		CrossJoin(average).
		Filter(col("c_acctbal").Gt(col("avg_acctbal"))).
		GroupBy("cntrycode").
		Agg(frame.Len().Alias("numcust"), col("c_acctbal").Sum().Round(2).Alias("totacctbal")).
		Sort(asc("cntrycode"))
}
