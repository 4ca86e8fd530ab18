// Package tpchtest generates a small deterministic TPC-H dataset.
package tpchtest

import (
	"bufio"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sivukhin/tpch-benchmark/internal/frame"
	"github.com/sivukhin/tpch-benchmark/internal/tpch"
)

const (
	Suppliers = 25
	Parts     = 60
	Customers = 45
	Orders    = 240
)

var regions = []string{"AFRICA", "AMERICA", "ASIA", "EUROPE", "MIDDLE EAST"}

var nations = []struct {
	name   string
	region int64
}{
	{"ALGERIA", 0}, {"ARGENTINA", 1}, {"BRAZIL", 1}, {"CANADA", 1}, {"EGYPT", 4},
	{"ETHIOPIA", 0}, {"FRANCE", 3}, {"GERMANY", 3}, {"INDIA", 2}, {"INDONESIA", 2},
	{"IRAN", 4}, {"IRAQ", 4}, {"JAPAN", 2}, {"JORDAN", 4}, {"KENYA", 0},
	{"MOROCCO", 0}, {"MOZAMBIQUE", 0}, {"PERU", 1}, {"CHINA", 2}, {"ROMANIA", 3},
	{"SAUDI ARABIA", 4}, {"VIETNAM", 2}, {"RUSSIA", 3}, {"UNITED KINGDOM", 3}, {"UNITED STATES", 1},
}

var (
	colors = []string{
		"almond", "antique", "azure", "blue", "blush", "chartreuse", "forest", "green",
		"ivory", "khaki", "lace", "linen", "navy", "olive", "peach", "red", "rose", "yellow",
	}
	typeSizes   = []string{"STANDARD", "SMALL", "MEDIUM", "LARGE", "ECONOMY", "PROMO"}
	typeFinish  = []string{"ANODIZED", "BURNISHED", "PLATED", "POLISHED", "BRUSHED"}
	typeMetals  = []string{"TIN", "NICKEL", "BRASS", "STEEL", "COPPER"}
	containerA  = []string{"SM", "LG", "MED", "JUMBO", "WRAP"}
	containerB  = []string{"CASE", "BOX", "BAG", "JAR", "PKG", "PACK", "CAN", "DRUM"}
	segments    = []string{"AUTOMOBILE", "BUILDING", "FURNITURE", "MACHINERY", "HOUSEHOLD"}
	priorities  = []string{"1-URGENT", "2-HIGH", "3-MEDIUM", "4-NOT SPECIFIED", "5-LOW"}
	instructs   = []string{"DELIVER IN PERSON", "COLLECT COD", "NONE", "TAKE BACK RETURN"}
	shipModes   = []string{"REG AIR", "AIR", "RAIL", "SHIP", "TRUCK", "MAIL", "FOB"}
	commentText = []string{
		"carefully", "final", "deposits", "furiously", "regular", "accounts", "quickly",
		"pending", "ideas", "boldly", "express", "packages", "slyly", "ironic", "theodolites",
	}
)

var (
	startDate   = frame.DateOf(1992, 1, 1)
	endDate     = frame.DateOf(1998, 8, 2)
	currentDate = frame.DateOf(1995, 6, 17)
)

type generator struct {
	rng *rand.Rand
}

func (g *generator) pick(values []string) string { return values[g.rng.IntN(len(values))] }

func (g *generator) between(lo, hi int) int { return lo + g.rng.IntN(hi-lo+1) }

func (g *generator) money(lo, hi float64) float64 {
	return math.Round((lo+g.rng.Float64()*(hi-lo))*100) / 100
}

func (g *generator) comment() string {
	words := make([]string, g.between(3, 6))
	for i := range words {
		words[i] = g.pick(commentText)
	}
	return strings.Join(words, " ")
}

func phone(nation int64, g *generator) string {
	return fmt.Sprintf("%02d-%03d-%03d-%04d", nation+10, g.between(100, 999), g.between(100, 999), g.between(1000, 9999))
}

// Generate builds all eight tables from seed. The same seed always yields the
// same dataset.
func Generate(seed uint64) tpch.Preloaded {
	g := &generator{rng: rand.New(rand.NewPCG(seed, 0x5eed))}
	out := tpch.Preloaded{}

	regionKeys := make([]int64, len(regions))
	regionComments := make([]string, len(regions))
	for i := range regions {
		regionKeys[i] = int64(i)
		regionComments[i] = g.comment()
	}
	out[tpch.Region] = frame.MustNew(
		frame.NewInt64("r_regionkey", regionKeys),
		frame.NewString("r_name", regions),
		frame.NewString("r_comment", regionComments),
	)

	nationKeys := make([]int64, len(nations))
	nationNames := make([]string, len(nations))
	nationRegions := make([]int64, len(nations))
	nationComments := make([]string, len(nations))
	for i, n := range nations {
		nationKeys[i], nationNames[i], nationRegions[i] = int64(i), n.name, n.region
		nationComments[i] = g.comment()
	}
	out[tpch.Nation] = frame.MustNew(
		frame.NewInt64("n_nationkey", nationKeys),
		frame.NewString("n_name", nationNames),
		frame.NewInt64("n_regionkey", nationRegions),
		frame.NewString("n_comment", nationComments),
	)

	var (
		sKey, sNation     []int64
		sName, sAddr, sPh []string
		sAcct             []float64
		sComment          []string
	)
	for i := 1; i <= Suppliers; i++ {
		nation := int64((i - 1) % len(nations))
		comment := g.comment()
		if i%7 == 0 {
			comment = "slyly Customer bold Complaints " + comment
		}
		sKey = append(sKey, int64(i))
		sName = append(sName, fmt.Sprintf("Supplier#%09d", i))
		sAddr = append(sAddr, fmt.Sprintf("addr-%v", g.between(1000, 9999)))
		sNation = append(sNation, nation)
		sPh = append(sPh, phone(nation, g))
		sAcct = append(sAcct, g.money(-999.99, 9999.99))
		sComment = append(sComment, comment)
	}
	out[tpch.Supplier] = frame.MustNew(
		frame.NewInt64("s_suppkey", sKey),
		frame.NewString("s_name", sName),
		frame.NewString("s_address", sAddr),
		frame.NewInt64("s_nationkey", sNation),
		frame.NewString("s_phone", sPh),
		frame.NewFloat64("s_acctbal", sAcct),
		frame.NewString("s_comment", sComment),
	)

	var (
		pKey, pSize                             []int64
		pName, pMfgr, pBrand, pType, pCont, pCm []string
		pPrice                                  []float64
	)
	for i := 1; i <= Parts; i++ {
		words := make([]string, 5)
		for j := range words {
			words[j] = g.pick(colors)
		}
		m := g.between(1, 5)
		brand := fmt.Sprintf("Brand#%v%v", m, g.between(1, 5))
		typ := g.pick(typeSizes) + " " + g.pick(typeFinish) + " " + g.pick(typeMetals)
		size := int64(g.between(1, 50))
		container := g.pick(containerA) + " " + g.pick(containerB)
		// a few parts are pinned so that the selective queries match rows
		switch i % 6 {
		case 0:
			typ, size = "STANDARD PLATED BRASS", 15
		case 1:
			brand, typ, container = "Brand#23", "ECONOMY ANODIZED STEEL", "MED BOX"
		case 2:
			brand, container, size = "Brand#12", "SM CASE", 3
		case 3:
			words[0] = "forest"
		}
		pKey = append(pKey, int64(i))
		pName = append(pName, strings.Join(words, " "))
		pMfgr = append(pMfgr, fmt.Sprintf("Manufacturer#%v", m))
		pBrand = append(pBrand, brand)
		pType = append(pType, typ)
		pSize = append(pSize, size)
		pCont = append(pCont, container)
		pPrice = append(pPrice, float64(90000+(i/10)%20001+100*(i%1000))/100)
		pCm = append(pCm, g.comment())
	}
	out[tpch.Part] = frame.MustNew(
		frame.NewInt64("p_partkey", pKey),
		frame.NewString("p_name", pName),
		frame.NewString("p_mfgr", pMfgr),
		frame.NewString("p_brand", pBrand),
		frame.NewString("p_type", pType),
		frame.NewInt64("p_size", pSize),
		frame.NewString("p_container", pCont),
		frame.NewFloat64("p_retailprice", pPrice),
		frame.NewString("p_comment", pCm),
	)

	supplierOf := func(part, i int) int64 {
		return int64((part+i*(Suppliers/4+(part-1)/Suppliers))%Suppliers + 1)
	}
	var (
		psPart, psSupp, psQty []int64
		psCost                []float64
		psComment             []string
	)
	for p := 1; p <= Parts; p++ {
		for i := 0; i < 4; i++ {
			psPart = append(psPart, int64(p))
			psSupp = append(psSupp, supplierOf(p, i))
			psQty = append(psQty, int64(g.between(1, 9999)))
			psCost = append(psCost, g.money(1, 1000))
			psComment = append(psComment, g.comment())
		}
	}
	out[tpch.Partsupp] = frame.MustNew(
		frame.NewInt64("ps_partkey", psPart),
		frame.NewInt64("ps_suppkey", psSupp),
		frame.NewInt64("ps_availqty", psQty),
		frame.NewFloat64("ps_supplycost", psCost),
		frame.NewString("ps_comment", psComment),
	)

	var (
		cKey, cNation                     []int64
		cName, cAddr, cPh, cSeg, cComment []string
		cAcct                             []float64
	)
	for i := 1; i <= Customers; i++ {
		nation := int64(g.rng.IntN(len(nations)))
		cKey = append(cKey, int64(i))
		cName = append(cName, fmt.Sprintf("Customer#%09d", i))
		cAddr = append(cAddr, fmt.Sprintf("addr-%v", g.between(1000, 9999)))
		cNation = append(cNation, nation)
		cPh = append(cPh, phone(nation, g))
		cAcct = append(cAcct, g.money(-999.99, 9999.99))
		cSeg = append(cSeg, g.pick(segments))
		cComment = append(cComment, g.comment())
	}
	out[tpch.Customer] = frame.MustNew(
		frame.NewInt64("c_custkey", cKey),
		frame.NewString("c_name", cName),
		frame.NewString("c_address", cAddr),
		frame.NewInt64("c_nationkey", cNation),
		frame.NewString("c_phone", cPh),
		frame.NewFloat64("c_acctbal", cAcct),
		frame.NewString("c_mktsegment", cSeg),
		frame.NewString("c_comment", cComment),
	)

	var (
		oKey, oCust, oDate, oShipPrio       []int64
		oStatus, oPrio, oClerk, oComment    []string
		oTotal                              []float64
		lOrder, lPart, lSupp, lLine         []int64
		lQty, lPrice, lDisc, lTax           []float64
		lFlag, lStatus, lInstr, lMode, lCmt []string
		lShip, lCommit, lReceipt            []int64
	)
	for i := 1; i <= Orders; i++ {
		// every third customer never orders
		cust := int64(g.between(1, Customers))
		for cust%3 == 0 {
			cust = int64(g.between(1, Customers))
		}
		orderDate := startDate + int64(g.rng.IntN(int(endDate-startDate-151)))
		comment := g.comment()
		if i%9 == 0 {
			comment = "ironic special pending requests " + comment
		}
		var total float64
		open, filled := 0, 0
		lines := g.between(1, 7)
		large := i%60 == 0
		if large {
			lines = 7
		}
		for l := 1; l <= lines; l++ {
			part := g.between(1, Parts)
			qty := float64(g.between(1, 50))
			if large {
				qty = 45 + float64(int(qty)%6)
			}
			price := qty * pPrice[part-1]
			disc := float64(g.between(0, 10)) / 100
			tax := float64(g.between(0, 8)) / 100
			ship := orderDate + int64(g.between(1, 121))
			commit := orderDate + int64(g.between(30, 90))
			receipt := ship + int64(g.between(1, 30))
			flag := "N"
			if receipt <= currentDate {
				flag = g.pick([]string{"R", "A"})
			}
			status := "O"
			if ship <= currentDate {
				status = "F"
				filled++
			} else {
				open++
			}
			total += price * (1 + tax) * (1 - disc)

			lOrder = append(lOrder, int64(i))
			lPart = append(lPart, int64(part))
			lSupp = append(lSupp, supplierOf(part, g.rng.IntN(4)))
			lLine = append(lLine, int64(l))
			lQty = append(lQty, qty)
			lPrice = append(lPrice, price)
			lDisc = append(lDisc, disc)
			lTax = append(lTax, tax)
			lFlag = append(lFlag, flag)
			lStatus = append(lStatus, status)
			lShip = append(lShip, ship)
			lCommit = append(lCommit, commit)
			lReceipt = append(lReceipt, receipt)
			lInstr = append(lInstr, g.pick(instructs))
			lMode = append(lMode, g.pick(shipModes))
			lCmt = append(lCmt, g.comment())
		}
		status := "P"
		switch {
		case open == 0:
			status = "F"
		case filled == 0:
			status = "O"
		}
		oKey = append(oKey, int64(i))
		oCust = append(oCust, cust)
		oStatus = append(oStatus, status)
		oTotal = append(oTotal, math.Round(total*100)/100)
		oDate = append(oDate, orderDate)
		oPrio = append(oPrio, g.pick(priorities))
		oClerk = append(oClerk, fmt.Sprintf("Clerk#%09d", g.between(1, 10)))
		oShipPrio = append(oShipPrio, 0)
		oComment = append(oComment, comment)
	}
	out[tpch.Orders] = frame.MustNew(
		frame.NewInt64("o_orderkey", oKey),
		frame.NewInt64("o_custkey", oCust),
		frame.NewString("o_orderstatus", oStatus),
		frame.NewFloat64("o_totalprice", oTotal),
		frame.NewDate("o_orderdate", oDate),
		frame.NewString("o_orderpriority", oPrio),
		frame.NewString("o_clerk", oClerk),
		frame.NewInt64("o_shippriority", oShipPrio),
		frame.NewString("o_comment", oComment),
	)
	out[tpch.Lineitem] = frame.MustNew(
		frame.NewInt64("l_orderkey", lOrder),
		frame.NewInt64("l_partkey", lPart),
		frame.NewInt64("l_suppkey", lSupp),
		frame.NewInt64("l_linenumber", lLine),
		frame.NewFloat64("l_quantity", lQty),
		frame.NewFloat64("l_extendedprice", lPrice),
		frame.NewFloat64("l_discount", lDisc),
		frame.NewFloat64("l_tax", lTax),
		frame.NewString("l_returnflag", lFlag),
		frame.NewString("l_linestatus", lStatus),
		frame.NewDate("l_shipdate", lShip),
		frame.NewDate("l_commitdate", lCommit),
		frame.NewDate("l_receiptdate", lReceipt),
		frame.NewString("l_shipinstruct", lInstr),
		frame.NewString("l_shipmode", lMode),
		frame.NewString("l_comment", lCmt),
	)
	return out
}

// WriteTbl writes the given tables of data to dir the way dbgen does: one
// <table><suffix> file per table, '|' separated, each row ending with '|'.
func WriteTbl(dir string, data tpch.Preloaded, suffix string, tables ...string) error {
	for _, table := range tables {
		df, ok := data[table]
		if !ok {
			return fmt.Errorf("%w: %q", tpch.ErrUnknownTable, table)
		}
		if err := writeTbl(filepath.Join(dir, table+suffix), df); err != nil {
			return err
		}
	}
	return nil
}

func writeTbl(path string, df *frame.DataFrame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	for i := 0; i < df.Height(); i++ {
		for j := 0; j < df.Width(); j++ {
			column := df.ColumnAt(j)
			switch v := column.Value(i).(type) {
			case float64:
				fmt.Fprintf(w, "%.2f|", v)
			case time.Time:
				fmt.Fprintf(w, "%v|", v.Format(time.DateOnly))
			default:
				fmt.Fprintf(w, "%v|", v)
			}
		}
		w.WriteString("\n")
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}
