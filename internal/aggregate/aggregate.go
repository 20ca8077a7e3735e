// Package aggregate groups and sums normalized cost records into the tables
// the presentation layer renders.
package aggregate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cloudspend/costreport/internal/normalize"
)

// TotalLabel names the synthetic row appended to every table.
const TotalLabel = "TOTAL"

// Row is one grouped-and-summed line of a cost table.
type Row struct {
	Dimension    string
	SubDimension string
	Amount       decimal.Decimal
	Currency     string
	IsTotal      bool
}

// Table is an ordered cost breakdown: rows sorted by descending amount with
// first-seen order breaking ties, followed by a synthetic TOTAL row.
type Table struct {
	Name string
	Rows []Row
}

// Total returns the amount of the synthetic TOTAL row, or zero for an
// empty table.
func (t Table) Total() decimal.Decimal {
	for i := len(t.Rows) - 1; i >= 0; i-- {
		if t.Rows[i].IsTotal {
			return t.Rows[i].Amount
		}
	}
	return decimal.Zero
}

// Currency returns the table currency: the first non-empty one seen.
func (t Table) Currency() string {
	for _, r := range t.Rows {
		if r.Currency != "" {
			return r.Currency
		}
	}
	return ""
}

// Head returns a copy of t keeping at most n data rows; the TOTAL row, if
// present, is always kept. Charts cap noisy dimensions this way.
func (t Table) Head(n int) Table {
	out := Table{Name: t.Name}
	for _, r := range t.Rows {
		if r.IsTotal {
			out.Rows = append(out.Rows, r)
			continue
		}
		if n > 0 {
			out.Rows = append(out.Rows, r)
			n--
		}
	}
	return out
}

// WithoutUntagged returns a copy of t with untagged rows removed. The TOTAL
// row is recomputed over the surviving rows.
func (t Table) WithoutUntagged() Table {
	out := Table{Name: t.Name}
	sum := decimal.Zero
	currency := t.Currency()
	for _, r := range t.Rows {
		if r.IsTotal || IsUntagged(r.Dimension) {
			continue
		}
		out.Rows = append(out.Rows, r)
		sum = sum.Add(r.Amount)
	}
	out.Rows = append(out.Rows, Row{Dimension: TotalLabel, Amount: sum, Currency: currency, IsTotal: true})
	return out
}

// IsUntagged reports whether a dimension label denotes a resource with no
// tag value.
func IsUntagged(label string) bool {
	switch strings.ToLower(label) {
	case "", "none", "null", "untagged":
		return true
	}
	return false
}

// GroupSum folds records sharing a (dimension, sub-dimension) pair into one
// row, orders rows by descending amount (stable, so equal amounts keep
// first-seen order), and appends the TOTAL row.
func GroupSum(name string, records []normalize.CostRecord) Table {
	type key struct {
		dim, sub string
	}

	idx := make(map[key]int)
	table := Table{Name: name}
	sum := decimal.Zero
	currency := ""

	for _, rec := range records {
		sum = sum.Add(rec.Amount)
		if currency == "" {
			currency = rec.Currency
		}
		k := key{rec.Dimension, rec.SubDimension}
		if i, ok := idx[k]; ok {
			table.Rows[i].Amount = table.Rows[i].Amount.Add(rec.Amount)
			continue
		}
		idx[k] = len(table.Rows)
		table.Rows = append(table.Rows, Row{
			Dimension:    rec.Dimension,
			SubDimension: rec.SubDimension,
			Amount:       rec.Amount,
			Currency:     rec.Currency,
		})
	}

	sort.SliceStable(table.Rows, func(i, j int) bool {
		return table.Rows[i].Amount.GreaterThan(table.Rows[j].Amount)
	})

	table.Rows = append(table.Rows, Row{Dimension: TotalLabel, Amount: sum, Currency: currency, IsTotal: true})
	return table
}
