// Package normalize converts provider-native billing responses into a
// uniform tabular cost model.
package normalize

import (
	"time"

	"github.com/shopspring/decimal"
)

// Untagged is the sentinel label for resources lacking a queried tag value.
const Untagged = "Untagged"

// Provider identifies the cloud whose response shape is being normalized.
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderAzure Provider = "azure"
)

// CostRecord is one row of the uniform cost table: a grouping label and the
// spend attributed to it over the queried window. Amounts keep full precision
// internally; display formatting is the presentation layer's problem.
// Negative amounts are legitimate (credits, refunds).
type CostRecord struct {
	Dimension    string          `json:"dimension"`
	SubDimension string          `json:"sub_dimension,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
}

// Options selects the extraction path for Normalize.
type Options struct {
	Provider Provider

	// DimensionHint is the caller-supplied grouping key name, matched
	// against Azure response columns. Ignored for AWS.
	DimensionHint string

	// The queried window, used when the response carries no usable
	// time period of its own.
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Result is the output of one normalization pass. Complete is false when the
// response contained buckets or rows that contributed nothing (missing
// totals, unparseable cost cells); Skipped counts them. Callers should
// surface incompleteness rather than present a silently understated total.
type Result struct {
	Records  []CostRecord
	Complete bool
	Skipped  int
}

// Total sums all record amounts.
func (r Result) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, rec := range r.Records {
		sum = sum.Add(rec.Amount)
	}
	return sum
}

// Currency returns the batch currency: the first non-empty currency seen.
// A batch is assumed, not verified, to be single-currency.
func (r Result) Currency() string {
	for _, rec := range r.Records {
		if rec.Currency != "" {
			return rec.Currency
		}
	}
	return ""
}
