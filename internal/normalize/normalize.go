package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedResponse marks a document that matches no known response
	// shape, or an Azure document whose grouping column cannot be
	// disambiguated. Callers recover by substituting an empty result for
	// that dimension.
	ErrMalformedResponse = errors.New("malformed provider response")

	// ErrNoCostField marks an AWS group carrying no locatable amount.
	ErrNoCostField = errors.New("no cost field in response group")
)

// Shape classifies a raw provider document. Each shape has a dedicated,
// total extraction function; anything unrecognized fails closed.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeAWSGroups
	ShapeAWSTotalOnly
	ShapeAzureStandard
	ShapeAzureTagPair
)

func (s Shape) String() string {
	switch s {
	case ShapeAWSGroups:
		return "aws-groups"
	case ShapeAWSTotalOnly:
		return "aws-total-only"
	case ShapeAzureStandard:
		return "azure-standard"
	case ShapeAzureTagPair:
		return "azure-tag-pair"
	default:
		return "unknown"
	}
}

// AWS Cost Explorer response fragments, as serialized by the SDK.

type awsDateInterval struct {
	Start string `json:"Start"`
	End   string `json:"End"`
}

type awsMetricValue struct {
	Amount string `json:"Amount"`
	Unit   string `json:"Unit"`
}

type awsGroup struct {
	Keys    []string                  `json:"Keys"`
	Metrics map[string]awsMetricValue `json:"Metrics"`
}

type awsResultByTime struct {
	TimePeriod *awsDateInterval          `json:"TimePeriod"`
	Total      map[string]awsMetricValue `json:"Total"`
	Groups     []awsGroup                `json:"Groups"`
}

// Azure Cost Management query response fragments.

type azureColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type azureProperties struct {
	Columns []azureColumn `json:"columns"`
	Rows    [][]any       `json:"rows"`
}

type rawDocument struct {
	ResultsByTime []awsResultByTime `json:"ResultsByTime"`
	Properties    *azureProperties  `json:"properties"`
}

// DetectShape classifies raw JSON into one of the known response shapes.
func DetectShape(raw []byte) (Shape, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ShapeUnknown, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return detectShape(&doc), nil
}

func detectShape(doc *rawDocument) Shape {
	if len(doc.ResultsByTime) > 0 {
		for _, bucket := range doc.ResultsByTime {
			if len(bucket.Groups) > 0 {
				return ShapeAWSGroups
			}
		}
		for _, bucket := range doc.ResultsByTime {
			if len(bucket.Total) > 0 {
				return ShapeAWSTotalOnly
			}
		}
		// Buckets with neither groups nor totals still carry the AWS
		// envelope; treat as the grouped shape with nothing in it.
		return ShapeAWSGroups
	}
	if doc.Properties != nil && len(doc.Properties.Columns) > 0 {
		var hasKey, hasValue bool
		for _, col := range doc.Properties.Columns {
			switch col.Name {
			case "TagKey":
				hasKey = true
			case "TagValue":
				hasValue = true
			}
		}
		if hasKey && hasValue {
			return ShapeAzureTagPair
		}
		return ShapeAzureStandard
	}
	return ShapeUnknown
}

// Normalize converts one raw provider response into a uniform set of
// CostRecords. It is a pure function over its input: same bytes, same
// options, same result.
func Normalize(raw []byte, opts Options) (Result, error) {
	var doc rawDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	switch shape := detectShape(&doc); shape {
	case ShapeAWSGroups, ShapeAWSTotalOnly:
		return normalizeAWS(doc.ResultsByTime, opts)
	case ShapeAzureStandard:
		return normalizeAzure(doc.Properties, opts, false)
	case ShapeAzureTagPair:
		return normalizeAzure(doc.Properties, opts, true)
	default:
		return Result{}, fmt.Errorf("%w: neither ResultsByTime nor properties.columns present", ErrMalformedResponse)
	}
}

func normalizeAWS(buckets []awsResultByTime, opts Options) (Result, error) {
	res := Result{Complete: true}

	for _, bucket := range buckets {
		start, end := bucketWindow(bucket.TimePeriod, opts)

		if len(bucket.Groups) == 0 {
			if len(bucket.Total) == 0 {
				// Nothing attributable in this bucket.
				res.Skipped++
				res.Complete = false
				continue
			}
			// Total-only bucket: one implicit group with a blank label.
			amount, unit, err := probeAmount(bucket.Total)
			if err != nil {
				return Result{}, err
			}
			res.Records = append(res.Records, CostRecord{
				Amount:      amount,
				Currency:    unit,
				PeriodStart: start,
				PeriodEnd:   end,
			})
			continue
		}

		for _, group := range bucket.Groups {
			amount, unit, err := probeAmount(group.Metrics)
			if err != nil {
				return Result{}, err
			}
			rec := CostRecord{
				Amount:      amount,
				Currency:    unit,
				PeriodStart: start,
				PeriodEnd:   end,
			}
			if len(group.Keys) > 0 {
				rec.Dimension = dimensionLabel(group.Keys[0])
			} else {
				rec.Dimension = Untagged
			}
			if len(group.Keys) > 1 {
				rec.SubDimension = dimensionLabel(group.Keys[1])
			}
			res.Records = append(res.Records, rec)
		}
	}

	return res, nil
}

// probeAmount locates the cost metric in an AWS metrics map: AmortizedCost
// first, then the remaining metrics in sorted-name order so the choice is
// deterministic. The first entry with a parseable Amount wins.
func probeAmount(metrics map[string]awsMetricValue) (decimal.Decimal, string, error) {
	if mv, ok := metrics["AmortizedCost"]; ok {
		if amount, err := decimal.NewFromString(mv.Amount); err == nil {
			return amount, mv.Unit, nil
		}
	}

	names := make([]string, 0, len(metrics))
	for name := range metrics {
		if name == "AmortizedCost" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		mv := metrics[name]
		if amount, err := decimal.NewFromString(mv.Amount); err == nil {
			return amount, mv.Unit, nil
		}
	}
	return decimal.Zero, "", ErrNoCostField
}

func bucketWindow(tp *awsDateInterval, opts Options) (time.Time, time.Time) {
	start, end := opts.PeriodStart, opts.PeriodEnd
	if tp != nil {
		if t, err := time.Parse("2006-01-02", tp.Start); err == nil {
			start = t
		}
		if t, err := time.Parse("2006-01-02", tp.End); err == nil {
			end = t
		}
	}
	return start, end
}

func normalizeAzure(props *azureProperties, opts Options, tagPair bool) (Result, error) {
	costIdx, currencyIdx := -1, -1
	for i, col := range props.Columns {
		if costIdx < 0 && strings.Contains(strings.ToLower(col.Name), "cost") {
			costIdx = i
		}
		if currencyIdx < 0 && strings.Contains(strings.ToLower(col.Name), "currency") {
			currencyIdx = i
		}
	}
	if costIdx < 0 {
		return Result{}, fmt.Errorf("%w: no cost column among %v", ErrMalformedResponse, columnNames(props.Columns))
	}

	dimIdx, subIdx, err := resolveDimensionColumn(props.Columns, costIdx, currencyIdx, opts.DimensionHint, tagPair)
	if err != nil {
		return Result{}, err
	}

	res := Result{Complete: true}
	for _, row := range props.Rows {
		if costIdx >= len(row) || dimIdx >= len(row) {
			res.Skipped++
			res.Complete = false
			continue
		}
		amount, ok := cellAmount(row[costIdx])
		if !ok {
			res.Skipped++
			res.Complete = false
			continue
		}
		rec := CostRecord{
			Dimension:   dimensionLabel(cellString(row[dimIdx])),
			Amount:      amount,
			PeriodStart: opts.PeriodStart,
			PeriodEnd:   opts.PeriodEnd,
		}
		if currencyIdx >= 0 && currencyIdx < len(row) {
			rec.Currency = cellString(row[currencyIdx])
		}
		if subIdx >= 0 && subIdx < len(row) {
			rec.SubDimension = cellString(row[subIdx])
		}
		res.Records = append(res.Records, rec)
	}
	return res, nil
}

// resolveDimensionColumn picks the grouping column: an exact match against
// the caller's hint, then TagValue for tag-pair responses, then whichever
// single column is neither cost nor currency. Two or more leftover
// candidates with no hint match is ambiguous and fails closed.
func resolveDimensionColumn(cols []azureColumn, costIdx, currencyIdx int, hint string, tagPair bool) (dimIdx, subIdx int, err error) {
	dimIdx, subIdx = -1, -1

	if hint != "" {
		for i, col := range cols {
			if col.Name == hint {
				return i, -1, nil
			}
		}
	}

	if tagPair {
		for i, col := range cols {
			if col.Name == "TagValue" {
				dimIdx = i
				break
			}
		}
		if dimIdx < 0 {
			return -1, -1, fmt.Errorf("%w: TagValue column missing from tag-pair response", ErrMalformedResponse)
		}
		// One leftover column beyond cost/currency/TagKey/TagValue is a
		// secondary grouping axis (tag crossed with a dimension).
		var leftovers []int
		for i, col := range cols {
			if i == dimIdx || i == costIdx || i == currencyIdx || col.Name == "TagKey" {
				continue
			}
			leftovers = append(leftovers, i)
		}
		if len(leftovers) == 1 {
			subIdx = leftovers[0]
		}
		return dimIdx, subIdx, nil
	}

	var candidates []int
	for i := range cols {
		if i == costIdx || i == currencyIdx {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) != 1 {
		return -1, -1, fmt.Errorf("%w: cannot disambiguate grouping column among %v (hint %q)",
			ErrMalformedResponse, columnNames(cols), hint)
	}
	return candidates[0], -1, nil
}

func columnNames(cols []azureColumn) []string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return names
}

// cellAmount accepts the two encodings Azure uses for cost cells.
func cellAmount(v any) (decimal.Decimal, bool) {
	switch c := v.(type) {
	case float64:
		return decimal.NewFromFloat(c), true
	case string:
		if d, err := decimal.NewFromString(c); err == nil {
			return d, true
		}
	case json.Number:
		if d, err := decimal.NewFromString(c.String()); err == nil {
			return d, true
		}
	}
	return decimal.Zero, false
}

func cellString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return decimal.NewFromFloat(s).String()
	default:
		return fmt.Sprint(s)
	}
}

func dimensionLabel(s string) string {
	if s == "" {
		return Untagged
	}
	return s
}
