// Package report assembles the rendered cost artifacts: per-dimension
// charts and tables, the multi-page PDF, and the spreadsheet export. It is
// the single presentation layer over normalized cost tables; fetching and
// normalization never render anything themselves.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cloudspend/costreport/internal/aggregate"
	"github.com/cloudspend/costreport/internal/config"
	"github.com/cloudspend/costreport/internal/fx"
	"github.com/cloudspend/costreport/internal/normalize"
	"github.com/cloudspend/costreport/internal/providers"
	"github.com/cloudspend/costreport/internal/storage"
)

// Section is one dimension's slice of the report.
type Section struct {
	Provider  normalize.Provider
	Name      string
	Table     aggregate.Table
	Complete  bool
	Skipped   int
	LoadError error // normalization failure recovered with an empty table
}

// Data is everything one report renders from.
type Data struct {
	ReportDate  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	AWSAccount  string

	Sections []Section

	AWSCycleTotal   *providers.CycleTotal
	AzureCycleTotal *providers.CycleTotal

	// Rate is nil when the rate source failed; cross-currency sections
	// are dropped and single-currency sections still render.
	Rate *fx.Rate
}

// CombinedUSD returns the cross-provider total in USD, or false when the
// conversion rate is missing and the totals span currencies.
func (d *Data) CombinedUSD() (decimal.Decimal, bool) {
	awsTotal, azureTotal := d.providerTotals()
	azureCurrency := d.currencyOf(normalize.ProviderAzure)
	if azureCurrency == "" || azureCurrency == "USD" {
		return awsTotal.Add(azureTotal), true
	}
	if d.Rate == nil || d.Rate.From != azureCurrency {
		return decimal.Zero, false
	}
	return awsTotal.Add(d.Rate.Convert(azureTotal)), true
}

func (d *Data) providerTotals() (awsTotal, azureTotal decimal.Decimal) {
	// A provider's headline number is its widest section; per-dimension
	// tables all sum to the same grand total when data is complete.
	awsTotal = d.bestTotal(normalize.ProviderAWS)
	azureTotal = d.bestTotal(normalize.ProviderAzure)
	return awsTotal, azureTotal
}

func (d *Data) bestTotal(p normalize.Provider) decimal.Decimal {
	for _, s := range d.Sections {
		if s.Provider == p && s.LoadError == nil && len(s.Table.Rows) > 1 {
			return s.Table.Total()
		}
	}
	return decimal.Zero
}

func (d *Data) currencyOf(p normalize.Provider) string {
	for _, s := range d.Sections {
		if s.Provider == p {
			if cur := s.Table.Currency(); cur != "" {
				return cur
			}
		}
	}
	return ""
}

// Builder loads snapshots from the store and renders report artifacts.
type Builder struct {
	store  storage.Store
	cfg    config.ReportConfig
	logger *zap.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(store storage.Store, cfg config.ReportConfig, logger *zap.Logger) *Builder {
	return &Builder{store: store, cfg: cfg, logger: logger}
}

// Load gathers and normalizes every snapshot for a report date. Malformed
// or empty dimensions are recovered as empty sections with a warning; they
// never abort the report.
func (b *Builder) Load(ctx context.Context, reportDate string, start, end time.Time) (*Data, error) {
	data := &Data{
		ReportDate:  reportDate,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	for _, provider := range []normalize.Provider{normalize.ProviderAWS, normalize.ProviderAzure} {
		keys, err := b.store.List(ctx, storage.DatePrefix(string(provider), reportDate))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s snapshots: %w", provider, err)
		}
		for _, key := range keys {
			name, ok := snapshotName(key)
			if !ok {
				switch path.Base(key) {
				case "billing_cycle_total.json":
					if total, terr := b.loadCycleTotal(ctx, key); terr == nil && total != nil {
						if provider == normalize.ProviderAWS {
							data.AWSCycleTotal = total
						} else {
							data.AzureCycleTotal = total
						}
					}
				case "account.json":
					if id, aerr := b.loadAccount(ctx, key); aerr == nil && provider == normalize.ProviderAWS {
						data.AWSAccount = id
					}
				}
				continue
			}

			raw, err := b.store.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
			}

			section := Section{Provider: provider, Name: name, Complete: true}
			res, err := normalize.Normalize(raw, normalize.Options{
				Provider:      provider,
				DimensionHint: name,
				PeriodStart:   start,
				PeriodEnd:     end,
			})
			switch {
			case errors.Is(err, normalize.ErrMalformedResponse) || errors.Is(err, normalize.ErrNoCostField):
				b.logger.Warn("skipping dimension, normalization failed",
					zap.String("provider", string(provider)),
					zap.String("dimension", name),
					zap.Error(err))
				section.LoadError = err
				section.Complete = false
				section.Table = aggregate.GroupSum(name, nil)
			case err != nil:
				return nil, fmt.Errorf("failed to normalize %s: %w", key, err)
			default:
				section.Table = aggregate.GroupSum(name, res.Records)
				section.Complete = res.Complete
				section.Skipped = res.Skipped
				if !res.Complete {
					b.logger.Warn("dimension normalized with gaps",
						zap.String("provider", string(provider)),
						zap.String("dimension", name),
						zap.Int("skipped", res.Skipped))
				}
			}
			data.Sections = append(data.Sections, section)
		}
	}

	return data, nil
}

// Render writes the PDF (and optionally the spreadsheet) for the loaded
// data and returns the paths written.
func (b *Builder) Render(data *Data) ([]string, error) {
	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string

	pdfPath := filepath.Join(b.cfg.OutputDir, fmt.Sprintf("cloud-cost-report-%s.pdf", data.ReportDate))
	if err := writePDF(pdfPath, data, b.cfg.TopN); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	written = append(written, pdfPath)

	if b.cfg.Excel {
		xlsxPath := filepath.Join(b.cfg.OutputDir, fmt.Sprintf("cloud-cost-report-%s.xlsx", data.ReportDate))
		if err := writeExcel(xlsxPath, data); err != nil {
			return nil, fmt.Errorf("failed to write spreadsheet: %w", err)
		}
		written = append(written, xlsxPath)
	}

	return written, nil
}

func (b *Builder) loadAccount(ctx context.Context, key string) (string, error) {
	raw, err := b.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	var doc struct {
		AccountID string `json:"account_id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	return doc.AccountID, nil
}

func (b *Builder) loadCycleTotal(ctx context.Context, key string) (*providers.CycleTotal, error) {
	raw, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var total providers.CycleTotal
	if err := json.Unmarshal(raw, &total); err != nil {
		b.logger.Warn("unreadable billing cycle total", zap.String("key", key), zap.Error(err))
		return nil, err
	}
	return &total, nil
}

// snapshotName extracts the grouping name from a raw_<name>.json key.
func snapshotName(key string) (string, bool) {
	base := path.Base(key)
	if !strings.HasPrefix(base, "raw_") || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(base, "raw_"), ".json"), true
}
