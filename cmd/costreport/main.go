// Package main provides the cloud cost report batch jobs: the AWS and
// Azure snapshot pulls and the report generator. Each mode is a single
// run-to-completion job meant to be driven by an external scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/cloudspend/costreport/internal/config"
	"github.com/cloudspend/costreport/internal/fx"
	"github.com/cloudspend/costreport/internal/providers"
	"github.com/cloudspend/costreport/internal/report"
	"github.com/cloudspend/costreport/internal/storage"
)

const reportDateFormat = "02-01-2006"

// Flags holds command-line options.
type Flags struct {
	Mode       string // aws-pull, azure-pull, report
	ConfigPath string
	Date       string // report date, DD-MM-YYYY; defaults to today
	Tags       string // extra tag keys to group by, comma separated
	Verbose    bool
}

func main() {
	flags := parseFlags()

	var logger *zap.Logger
	var err error
	if flags.Verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Starting cost report job",
		zap.String("mode", flags.Mode),
		zap.String("config", flags.ConfigPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received shutdown signal")
		cancel()
	}()

	var execErr error
	switch flags.Mode {
	case "aws-pull":
		execErr = runAWSPull(ctx, cfg, flags, logger)
	case "azure-pull":
		execErr = runAzurePull(ctx, cfg, flags, logger)
	case "report":
		execErr = runReport(ctx, cfg, flags, logger)
	default:
		logger.Fatal("Unknown mode", zap.String("mode", flags.Mode))
	}

	if execErr != nil {
		logger.Error("Job failed", zap.Error(execErr))
		os.Exit(1)
	}

	logger.Info("Cost report job complete")
}

func parseFlags() *Flags {
	flags := &Flags{}

	flag.StringVar(&flags.Mode, "mode", "report", "Mode: aws-pull, azure-pull, report")
	flag.StringVar(&flags.ConfigPath, "config", "configs/config.yaml", "Path to config file")
	flag.StringVar(&flags.Date, "date", time.Now().Format(reportDateFormat), "Report date (DD-MM-YYYY)")
	flag.StringVar(&flags.Tags, "tags", "", "Extra tag keys to group by, comma separated")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	return flags
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "local":
		return storage.NewLocalStore(cfg.Dir)
	case "s3":
		return storage.NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// reportWindow is the rolling 7-day window ending on the report date.
func reportWindow(date string) (start, end time.Time, err error) {
	end, err = time.Parse(reportDateFormat, date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("bad report date %q: %w", date, err)
	}
	return end.AddDate(0, 0, -7), end, nil
}

func extraTags(flags *Flags) []string {
	var tags []string
	for _, tag := range strings.Split(flags.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// runAWSPull queries Cost Explorer once per grouping, persisting each raw
// response, then the billing-cycle total.
func runAWSPull(ctx context.Context, cfg *config.Config, flags *Flags, logger *zap.Logger) error {
	if !cfg.AWS.Enabled {
		return errors.New("AWS pull requested but aws.enabled is false")
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	ce, err := providers.NewCostExplorer(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	// Credential problems abort the whole run up front.
	account, err := ce.CallerIdentity(ctx)
	if err != nil {
		return err
	}
	logger.Info("AWS credentials resolved", zap.String("account", account))

	accountDoc, _ := json.Marshal(map[string]string{"account_id": account})
	if err := store.Put(ctx, storage.MetaKey("aws", flags.Date, "account"), accountDoc); err != nil {
		return err
	}

	start, end, err := reportWindow(flags.Date)
	if err != nil {
		return err
	}

	groupings := cfg.AWS.Groupings
	for _, tag := range extraTags(flags) {
		groupings = append(groupings, config.Grouping{Type: "TAG", Key: tag})
	}

	pulls := make([]pull, 0, len(groupings)+2)
	for _, g := range groupings {
		g := g
		pulls = append(pulls, pull{
			name: g.Key,
			fetch: func(ctx context.Context) ([]byte, error) {
				return ce.CostByGroupings(ctx, start, end, []config.Grouping{g})
			},
		})
	}
	// Two-dimension breakdowns mirror the Azure report: project tag
	// crossed with region and with usage type (Cost Explorer exposes no
	// resource-id dimension).
	pulls = append(pulls,
		pull{
			name: "project_by_region",
			fetch: func(ctx context.Context) ([]byte, error) {
				return ce.CostByGroupings(ctx, start, end, []config.Grouping{
					{Type: "TAG", Key: "Project"},
					{Type: "DIMENSION", Key: "REGION"},
				})
			},
		},
		pull{
			name: "project_by_resource",
			fetch: func(ctx context.Context) ([]byte, error) {
				return ce.CostByGroupings(ctx, start, end, []config.Grouping{
					{Type: "TAG", Key: "Project"},
					{Type: "DIMENSION", Key: "USAGE_TYPE"},
				})
			},
		},
	)

	if err := runPulls(ctx, store, "aws", flags.Date, pulls, cfg.AWS.Throttle, logger); err != nil {
		return err
	}

	period := ce.CurrentBillingPeriod(time.Now())
	if err := putJSON(ctx, store, storage.MetaKey("aws", flags.Date, "billing_cycle_dates"), period); err != nil {
		return err
	}

	total, err := ce.BillingCycleTotal(ctx, period)
	if err != nil {
		logger.Warn("billing cycle total unavailable", zap.Error(err))
		return nil
	}
	logger.Info("Billing cycle total",
		zap.String("currency", total.Currency), zap.String("total", total.TotalCost))
	return putJSON(ctx, store, storage.MetaKey("aws", flags.Date, "billing_cycle_total"), total)
}

// runAzurePull mirrors runAWSPull against the Cost Management query API.
func runAzurePull(ctx context.Context, cfg *config.Config, flags *Flags, logger *zap.Logger) error {
	if !cfg.Azure.Enabled {
		return errors.New("Azure pull requested but azure.enabled is false")
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	client, err := providers.NewCostClient(cfg.Azure)
	if err != nil {
		return err
	}

	start, end, err := reportWindow(flags.Date)
	if err != nil {
		return err
	}

	groupings := cfg.Azure.Groupings
	for _, tag := range extraTags(flags) {
		if !strings.EqualFold(tag, "project") {
			groupings = append(groupings, config.Grouping{Type: "TagKey", Key: tag})
		}
	}

	pulls := make([]pull, 0, len(groupings)+2)
	for _, g := range groupings {
		g := g
		pulls = append(pulls, pull{
			name: g.Key,
			fetch: func(ctx context.Context) ([]byte, error) {
				return client.QueryByGroupings(ctx, start, end, []config.Grouping{g})
			},
		})
	}
	pulls = append(pulls,
		pull{
			name: "project_by_region",
			fetch: func(ctx context.Context) ([]byte, error) {
				return client.QueryByGroupings(ctx, start, end, []config.Grouping{
					{Type: "TagKey", Key: "project"},
					{Type: "Dimension", Key: "ResourceLocation"},
				})
			},
		},
		pull{
			name: "project_by_resource",
			fetch: func(ctx context.Context) ([]byte, error) {
				return client.QueryByGroupings(ctx, start, end, []config.Grouping{
					{Type: "TagKey", Key: "project"},
					{Type: "Dimension", Key: "ResourceId"},
				})
			},
		},
	)

	if err := runPulls(ctx, store, "azure", flags.Date, pulls, cfg.Azure.Throttle, logger); err != nil {
		return err
	}

	period, err := client.CurrentBillingPeriod(ctx, time.Now())
	if err != nil {
		logger.Warn("could not determine billing period, falling back to month-to-date", zap.Error(err))
	} else if period != nil {
		if err := putJSON(ctx, store, storage.MetaKey("azure", flags.Date, "billing_cycle_dates"), period); err != nil {
			return err
		}
		logger.Info("Current billing period",
			zap.String("start", period.Start), zap.String("end", period.End))
	}

	total, err := client.BillingCycleTotal(ctx, period)
	if err != nil {
		logger.Warn("billing cycle total unavailable", zap.Error(err))
		return nil
	}
	logger.Info("Billing cycle total",
		zap.String("currency", total.Currency), zap.String("total", total.TotalCost))
	return putJSON(ctx, store, storage.MetaKey("azure", flags.Date, "billing_cycle_total"), total)
}

// pull is one fetch-and-persist unit of work. Units are order-insensitive;
// they run sequentially only to respect vendor rate limits.
type pull struct {
	name  string
	fetch func(context.Context) ([]byte, error)
}

func runPulls(ctx context.Context, store storage.Store, provider, date string, pulls []pull, throttle config.ThrottleConfig, logger *zap.Logger) error {
	pacer := providers.NewPacer(throttle)

	for _, p := range pulls {
		if err := pacer.Wait(ctx); err != nil {
			return err
		}

		logger.Info("Querying grouping",
			zap.String("provider", provider), zap.String("grouping", p.name))

		raw, err := providers.FetchWithRetry(ctx, throttle.Long, p.fetch)
		if err != nil {
			if errors.Is(err, providers.ErrAuth) || ctx.Err() != nil {
				return err
			}
			// Per-dimension failures are isolated: log and move on.
			logger.Warn("grouping query failed, skipping",
				zap.String("provider", provider), zap.String("grouping", p.name), zap.Error(err))
			continue
		}

		key := storage.SnapshotKey(provider, date, p.name)
		if err := store.Put(ctx, key, raw); err != nil {
			return err
		}
		logger.Info("Wrote snapshot", zap.String("key", key), zap.Int("bytes", len(raw)))
	}
	return nil
}

func putJSON(ctx context.Context, store storage.Store, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return store.Put(ctx, key, data)
}

// runReport loads the day's snapshots, normalizes them, and renders the
// PDF (and spreadsheet when configured).
func runReport(ctx context.Context, cfg *config.Config, flags *Flags, logger *zap.Logger) error {
	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	start, end, err := reportWindow(flags.Date)
	if err != nil {
		return err
	}

	builder := report.NewBuilder(store, cfg.Report, logger)
	data, err := builder.Load(ctx, flags.Date, start, end)
	if err != nil {
		return err
	}
	if len(data.Sections) == 0 {
		return fmt.Errorf("no snapshots found for %s", flags.Date)
	}

	// The rate source failing must not stop single-currency rendering.
	rate, err := fx.NewClient(cfg.FX).Latest(ctx)
	if err != nil {
		logger.Warn("exchange rate unavailable, cross-currency sections dropped", zap.Error(err))
	} else {
		data.Rate = &rate
	}

	written, err := builder.Render(data)
	if err != nil {
		return err
	}
	for _, path := range written {
		logger.Info("Wrote report artifact", zap.String("path", path))
	}
	return nil
}
