// Package providers implements cloud-specific cost data retrieval.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/cloudspend/costreport/internal/config"
)

// allRecordTypes widens the Cost Explorer filter beyond plain usage so the
// report matches the invoice, not just consumption.
var allRecordTypes = []string{
	"Usage", "Tax", "Refund", "Credit", "Discount", "DiscountedUsage",
	"SavingsPlanNegation", "SavingsPlanUpfrontFee", "SavingsPlanRecurringFee",
}

// BillingPeriod is a provider accounting period, both ends inclusive.
type BillingPeriod struct {
	Name  string `json:"name,omitempty"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// CycleTotal is the grand total for a billing cycle, persisted alongside
// the per-dimension snapshots.
type CycleTotal struct {
	TotalCost string `json:"total_cost"`
	Currency  string `json:"currency"`
}

// CostExplorer retrieves cost data from AWS Cost Explorer.
type CostExplorer struct {
	client *costexplorer.Client
	sts    *sts.Client
	cfg    config.AWSConfig
}

// NewCostExplorer builds a Cost Explorer client from a named profile or the
// default environment credential chain.
func NewCostExplorer(ctx context.Context, cfg config.AWSConfig) (*CostExplorer, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &CostExplorer{
		client: costexplorer.NewFromConfig(awsCfg),
		sts:    sts.NewFromConfig(awsCfg),
		cfg:    cfg,
	}, nil
}

// CallerIdentity returns the account ID the credentials resolve to. A
// failure here means the whole run cannot proceed.
func (c *CostExplorer) CallerIdentity(ctx context.Context) (string, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// CostByGroupings runs one get_cost_and_usage query grouped by up to two
// dimensions or tags and returns the response as raw JSON for persistence.
// Pagination is folded into a single document.
func (c *CostExplorer) CostByGroupings(ctx context.Context, start, end time.Time, groupings []config.Grouping) ([]byte, error) {
	input := c.baseInput(start, end)
	for _, g := range groupings {
		gt := types.GroupDefinitionTypeDimension
		if g.Type == "TAG" {
			gt = types.GroupDefinitionTypeTag
		}
		input.GroupBy = append(input.GroupBy, types.GroupDefinition{
			Type: gt,
			Key:  aws.String(g.Key),
		})
	}
	return c.query(ctx, input)
}

// CurrentBillingPeriod returns the calendar month containing today. AWS
// billing periods are calendar months.
func (c *CostExplorer) CurrentBillingPeriod(now time.Time) BillingPeriod {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return BillingPeriod{
		Start: first.Format("2006-01-02"),
		End:   last.Format("2006-01-02"),
	}
}

// BillingCycleTotal returns the ungrouped total for the given period.
func (c *CostExplorer) BillingCycleTotal(ctx context.Context, period BillingPeriod) (CycleTotal, error) {
	start, err := time.Parse("2006-01-02", period.Start)
	if err != nil {
		return CycleTotal{}, fmt.Errorf("bad billing period start %q: %w", period.Start, err)
	}
	end, err := time.Parse("2006-01-02", period.End)
	if err != nil {
		return CycleTotal{}, fmt.Errorf("bad billing period end %q: %w", period.End, err)
	}

	out, err := c.getCostAndUsage(ctx, c.baseInput(start, end))
	if err != nil {
		return CycleTotal{}, err
	}

	total := CycleTotal{TotalCost: "0", Currency: "USD"}
	if len(out.ResultsByTime) > 0 {
		metric := c.cfg.Metrics[0]
		if mv, ok := out.ResultsByTime[0].Total[metric]; ok {
			total.TotalCost = aws.ToString(mv.Amount)
			total.Currency = aws.ToString(mv.Unit)
		}
	}
	return total, nil
}

func (c *CostExplorer) baseInput(start, end time.Time) *costexplorer.GetCostAndUsageInput {
	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start.Format("2006-01-02")),
			End:   aws.String(end.Format("2006-01-02")),
		},
		Granularity: types.Granularity(c.cfg.Granularity),
		Metrics:     c.cfg.Metrics,
	}
	if c.cfg.AllRecordTypes {
		input.Filter = &types.Expression{
			Dimensions: &types.DimensionValues{
				Key:    types.DimensionRecordType,
				Values: allRecordTypes,
			},
		}
	}
	return input
}

func (c *CostExplorer) query(ctx context.Context, input *costexplorer.GetCostAndUsageInput) ([]byte, error) {
	out, err := c.getCostAndUsage(ctx, input)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return raw, nil
}

func (c *CostExplorer) getCostAndUsage(ctx context.Context, input *costexplorer.GetCostAndUsageInput) (*costexplorer.GetCostAndUsageOutput, error) {
	var merged *costexplorer.GetCostAndUsageOutput

	for {
		out, err := c.client.GetCostAndUsage(ctx, input)
		if err != nil {
			if isThrottle(err) {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return nil, fmt.Errorf("failed to get cost data: %w", err)
		}

		if merged == nil {
			merged = out
		} else {
			merged.ResultsByTime = append(merged.ResultsByTime, out.ResultsByTime...)
		}

		if out.NextPageToken == nil {
			break
		}
		input.NextPageToken = out.NextPageToken
	}

	merged.NextPageToken = nil
	return merged, nil
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "LimitExceededException", "TooManyRequestsException":
			return true
		}
	}
	return false
}
