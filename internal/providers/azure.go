package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/cloudspend/costreport/internal/config"
)

// ErrAuth marks a credential or token failure. It aborts the whole run.
var ErrAuth = errors.New("provider authentication failed")

const managementScope = "https://management.azure.com/.default"

// tokenSource abstracts credential acquisition so tests can stub it.
type tokenSource interface {
	GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcoreAccessToken, error)
}

type azcoreAccessToken struct {
	Token     string
	ExpiresOn time.Time
}

type cliTokenSource struct {
	cred *azidentity.AzureCLICredential
}

func (s *cliTokenSource) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcoreAccessToken, error) {
	tok, err := s.cred.GetToken(ctx, opts)
	if err != nil {
		return azcoreAccessToken{}, err
	}
	return azcoreAccessToken{Token: tok.Token, ExpiresOn: tok.ExpiresOn}, nil
}

// CostClient issues Cost Management query calls for one subscription. It
// talks REST rather than the ARM SDK because the raw response body is
// persisted byte-for-byte as the snapshot of record.
type CostClient struct {
	cfg        config.AzureConfig
	httpClient *http.Client
	tokens     tokenSource
	baseURL    string

	token       string
	tokenExpiry time.Time
}

// NewCostClient builds a client authenticating through the Azure CLI
// credential, matching how the report host is provisioned.
func NewCostClient(cfg config.AzureConfig) (*CostClient, error) {
	var opts *azidentity.AzureCLICredentialOptions
	if cfg.TenantID != "" {
		opts = &azidentity.AzureCLICredentialOptions{TenantID: cfg.TenantID}
	}
	cred, err := azidentity.NewAzureCLICredential(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	return &CostClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     &cliTokenSource{cred: cred},
		baseURL:    "https://management.azure.com",
	}, nil
}

func (c *CostClient) authenticate(ctx context.Context) error {
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return nil
	}
	tok, err := c.tokens.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	c.token = tok.Token
	c.tokenExpiry = tok.ExpiresOn.Add(-time.Minute)
	return nil
}

type azureQueryBody struct {
	Type       string           `json:"type"`
	Timeframe  string           `json:"timeframe"`
	TimePeriod *azureTimePeriod `json:"timePeriod,omitempty"`
	Dataset    azureDataset     `json:"dataset"`
}

type azureTimePeriod struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type azureDataset struct {
	Granularity string                 `json:"granularity"`
	Aggregation map[string]azureAggDef `json:"aggregation"`
	Grouping    []azureGroupingDef     `json:"grouping,omitempty"`
}

type azureAggDef struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

type azureGroupingDef struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// QueryByGroupings runs one CostManagement/query call grouped by up to two
// dimensions or tag keys and returns the raw response body.
func (c *CostClient) QueryByGroupings(ctx context.Context, start, end time.Time, groupings []config.Grouping) ([]byte, error) {
	body := azureQueryBody{
		Type:      "Usage",
		Timeframe: "Custom",
		TimePeriod: &azureTimePeriod{
			From: start.Format("2006-01-02") + "T00:00:00Z",
			To:   end.Format("2006-01-02") + "T23:59:59Z",
		},
		Dataset: azureDataset{
			Granularity: "None",
			Aggregation: map[string]azureAggDef{
				"totalCost": {Name: "PreTaxCost", Function: "Sum"},
			},
		},
	}
	for _, g := range groupings {
		body.Dataset.Grouping = append(body.Dataset.Grouping, azureGroupingDef{Type: g.Type, Name: g.Key})
	}
	return c.postQuery(ctx, body)
}

// BillingCycleTotal returns the ungrouped subscription total for a billing
// period, falling back to the BillingMonthToDate timeframe when no period
// could be determined.
func (c *CostClient) BillingCycleTotal(ctx context.Context, period *BillingPeriod) (CycleTotal, error) {
	body := azureQueryBody{
		Type:      "Usage",
		Timeframe: "BillingMonthToDate",
		Dataset: azureDataset{
			Granularity: "None",
			Aggregation: map[string]azureAggDef{
				"totalCost": {Name: "PreTaxCost", Function: "Sum"},
			},
		},
	}
	if period != nil {
		body.Timeframe = "Custom"
		body.TimePeriod = &azureTimePeriod{
			From: period.Start + "T00:00:00Z",
			To:   period.End + "T23:59:59Z",
		}
	}

	raw, err := c.postQuery(ctx, body)
	if err != nil {
		return CycleTotal{}, err
	}

	var resp struct {
		Properties struct {
			Rows [][]any `json:"rows"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CycleTotal{}, fmt.Errorf("failed to decode cycle total: %w", err)
	}

	total := CycleTotal{TotalCost: "0", Currency: "USD"}
	if len(resp.Properties.Rows) > 0 && len(resp.Properties.Rows[0]) >= 2 {
		row := resp.Properties.Rows[0]
		if v, ok := row[0].(float64); ok {
			total.TotalCost = fmt.Sprintf("%v", v)
		}
		if s, ok := row[1].(string); ok {
			total.Currency = s
		}
	}
	return total, nil
}

// CurrentBillingPeriod resolves the open billing period for the
// subscription. The API reports an exclusive end date; the returned period
// is inclusive on both ends.
func (c *CostClient) CurrentBillingPeriod(ctx context.Context, now time.Time) (*BillingPeriod, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.Billing/billingPeriods?api-version=2018-03-01-preview&$top=6",
		c.baseURL, c.cfg.SubscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing periods: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := c.checkStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var periods struct {
		Value []struct {
			Name       string `json:"name"`
			Properties struct {
				Start string `json:"billingPeriodStartDate"`
				End   string `json:"billingPeriodEndDate"`
			} `json:"properties"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &periods); err != nil {
		return nil, fmt.Errorf("failed to decode billing periods: %w", err)
	}

	today := now.Truncate(24 * time.Hour)
	for _, p := range periods.Value {
		start, err := time.Parse("2006-01-02", p.Properties.Start)
		if err != nil {
			continue
		}
		endExclusive, err := time.Parse("2006-01-02", p.Properties.End)
		if err != nil {
			continue
		}
		end := endExclusive.AddDate(0, 0, -1)
		if !today.Before(start) && !today.After(end) {
			return &BillingPeriod{
				Name:  p.Name,
				Start: start.Format("2006-01-02"),
				End:   end.Format("2006-01-02"),
			}, nil
		}
	}
	return nil, nil
}

func (c *CostClient) postQuery(ctx context.Context, body azureQueryBody) ([]byte, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/subscriptions/%s/providers/Microsoft.CostManagement/query?api-version=%s",
		c.baseURL, c.cfg.SubscriptionID, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if err := c.checkStatus(resp.StatusCode, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *CostClient) checkStatus(status int, body []byte) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP 429", ErrRateLimited)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", ErrAuth, status, truncate(body, 200))
	default:
		return fmt.Errorf("query failed: HTTP %d: %s", status, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
