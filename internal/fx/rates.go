// Package fx fetches the daily reference exchange rate used for
// cross-currency comparison views. The rate is fetched once per report
// generation and never cached across runs.
package fx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudspend/costreport/internal/config"
)

// ErrRateUnavailable marks a failed rate lookup. Cross-currency sections of
// the report are dropped; single-currency sections still render.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Rate is one day's reference conversion factor from From to To.
type Rate struct {
	From   string
	To     string
	Factor decimal.Decimal
	Date   string
}

// Convert applies the rate to an amount denominated in From.
func (r Rate) Convert(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.Factor)
}

// Inverse returns the To→From factor, for captions like
// "$1 USD = INR 83.20".
func (r Rate) Inverse() decimal.Decimal {
	if r.Factor.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(r.Factor, 6)
}

// Client fetches rates from a Frankfurter-style endpoint serving ECB
// reference rates.
type Client struct {
	cfg        config.FXConfig
	httpClient *http.Client
}

// NewClient builds a rate client.
func NewClient(cfg config.FXConfig) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Latest fetches the most recent daily rate.
func (c *Client) Latest(ctx context.Context) (Rate, error) {
	u := fmt.Sprintf("%s/latest?%s", c.cfg.Endpoint, url.Values{
		"from": {c.cfg.From},
		"to":   {c.cfg.To},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Rate{}, fmt.Errorf("%w: HTTP %d", ErrRateUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Rate{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	var payload struct {
		Date  string             `json:"date"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Rate{}, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	factor, ok := payload.Rates[c.cfg.To]
	if !ok {
		return Rate{}, fmt.Errorf("%w: no %s rate in response", ErrRateUnavailable, c.cfg.To)
	}

	return Rate{
		From:   c.cfg.From,
		To:     c.cfg.To,
		Factor: decimal.NewFromFloat(factor),
		Date:   payload.Date,
	}, nil
}
