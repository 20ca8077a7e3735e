package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspend/costreport/internal/config"
)

type stubTokens struct{}

func (stubTokens) GetToken(context.Context, policy.TokenRequestOptions) (azcoreAccessToken, error) {
	return azcoreAccessToken{Token: "test-token", ExpiresOn: time.Now().Add(time.Hour)}, nil
}

func testCostClient(srv *httptest.Server) *CostClient {
	return &CostClient{
		cfg: config.AzureConfig{
			SubscriptionID: "sub-123",
			APIVersion:     "2025-03-01",
		},
		httpClient: srv.Client(),
		tokens:     stubTokens{},
		baseURL:    srv.URL,
	}
}

func TestQueryByGroupingsReturnsRawBody(t *testing.T) {
	const responseBody = `{"properties":{"columns":[{"name":"ResourceGroupName"},{"name":"PreTaxCost"},{"name":"Currency"}],"rows":[["rg-prod",42.1,"USD"]]}}`

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/subscriptions/sub-123/providers/Microsoft.CostManagement/query", r.URL.Path)
		assert.Equal(t, "2025-03-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		payload, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(payload, &gotBody))
		w.Write([]byte(responseBody))
	}))
	defer srv.Close()

	client := testCostClient(srv)
	start := time.Date(2025, 8, 18, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 8, 25, 0, 0, 0, 0, time.UTC)

	raw, err := client.QueryByGroupings(context.Background(), start, end, []config.Grouping{
		{Type: "Dimension", Key: "ResourceGroupName"},
	})
	require.NoError(t, err)
	assert.Equal(t, responseBody, string(raw), "raw body is persisted untouched")

	assert.Equal(t, "Usage", gotBody["type"])
	assert.Equal(t, "Custom", gotBody["timeframe"])
	period := gotBody["timePeriod"].(map[string]any)
	assert.Equal(t, "2025-08-18T00:00:00Z", period["from"])
	assert.Equal(t, "2025-08-25T23:59:59Z", period["to"])

	dataset := gotBody["dataset"].(map[string]any)
	assert.Equal(t, "None", dataset["granularity"])
	grouping := dataset["grouping"].([]any)[0].(map[string]any)
	assert.Equal(t, "ResourceGroupName", grouping["name"])
}

func TestQueryByGroupingsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testCostClient(srv).QueryByGroupings(context.Background(), time.Now(), time.Now(), nil)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestQueryByGroupingsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testCostClient(srv).QueryByGroupings(context.Background(), time.Now(), time.Now(), nil)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestFetchWithRetryRecoversFromSingle429(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"properties":{"columns":[],"rows":[]}}`))
	}))
	defer srv.Close()

	client := testCostClient(srv)
	raw, err := FetchWithRetry(context.Background(), 0, func(ctx context.Context) ([]byte, error) {
		return client.QueryByGroupings(ctx, time.Now(), time.Now(), nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.NotEmpty(t, raw)
}

func TestCurrentBillingPeriod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/subscriptions/sub-123/providers/Microsoft.Billing/billingPeriods", r.URL.Path)
		w.Write([]byte(`{"value":[
			{"name":"202509-1","properties":{"billingPeriodStartDate":"2025-09-01","billingPeriodEndDate":"2025-10-01"}},
			{"name":"202508-1","properties":{"billingPeriodStartDate":"2025-08-01","billingPeriodEndDate":"2025-09-01"}}
		]}`))
	}))
	defer srv.Close()

	now := time.Date(2025, 8, 25, 12, 0, 0, 0, time.UTC)
	period, err := testCostClient(srv).CurrentBillingPeriod(context.Background(), now)
	require.NoError(t, err)
	require.NotNil(t, period)
	assert.Equal(t, "202508-1", period.Name)
	assert.Equal(t, "2025-08-01", period.Start)
	assert.Equal(t, "2025-08-31", period.End, "exclusive API end date becomes inclusive")
}

func TestBillingCycleTotal(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		gotBody = map[string]any{}
		require.NoError(t, json.Unmarshal(payload, &gotBody))
		w.Write([]byte(`{"properties":{"rows":[[20412.5,"INR"]]}}`))
	}))
	defer srv.Close()

	t.Run("custom period", func(t *testing.T) {
		total, err := testCostClient(srv).BillingCycleTotal(context.Background(), &BillingPeriod{
			Start: "2025-08-01", End: "2025-08-31",
		})
		require.NoError(t, err)
		assert.Equal(t, "20412.5", total.TotalCost)
		assert.Equal(t, "INR", total.Currency)
		assert.Equal(t, "Custom", gotBody["timeframe"])
	})

	t.Run("fallback to month to date", func(t *testing.T) {
		_, err := testCostClient(srv).BillingCycleTotal(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "BillingMonthToDate", gotBody["timeframe"])
		assert.Nil(t, gotBody["timePeriod"])
	})
}
