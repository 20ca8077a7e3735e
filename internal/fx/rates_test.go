package fx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudspend/costreport/internal/config"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{
		cfg:        config.FXConfig{Endpoint: srv.URL, From: "INR", To: "USD"},
		httpClient: srv.Client(),
	}
}

func TestLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/latest", r.URL.Path)
		assert.Equal(t, "INR", r.URL.Query().Get("from"))
		assert.Equal(t, "USD", r.URL.Query().Get("to"))
		w.Write([]byte(`{"amount":1.0,"base":"INR","date":"2025-08-25","rates":{"USD":0.01145}}`))
	}))
	defer srv.Close()

	rate, err := testClient(srv).Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "INR", rate.From)
	assert.Equal(t, "USD", rate.To)
	assert.Equal(t, "2025-08-25", rate.Date)
	assert.True(t, rate.Factor.Equal(decimal.NewFromFloat(0.01145)))
}

func TestLatestErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer srv.Close()

		_, err := testClient(srv).Latest(context.Background())
		assert.ErrorIs(t, err, ErrRateUnavailable)
	})

	t.Run("missing target currency", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"date":"2025-08-25","rates":{"EUR":0.011}}`))
		}))
		defer srv.Close()

		_, err := testClient(srv).Latest(context.Background())
		assert.ErrorIs(t, err, ErrRateUnavailable)
	})

	t.Run("bad json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		_, err := testClient(srv).Latest(context.Background())
		assert.ErrorIs(t, err, ErrRateUnavailable)
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := testClient(srv).Latest(context.Background())
		assert.ErrorIs(t, err, ErrRateUnavailable)
	})
}

func TestConvertAndInverse(t *testing.T) {
	rate := Rate{From: "INR", To: "USD", Factor: decimal.NewFromFloat(0.0125)}

	got := rate.Convert(decimal.NewFromInt(8000))
	assert.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)

	inv := rate.Inverse()
	assert.True(t, inv.Equal(decimal.NewFromInt(80)), "got %s", inv)

	assert.True(t, Rate{}.Inverse().IsZero())
}
