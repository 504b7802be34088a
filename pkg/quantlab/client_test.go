package quantlab

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")

	require.NotNil(t, c)
	assert.Equal(t, "http://localhost:8080", c.baseURL, "trailing slash trimmed")
	assert.NotNil(t, c.httpClient)
}

func TestFloatJSON(t *testing.T) {
	m := Metrics{ProfitFactor: Float(math.Inf(1)), SharpeRatio: 1.5}
	b, err := json.Marshal(m)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "Infinity", raw["profit_factor"])
	assert.Equal(t, 1.5, raw["sharpe_ratio"])

	var back Metrics
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, math.IsInf(float64(back.ProfitFactor), 1))

	nan, err := json.Marshal(Float(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, "null", string(nan))
}

func TestClientBacktest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/backtest", r.URL.Path)

		var req BacktestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "AAPL", req.Ticker)
		assert.Equal(t, "macd_trend", req.StrategyID)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"metrics":{"total_return":0.1,"profit_factor":"Infinity","sharpe_ratio":0},
			"equity_curve":[{"date":"2024-01-02","equity":10000,"cash":10000,"position_value":0}],
			"trades":[]}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL).Backtest(context.Background(), BacktestRequest{
		Ticker: "AAPL", StrategyID: "macd_trend", StartDate: "2024-01-01", EndDate: "2024-06-01",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.1, float64(res.Metrics.TotalReturn))
	assert.True(t, math.IsInf(float64(res.Metrics.ProfitFactor), 1))
	require.Len(t, res.EquityCurve, 1)
	assert.Equal(t, "2024-01-02", res.EquityCurve[0].Date)
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"strategy \"blank\" is built in","kind":"read_only"}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).DeleteStrategy(context.Background(), "blank")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, KindReadOnly, apiErr.Body.Kind)
}

func TestClientPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Body.Error)
}
