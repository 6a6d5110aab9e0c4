package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/model"
	"arbwatch/internal/monitor"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubService struct {
	*config.Store
	opps      []model.SpreadOpportunity
	oppsErr   error
	alerts    []model.Alert
	gotFilter database.OpportunityFilter
	gotLimit  int
	gotAlerts monitor.AlertFilter
}

func (s *stubService) Status() monitor.Status {
	return monitor.Status{Exchanges: []string{"alpha", "bravo"}, Ticks: 7, LastSuccessfulTick: t0}
}

func (s *stubService) ListOpportunities(_ context.Context, f database.OpportunityFilter) ([]model.SpreadOpportunity, error) {
	s.gotFilter = f
	return s.opps, s.oppsErr
}

func (s *stubService) ListAlerts(limit int, f monitor.AlertFilter) []model.Alert {
	s.gotLimit, s.gotAlerts = limit, f
	return s.alerts
}

func (s *stubService) Config() config.Snapshot {
	return s.Store.Snapshot().Clone()
}

func newTestServer(t *testing.T) (*httptest.Server, *stubService) {
	t.Helper()
	store, err := config.NewStore(
		model.AlertRule{MinNetSpread: d("1000"), MinVolume: d("0.01"), CooldownSeconds: 300},
		map[string]model.FeeProfile{"alpha": {TakerPercent: d("0.001"), WithdrawalFee: decimal.Zero}},
	)
	require.NoError(t, err)
	svc := &stubService{Store: store}

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "arbwatch_up 1\n")
	})
	srv := NewServer(Config{Addr: ":0", CORSOrigins: []string{"http://dash.local"}, Metrics: metrics},
		svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/status", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(7), body["ticks"])
	assert.Equal(t, "2024-05-01T12:00:00Z", body["last_successful_tick"])
}

func TestListOpportunities(t *testing.T) {
	ts, svc := newTestServer(t)
	svc.opps = []model.SpreadOpportunity{{
		Instrument: "BTC_JPY", BuyExchange: "alpha", SellExchange: "bravo",
		NetSpread: d("2197.5"), Volume: d("0.05"), Timestamp: t0,
	}}

	resp, body := do(t, http.MethodGet,
		ts.URL+"/api/v1/opportunities?min_net_spread=1000&min_volume=0.01&buy_exchange=Alpha&instrument=btc_jpy&limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	opps := body["opportunities"].([]any)
	first := opps[0].(map[string]any)
	assert.Equal(t, "2197.5", first["net_spread"])

	assert.True(t, svc.gotFilter.MinNetSpread.Valid)
	assert.True(t, svc.gotFilter.MinNetSpread.Decimal.Equal(d("1000")))
	assert.Equal(t, "alpha", svc.gotFilter.BuyExchange)
	assert.Equal(t, "BTC_JPY", svc.gotFilter.Instrument)
	assert.Equal(t, 10, svc.gotFilter.Limit)
}

func TestListOpportunities_BadParams(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, q := range []string{"min_net_spread=abc", "min_volume=x", "limit=-1", "limit=ten"} {
		resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/opportunities?"+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, body["error"], q)
	}
}

func TestListOpportunities_EmptyAndFailure(t *testing.T) {
	ts, svc := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/opportunities", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{}, body["opportunities"])
	assert.Equal(t, 50, svc.gotFilter.Limit)

	svc.oppsErr = errors.New("disk gone")
	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/opportunities", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestListAlerts(t *testing.T) {
	ts, svc := newTestServer(t)
	svc.alerts = []model.Alert{{ID: "a1", FiredAt: t0}}

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/alerts?limit=1000&exchange=bravo&min_net_spread=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 500, svc.gotLimit)
	assert.Equal(t, "bravo", svc.gotAlerts.Exchange)
	assert.True(t, svc.gotAlerts.MinNetSpread.Decimal.Equal(d("5")))
}

func TestGetConfig(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rule := body["alert_rule"].(map[string]any)
	assert.Equal(t, "1000", rule["min_net_spread"])
	assert.Contains(t, body["fee_profiles"], "alpha")
	assert.Equal(t, float64(1), body["version"])
}

func TestUpdateAlertRule(t *testing.T) {
	ts, svc := newTestServer(t)

	resp, body := do(t, http.MethodPut, ts.URL+"/api/v1/config/alert-rule",
		`{"min_net_spread":"500","min_volume":0.02,"cooldown_seconds":60}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["version"])

	rule := svc.Snapshot().AlertRule
	assert.True(t, rule.MinNetSpread.Equal(d("500")))
	assert.True(t, rule.MinVolume.Equal(d("0.02")))
	assert.Equal(t, 60, rule.CooldownSeconds)
}

func TestUpdateAlertRule_Rejected(t *testing.T) {
	ts, svc := newTestServer(t)

	cases := map[string]struct {
		body   string
		status int
	}{
		"malformed":      {`{"min_net_spread":`, http.StatusBadRequest},
		"missing field":  {`{"min_net_spread":"500","min_volume":"0.02"}`, http.StatusBadRequest},
		"unknown field":  {`{"min_net_spread":"1","min_volume":"1","cooldown_seconds":1,"extra":true}`, http.StatusBadRequest},
		"negative value": {`{"min_net_spread":"-1","min_volume":"0.02","cooldown_seconds":60}`, http.StatusUnprocessableEntity},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, body := do(t, http.MethodPut, ts.URL+"/api/v1/config/alert-rule", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, uint64(1), svc.Snapshot().Version, "rejected updates leave the rule in force")
}

func TestUpdateFeeProfile(t *testing.T) {
	ts, svc := newTestServer(t)

	resp, _ := do(t, http.MethodPut, ts.URL+"/api/v1/config/fee-profile/Bravo",
		`{"taker_percent":"0.002","withdrawal_fee":"150","metadata":{"note":"vip"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	p, ok := svc.Snapshot().FeeProfile("bravo")
	require.True(t, ok)
	assert.True(t, p.TakerPercent.Equal(d("0.002")))
	assert.Equal(t, "vip", p.Metadata["note"])

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/v1/config/fee-profile/bravo",
		`{"taker_percent":"1.5","withdrawal_fee":"0"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/v1/config/fee-profile/bravo", `{"taker_percent":"0.001"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/config", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dash.local")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://dash.local", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.local")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	resp, body := do(t, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body)

	resp, _ = do(t, http.MethodGet, ts.URL+"/ws", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "feed disabled")

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/v1/config", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
