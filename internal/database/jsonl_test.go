package database

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func opp(buy, sell, net, volume string) model.SpreadOpportunity {
	return model.SpreadOpportunity{
		Instrument:   "BTC_JPY",
		BuyExchange:  buy,
		SellExchange: sell,
		BuyPrice:     decimal.RequireFromString("3000000"),
		SellPrice:    decimal.RequireFromString("3050000"),
		GrossSpread:  decimal.RequireFromString("2500"),
		NetSpread:    decimal.RequireFromString(net),
		Volume:       decimal.RequireFromString(volume),
		Timestamp:    recordedAt,
	}
}

func newTestFileRepository(t *testing.T) *FileRepository {
	t.Helper()
	repo, err := NewFileRepository(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	repo.now = func() time.Time { return recordedAt }
	return repo
}

func readLines(t *testing.T, path string) []Envelope {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Envelope
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var env Envelope
		require.NoError(t, json.Unmarshal(sc.Bytes(), &env))
		out = append(out, env)
	}
	return out
}

func TestFileRepository_Streams(t *testing.T) {
	ctx := context.Background()
	repo := newTestFileRepository(t)

	ticker := model.NormalizedTicker{Exchange: "bitflyer", Instrument: "BTC_JPY",
		BestBid: decimal.NewFromInt(3000000), BestAsk: decimal.NewFromInt(3001000), Timestamp: recordedAt}
	require.NoError(t, repo.LogTicker(ctx, ticker))
	require.NoError(t, repo.LogTicker(ctx, ticker))
	require.NoError(t, repo.LogOrderBook(ctx, model.NormalizedOrderBook{Exchange: "bitflyer", Instrument: "BTC_JPY"}))
	require.NoError(t, repo.LogOpportunity(ctx, opp("bitflyer", "coincheck", "2197.5", "0.05")))
	require.NoError(t, repo.LogAlert(ctx, model.Alert{ID: "a-1", Opportunity: opp("bitflyer", "coincheck", "2197.5", "0.05")}))

	tickers := readLines(t, repo.path(KindTicker))
	require.Len(t, tickers, 2)
	assert.Equal(t, "bitflyer", tickers[0].Exchange)
	assert.Equal(t, KindTicker, tickers[0].Kind)
	assert.Equal(t, recordedAt, tickers[0].RecordedAt)

	var decoded model.NormalizedTicker
	require.NoError(t, json.Unmarshal(tickers[0].Payload, &decoded))
	assert.True(t, decoded.BestAsk.Equal(ticker.BestAsk))

	assert.Len(t, readLines(t, repo.path(KindOrderBook)), 1)

	opps := readLines(t, repo.path(KindOpportunity))
	require.Len(t, opps, 1)
	assert.Equal(t, "bitflyer->coincheck", opps[0].Exchange)

	alerts, err := repo.ListAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "a-1", alerts[0].ID)
}

func TestFileRepository_ListOpportunities(t *testing.T) {
	ctx := context.Background()
	repo := newTestFileRepository(t)

	for _, o := range []model.SpreadOpportunity{
		opp("bitflyer", "coincheck", "500", "0.05"),
		opp("bitflyer", "bitbank", "2500", "0.02"),
		opp("bitbank", "coincheck", "1500", "0.005"),
	} {
		require.NoError(t, repo.LogOpportunity(ctx, o))
	}

	all, err := repo.ListOpportunities(ctx, OpportunityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2500", all[0].NetSpread.String(), "sorted by net spread descending")
	assert.Equal(t, "500", all[2].NetSpread.String())

	filtered, err := repo.ListOpportunities(ctx, OpportunityFilter{
		MinNetSpread: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
		MinVolume:    decimal.NewNullDecimal(decimal.RequireFromString("0.01")),
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "bitbank", filtered[0].SellExchange)

	byBuy, err := repo.ListOpportunities(ctx, OpportunityFilter{BuyExchange: "bitflyer", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byBuy, 1)
	assert.Equal(t, "2500", byBuy[0].NetSpread.String())
}

func TestFileRepository_SkipsTornLines(t *testing.T) {
	ctx := context.Background()
	repo := newTestFileRepository(t)
	require.NoError(t, repo.LogOpportunity(ctx, opp("a", "b", "100", "1")))

	f, err := os.OpenFile(repo.path(KindOpportunity), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"exchange":"a->b","kind":"spread_opp`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := repo.ListOpportunities(ctx, OpportunityFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileRepository_EmptyStore(t *testing.T) {
	got, err := newTestFileRepository(t).ListOpportunities(context.Background(), OpportunityFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
