package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// BinanceClient reads the Binance spot public REST API.
type BinanceClient struct {
	restClient
}

// NewBinanceClient creates a new BinanceClient.
func NewBinanceClient(opts Options) *BinanceClient {
	return &BinanceClient{restClient: newRestClient("binance", "https://api.binance.com", opts)}
}

type binanceBookTicker struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	AskPrice decimal.Decimal `json:"askPrice"`
}

type binanceDepth struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
}

func (b *BinanceClient) FetchSnapshot(ctx context.Context, instrument string) (model.Snapshot, error) {
	base, quote, err := splitInstrument(instrument)
	if err != nil {
		return model.Snapshot{}, err
	}
	symbol := url.QueryEscape(base + quote)

	var t binanceBookTicker
	var d binanceDepth
	err = fetchBoth(ctx,
		func(ctx context.Context) error {
			return b.getJSON(ctx, "/api/v3/ticker/bookTicker?symbol="+symbol, &t)
		},
		func(ctx context.Context) error {
			return b.getJSON(ctx, "/api/v3/depth?symbol="+symbol+"&limit="+strconv.Itoa(b.depth), &d)
		},
	)
	if err != nil {
		return model.Snapshot{}, err
	}

	bids, err := parseLevels(d.Bids)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("binance: bids: %w", err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("binance: asks: %w", err)
	}

	ts := b.now().UTC()
	return model.Snapshot{
		Ticker:    newTicker(b.name, instrument, t.BidPrice, t.AskPrice, ts),
		OrderBook: normalizeBook(b.name, instrument, bids, asks, b.depth, ts),
	}, nil
}
