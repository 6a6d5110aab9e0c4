package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// CoincheckClient reads the Coincheck public API.
type CoincheckClient struct {
	restClient
}

// NewCoincheckClient creates a new CoincheckClient.
func NewCoincheckClient(opts Options) *CoincheckClient {
	return &CoincheckClient{restClient: newRestClient("coincheck", "https://coincheck.com", opts)}
}

type coincheckTicker struct {
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp int64           `json:"timestamp"`
}

type coincheckBook struct {
	Bids []rawLevel `json:"bids"`
	Asks []rawLevel `json:"asks"`
}

func (c *CoincheckClient) FetchSnapshot(ctx context.Context, instrument string) (model.Snapshot, error) {
	if _, _, err := splitInstrument(instrument); err != nil {
		return model.Snapshot{}, err
	}
	q := "?pair=" + url.QueryEscape(strings.ToLower(instrument))

	var t coincheckTicker
	var book coincheckBook
	err := fetchBoth(ctx,
		func(ctx context.Context) error { return c.getJSON(ctx, "/api/ticker"+q, &t) },
		func(ctx context.Context) error { return c.getJSON(ctx, "/api/order_books"+q, &book) },
	)
	if err != nil {
		return model.Snapshot{}, err
	}

	ts := c.now().UTC()
	if t.Timestamp > 0 {
		ts = time.Unix(t.Timestamp, 0).UTC()
	}

	bids, err := parseLevels(book.Bids)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("coincheck: bids: %w", err)
	}
	asks, err := parseLevels(book.Asks)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("coincheck: asks: %w", err)
	}

	return model.Snapshot{
		Ticker:    newTicker(c.name, instrument, t.Bid, t.Ask, ts),
		OrderBook: normalizeBook(c.name, instrument, bids, asks, c.depth, ts),
	}, nil
}
