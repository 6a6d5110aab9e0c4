package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// BitbankClient reads the bitbank public API.
type BitbankClient struct {
	restClient
}

// NewBitbankClient creates a new BitbankClient.
func NewBitbankClient(opts Options) *BitbankClient {
	return &BitbankClient{restClient: newRestClient("bitbank", "https://public.bitbank.cc", opts)}
}

type bitbankEnvelope[T any] struct {
	Success int `json:"success"`
	Data    T   `json:"data"`
}

// bitbank names the sides from the taker's perspective: "sell" is the best
// ask and "buy" the best bid.
type bitbankTicker struct {
	Sell      decimal.Decimal `json:"sell"`
	Buy       decimal.Decimal `json:"buy"`
	Timestamp int64           `json:"timestamp"`
}

type bitbankDepth struct {
	Asks      []rawLevel `json:"asks"`
	Bids      []rawLevel `json:"bids"`
	Timestamp int64      `json:"timestamp"`
}

func (b *BitbankClient) FetchSnapshot(ctx context.Context, instrument string) (model.Snapshot, error) {
	if _, _, err := splitInstrument(instrument); err != nil {
		return model.Snapshot{}, err
	}
	pair := strings.ToLower(instrument)

	var t bitbankEnvelope[bitbankTicker]
	var d bitbankEnvelope[bitbankDepth]
	err := fetchBoth(ctx,
		func(ctx context.Context) error { return b.getJSON(ctx, "/"+pair+"/ticker", &t) },
		func(ctx context.Context) error { return b.getJSON(ctx, "/"+pair+"/depth", &d) },
	)
	if err != nil {
		return model.Snapshot{}, err
	}
	if t.Success != 1 || d.Success != 1 {
		return model.Snapshot{}, fmt.Errorf("bitbank: %w: %s not successful", ErrBadResponse, pair)
	}

	ts := b.now().UTC()
	if t.Data.Timestamp > 0 {
		ts = time.UnixMilli(t.Data.Timestamp).UTC()
	}
	bookTS := ts
	if d.Data.Timestamp > 0 {
		bookTS = time.UnixMilli(d.Data.Timestamp).UTC()
	}

	bids, err := parseLevels(d.Data.Bids)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("bitbank: bids: %w", err)
	}
	asks, err := parseLevels(d.Data.Asks)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("bitbank: asks: %w", err)
	}

	return model.Snapshot{
		Ticker:    newTicker(b.name, instrument, t.Data.Buy, t.Data.Sell, ts),
		OrderBook: normalizeBook(b.name, instrument, bids, asks, b.depth, bookTS),
	}, nil
}
