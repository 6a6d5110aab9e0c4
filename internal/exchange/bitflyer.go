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

// bitFlyer reports timestamps in UTC without a zone designator.
const bitflyerTimeLayout = "2006-01-02T15:04:05.999999999"

// BitflyerClient reads the bitFlyer Lightning public API.
type BitflyerClient struct {
	restClient
}

// NewBitflyerClient creates a new BitflyerClient.
func NewBitflyerClient(opts Options) *BitflyerClient {
	return &BitflyerClient{restClient: newRestClient("bitflyer", "https://api.bitflyer.com", opts)}
}

type bitflyerTicker struct {
	Timestamp string          `json:"timestamp"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
}

type bitflyerLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

type bitflyerBoard struct {
	Bids []bitflyerLevel `json:"bids"`
	Asks []bitflyerLevel `json:"asks"`
}

func (b *BitflyerClient) FetchSnapshot(ctx context.Context, instrument string) (model.Snapshot, error) {
	if _, _, err := splitInstrument(instrument); err != nil {
		return model.Snapshot{}, err
	}
	q := "?product_code=" + url.QueryEscape(strings.ToUpper(instrument))

	var t bitflyerTicker
	var board bitflyerBoard
	err := fetchBoth(ctx,
		func(ctx context.Context) error { return b.getJSON(ctx, "/v1/ticker"+q, &t) },
		func(ctx context.Context) error { return b.getJSON(ctx, "/v1/board"+q, &board) },
	)
	if err != nil {
		return model.Snapshot{}, err
	}

	ts := b.now().UTC()
	if t.Timestamp != "" {
		parsed, err := time.ParseInLocation(bitflyerTimeLayout, t.Timestamp, time.UTC)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("bitflyer: %w: timestamp %q", ErrBadResponse, t.Timestamp)
		}
		ts = parsed
	}

	convert := func(in []bitflyerLevel) []model.Level {
		out := make([]model.Level, len(in))
		for i, l := range in {
			out[i] = model.Level{Price: l.Price, Size: l.Size}
		}
		return out
	}

	return model.Snapshot{
		Ticker:    newTicker(b.name, instrument, t.BestBid, t.BestAsk, ts),
		OrderBook: normalizeBook(b.name, instrument, convert(board.Bids), convert(board.Asks), b.depth, ts),
	}, nil
}
