package exchange

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"arbwatch/internal/model"
)

// KrakenClient reads the Kraken public REST API.
type KrakenClient struct {
	restClient
}

// NewKrakenClient creates a new KrakenClient.
func NewKrakenClient(opts Options) *KrakenClient {
	return &KrakenClient{restClient: newRestClient("kraken", "https://api.kraken.com", opts)}
}

// Kraken calls bitcoin XBT.
var krakenAssets = map[string]string{"BTC": "XBT"}

func krakenPair(instrument string) (string, error) {
	base, quote, err := splitInstrument(instrument)
	if err != nil {
		return "", err
	}
	if alias, ok := krakenAssets[base]; ok {
		base = alias
	}
	return base + quote, nil
}

type krakenResponse[T any] struct {
	Error  []string     `json:"error"`
	Result map[string]T `json:"result"`
}

// first returns the only entry of Result. Kraken keys it by its own pair
// name (e.g. XXBTZJPY), which differs from the requested one.
func (r krakenResponse[T]) first() (T, error) {
	var zero T
	if len(r.Error) > 0 {
		return zero, fmt.Errorf("kraken: %w: %v", ErrBadResponse, r.Error)
	}
	for _, v := range r.Result {
		return v, nil
	}
	return zero, fmt.Errorf("kraken: %w: empty result", ErrUnsupportedInstrument)
}

type krakenTicker struct {
	Ask rawLevel `json:"a"`
	Bid rawLevel `json:"b"`
}

type krakenDepth struct {
	Asks []rawLevel `json:"asks"`
	Bids []rawLevel `json:"bids"`
}

func (k *KrakenClient) FetchSnapshot(ctx context.Context, instrument string) (model.Snapshot, error) {
	pair, err := krakenPair(instrument)
	if err != nil {
		return model.Snapshot{}, err
	}
	q := "?pair=" + url.QueryEscape(pair)

	var tr krakenResponse[krakenTicker]
	var dr krakenResponse[krakenDepth]
	err = fetchBoth(ctx,
		func(ctx context.Context) error { return k.getJSON(ctx, "/0/public/Ticker"+q, &tr) },
		func(ctx context.Context) error {
			return k.getJSON(ctx, "/0/public/Depth"+q+"&count="+strconv.Itoa(k.depth), &dr)
		},
	)
	if err != nil {
		return model.Snapshot{}, err
	}

	t, err := tr.first()
	if err != nil {
		return model.Snapshot{}, err
	}
	d, err := dr.first()
	if err != nil {
		return model.Snapshot{}, err
	}

	bestAsk, err := t.Ask.level()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("kraken: ask: %w", err)
	}
	bestBid, err := t.Bid.level()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("kraken: bid: %w", err)
	}
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("kraken: bids: %w", err)
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("kraken: asks: %w", err)
	}

	ts := k.now().UTC()
	return model.Snapshot{
		Ticker:    newTicker(k.name, instrument, bestBid.Price, bestAsk.Price, ts),
		OrderBook: normalizeBook(k.name, instrument, bids, asks, k.depth, ts),
	}, nil
}
