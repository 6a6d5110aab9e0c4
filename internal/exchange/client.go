// Package exchange fetches public tickers and order books and normalizes them.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownExchange is returned by the factory for names it cannot build.
	ErrUnknownExchange = errors.New("unknown exchange")
	// ErrUnsupportedInstrument is returned when an exchange does not list the instrument.
	ErrUnsupportedInstrument = errors.New("unsupported instrument")
	// ErrBadResponse marks an upstream reply that could not be normalized.
	ErrBadResponse = errors.New("bad exchange response")
)

// Client is the standard interface for all exchange clients.
type Client interface {
	Name() string
	// FetchSnapshot returns the ticker and top of book for instrument, which
	// uses the BASE_QUOTE form (e.g. BTC_JPY).
	FetchSnapshot(ctx context.Context, instrument string) (model.Snapshot, error)
}

const (
	userAgent    = "arbwatch/1.0"
	defaultDepth = 5
	maxAttempts  = 2
)

// restClient holds what every REST client shares: transport, depth and
// clock. The concrete clients embed it.
type restClient struct {
	name    string
	baseURL string
	http    *http.Client
	depth   int
	logger  *slog.Logger
	now     func() time.Time
}

func newRestClient(name, defaultURL string, opts Options) restClient {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	depth := opts.Depth
	if depth <= 0 {
		depth = defaultDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return restClient{
		name:    name,
		baseURL: baseURL,
		http:    httpClient,
		depth:   depth,
		logger:  logger.With("exchange", name),
		now:     now,
	}
}

func (c *restClient) Name() string { return c.name }

// getJSON fetches path and decodes the body into v. Network errors and 5xx
// replies are retried once with a short backoff while ctx allows.
func (c *restClient) getJSON(ctx context.Context, path string, v any) error {
	backoff := 100 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var retry bool
		retry, err = c.fetch(ctx, path, v)
		if err == nil || !retry || attempt == maxAttempts {
			break
		}
		c.logger.Debug("Retrying request", "path", path, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", c.name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return err
}

func (c *restClient) fetch(ctx context.Context, path string, v any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("%s: send request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode >= 500, fmt.Errorf("%s: unexpected status %d: %s", c.name, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("%s: %w: decode %s: %v", c.name, ErrBadResponse, path, err)
	}
	return false, nil
}

// splitInstrument turns "BTC_JPY" into ("BTC", "JPY").
func splitInstrument(instrument string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(strings.ToUpper(instrument), "_")
	if !ok || base == "" || quote == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedInstrument, instrument)
	}
	return base, quote, nil
}

// rawLevel is a [price, size, ...] array as most venues send it. Elements may
// be JSON strings or numbers.
type rawLevel []json.RawMessage

func (r rawLevel) level() (model.Level, error) {
	if len(r) < 2 {
		return model.Level{}, fmt.Errorf("%w: level has %d fields", ErrBadResponse, len(r))
	}
	var l model.Level
	if err := l.Price.UnmarshalJSON(r[0]); err != nil {
		return model.Level{}, fmt.Errorf("%w: price: %v", ErrBadResponse, err)
	}
	if err := l.Size.UnmarshalJSON(r[1]); err != nil {
		return model.Level{}, fmt.Errorf("%w: size: %v", ErrBadResponse, err)
	}
	return l, nil
}

func parseLevels(rows []rawLevel) ([]model.Level, error) {
	out := make([]model.Level, 0, len(rows))
	for _, row := range rows {
		l, err := row.level()
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// normalizeBook sorts bids descending and asks ascending, drops non-positive
// levels and keeps at most depth levels per side.
func normalizeBook(exchange, instrument string, bids, asks []model.Level, depth int, ts time.Time) model.NormalizedOrderBook {
	clean := func(levels []model.Level, desc bool) []model.Level {
		levels = slices.DeleteFunc(slices.Clone(levels), func(l model.Level) bool {
			return !l.Price.IsPositive() || !l.Size.IsPositive()
		})
		slices.SortStableFunc(levels, func(a, b model.Level) int {
			if desc {
				return b.Price.Cmp(a.Price)
			}
			return a.Price.Cmp(b.Price)
		})
		if len(levels) > depth {
			levels = levels[:depth]
		}
		return levels
	}
	return model.NormalizedOrderBook{
		Exchange:   exchange,
		Instrument: instrument,
		Bids:       clean(bids, true),
		Asks:       clean(asks, false),
		Timestamp:  ts,
	}
}

func newTicker(exchange, instrument string, bid, ask decimal.Decimal, ts time.Time) model.NormalizedTicker {
	return model.NormalizedTicker{
		Exchange:   exchange,
		Instrument: instrument,
		BestBid:    bid,
		BestAsk:    ask,
		Timestamp:  ts,
	}
}

// fetchBoth runs the ticker and book requests concurrently and waits for both.
func fetchBoth(ctx context.Context, ticker, book func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- book(ctx) }()
	tickerErr := ticker(ctx)
	bookErr := <-errCh
	return errors.Join(tickerErr, bookErr)
}
