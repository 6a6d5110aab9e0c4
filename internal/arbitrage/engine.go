package arbitrage

import (
	"errors"
	"fmt"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

var (
	// ErrDataUnavailable marks snapshots that cannot be priced this tick.
	ErrDataUnavailable = errors.New("data unavailable")

	ErrStaleTicker        = fmt.Errorf("%w: stale ticker", ErrDataUnavailable)
	ErrEmptyBook          = fmt.Errorf("%w: empty order book side", ErrDataUnavailable)
	ErrMalformedTicker    = fmt.Errorf("%w: malformed ticker", ErrDataUnavailable)
	ErrInstrumentMismatch = fmt.Errorf("%w: instrument mismatch", ErrDataUnavailable)

	// ErrNoOpportunity means both directions net to zero or less, or no volume
	// can be traded.
	ErrNoOpportunity = errors.New("no profitable spread")
)

// volumeScale is the number of decimal places kept when a notional cap is
// converted back into base-currency volume.
const volumeScale = 8

// priceScale is the number of decimal places kept for average prices.
const priceScale = 10

var one = decimal.NewFromInt(1)

// CalculatorConfig holds the volume caps and the staleness bound.
type CalculatorConfig struct {
	// MaxVolume caps the walked depth in base units. Zero means no cap.
	MaxVolume decimal.Decimal
	// MaxNotional caps volume*buyPrice in quote units. Zero means no cap.
	MaxNotional decimal.Decimal
	// StaleAfter excludes tickers older than this. Zero disables the check.
	StaleAfter time.Duration
}

// Leg is everything known about one exchange for one instrument in a tick.
type Leg struct {
	Ticker model.NormalizedTicker
	Book   model.NormalizedOrderBook
	Fee    model.FeeProfile
}

// Calculator turns two legs into the better of the two directional spreads.
type Calculator struct {
	cfg CalculatorConfig
	now func() time.Time
}

// NewCalculator creates a new Calculator.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	return &Calculator{cfg: cfg, now: time.Now}
}

// WithClock replaces the wall clock used for the staleness check.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// ComputeSpread evaluates buy-on-a/sell-on-b and buy-on-b/sell-on-a and
// returns the one with the higher net spread. Errors wrapping
// ErrDataUnavailable describe unusable input; ErrNoOpportunity means the
// input was fine but nothing clears zero.
func (c *Calculator) ComputeSpread(a, b Leg, at time.Time) (model.SpreadOpportunity, error) {
	if err := c.validate(a); err != nil {
		return model.SpreadOpportunity{}, err
	}
	if err := c.validate(b); err != nil {
		return model.SpreadOpportunity{}, err
	}
	if a.Ticker.Instrument != b.Ticker.Instrument {
		return model.SpreadOpportunity{}, fmt.Errorf("%s vs %s: %w", a.Ticker.Instrument, b.Ticker.Instrument, ErrInstrumentMismatch)
	}

	ab, okAB := c.direction(a, b, at)
	ba, okBA := c.direction(b, a, at)

	switch {
	case okAB && okBA:
		if ba.NetSpread.GreaterThan(ab.NetSpread) {
			ab = ba
		}
	case okBA:
		ab = ba
	case !okAB:
		return model.SpreadOpportunity{}, ErrNoOpportunity
	}

	if !ab.NetSpread.IsPositive() {
		return model.SpreadOpportunity{}, ErrNoOpportunity
	}
	return ab, nil
}

func (c *Calculator) validate(l Leg) error {
	t := l.Ticker
	if t.Exchange == "" || t.Instrument == "" {
		return fmt.Errorf("ticker without exchange or instrument: %w", ErrMalformedTicker)
	}
	if l.Book.Instrument != "" && l.Book.Instrument != t.Instrument {
		return fmt.Errorf("%s book %s vs ticker %s: %w", t.Exchange, l.Book.Instrument, t.Instrument, ErrInstrumentMismatch)
	}
	if !t.BestBid.IsPositive() || !t.BestAsk.IsPositive() || t.BestBid.GreaterThan(t.BestAsk) {
		return fmt.Errorf("%s %s bid=%s ask=%s: %w", t.Exchange, t.Instrument, t.BestBid, t.BestAsk, ErrMalformedTicker)
	}
	if c.cfg.StaleAfter > 0 && c.now().Sub(t.Timestamp) > c.cfg.StaleAfter {
		return fmt.Errorf("%s %s at %s: %w", t.Exchange, t.Instrument, t.Timestamp.Format(time.RFC3339), ErrStaleTicker)
	}
	if len(l.Book.Bids) == 0 || len(l.Book.Asks) == 0 {
		return fmt.Errorf("%s %s: %w", t.Exchange, t.Instrument, ErrEmptyBook)
	}
	return nil
}

// direction prices buying on buy and selling on sell. It walks the asks of
// buy and the bids of sell together from the best price and stops at the
// first level pair that no longer nets a profit after taker fees, or when a
// volume or notional cap is reached. Prices are the volume-weighted averages
// of the walked levels, so the net spread is what the walked volume earns.
func (c *Calculator) direction(buy, sell Leg, at time.Time) (model.SpreadOpportunity, bool) {
	asks := positiveLevels(buy.Book.Asks)
	bids := positiveLevels(sell.Book.Bids)
	if len(asks) == 0 || len(bids) == 0 {
		return model.SpreadOpportunity{}, false
	}
	buyCost := one.Add(buy.Fee.TakerPercent)
	sellKeep := one.Sub(sell.Fee.TakerPercent)

	volume, cost, proceeds := decimal.Zero, decimal.Zero, decimal.Zero
	i, j := 0, 0
	askLeft, bidLeft := asks[0].Size, bids[0].Size
	for i < len(asks) && j < len(bids) {
		ask, bid := asks[i].Price, bids[j].Price
		if !bid.Mul(sellKeep).GreaterThan(ask.Mul(buyCost)) {
			break
		}

		q := decimal.Min(askLeft, bidLeft)
		if c.cfg.MaxVolume.IsPositive() {
			q = decimal.Min(q, c.cfg.MaxVolume.Sub(volume))
		}
		if c.cfg.MaxNotional.IsPositive() {
			room := c.cfg.MaxNotional.Sub(cost).DivRound(ask, volumeScale+2).Truncate(volumeScale)
			q = decimal.Min(q, room)
		}
		if !q.IsPositive() {
			break
		}

		volume = volume.Add(q)
		cost = cost.Add(ask.Mul(q))
		proceeds = proceeds.Add(bid.Mul(q))

		if askLeft = askLeft.Sub(q); !askLeft.IsPositive() {
			if i++; i < len(asks) {
				askLeft = asks[i].Size
			}
		}
		if bidLeft = bidLeft.Sub(q); !bidLeft.IsPositive() {
			if j++; j < len(bids) {
				bidLeft = bids[j].Size
			}
		}
	}
	if !volume.IsPositive() {
		return model.SpreadOpportunity{}, false
	}

	net := proceeds.Mul(sellKeep).Sub(cost.Mul(buyCost)).Sub(buy.Fee.WithdrawalFee)
	return model.SpreadOpportunity{
		Instrument:   buy.Ticker.Instrument,
		BuyExchange:  buy.Ticker.Exchange,
		SellExchange: sell.Ticker.Exchange,
		BuyPrice:     cost.DivRound(volume, priceScale),
		SellPrice:    proceeds.DivRound(volume, priceScale),
		GrossSpread:  proceeds.Sub(cost),
		NetSpread:    net,
		Volume:       volume,
		Timestamp:    at,
	}, true
}

func positiveLevels(levels []model.Level) []model.Level {
	out := make([]model.Level, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Price.IsPositive() && lvl.Size.IsPositive() {
			out = append(out, lvl)
		}
	}
	return out
}

// Reason maps a ComputeSpread error to a short metrics label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "positive"
	case errors.Is(err, ErrStaleTicker):
		return "stale"
	case errors.Is(err, ErrEmptyBook):
		return "empty_book"
	case errors.Is(err, ErrInstrumentMismatch):
		return "instrument_mismatch"
	case errors.Is(err, ErrMalformedTicker):
		return "malformed"
	case errors.Is(err, ErrFeeNotFound):
		return "fee_not_found"
	case errors.Is(err, ErrNoOpportunity):
		return "no_profit"
	default:
		return "error"
	}
}
