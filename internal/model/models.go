package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Level is a single price level of an order book.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// NormalizedTicker is the exchange-agnostic best bid/ask for one instrument.
type NormalizedTicker struct {
	Exchange   string          `json:"exchange"`
	Instrument string          `json:"instrument"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NormalizedOrderBook holds bids sorted by price descending and asks sorted
// by price ascending.
type NormalizedOrderBook struct {
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Bids       []Level   `json:"bids"`
	Asks       []Level   `json:"asks"`
	Timestamp  time.Time `json:"timestamp"`
}

// Snapshot pairs the ticker and book fetched from one exchange for one
// instrument during a tick.
type Snapshot struct {
	Ticker    NormalizedTicker    `json:"ticker"`
	OrderBook NormalizedOrderBook `json:"order_book"`
}

// Exchange returns the exchange the snapshot was taken from.
func (s Snapshot) Exchange() string { return s.Ticker.Exchange }

// Instrument returns the instrument the snapshot covers.
func (s Snapshot) Instrument() string { return s.Ticker.Instrument }

// FeeProfile is the per-exchange cost model. TakerPercent is a fraction
// (0.001 == 0.1%) and WithdrawalFee is denominated in the quote currency.
type FeeProfile struct {
	TakerPercent  decimal.Decimal   `json:"taker_percent"`
	WithdrawalFee decimal.Decimal   `json:"withdrawal_fee"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// MaxCooldownSeconds bounds AlertRule.CooldownSeconds. Cooldown state older
// than this can be forgotten without changing any admission decision.
const MaxCooldownSeconds = 24 * 60 * 60

// AlertRule is the active profitability bar. It is replaced as a whole.
type AlertRule struct {
	MinNetSpread    decimal.Decimal `json:"min_net_spread"`
	MinVolume       decimal.Decimal `json:"min_volume"`
	CooldownSeconds int             `json:"cooldown_seconds"`
}

// Cooldown returns the cooldown window as a duration.
func (r AlertRule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// SpreadOpportunity is a fee-adjusted cross-exchange spread for one instrument
// and one ordered exchange pair within a tick.
type SpreadOpportunity struct {
	Instrument   string          `json:"instrument"`
	BuyExchange  string          `json:"buy_exchange"`
	SellExchange string          `json:"sell_exchange"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	GrossSpread  decimal.Decimal `json:"gross_spread"`
	NetSpread    decimal.Decimal `json:"net_spread"`
	Volume       decimal.Decimal `json:"volume"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Key identifies the cooldown bucket of the opportunity.
func (o SpreadOpportunity) Key() CooldownKey {
	return CooldownKey{Instrument: o.Instrument, BuyExchange: o.BuyExchange, SellExchange: o.SellExchange}
}

// CooldownKey is the deduplication key for alerts.
type CooldownKey struct {
	Instrument   string
	BuyExchange  string
	SellExchange string
}

func (k CooldownKey) String() string {
	return k.Instrument + ":" + k.BuyExchange + "->" + k.SellExchange
}

// DeliveryStatus is the result of a single sink delivery attempt.
type DeliveryStatus string

const (
	Delivered DeliveryStatus = "delivered"
	Failed    DeliveryStatus = "failed"
)

// DeliveryOutcome records what happened when an alert was handed to a sink.
type DeliveryOutcome struct {
	Status DeliveryStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

// Alert is an admitted opportunity together with the rule it passed and the
// per-sink delivery results.
type Alert struct {
	ID          string                     `json:"id"`
	Opportunity SpreadOpportunity          `json:"opportunity"`
	Rule        AlertRule                  `json:"rule"`
	FiredAt     time.Time                  `json:"fired_at"`
	Outcomes    map[string]DeliveryOutcome `json:"delivery_outcomes"`
}

// Delivered reports whether at least one sink accepted the alert.
func (a Alert) Delivered() bool {
	for _, o := range a.Outcomes {
		if o.Status == Delivered {
			return true
		}
	}
	return false
}
