// Package notify implements the alert sinks: console, slack, webhook, redis
// pub/sub and the websocket live feed.
package notify

import (
	"fmt"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// EventType tags every structured alert payload.
const EventType = "arbitrage_opportunity"

// Payload is the JSON body shared by the structured sinks.
type Payload struct {
	EventType    string            `json:"event_type"`
	AlertID      string            `json:"alert_id"`
	Instrument   string            `json:"instrument"`
	BuyExchange  string            `json:"buy_exchange"`
	SellExchange string            `json:"sell_exchange"`
	BuyPrice     decimal.Decimal   `json:"buy_price"`
	SellPrice    decimal.Decimal   `json:"sell_price"`
	NetSpread    decimal.Decimal   `json:"net_spread"`
	GrossSpread  decimal.Decimal   `json:"gross_spread"`
	Volume       decimal.Decimal   `json:"available_volume"`
	RecordedAt   time.Time         `json:"recorded_at"`
	FiredAt      time.Time         `json:"fired_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewPayload flattens an alert into its wire form.
func NewPayload(a model.Alert) Payload {
	o := a.Opportunity
	return Payload{
		EventType:    EventType,
		AlertID:      a.ID,
		Instrument:   o.Instrument,
		BuyExchange:  o.BuyExchange,
		SellExchange: o.SellExchange,
		BuyPrice:     o.BuyPrice,
		SellPrice:    o.SellPrice,
		NetSpread:    o.NetSpread,
		GrossSpread:  o.GrossSpread,
		Volume:       o.Volume,
		RecordedAt:   o.Timestamp,
		FiredAt:      a.FiredAt,
		Metadata: map[string]string{
			"min_net_spread":   a.Rule.MinNetSpread.String(),
			"min_volume":       a.Rule.MinVolume.String(),
			"cooldown_seconds": fmt.Sprint(a.Rule.CooldownSeconds),
		},
	}
}

// summary renders the one-line human form used by the text sinks.
func summary(a model.Alert) string {
	o := a.Opportunity
	return fmt.Sprintf("%s->%s %s net=%s volume=%s",
		o.BuyExchange, o.SellExchange, o.Instrument,
		o.NetSpread.StringFixed(2), o.Volume.String())
}
