// Package database persists the record streams produced by the monitor.
package database

import (
	"cmp"
	"context"
	"slices"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// Record kinds, also used as stream names.
const (
	KindTicker      = "ticker"
	KindOrderBook   = "order_book"
	KindOpportunity = "spread_opportunity"
	KindAlert       = "alert"
)

// Repository defines the standard interface for database operations. Every
// Log method appends one record to its own stream.
type Repository interface {
	LogTicker(ctx context.Context, t model.NormalizedTicker) error
	LogOrderBook(ctx context.Context, b model.NormalizedOrderBook) error
	LogOpportunity(ctx context.Context, o model.SpreadOpportunity) error
	LogAlert(ctx context.Context, a model.Alert) error
	ListOpportunities(ctx context.Context, f OpportunityFilter) ([]model.SpreadOpportunity, error)
}

// OpportunityFilter narrows ListOpportunities. Zero values do not filter.
type OpportunityFilter struct {
	MinNetSpread decimal.NullDecimal
	MinVolume    decimal.NullDecimal
	BuyExchange  string
	SellExchange string
	Instrument   string
	Limit        int
}

// Matches reports whether o passes every set criterion.
func (f OpportunityFilter) Matches(o model.SpreadOpportunity) bool {
	switch {
	case f.MinNetSpread.Valid && o.NetSpread.LessThan(f.MinNetSpread.Decimal):
		return false
	case f.MinVolume.Valid && o.Volume.LessThan(f.MinVolume.Decimal):
		return false
	case f.BuyExchange != "" && o.BuyExchange != f.BuyExchange:
		return false
	case f.SellExchange != "" && o.SellExchange != f.SellExchange:
		return false
	case f.Instrument != "" && o.Instrument != f.Instrument:
		return false
	}
	return true
}

// SortByNetSpread orders opps by net spread descending, newest first on ties,
// and applies limit when positive.
func SortByNetSpread(opps []model.SpreadOpportunity, limit int) []model.SpreadOpportunity {
	slices.SortStableFunc(opps, func(a, b model.SpreadOpportunity) int {
		if c := b.NetSpread.Cmp(a.NetSpread); c != 0 {
			return c
		}
		return cmp.Compare(b.Timestamp.UnixNano(), a.Timestamp.UnixNano())
	})
	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}
	return opps
}
