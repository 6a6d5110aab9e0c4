package monitor

import (
	"context"
	"slices"
	"strings"
	"time"

	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// Status reports pipeline health so callers can tell stale state from a hang.
type Status struct {
	Exchanges          []string  `json:"exchanges"`
	Instruments        []string  `json:"instruments"`
	Ticks              uint64    `json:"ticks"`
	LastTickAt         time.Time `json:"last_tick_at"`
	LastSuccessfulTick time.Time `json:"last_successful_tick"`
	LastSnapshots      int       `json:"last_snapshots"`
	LastFetchFailures  int       `json:"last_fetch_failures"`
	LastOpportunities  int       `json:"last_opportunities"`
	LastAlerts         int       `json:"last_alerts"`
	AlertsTotal        uint64    `json:"alerts_total"`
	ConfigVersion      uint64    `json:"config_version"`
}

func (m *Monitor) record(res TickResult, successful bool, version uint64, opps []model.SpreadOpportunity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Ticks++
	m.status.LastTickAt = res.At
	m.status.LastSnapshots = res.Snapshots
	m.status.LastFetchFailures = res.FetchFailures
	m.status.LastOpportunities = res.Opportunities
	m.status.LastAlerts = res.Alerts
	m.status.ConfigVersion = version
	if successful {
		m.status.LastSuccessfulTick = res.At
		m.latest = opps
	}
}

// Status returns a copy of the current pipeline status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.status
	s.Exchanges = slices.Clone(s.Exchanges)
	s.Instruments = slices.Clone(s.Instruments)
	s.AlertsTotal = m.dispatcher.History().Total()
	return s
}

// ListOpportunities reads persisted opportunities when a repository is
// configured, otherwise those of the last successful tick. Results are
// ordered by net spread, best first.
func (m *Monitor) ListOpportunities(ctx context.Context, f database.OpportunityFilter) ([]model.SpreadOpportunity, error) {
	if m.repo != nil {
		return m.repo.ListOpportunities(ctx, f)
	}

	m.mu.RLock()
	latest := slices.Clone(m.latest)
	m.mu.RUnlock()

	out := latest[:0]
	for _, o := range latest {
		if f.Matches(o) {
			out = append(out, o)
		}
	}
	return database.SortByNetSpread(out, f.Limit), nil
}

// AlertFilter narrows ListAlerts. Zero values do not filter.
type AlertFilter struct {
	MinNetSpread decimal.NullDecimal
	Exchange     string
	Instrument   string
}

// ListAlerts returns up to limit alerts, most recent first.
func (m *Monitor) ListAlerts(limit int, f AlertFilter) []model.Alert {
	var filters []func(model.Alert) bool
	if f.MinNetSpread.Valid {
		filters = append(filters, func(a model.Alert) bool {
			return a.Opportunity.NetSpread.GreaterThanOrEqual(f.MinNetSpread.Decimal)
		})
	}
	if f.Exchange != "" {
		ex := strings.ToLower(f.Exchange)
		filters = append(filters, func(a model.Alert) bool {
			return a.Opportunity.BuyExchange == ex || a.Opportunity.SellExchange == ex
		})
	}
	if f.Instrument != "" {
		filters = append(filters, func(a model.Alert) bool {
			return strings.EqualFold(a.Opportunity.Instrument, f.Instrument)
		})
	}
	return m.dispatcher.History().List(limit, filters...)
}

// Config returns the live alert rule and fee profiles.
func (m *Monitor) Config() config.Snapshot {
	return m.store.Snapshot().Clone()
}

// UpdateAlertRule replaces the rule; the next tick uses it.
func (m *Monitor) UpdateAlertRule(rule model.AlertRule) (config.Snapshot, error) {
	snap, err := m.store.UpdateAlertRule(rule)
	if err != nil {
		m.logger.Warn("Alert rule update rejected", "error", err)
		return snap, err
	}
	m.logger.Info("Alert rule updated",
		"version", snap.Version,
		"minNetSpread", rule.MinNetSpread.String(),
		"minVolume", rule.MinVolume.String(),
		"cooldownSeconds", rule.CooldownSeconds,
	)
	return snap, nil
}

// UpdateFeeProfile replaces one exchange's fee profile; the next tick uses it.
func (m *Monitor) UpdateFeeProfile(exchange string, profile model.FeeProfile) (config.Snapshot, error) {
	snap, err := m.store.UpdateFeeProfile(exchange, profile)
	if err != nil {
		m.logger.Warn("Fee profile update rejected", "exchange", exchange, "error", err)
		return snap, err
	}
	m.logger.Info("Fee profile updated",
		"version", snap.Version,
		"exchange", exchange,
		"takerPercent", profile.TakerPercent.String(),
		"withdrawalFee", profile.WithdrawalFee.String(),
	)
	return snap, nil
}
