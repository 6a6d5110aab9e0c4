// Package monitor runs the acquisition, spread, alert and dispatch pipeline on
// a fixed cadence and exposes its state to the query API.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"arbwatch/internal/alert"
	"arbwatch/internal/arbitrage"
	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/exchange"
	"arbwatch/internal/model"

	"golang.org/x/sync/errgroup"
)

// Recorder receives the pipeline's metric events.
type Recorder interface {
	SnapshotFetched(exchange string, took time.Duration)
	FetchFailed(exchange string, took time.Duration)
	DataSkipped(reason string)
	SpreadAttempt(status string)
	OpportunityComputed(buyExchange, sellExchange string)
	AlertAdmitted()
	AlertRejected(reason string)
	TickCompleted(at time.Time, took time.Duration, successful bool)
}

// ConfigStore is the live alert rule and fee profile holder.
type ConfigStore interface {
	Snapshot() *config.Snapshot
	UpdateAlertRule(rule model.AlertRule) (config.Snapshot, error)
	UpdateFeeProfile(exchange string, profile model.FeeProfile) (config.Snapshot, error)
}

// Feed receives every computed opportunity for live subscribers.
type Feed interface {
	Publish(kind string, payload any) error
}

// Config wires a Monitor. Repository, Recorder and Feed are optional.
type Config struct {
	Clients      []exchange.Client
	Instruments  []string
	FetchTimeout time.Duration
	Workers      int
	Store        ConfigStore
	Calculator   *arbitrage.Calculator
	Evaluator    *alert.Evaluator
	Dispatcher   *alert.Dispatcher
	Repository   database.Repository
	Recorder     Recorder
	Feed         Feed
	Logger       *slog.Logger
	Now          func() time.Time
}

// Monitor is the orchestrator of one pipeline instance.
type Monitor struct {
	clients      []exchange.Client
	instruments  []string
	fetchTimeout time.Duration
	store        ConfigStore
	stream       *arbitrage.Stream
	evaluator    *alert.Evaluator
	dispatcher   *alert.Dispatcher
	repo         database.Repository
	recorder     Recorder
	feed         Feed
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.RWMutex
	status Status
	latest []model.SpreadOpportunity
}

// New validates cfg and creates a Monitor.
func New(cfg Config) (*Monitor, error) {
	switch {
	case len(cfg.Clients) == 0:
		return nil, errors.New("monitor: no exchange clients")
	case len(cfg.Instruments) == 0:
		return nil, errors.New("monitor: no instruments")
	case cfg.Store == nil || cfg.Calculator == nil || cfg.Evaluator == nil || cfg.Dispatcher == nil:
		return nil, errors.New("monitor: store, calculator, evaluator and dispatcher are required")
	}
	m := &Monitor{
		clients:      cfg.Clients,
		instruments:  cfg.Instruments,
		fetchTimeout: cfg.FetchTimeout,
		store:        cfg.Store,
		stream:       arbitrage.NewStream(cfg.Calculator, cfg.Workers),
		evaluator:    cfg.Evaluator,
		dispatcher:   cfg.Dispatcher,
		repo:         cfg.Repository,
		recorder:     cfg.Recorder,
		feed:         cfg.Feed,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
	if m.fetchTimeout <= 0 {
		m.fetchTimeout = 3 * time.Second
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "monitor")
	if m.now == nil {
		m.now = time.Now
	}
	m.stream.OnSkip = m.onSkip
	for _, c := range m.clients {
		m.status.Exchanges = append(m.status.Exchanges, c.Name())
	}
	m.status.Instruments = slices.Clone(m.instruments)
	return m, nil
}

// Run ticks every interval until ctx is cancelled. The interval is measured
// from tick start; an overrunning tick is followed immediately by the next
// one. Cancellation lets the in-flight tick finish and returns nil.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("monitor: interval must be positive, got %s", interval)
	}
	m.logger.Info("Monitor started",
		"interval", interval,
		"exchanges", m.status.Exchanges,
		"instruments", m.instruments,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopped")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		m.Tick(ctx)
		if ctx.Err() != nil {
			m.logger.Info("Monitor stopped")
			return nil
		}

		wait := max(interval-time.Since(start), 0)
		timer.Reset(wait)
	}
}

// TickResult summarises one pass through the pipeline.
type TickResult struct {
	At            time.Time
	Snapshots     int
	FetchFailures int
	Opportunities int
	Alerts        int
}

// Tick runs one full cycle: acquire, persist, compute, evaluate, dispatch.
// It never fails; per-exchange and per-pair problems are logged and counted.
func (m *Monitor) Tick(ctx context.Context) TickResult {
	started := time.Now()
	at := m.now()
	cfg := m.store.Snapshot()
	res := TickResult{At: at}

	snapshots, failures := m.acquire(ctx)
	res.Snapshots, res.FetchFailures = len(snapshots), failures

	// Records of an accepted tick are written even if shutdown starts now.
	persistCtx := context.WithoutCancel(ctx)
	for _, snap := range snapshots {
		m.persist("ticker", m.logTicker(persistCtx, snap.Ticker))
		m.persist("order_book", m.logOrderBook(persistCtx, snap.OrderBook))
	}

	var opps []model.SpreadOpportunity
	for opp := range m.stream.Opportunities(snapshots, cfg, at) {
		opps = append(opps, opp)
		m.recorder.SpreadAttempt(arbitrage.Reason(nil))
		m.recorder.OpportunityComputed(opp.BuyExchange, opp.SellExchange)
		m.persist("opportunity", m.logOpportunity(persistCtx, opp))
		if m.feed != nil {
			if err := m.feed.Publish("opportunity", opp); err != nil {
				m.logger.Debug("Live feed publish failed", "error", err)
			}
		}

		dec := m.evaluator.Evaluate(opp, cfg.AlertRule)
		if !dec.Admit {
			m.recorder.AlertRejected(dec.Reason.Label())
			m.logger.Debug("Opportunity rejected",
				"key", opp.Key().String(),
				"netSpread", opp.NetSpread.String(),
				"reason", string(dec.Reason),
			)
			continue
		}
		m.recorder.AlertAdmitted()
		a := m.dispatcher.Dispatch(ctx, opp, cfg.AlertRule, dec.FiredAt)
		m.persist("alert", m.logAlert(persistCtx, a))
		res.Alerts++
	}
	res.Opportunities = len(opps)

	successful := res.Snapshots > 0
	took := time.Since(started)
	m.recorder.TickCompleted(at, took, successful)
	m.record(res, successful, cfg.Version, opps)

	m.logger.Info("Tick completed",
		"snapshots", res.Snapshots,
		"fetchFailures", res.FetchFailures,
		"opportunities", res.Opportunities,
		"alerts", res.Alerts,
		"configVersion", cfg.Version,
		"took", took,
	)
	return res
}

// acquire fetches every exchange/instrument pair concurrently, each bounded
// by the fetch timeout. Failed fetches are dropped from the result.
func (m *Monitor) acquire(ctx context.Context) ([]model.Snapshot, int) {
	type slot struct {
		snap model.Snapshot
		ok   bool
	}
	slots := make([]slot, len(m.clients)*len(m.instruments))

	var mu sync.Mutex
	failures := 0
	var g errgroup.Group
	for i, client := range m.clients {
		for j, instrument := range m.instruments {
			idx := i*len(m.instruments) + j
			g.Go(func() error {
				fctx, cancel := context.WithTimeout(ctx, m.fetchTimeout)
				defer cancel()

				start := time.Now()
				snap, err := client.FetchSnapshot(fctx, instrument)
				took := time.Since(start)
				if err != nil {
					if errors.Is(err, exchange.ErrUnsupportedInstrument) {
						m.logger.Debug("Instrument not listed", "exchange", client.Name(), "instrument", instrument)
						return nil
					}
					m.recorder.FetchFailed(client.Name(), took)
					m.logger.Warn("Snapshot fetch failed",
						"exchange", client.Name(),
						"instrument", instrument,
						"error", err,
					)
					mu.Lock()
					failures++
					mu.Unlock()
					return nil
				}
				m.recorder.SnapshotFetched(client.Name(), took)
				slots[idx] = slot{snap: snap, ok: true}
				return nil
			})
		}
	}
	_ = g.Wait()

	snapshots := make([]model.Snapshot, 0, len(slots))
	for _, s := range slots {
		if s.ok {
			snapshots = append(snapshots, s.snap)
		}
	}
	return snapshots, failures
}

func (m *Monitor) onSkip(sk arbitrage.Skip) {
	reason := arbitrage.Reason(sk.Err)
	m.recorder.SpreadAttempt(reason)
	if errors.Is(sk.Err, arbitrage.ErrNoOpportunity) {
		return
	}
	m.recorder.DataSkipped(reason)
	m.logger.Warn("Data unavailable",
		"instrument", sk.Instrument,
		"exchangeA", sk.ExchangeA,
		"exchangeB", sk.ExchangeB,
		"reason", reason,
		"error", sk.Err,
	)
}

func (m *Monitor) persist(kind string, err error) {
	if err != nil {
		m.logger.Error("Persist failed", "kind", kind, "error", err)
	}
}

func (m *Monitor) logTicker(ctx context.Context, t model.NormalizedTicker) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.LogTicker(ctx, t)
}

func (m *Monitor) logOrderBook(ctx context.Context, b model.NormalizedOrderBook) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.LogOrderBook(ctx, b)
}

func (m *Monitor) logOpportunity(ctx context.Context, o model.SpreadOpportunity) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.LogOpportunity(ctx, o)
}

func (m *Monitor) logAlert(ctx context.Context, a model.Alert) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.LogAlert(ctx, a)
}

type nopRecorder struct{}

func (nopRecorder) SnapshotFetched(string, time.Duration)        {}
func (nopRecorder) FetchFailed(string, time.Duration)            {}
func (nopRecorder) DataSkipped(string)                           {}
func (nopRecorder) SpreadAttempt(string)                         {}
func (nopRecorder) OpportunityComputed(string, string)           {}
func (nopRecorder) AlertAdmitted()                               {}
func (nopRecorder) AlertRejected(string)                         {}
func (nopRecorder) TickCompleted(time.Time, time.Duration, bool) {}
