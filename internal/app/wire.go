package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"arbwatch/internal/alert"
	"arbwatch/internal/arbitrage"
	"arbwatch/internal/config"
	"arbwatch/internal/database"
	"arbwatch/internal/database/postgres"
	"arbwatch/internal/exchange"
	"arbwatch/internal/metrics"
	"arbwatch/internal/monitor"
	"arbwatch/internal/notify"
)

// Dependencies bundles everything the run loop and the API need. It is built
// by Wire and released by the returned cleanup function.
type Dependencies struct {
	Store      *config.Store
	Metrics    *metrics.Metrics
	Hub        *notify.Hub
	Sinks      []alert.Sink
	Evaluator  *alert.Evaluator
	Dispatcher *alert.Dispatcher
	Repository database.Repository
	Clients    []exchange.Client
	Monitor    *monitor.Monitor
}

// Wire builds the concrete implementations selected by cfg.
func Wire(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- Live configuration ---
	var storeOpts []config.StoreOption
	if cfg.OverridesPath != "" {
		storeOpts = append(storeOpts, config.WithPersister(config.NewFileOverrides(cfg.OverridesPath)))
	}
	store, err := config.NewStore(cfg.AlertRuleValue(), cfg.FeeProfiles(), storeOpts...)
	if err != nil {
		return fail(fmt.Errorf("wire: config store: %w", err))
	}
	deps.Store = store

	// --- Persistence ---
	files, err := database.NewFileRepository(cfg.Storage.Dir)
	if err != nil {
		return fail(fmt.Errorf("wire: storage: %w", err))
	}
	repos := database.Fanout{files}
	if cfg.Database.Enabled {
		pool, err := postgres.Connect(ctx, cfg.Database.DSN())
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, pool.Close)
		pg := &postgres.PostgresRepository{Pool: pool}
		if err := pg.Migrate(ctx); err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		repos = append(repos, pg)
	}
	deps.Repository = repos

	// --- Notification sinks ---
	if cfg.Notify.Console {
		deps.Sinks = append(deps.Sinks, notify.NewConsoleSink(os.Stdout))
	}
	if cfg.Notify.Slack.Enabled {
		deps.Sinks = append(deps.Sinks, notify.NewSlackSink(os.Stdout, cfg.Notify.Slack.Channel))
	}
	if cfg.Notify.Webhook.URL != "" {
		deps.Sinks = append(deps.Sinks, notify.NewWebhookSink(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Timeout,
			notify.WithHeaders(cfg.Notify.Webhook.Headers),
			notify.WithRetries(cfg.Notify.Webhook.Retries),
		))
	}
	if cfg.Notify.Redis.Enabled {
		rdb, err := notify.NewRedisClient(ctx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		closers = append(closers, func() { _ = rdb.Close() })
		deps.Sinks = append(deps.Sinks, notify.NewRedisSink(rdb, cfg.Notify.Redis.Channel))
	}
	if cfg.Notify.Websocket.Enabled {
		deps.Hub = notify.NewHub(logger)
		deps.Sinks = append(deps.Sinks, deps.Hub)
	}

	// --- Alert state from earlier runs ---
	past, err := files.ListAlerts(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: load alert history: %w", err))
	}
	history := alert.NewHistory(cfg.Monitor.HistorySize)
	for _, a := range past {
		history.Append(a)
	}
	deps.Evaluator = alert.NewEvaluator(alert.WithEvictionFactor(cfg.Monitor.EvictionFactor))
	deps.Evaluator.Seed(past)
	if len(past) > 0 {
		logger.Info("Restored alert history", "alerts", len(past))
	}

	deps.Dispatcher, err = alert.NewDispatcher(logger, history, deps.Sinks,
		alert.WithDeliveryTimeout(cfg.Notify.DeliveryTimeout),
		alert.WithRecorder(deps.Metrics),
	)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Exchanges ---
	deps.Clients, err = exchange.NewClients(cfg.Monitor.Exchanges, cfg.Monitor.Endpoints, exchange.Options{
		Depth:  cfg.Monitor.BookDepth,
		Logger: logger,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	// --- Monitor ---
	monCfg := monitor.Config{
		Clients:      deps.Clients,
		Instruments:  cfg.Monitor.Instruments,
		FetchTimeout: cfg.Monitor.FetchTimeout,
		Workers:      cfg.Monitor.Workers,
		Store:        store,
		Calculator: arbitrage.NewCalculator(arbitrage.CalculatorConfig{
			MaxVolume:   cfg.Monitor.MaxVolume,
			MaxNotional: cfg.Monitor.MaxNotional,
			StaleAfter:  cfg.Monitor.StaleAfter,
		}),
		Evaluator:  deps.Evaluator,
		Dispatcher: deps.Dispatcher,
		Repository: deps.Repository,
		Recorder:   deps.Metrics,
		Logger:     logger,
	}
	if deps.Hub != nil {
		monCfg.Feed = deps.Hub
	}
	deps.Monitor, err = monitor.New(monCfg)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	return deps, cleanup, nil
}

// SinkNames lists the configured sinks in dispatch order.
func (d *Dependencies) SinkNames() []string {
	names := make([]string, len(d.Sinks))
	for i, s := range d.Sinks {
		names[i] = s.Name()
	}
	return names
}
