package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arbwatch/internal/model"

	"github.com/google/uuid"
)

// Sink delivers an alert to one notification channel.
type Sink interface {
	// Name identifies the sink in delivery outcomes (e.g. "console").
	Name() string
	Deliver(ctx context.Context, alert model.Alert) error
}

// DeliveryRecorder receives one event per delivery attempt.
type DeliveryRecorder interface {
	RecordDelivery(sink string, status model.DeliveryStatus)
}

const defaultDeliveryTimeout = 5 * time.Second

// Dispatcher turns admitted opportunities into alerts, hands them to every
// sink and keeps the resulting history.
type Dispatcher struct {
	sinks    []Sink
	timeout  time.Duration
	history  *History
	recorder DeliveryRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDeliveryTimeout bounds each sink attempt.
func WithDeliveryTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

// WithRecorder reports delivery outcomes to r.
func WithRecorder(r DeliveryRecorder) DispatcherOption {
	return func(disp *Dispatcher) { disp.recorder = r }
}

// WithDispatchClock replaces the wall clock used for FiredAt when the
// decision carries none.
func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(disp *Dispatcher) { disp.now = now }
}

// ErrDuplicateSink is returned by NewDispatcher when two sinks share a name.
var ErrDuplicateSink = errors.New("duplicate sink name")

// NewDispatcher creates a Dispatcher for a fixed list of sinks. Sink names key
// the delivery outcomes, so they must be non-empty and unique.
func NewDispatcher(logger *slog.Logger, history *History, sinks []Sink, opts ...DispatcherOption) (*Dispatcher, error) {
	seen := make(map[string]struct{}, len(sinks))
	for _, sink := range sinks {
		name := sink.Name()
		if name == "" {
			return nil, fmt.Errorf("sink %T has no name", sink)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateSink, name)
		}
		seen[name] = struct{}{}
	}

	d := &Dispatcher{
		sinks:   sinks,
		timeout: defaultDeliveryTimeout,
		history: history,
		logger:  logger.With("component", "dispatcher"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// History returns the alert history the dispatcher appends to.
func (d *Dispatcher) History() *History { return d.history }

// Dispatch builds the alert, attempts every sink independently and appends
// the result to history whatever the outcome. Sink attempts are detached
// from ctx cancellation and bounded only by the delivery timeout, so a
// shutdown never cuts a delivery short.
func (d *Dispatcher) Dispatch(ctx context.Context, opp model.SpreadOpportunity, rule model.AlertRule, firedAt time.Time) model.Alert {
	if firedAt.IsZero() {
		firedAt = d.now()
	}
	a := model.Alert{
		ID:          uuid.New().String(),
		Opportunity: opp,
		Rule:        rule,
		FiredAt:     firedAt,
	}

	outcomes := make(map[string]model.DeliveryOutcome, len(d.sinks))
	var mu sync.Mutex
	var wg sync.WaitGroup
	deliveryCtx := context.WithoutCancel(ctx)

	for _, sink := range d.sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := d.deliver(deliveryCtx, sink, a)
			mu.Lock()
			outcomes[sink.Name()] = out
			mu.Unlock()
		}()
	}
	wg.Wait()
	a.Outcomes = outcomes

	d.history.Append(a)

	failed := 0
	for name, out := range outcomes {
		if out.Status == model.Failed {
			failed++
			d.logger.Warn("Alert delivery failed",
				"alert", a.ID,
				"sink", name,
				"error", out.Error,
			)
		}
	}
	d.logger.Info("Alert dispatched",
		"alert", a.ID,
		"key", opp.Key().String(),
		"netSpread", opp.NetSpread.String(),
		"volume", opp.Volume.String(),
		"sinks", len(d.sinks),
		"failed", failed,
	)
	return a
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, a model.Alert) (out model.DeliveryOutcome) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if d.recorder != nil {
			d.recorder.RecordDelivery(sink.Name(), out.Status)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("sink panic: %v", r)
			}
		}()
		errCh <- sink.Deliver(ctx, a)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return model.DeliveryOutcome{Status: model.Failed, Error: err.Error()}
		}
		return model.DeliveryOutcome{Status: model.Delivered}
	case <-ctx.Done():
		return model.DeliveryOutcome{Status: model.Failed, Error: fmt.Sprintf("delivery timed out: %v", ctx.Err())}
	}
}
