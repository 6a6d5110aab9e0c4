// Package alert decides which opportunities become alerts and delivers them.
package alert

import (
	"sync"
	"time"

	"arbwatch/internal/model"
)

// Reason explains why an opportunity was not admitted.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonNetSpread Reason = "netSpread < minNetSpread"
	ReasonVolume    Reason = "volume < minVolume"
	ReasonCooldown  Reason = "cooldown"
)

// Label returns a metrics-friendly form of the reason.
func (r Reason) Label() string {
	switch r {
	case ReasonNetSpread:
		return "net_spread"
	case ReasonVolume:
		return "volume"
	case ReasonCooldown:
		return "cooldown"
	default:
		return "none"
	}
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Admit   bool
	Reason  Reason
	FiredAt time.Time
}

const (
	defaultEvictionFactor = 4
	defaultRetention      = model.MaxCooldownSeconds * time.Second
)

// Evaluator is the per-key cooldown gate. A key is Hot while
// now-lastFiredAt < cooldown and Cold otherwise; the only transition it
// records is Cold->Hot on admission.
type Evaluator struct {
	mu             sync.Mutex
	lastFired      map[model.CooldownKey]time.Time
	now            func() time.Time
	evictionFactor int
	retention      time.Duration
	maxCooldown    time.Duration
	lastSweep      time.Time
}

// EvaluatorOption customises an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithEvictionFactor drops entries older than factor*cooldown when sweeping.
func WithEvictionFactor(factor int) EvaluatorOption {
	return func(e *Evaluator) {
		if factor > 0 {
			e.evictionFactor = factor
		}
	}
}

// WithRetention sets the minimum age an entry must reach before a sweep may
// drop it. It defaults to the longest valid cooldown, so a later rule with a
// longer cooldown never sees a key that should still be Hot as Cold.
func WithRetention(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if d > 0 {
			e.retention = d
		}
	}
}

// NewEvaluator creates an Evaluator with an empty cooldown table.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		lastFired:      make(map[model.CooldownKey]time.Time),
		now:            time.Now,
		evictionFactor: defaultEvictionFactor,
		retention:      defaultRetention,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate applies rule to opp. Checks run in a fixed order: net spread,
// volume, cooldown. On admission the key's lastFiredAt is set before the lock
// is released, so concurrent callers with the same key see it Hot.
func (e *Evaluator) Evaluate(opp model.SpreadOpportunity, rule model.AlertRule) Decision {
	if opp.NetSpread.LessThan(rule.MinNetSpread) {
		return Decision{Reason: ReasonNetSpread}
	}
	if opp.Volume.LessThan(rule.MinVolume) {
		return Decision{Reason: ReasonVolume}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.sweepLocked(now, rule.Cooldown())

	key := opp.Key()
	if last, ok := e.lastFired[key]; ok && now.Sub(last) < rule.Cooldown() {
		return Decision{Reason: ReasonCooldown}
	}
	e.lastFired[key] = now
	return Decision{Admit: true, FiredAt: now}
}

// Seed restores lastFiredAt for every key from previously delivered alerts,
// keeping the latest time per key.
func (e *Evaluator) Seed(alerts []model.Alert) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range alerts {
		key := a.Opportunity.Key()
		if last, ok := e.lastFired[key]; !ok || a.FiredAt.After(last) {
			e.lastFired[key] = a.FiredAt
		}
	}
}

// IsHot reports whether key is inside its cooldown window at time at.
func (e *Evaluator) IsHot(key model.CooldownKey, cooldown time.Duration, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastFired[key]
	return ok && at.Sub(last) < cooldown
}

// Len returns the number of tracked keys.
func (e *Evaluator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.lastFired)
}

// sweepLocked lazily drops entries that have been Cold for a long time. The
// horizon is never shorter than the longest cooldown seen or the retention,
// so a dropped entry and a kept one evaluate identically under any rule.
func (e *Evaluator) sweepLocked(now time.Time, cooldown time.Duration) {
	if cooldown > e.maxCooldown {
		e.maxCooldown = cooldown
	}
	horizon := max(time.Duration(e.evictionFactor)*e.maxCooldown, e.retention)
	interval := horizon / time.Duration(e.evictionFactor)
	if !e.lastSweep.IsZero() && now.Sub(e.lastSweep) < interval {
		return
	}
	e.lastSweep = now
	for key, last := range e.lastFired {
		if now.Sub(last) >= horizon {
			delete(e.lastFired, key)
		}
	}
}
