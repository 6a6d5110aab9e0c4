package config

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is returned when an update is rejected before being applied.
var ErrInvalidConfig = errors.New("invalid config")

var one = decimal.NewFromInt(1)

// Snapshot is one consistent version of the live configuration. Readers must
// treat it as immutable.
type Snapshot struct {
	AlertRule model.AlertRule             `json:"alert_rule"`
	Fees      map[string]model.FeeProfile `json:"fee_profiles"`
	Version   uint64                      `json:"version"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// FeeProfile returns the profile configured for exchange.
func (s *Snapshot) FeeProfile(exchange string) (model.FeeProfile, bool) {
	p, ok := s.Fees[strings.ToLower(exchange)]
	return p, ok
}

// Clone returns a deep copy safe to hand to serialisers.
func (s *Snapshot) Clone() Snapshot {
	out := *s
	out.Fees = make(map[string]model.FeeProfile, len(s.Fees))
	for name, p := range s.Fees {
		p.Metadata = maps.Clone(p.Metadata)
		out.Fees[name] = p
	}
	return out
}

// Persister stores accepted configuration so it survives restarts.
type Persister interface {
	Persist(Snapshot) error
}

// Store is the single-writer, copy-on-write holder of the alert rule and the
// fee profiles. Reads never block; writers replace the whole snapshot.
type Store struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	persister Persister
	now       func() time.Time
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithPersister makes every accepted update durable before it becomes visible.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persister = p }
}

// NewStore validates the initial configuration and returns a Store holding it.
func NewStore(rule model.AlertRule, fees map[string]model.FeeProfile, opts ...StoreOption) (*Store, error) {
	if err := ValidateAlertRule(rule); err != nil {
		return nil, err
	}
	normalized := make(map[string]model.FeeProfile, len(fees))
	for name, p := range fees {
		if err := ValidateFeeProfile(name, p); err != nil {
			return nil, err
		}
		normalized[strings.ToLower(name)] = p
	}

	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.current.Store(&Snapshot{AlertRule: rule, Fees: normalized, Version: 1, UpdatedAt: s.now()})
	return s, nil
}

// Snapshot returns the current configuration version.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// UpdateAlertRule replaces the active rule. Invalid rules are rejected and the
// previous rule stays in force.
func (s *Store) UpdateAlertRule(rule model.AlertRule) (Snapshot, error) {
	if err := ValidateAlertRule(rule); err != nil {
		return Snapshot{}, err
	}
	return s.replace(func(next *Snapshot) {
		next.AlertRule = rule
	})
}

// UpdateFeeProfile replaces the profile for one exchange, adding it when the
// exchange was not configured yet.
func (s *Store) UpdateFeeProfile(exchange string, profile model.FeeProfile) (Snapshot, error) {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	if exchange == "" {
		return Snapshot{}, fmt.Errorf("%w: exchange name is required", ErrInvalidConfig)
	}
	if err := ValidateFeeProfile(exchange, profile); err != nil {
		return Snapshot{}, err
	}
	return s.replace(func(next *Snapshot) {
		next.Fees[exchange] = profile
	})
}

func (s *Store) replace(mutate func(*Snapshot)) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Load().Clone()
	mutate(&next)
	next.Version++
	next.UpdatedAt = s.now()

	if s.persister != nil {
		if err := s.persister.Persist(next.Clone()); err != nil {
			return Snapshot{}, fmt.Errorf("persist config: %w", err)
		}
	}
	s.current.Store(&next)
	return next.Clone(), nil
}

// ValidateAlertRule checks the thresholds of a rule.
func ValidateAlertRule(rule model.AlertRule) error {
	switch {
	case rule.MinNetSpread.IsNegative():
		return fmt.Errorf("%w: min_net_spread must not be negative", ErrInvalidConfig)
	case rule.MinVolume.IsNegative():
		return fmt.Errorf("%w: min_volume must not be negative", ErrInvalidConfig)
	case rule.CooldownSeconds < 0:
		return fmt.Errorf("%w: cooldown_seconds must not be negative", ErrInvalidConfig)
	case rule.CooldownSeconds > model.MaxCooldownSeconds:
		return fmt.Errorf("%w: cooldown_seconds must not exceed %d", ErrInvalidConfig, model.MaxCooldownSeconds)
	}
	return nil
}

// ValidateFeeProfile checks that taker fee is in [0,1) and withdrawal fee >= 0.
func ValidateFeeProfile(exchange string, p model.FeeProfile) error {
	if p.TakerPercent.IsNegative() || p.TakerPercent.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: %s taker_percent must be in [0,1)", ErrInvalidConfig, exchange)
	}
	if p.WithdrawalFee.IsNegative() {
		return fmt.Errorf("%w: %s withdrawal_fee must not be negative", ErrInvalidConfig, exchange)
	}
	return nil
}
