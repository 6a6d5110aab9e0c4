package arbitrage

import (
	"errors"
	"fmt"
	"strings"

	"arbwatch/internal/model"
)

// ErrFeeNotFound is returned when no fee profile is configured for an exchange.
var ErrFeeNotFound = errors.New("fee profile not found")

// FeeSource resolves fee profiles by exchange name. *config.Snapshot satisfies it.
type FeeSource interface {
	FeeProfile(exchange string) (model.FeeProfile, bool)
}

// StaticFees is a fixed FeeSource.
type StaticFees map[string]model.FeeProfile

func (f StaticFees) FeeProfile(exchange string) (model.FeeProfile, bool) {
	p, ok := f[strings.ToLower(exchange)]
	return p, ok
}

// FeeModel converts a FeeSource into the lookups the calculator needs.
type FeeModel struct {
	src FeeSource
}

// NewFeeModel wraps src. Pass the snapshot read at the start of a tick so every
// lookup within the tick sees the same profiles.
func NewFeeModel(src FeeSource) FeeModel {
	return FeeModel{src: src}
}

// EffectiveFee returns the profile for exchange or ErrFeeNotFound.
func (m FeeModel) EffectiveFee(exchange string) (model.FeeProfile, error) {
	if m.src == nil {
		return model.FeeProfile{}, fmt.Errorf("%s: %w", exchange, ErrFeeNotFound)
	}
	p, ok := m.src.FeeProfile(exchange)
	if !ok {
		return model.FeeProfile{}, fmt.Errorf("%s: %w", exchange, ErrFeeNotFound)
	}
	return p, nil
}
