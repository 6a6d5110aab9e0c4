package config

import (
	"path/filepath"
	"testing"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileOverrides_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "overrides.yaml")
	overrides := NewFileOverrides(path)

	s, err := NewStore(testRule(), testFeeProfiles(), WithPersister(overrides))
	require.NoError(t, err)

	next := testRule()
	next.MinNetSpread = decimal.RequireFromString("2500.000000000000000001")
	next.CooldownSeconds = 42
	_, err = s.UpdateAlertRule(next)
	require.NoError(t, err)
	_, err = s.UpdateFeeProfile("charlie", model.FeeProfile{
		TakerPercent:  decimal.RequireFromString("0.0015"),
		WithdrawalFee: decimal.NewFromInt(75),
	})
	require.NoError(t, err)

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, overrides.Apply(&cfg))

	rule := cfg.AlertRuleValue()
	assert.Equal(t, "2500.000000000000000001", rule.MinNetSpread.String())
	assert.Equal(t, 42, rule.CooldownSeconds)

	fees := cfg.FeeProfiles()
	require.Contains(t, fees, "charlie")
	assert.True(t, fees["charlie"].WithdrawalFee.Equal(decimal.NewFromInt(75)))
	assert.Contains(t, fees, "bitflyer", "defaults for other exchanges survive")
}

func TestFileOverrides_MissingFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	before := cfg.AlertRule

	require.NoError(t, NewFileOverrides(filepath.Join(t.TempDir(), "nope.yaml")).Apply(&cfg))
	assert.Equal(t, before, cfg.AlertRule)
}
