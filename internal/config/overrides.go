package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// FileOverrides keeps runtime updates to the alert rule and fee profiles in a
// YAML file next to the main config.
type FileOverrides struct {
	path string
}

// NewFileOverrides returns a persister writing to path.
func NewFileOverrides(path string) *FileOverrides {
	return &FileOverrides{path: path}
}

type overridesFile struct {
	AlertRule *AlertRuleConfig `mapstructure:"alert_rule"`
	Fees      map[string]FeeConfig
}

// Persist writes the snapshot to disk, replacing any previous overrides.
func (f *FileOverrides) Persist(s Snapshot) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create overrides dir: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("alert_rule.min_net_spread", s.AlertRule.MinNetSpread.String())
	v.Set("alert_rule.min_volume", s.AlertRule.MinVolume.String())
	v.Set("alert_rule.cooldown_seconds", s.AlertRule.CooldownSeconds)

	fees := make(map[string]any, len(s.Fees))
	for name, p := range s.Fees {
		entry := map[string]any{
			"taker_percent":  p.TakerPercent.String(),
			"withdrawal_fee": p.WithdrawalFee.String(),
		}
		if len(p.Metadata) > 0 {
			entry["metadata"] = p.Metadata
		}
		fees[name] = entry
	}
	v.Set("fees", fees)

	if err := v.WriteConfigAs(f.path); err != nil {
		return fmt.Errorf("write overrides %s: %w", f.path, err)
	}
	return nil
}

// Apply merges previously persisted overrides into cfg. A missing file leaves
// cfg untouched.
func (f *FileOverrides) Apply(cfg *Config) error {
	if _, err := os.Stat(f.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read overrides %s: %w", f.path, err)
	}

	var o overridesFile
	if err := v.Unmarshal(&o, viper.DecodeHook(decodeHook())); err != nil {
		return fmt.Errorf("decode overrides %s: %w", f.path, err)
	}

	if o.AlertRule != nil {
		cfg.AlertRule = *o.AlertRule
	}
	if len(o.Fees) > 0 && cfg.Fees == nil {
		cfg.Fees = make(map[string]FeeConfig, len(o.Fees))
	}
	for name, fee := range o.Fees {
		cfg.Fees[name] = fee
	}
	return nil
}
