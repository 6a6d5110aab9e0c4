package alert

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbwatch/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func opportunity(net, volume string) model.SpreadOpportunity {
	return model.SpreadOpportunity{
		Instrument:   "BTC_JPY",
		BuyExchange:  "exa",
		SellExchange: "exb",
		BuyPrice:     decimal.RequireFromString("3000000"),
		SellPrice:    decimal.RequireFromString("3050000"),
		GrossSpread:  decimal.RequireFromString("2500"),
		NetSpread:    decimal.RequireFromString(net),
		Volume:       decimal.RequireFromString(volume),
		Timestamp:    t0,
	}
}

func rule(minNet, minVolume string, cooldown int) model.AlertRule {
	return model.AlertRule{
		MinNetSpread:    decimal.RequireFromString(minNet),
		MinVolume:       decimal.RequireFromString(minVolume),
		CooldownSeconds: cooldown,
	}
}

func TestEvaluator_Thresholds(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now))

	t.Run("admits above thresholds", func(t *testing.T) {
		dec := ev.Evaluate(opportunity("2197.5", "0.05"), rule("1000", "0.01", 300))
		assert.True(t, dec.Admit)
		assert.Equal(t, t0, dec.FiredAt)
	})

	t.Run("rejects below min net spread", func(t *testing.T) {
		dec := NewEvaluator(WithClock(clock.Now)).Evaluate(opportunity("2197.5", "0.05"), rule("100000", "0.01", 300))
		assert.False(t, dec.Admit)
		assert.Equal(t, ReasonNetSpread, dec.Reason)
	})

	t.Run("rejects below min volume", func(t *testing.T) {
		dec := NewEvaluator(WithClock(clock.Now)).Evaluate(opportunity("2197.5", "0.005"), rule("1000", "0.01", 300))
		assert.False(t, dec.Admit)
		assert.Equal(t, ReasonVolume, dec.Reason)
	})

	t.Run("net spread checked before volume and cooldown", func(t *testing.T) {
		e := NewEvaluator(WithClock(clock.Now))
		assert.True(t, e.Evaluate(opportunity("2197.5", "0.05"), rule("0", "0", 300)).Admit)

		dec := e.Evaluate(opportunity("10", "0.001"), rule("1000", "0.01", 300))
		assert.Equal(t, ReasonNetSpread, dec.Reason)

		dec = e.Evaluate(opportunity("2197.5", "0.001"), rule("1000", "0.01", 300))
		assert.Equal(t, ReasonVolume, dec.Reason)
	})

	t.Run("rejected opportunities do not heat the key", func(t *testing.T) {
		e := NewEvaluator(WithClock(clock.Now))
		e.Evaluate(opportunity("10", "0.05"), rule("1000", "0.01", 300))
		assert.Equal(t, 0, e.Len())
	})
}

func TestEvaluator_Cooldown(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now))
	r := rule("1000", "0.01", 300)
	opp := opportunity("2197.5", "0.05")

	assert.True(t, ev.Evaluate(opp, r).Admit)

	clock.Set(t0.Add(60 * time.Second))
	dec := ev.Evaluate(opp, r)
	assert.False(t, dec.Admit)
	assert.Equal(t, ReasonCooldown, dec.Reason)
	assert.True(t, ev.IsHot(opp.Key(), r.Cooldown(), clock.Now()))

	clock.Set(t0.Add(301 * time.Second))
	assert.False(t, ev.IsHot(opp.Key(), r.Cooldown(), clock.Now()))
	assert.True(t, ev.Evaluate(opp, r).Admit)

	t.Run("keys are independent", func(t *testing.T) {
		other := opp
		other.BuyExchange, other.SellExchange = "exb", "exa"
		assert.True(t, ev.Evaluate(other, r).Admit)
	})
}

func TestEvaluator_AtMostOneAdmitPerWindow(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now))
	r := rule("0", "0", 300)
	opp := opportunity("2197.5", "0.05")

	var admits []time.Time
	for step := 0; step <= 1200; step += 7 {
		clock.Set(t0.Add(time.Duration(step) * time.Second))
		if dec := ev.Evaluate(opp, r); dec.Admit {
			admits = append(admits, dec.FiredAt)
		}
	}

	assert.NotEmpty(t, admits)
	for i := 1; i < len(admits); i++ {
		assert.GreaterOrEqual(t, admits[i].Sub(admits[i-1]), r.Cooldown())
	}
}

func TestEvaluator_ConcurrentSameKey(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now))
	r := rule("1000", "0.01", 300)
	opp := opportunity("2197.5", "0.05")

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ev.Evaluate(opp, r).Admit {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), admitted.Load())
}

func TestEvaluator_HotReloadedRule(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now))
	opp := opportunity("2197.5", "0.05")

	assert.False(t, ev.Evaluate(opp, rule("100000", "0.01", 300)).Admit)
	assert.True(t, ev.Evaluate(opp, rule("1000", "0.01", 300)).Admit)
}

func TestEvaluator_LazyEviction(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now), WithEvictionFactor(2), WithRetention(5*time.Minute))
	r := rule("0", "0", 60)

	first := opportunity("2197.5", "0.05")
	ev.Evaluate(first, r)
	assert.Equal(t, 1, ev.Len())

	clock.Set(t0.Add(10 * time.Minute))
	second := first
	second.Instrument = "ETH_JPY"
	assert.True(t, ev.Evaluate(second, r).Admit)

	assert.Equal(t, 1, ev.Len())
	assert.False(t, ev.IsHot(first.Key(), r.Cooldown(), clock.Now()))
}

func TestEvaluator_LongerCooldownAfterSweep(t *testing.T) {
	clock := &fakeClock{t: t0}
	ev := NewEvaluator(WithClock(clock.Now))

	first := opportunity("2197.5", "0.05")
	require.True(t, ev.Evaluate(first, rule("0", "0", 60)).Admit)

	clock.Set(t0.Add(250 * time.Second))
	other := first
	other.Instrument = "ETH_JPY"
	require.True(t, ev.Evaluate(other, rule("0", "0", 60)).Admit)

	clock.Set(t0.Add(260 * time.Second))
	dec := ev.Evaluate(first, rule("0", "0", 600))
	assert.False(t, dec.Admit)
	assert.Equal(t, ReasonCooldown, dec.Reason)
	assert.Equal(t, 2, ev.Len())
}

func TestEvaluator_Seed(t *testing.T) {
	clock := &fakeClock{t: t0.Add(time.Minute)}
	ev := NewEvaluator(WithClock(clock.Now))

	opp := opportunity("2197.5", "0.05")
	ev.Seed([]model.Alert{
		{Opportunity: opp, FiredAt: t0},
		{Opportunity: opp, FiredAt: t0.Add(-time.Hour)},
	})
	assert.Equal(t, 1, ev.Len())
	assert.True(t, ev.IsHot(opp.Key(), 5*time.Minute, clock.Now()))

	dec := ev.Evaluate(opp, rule("0", "0", 300))
	assert.Equal(t, ReasonCooldown, dec.Reason)

	clock.Set(t0.Add(5 * time.Minute))
	assert.True(t, ev.Evaluate(opp, rule("0", "0", 300)).Admit)
}
