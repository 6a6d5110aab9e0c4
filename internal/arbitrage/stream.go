package arbitrage

import (
	"iter"
	"slices"
	"strings"
	"time"

	"arbwatch/internal/model"

	"golang.org/x/sync/errgroup"
)

// Skip describes a pair or exchange that produced no opportunity this tick.
// ExchangeB is empty when the whole exchange was excluded.
type Skip struct {
	Instrument string
	ExchangeA  string
	ExchangeB  string
	Err        error
}

// Stream fans the calculator out over every unordered exchange pair and every
// instrument both exchanges report.
type Stream struct {
	calc    *Calculator
	workers int

	// OnSkip, when set, is called for every pair that yields nothing. It is
	// invoked from the goroutine ranging over the sequence, in emission order.
	OnSkip func(Skip)
}

// NewStream creates a Stream. workers > 1 computes pairs concurrently; the
// emission order is the same either way.
func NewStream(calc *Calculator, workers int) *Stream {
	return &Stream{calc: calc, workers: workers}
}

type pairTask struct {
	instrument string
	a, b       Leg
}

type pairResult struct {
	opp model.SpreadOpportunity
	err error
}

// Opportunities returns the candidate opportunities for one tick, ordered by
// exchange pair (lexicographic) then instrument. The sequence is single-use.
func (s *Stream) Opportunities(snapshots []model.Snapshot, fees FeeSource, at time.Time) iter.Seq[model.SpreadOpportunity] {
	return func(yield func(model.SpreadOpportunity) bool) {
		tasks, skips := s.plan(snapshots, NewFeeModel(fees))
		for _, sk := range skips {
			s.skip(sk)
		}

		if s.workers <= 1 || len(tasks) < 2 {
			for _, t := range tasks {
				opp, err := s.calc.ComputeSpread(t.a, t.b, at)
				if !s.emit(t, pairResult{opp: opp, err: err}, yield) {
					return
				}
			}
			return
		}

		results := make([]pairResult, len(tasks))
		var g errgroup.Group
		g.SetLimit(s.workers)
		for i, t := range tasks {
			g.Go(func() error {
				opp, err := s.calc.ComputeSpread(t.a, t.b, at)
				results[i] = pairResult{opp: opp, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, t := range tasks {
			if !s.emit(t, results[i], yield) {
				return
			}
		}
	}
}

// Collect drains Opportunities into a slice.
func (s *Stream) Collect(snapshots []model.Snapshot, fees FeeSource, at time.Time) []model.SpreadOpportunity {
	return slices.Collect(s.Opportunities(snapshots, fees, at))
}

func (s *Stream) emit(t pairTask, r pairResult, yield func(model.SpreadOpportunity) bool) bool {
	if r.err != nil {
		s.skip(Skip{Instrument: t.instrument, ExchangeA: t.a.Ticker.Exchange, ExchangeB: t.b.Ticker.Exchange, Err: r.err})
		return true
	}
	return yield(r.opp)
}

func (s *Stream) skip(sk Skip) {
	if s.OnSkip != nil {
		s.OnSkip(sk)
	}
}

// plan groups snapshots by exchange and instrument, resolves fee profiles and
// lists the pairs to price in emission order.
func (s *Stream) plan(snapshots []model.Snapshot, fees FeeModel) ([]pairTask, []Skip) {
	byExchange := make(map[string]map[string]model.Snapshot)
	for _, snap := range snapshots {
		ex := strings.ToLower(snap.Exchange())
		if ex == "" || snap.Instrument() == "" {
			continue
		}
		if byExchange[ex] == nil {
			byExchange[ex] = make(map[string]model.Snapshot)
		}
		byExchange[ex][snap.Instrument()] = snap
	}

	var skips []Skip
	profiles := make(map[string]model.FeeProfile, len(byExchange))
	exchanges := make([]string, 0, len(byExchange))
	for ex := range byExchange {
		p, err := fees.EffectiveFee(ex)
		if err != nil {
			skips = append(skips, Skip{ExchangeA: ex, Err: err})
			continue
		}
		profiles[ex] = p
		exchanges = append(exchanges, ex)
	}
	slices.Sort(exchanges)
	slices.SortFunc(skips, func(a, b Skip) int { return strings.Compare(a.ExchangeA, b.ExchangeA) })

	var tasks []pairTask
	for i := 0; i < len(exchanges); i++ {
		for j := i + 1; j < len(exchanges); j++ {
			exA, exB := exchanges[i], exchanges[j]
			instruments := make([]string, 0, len(byExchange[exA]))
			for inst := range byExchange[exA] {
				if _, ok := byExchange[exB][inst]; ok {
					instruments = append(instruments, inst)
				}
			}
			slices.Sort(instruments)
			for _, inst := range instruments {
				sa, sb := byExchange[exA][inst], byExchange[exB][inst]
				tasks = append(tasks, pairTask{
					instrument: inst,
					a:          Leg{Ticker: sa.Ticker, Book: sa.OrderBook, Fee: profiles[exA]},
					b:          Leg{Ticker: sb.Ticker, Book: sb.OrderBook, Fee: profiles[exB]},
				})
			}
		}
	}
	return tasks, skips
}
