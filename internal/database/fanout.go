package database

import (
	"context"
	"errors"

	"arbwatch/internal/model"
)

// Fanout writes every record to all repositories and reads from the first.
type Fanout []Repository

func (f Fanout) LogTicker(ctx context.Context, t model.NormalizedTicker) error {
	return f.each(func(r Repository) error { return r.LogTicker(ctx, t) })
}

func (f Fanout) LogOrderBook(ctx context.Context, b model.NormalizedOrderBook) error {
	return f.each(func(r Repository) error { return r.LogOrderBook(ctx, b) })
}

func (f Fanout) LogOpportunity(ctx context.Context, o model.SpreadOpportunity) error {
	return f.each(func(r Repository) error { return r.LogOpportunity(ctx, o) })
}

func (f Fanout) LogAlert(ctx context.Context, a model.Alert) error {
	return f.each(func(r Repository) error { return r.LogAlert(ctx, a) })
}

func (f Fanout) ListOpportunities(ctx context.Context, filter OpportunityFilter) ([]model.SpreadOpportunity, error) {
	if len(f) == 0 {
		return nil, nil
	}
	return f[0].ListOpportunities(ctx, filter)
}

func (f Fanout) each(fn func(Repository) error) error {
	var errs []error
	for _, r := range f {
		if err := fn(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
