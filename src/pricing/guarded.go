package pricing

import (
	"context"
	"errors"

	"fuelbot/src/resilience"
)

// Guarded runs every repository call through the database breaker and the price query
// timeout class. Lookups that find nothing are not failures of the database.
type Guarded struct {
	repo  Repository
	guard *resilience.Guard
}

func NewGuarded(repo Repository, guard *resilience.Guard) *Guarded {
	return &Guarded{repo: repo, guard: guard}
}

var _ Repository = (*Guarded)(nil)

func notFoundIsPermanent(err error) error {
	if errors.Is(err, ErrNotFound) {
		return resilience.Permanent(err)
	}
	return err
}

func guarded[T any](ctx context.Context, g *Guarded, op func(ctx context.Context) (T, error)) (T, error) {
	return resilience.GuardedCall(ctx, g.guard, func(ctx context.Context) (T, error) {
		v, err := op(ctx)
		return v, notFoundIsPermanent(err)
	})
}

func (g *Guarded) CurrentPrices(ctx context.Context, q Query) ([]Price, error) {
	return guarded(ctx, g, func(ctx context.Context) ([]Price, error) { return g.repo.CurrentPrices(ctx, q) })
}

func (g *Guarded) Cheapest(ctx context.Context, q Query) ([]Price, error) {
	return guarded(ctx, g, func(ctx context.Context) ([]Price, error) { return g.repo.Cheapest(ctx, q) })
}

func (g *Guarded) History(ctx context.Context, fuelType, location string, days int) ([]HistoryPoint, error) {
	return guarded(ctx, g, func(ctx context.Context) ([]HistoryPoint, error) {
		return g.repo.History(ctx, fuelType, location, days)
	})
}

func (g *Guarded) SearchStations(ctx context.Context, term string, limit, offset int) ([]Station, error) {
	return guarded(ctx, g, func(ctx context.Context) ([]Station, error) {
		return g.repo.SearchStations(ctx, term, limit, offset)
	})
}

func (g *Guarded) Station(ctx context.Context, id string) (*Station, error) {
	return guarded(ctx, g, func(ctx context.Context) (*Station, error) { return g.repo.Station(ctx, id) })
}

func (g *Guarded) LinkAccount(ctx context.Context, a Account) error {
	return g.guard.Do(ctx, func(ctx context.Context) error { return notFoundIsPermanent(g.repo.LinkAccount(ctx, a)) })
}

func (g *Guarded) LinkedAccount(ctx context.Context, userID string) (*Account, error) {
	return guarded(ctx, g, func(ctx context.Context) (*Account, error) { return g.repo.LinkedAccount(ctx, userID) })
}

// Ping is not guarded: health checks must see the database as it is.
func (g *Guarded) Ping(ctx context.Context) error {
	return g.repo.Ping(ctx)
}
