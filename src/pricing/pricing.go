// Package pricing reads fuel prices and stations for the command handlers.
package pricing

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for lookups of a single record that does not exist.
var ErrNotFound = errors.New("not found")

type Station struct {
	ID      string
	Name    string
	Brand   string
	Address string
	City    string
	Lat     float64
	Lng     float64
}

// Price is the latest reported price of one fuel at one station.
type Price struct {
	StationID   string
	StationName string
	City        string
	FuelType    string
	Price       float64
	UpdatedAt   time.Time
}

// HistoryPoint aggregates the prices reported on one day.
type HistoryPoint struct {
	Day     time.Time
	Average float64
	Min     float64
	Max     float64
	Samples int
}

type Account struct {
	UserID    string
	Email     string
	StationID string
	LinkedAt  time.Time
}

// Query filters price lookups. Empty fields do not filter.
type Query struct {
	FuelType string
	Location string
	Limit    int
}

// Repository is the read side of the price data plus account linking.
type Repository interface {
	CurrentPrices(ctx context.Context, q Query) ([]Price, error)
	// Cheapest ranks stations by price. Equal prices are ordered by freshness, newest first,
	// then by station name.
	Cheapest(ctx context.Context, q Query) ([]Price, error)
	History(ctx context.Context, fuelType, location string, days int) ([]HistoryPoint, error)
	SearchStations(ctx context.Context, term string, limit, offset int) ([]Station, error)
	Station(ctx context.Context, id string) (*Station, error)
	LinkAccount(ctx context.Context, account Account) error
	LinkedAccount(ctx context.Context, userID string) (*Account, error)
	Ping(ctx context.Context) error
}
