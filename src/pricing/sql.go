package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fuelbot/src/model"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const defaultLimit = 10

// SQLRepository implements Repository on database/sql for SQLite and PostgreSQL.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

type Option func(*SQLRepository)

func WithClock(now func() time.Time) Option {
	return func(r *SQLRepository) { r.now = now }
}

// Open connects to the configured database and creates the schema if needed.
func Open(ctx context.Context, cfg model.DatabaseConfig, opts ...Option) (*SQLRepository, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "." && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &SQLRepository{db: db, driver: cfg.Driver, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stations (
			id      TEXT PRIMARY KEY,
			name    TEXT NOT NULL,
			brand   TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			city    TEXT NOT NULL DEFAULT '',
			lat     DOUBLE PRECISION NOT NULL DEFAULT 0,
			lng     DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS prices (
			station_id  TEXT NOT NULL REFERENCES stations(id),
			fuel_type   TEXT NOT NULL,
			price       DOUBLE PRECISION NOT NULL,
			recorded_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prices_station_fuel ON prices(station_id, fuel_type, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id    TEXT PRIMARY KEY,
			email      TEXT NOT NULL,
			station_id TEXT NOT NULL DEFAULT '',
			linked_at  BIGINT NOT NULL
		)`,
	}
	if r.driver == DriverSQLite {
		stmts = append([]string{`PRAGMA busy_timeout = 5000`}, stmts...)
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// AddStation inserts or updates a station. Used by loaders and tests.
func (r *SQLRepository) AddStation(ctx context.Context, s Station) error {
	query := `
	INSERT INTO stations (id, name, brand, address, city, lat, lng)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		brand = excluded.brand,
		address = excluded.address,
		city = excluded.city,
		lat = excluded.lat,
		lng = excluded.lng`
	_, err := r.db.ExecContext(ctx, r.rebind(query), s.ID, s.Name, s.Brand, s.Address, s.City, s.Lat, s.Lng)
	if err != nil {
		return fmt.Errorf("upsert station %s: %w", s.ID, err)
	}
	return nil
}

// RecordPrice appends a price observation.
func (r *SQLRepository) RecordPrice(ctx context.Context, stationID, fuelType string, price float64, at time.Time) error {
	query := `INSERT INTO prices (station_id, fuel_type, price, recorded_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), stationID, strings.ToLower(fuelType), price, at.Unix())
	if err != nil {
		return fmt.Errorf("record price: %w", err)
	}
	return nil
}

// latestPrices selects the newest observation per station and fuel.
func (r *SQLRepository) latestPrices(ctx context.Context, q Query, orderBy string) ([]Price, error) {
	where, args := []string{
		`p.recorded_at = (SELECT MAX(p2.recorded_at) FROM prices p2
			WHERE p2.station_id = p.station_id AND p2.fuel_type = p.fuel_type)`,
	}, []any{}
	if q.FuelType != "" {
		where, args = append(where, "p.fuel_type = ?"), append(args, strings.ToLower(q.FuelType))
	}
	if q.Location != "" {
		where, args = append(where, "LOWER(s.city) = ?"), append(args, strings.ToLower(q.Location))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT s.id, s.name, s.city, p.fuel_type, p.price, p.recorded_at
		FROM prices p JOIN stations s ON s.id = p.station_id
		WHERE %s
		ORDER BY %s
		LIMIT ?`, strings.Join(where, " AND "), orderBy)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query prices: %w", err)
	}
	defer rows.Close()

	var out []Price
	for rows.Next() {
		var p Price
		var recordedAt int64
		if err := rows.Scan(&p.StationID, &p.StationName, &p.City, &p.FuelType, &p.Price, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan price row: %w", err)
		}
		p.UpdatedAt = time.Unix(recordedAt, 0)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLRepository) CurrentPrices(ctx context.Context, q Query) ([]Price, error) {
	return r.latestPrices(ctx, q, "s.name ASC, p.fuel_type ASC")
}

func (r *SQLRepository) Cheapest(ctx context.Context, q Query) ([]Price, error) {
	return r.latestPrices(ctx, q, "p.price ASC, p.recorded_at DESC, s.name ASC")
}

func (r *SQLRepository) History(ctx context.Context, fuelType, location string, days int) ([]HistoryPoint, error) {
	if days <= 0 {
		days = 7
	}
	since := r.now().Add(-time.Duration(days) * 24 * time.Hour).Unix()
	where, args := []string{"p.fuel_type = ?", "p.recorded_at >= ?"}, []any{strings.ToLower(fuelType), since}
	if location != "" {
		where, args = append(where, "LOWER(s.city) = ?"), append(args, strings.ToLower(location))
	}
	query := fmt.Sprintf(`
		SELECT p.recorded_at / 86400 AS day, AVG(p.price), MIN(p.price), MAX(p.price), COUNT(*)
		FROM prices p JOIN stations s ON s.id = p.station_id
		WHERE %s
		GROUP BY p.recorded_at / 86400
		ORDER BY day ASC`, strings.Join(where, " AND "))

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var h HistoryPoint
		var day int64
		if err := rows.Scan(&day, &h.Average, &h.Min, &h.Max, &h.Samples); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		h.Day = time.Unix(day*86400, 0).UTC()
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *SQLRepository) SearchStations(ctx context.Context, term string, limit, offset int) ([]Station, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(term)) + "%"
	query := `
		SELECT id, name, brand, address, city, lat, lng
		FROM stations
		WHERE LOWER(name) LIKE ? OR LOWER(brand) LIKE ? OR LOWER(city) LIKE ? OR LOWER(address) LIKE ?
		ORDER BY name ASC, id ASC
		LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), pattern, pattern, pattern, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search stations: %w", err)
	}
	defer rows.Close()

	var out []Station
	for rows.Next() {
		var s Station
		if err := rows.Scan(&s.ID, &s.Name, &s.Brand, &s.Address, &s.City, &s.Lat, &s.Lng); err != nil {
			return nil, fmt.Errorf("scan station row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLRepository) Station(ctx context.Context, id string) (*Station, error) {
	query := `SELECT id, name, brand, address, city, lat, lng FROM stations WHERE id = ?`
	var s Station
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).
		Scan(&s.ID, &s.Name, &s.Brand, &s.Address, &s.City, &s.Lat, &s.Lng)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("station %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan station row: %w", err)
	}
	return &s, nil
}

func (r *SQLRepository) LinkAccount(ctx context.Context, a Account) error {
	if a.LinkedAt.IsZero() {
		a.LinkedAt = r.now()
	}
	query := `
	INSERT INTO accounts (user_id, email, station_id, linked_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		email = excluded.email,
		station_id = excluded.station_id,
		linked_at = excluded.linked_at`
	_, err := r.db.ExecContext(ctx, r.rebind(query), a.UserID, a.Email, a.StationID, a.LinkedAt.Unix())
	if err != nil {
		return fmt.Errorf("link account %s: %w", a.UserID, err)
	}
	return nil
}

func (r *SQLRepository) LinkedAccount(ctx context.Context, userID string) (*Account, error) {
	query := `SELECT user_id, email, station_id, linked_at FROM accounts WHERE user_id = ?`
	var a Account
	var linkedAt int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(&a.UserID, &a.Email, &a.StationID, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}
	a.LinkedAt = time.Unix(linkedAt, 0)
	return &a, nil
}
