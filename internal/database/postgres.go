// Package database provides the PostgreSQL price history store.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuelprices/internal/models"
)

// Schema creates the price history table.
const Schema = `
CREATE TABLE IF NOT EXISTS fuel_price_observations (
	location_id   TEXT           NOT NULL,
	provider      TEXT           NOT NULL,
	fuel_type     TEXT           NOT NULL,
	observed_date DATE           NOT NULL,
	cost          NUMERIC(12, 4) NOT NULL,
	currency      TEXT           NOT NULL DEFAULT '',
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	observed_at   TIMESTAMPTZ    NOT NULL,
	PRIMARY KEY (location_id, fuel_type, observed_date)
)`

const insertObservation = `
	INSERT INTO fuel_price_observations
		(location_id, provider, fuel_type, observed_date, cost, currency, latitude, longitude, observed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (location_id, fuel_type, observed_date)
	DO UPDATE SET
		cost = EXCLUDED.cost,
		currency = EXCLUDED.currency,
		observed_at = EXCLUDED.observed_at
`

// DB wraps the PostgreSQL database connection and provides operations for
// price observations.
type DB struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New creates a new database connection.
func New(dsn string, logger zerolog.Logger) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{
		db:     db,
		logger: logger.With().Str("component", "database").Logger(),
	}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks if the database connection is alive.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// EnsureSchema creates missing tables.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// InsertObservations upserts observations in one transaction. A location
// keeps one row per fuel and day; later observations of the same day win.
func (d *DB) InsertObservations(ctx context.Context, obs []models.PriceObservation) (int64, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertObservation)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, o := range obs {
		res, err := stmt.ExecContext(ctx, observationArgs(o)...)
		if err != nil {
			return 0, fmt.Errorf("inserting observation %s/%s: %w", o.LocationID, o.FuelType, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			written += n
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing observations: %w", err)
	}

	d.logger.Debug().
		Int("observations", len(obs)).
		Int64("written", written).
		Msg("stored price observations")

	return written, nil
}

func observationArgs(o models.PriceObservation) []any {
	return []any{
		o.LocationID,
		o.Provider,
		o.FuelType,
		o.ObservedAt.UTC().Format(time.DateOnly),
		o.Cost,
		o.Currency,
		o.Latitude,
		o.Longitude,
		o.ObservedAt,
	}
}

// GetTotalObservationsCount returns the number of stored observations.
func (d *DB) GetTotalObservationsCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fuel_price_observations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting observations: %w", err)
	}
	return count, nil
}
