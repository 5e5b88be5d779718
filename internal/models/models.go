// Package models provides shared data types for the fuel price aggregator.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is a single fuel price seen at a location, as written to
// the price history table.
type PriceObservation struct {
	LocationID string
	Provider   string
	FuelType   string
	Cost       decimal.Decimal
	Currency   string
	Latitude   float64
	Longitude  float64
	ObservedAt time.Time
}

// ProviderStatus holds the operational status of a provider.
type ProviderStatus struct {
	Enabled            bool       `json:"enabled"`
	LastUpdateAt       *time.Time `json:"last_update_at"`
	LastUpdateSuccess  bool       `json:"last_update_success"`
	LastResponseTimeMs int64      `json:"last_response_time_ms"`
	LastLocationCount  int        `json:"last_location_count"`
	LastError          *string    `json:"last_error"`
	TotalRequests      int64      `json:"total_requests"`
	TotalErrors        int64      `json:"total_errors"`
	NextUpdateAt       *time.Time `json:"next_update_at,omitempty"`
	CachedLocations    int        `json:"cached_locations"`
}

// StatusResponse is the response for the /status endpoint.
type StatusResponse struct {
	Status             string                    `json:"status"`
	UptimeSeconds      int64                     `json:"uptime_seconds"`
	SchedulerRunning   bool                      `json:"scheduler_running"`
	NextRunAt          *time.Time                `json:"next_run_at,omitempty"`
	LastScheduledRunAt *time.Time                `json:"last_scheduled_run_at,omitempty"`
	Providers          map[string]ProviderStatus `json:"providers"`
	Database           DatabaseStatus            `json:"database"`
}

// DatabaseStatus holds the price history database status.
type DatabaseStatus struct {
	Enabled                 bool  `json:"enabled"`
	Connected               bool  `json:"connected"`
	TotalObservationsStored int64 `json:"total_observations_stored"`
}
