// Package http provides the HTTP surface of the fuel price aggregator.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the aggregator.
type Metrics struct {
	// Provider update metrics
	ProviderUpdatesTotal   *prometheus.CounterVec
	ProviderUpdateDuration *prometheus.HistogramVec
	LastSuccessTimestamp   *prometheus.GaugeVec
	CachedLocations        *prometheus.GaugeVec

	// Geocoder metrics
	GeocodeRequestsTotal   *prometheus.CounterVec
	GeocodeRequestDuration prometheus.Histogram

	// Database metrics
	HistoryRowsTotal *prometheus.CounterVec
}

// NewMetrics creates Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProviderUpdatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelprices_provider_updates_total",
				Help: "Total number of provider updates by provider and status",
			},
			[]string{"provider", "status"},
		),
		ProviderUpdateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fuelprices_provider_update_duration_seconds",
				Help:    "Provider update duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"provider"},
		),
		LastSuccessTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuelprices_last_success_timestamp",
				Help: "Timestamp of the last successful provider update",
			},
			[]string{"provider"},
		),
		CachedLocations: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fuelprices_cached_locations",
				Help: "Number of locations cached by provider",
			},
			[]string{"provider"},
		),
		GeocodeRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelprices_geocode_requests_total",
				Help: "Total number of reverse geocode lookups by status",
			},
			[]string{"status"},
		),
		GeocodeRequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fuelprices_geocode_request_duration_seconds",
				Help:    "Reverse geocode lookup duration in seconds, including rate limit waits",
				Buckets: prometheus.DefBuckets,
			},
		),
		HistoryRowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fuelprices_history_rows_written_total",
				Help: "Total number of price observations written to the database by provider",
			},
			[]string{"provider"},
		),
	}
}

// RecordProviderUpdate records a provider update.
func (m *Metrics) RecordProviderUpdate(provider, status string, duration float64) {
	m.ProviderUpdatesTotal.WithLabelValues(provider, status).Inc()
	m.ProviderUpdateDuration.WithLabelValues(provider).Observe(duration)
}

// RecordLastSuccess records the last successful update timestamp.
func (m *Metrics) RecordLastSuccess(provider string, timestamp float64) {
	m.LastSuccessTimestamp.WithLabelValues(provider).Set(timestamp)
}

// RecordCachedLocations records the cache size of a provider.
func (m *Metrics) RecordCachedLocations(provider string, count float64) {
	m.CachedLocations.WithLabelValues(provider).Set(count)
}

// RecordHistoryRows records price observations written for a provider.
func (m *Metrics) RecordHistoryRows(provider string, count float64) {
	m.HistoryRowsTotal.WithLabelValues(provider).Add(count)
}

// RecordGeocodeRequest records a reverse geocode lookup.
func (m *Metrics) RecordGeocodeRequest(status string, duration float64) {
	m.GeocodeRequestsTotal.WithLabelValues(status).Inc()
	m.GeocodeRequestDuration.Observe(duration)
}
