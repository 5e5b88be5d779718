package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/andygrunwald/fuelprices/internal/fuelprices"
	"github.com/andygrunwald/fuelprices/internal/models"
)

// SchedulerStatus is the scheduler state reported by /status.
type SchedulerStatus interface {
	IsRunning() bool
	NextRunAt() time.Time
	LastRunAt() *time.Time
}

// HistoryStatus is the price history database state reported by /status.
type HistoryStatus interface {
	Ping() error
	GetTotalObservationsCount(ctx context.Context) (int64, error)
}

// StatusHandler handles the /status endpoint.
type StatusHandler struct {
	fuelPrices *fuelprices.FuelPrices
	scheduler  SchedulerStatus
	db         HistoryStatus
	startTime  time.Time
}

// NewStatusHandler creates a new StatusHandler. sched and db may be nil.
func NewStatusHandler(fp *fuelprices.FuelPrices, sched SchedulerStatus, db HistoryStatus) *StatusHandler {
	return &StatusHandler{
		fuelPrices: fp,
		scheduler:  sched,
		db:         db,
		startTime:  time.Now(),
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	response := models.StatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Providers:     make(map[string]models.ProviderStatus),
	}

	if h.scheduler != nil {
		response.SchedulerRunning = h.scheduler.IsRunning()
		response.LastScheduledRunAt = h.scheduler.LastRunAt()
		if next := h.scheduler.NextRunAt(); !next.IsZero() {
			response.NextRunAt = &next
		}
	}

	for _, provider := range h.fuelPrices.GetProviders() {
		metrics := h.fuelPrices.GetMetrics(provider.Name())
		if metrics == nil {
			continue
		}

		snapshot := metrics.GetSnapshot()
		status := models.ProviderStatus{
			Enabled:            true,
			LastUpdateAt:       snapshot.LastUpdateAt,
			LastUpdateSuccess:  snapshot.LastUpdateSuccess,
			LastResponseTimeMs: snapshot.LastResponseTime.Milliseconds(),
			LastLocationCount:  snapshot.LastLocationCount,
			LastError:          snapshot.LastError,
			TotalRequests:      snapshot.TotalRequests,
			TotalErrors:        snapshot.TotalErrors,
			CachedLocations:    len(provider.Locations()),
		}
		if next := provider.NextUpdate(); !next.IsZero() {
			status.NextUpdateAt = &next
		}
		if snapshot.TotalErrors > 0 && !snapshot.LastUpdateSuccess {
			response.Status = "degraded"
		}

		response.Providers[provider.Name()] = status
	}

	response.Database = h.getDatabaseStatus(ctx)

	writeJSON(w, http.StatusOK, response)
}

func (h *StatusHandler) getDatabaseStatus(ctx context.Context) models.DatabaseStatus {
	status := models.DatabaseStatus{}

	if h.db == nil {
		return status
	}
	status.Enabled = true

	if err := h.db.Ping(); err != nil {
		return status
	}
	status.Connected = true

	count, err := h.db.GetTotalObservationsCount(ctx)
	if err == nil {
		status.TotalObservationsStored = count
	}

	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
