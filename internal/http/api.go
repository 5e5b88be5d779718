package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/fuelprices"
	"github.com/andygrunwald/fuelprices/internal/models"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}

type locationResult struct {
	Location models.LocationView `json:"location"`
	Distance float64             `json:"distance"`
}

type apiHandler struct {
	fuelPrices *fuelprices.FuelPrices
	logger     zerolog.Logger
}

type pointQuery struct {
	point    models.Coordinates
	radius   float64
	provider string
}

func parsePointQuery(r *http.Request) (pointQuery, error) {
	q := r.URL.Query()
	var pq pointQuery

	lat, err := parseFloat(q.Get("lat"), "lat")
	if err != nil {
		return pq, err
	}
	lng, err := parseFloat(q.Get("lng"), "lng")
	if err != nil {
		return pq, err
	}
	radius, err := parseFloat(q.Get("radius"), "radius")
	if err != nil {
		return pq, err
	}

	switch {
	case !finite(lat), !finite(lng), !finite(radius):
		return pq, errors.New("lat, lng and radius must be finite numbers")
	case lat < -90 || lat > 90:
		return pq, fmt.Errorf("lat %v out of range", lat)
	case lng < -180 || lng > 180:
		return pq, fmt.Errorf("lng %v out of range", lng)
	case radius <= 0:
		return pq, errors.New("radius must be positive")
	}

	pq.point = models.Coordinates{Latitude: lat, Longitude: lng}
	pq.radius = radius
	pq.provider = q.Get("provider")
	return pq, nil
}

func parseFloat(s, name string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (h *apiHandler) locations(w http.ResponseWriter, r *http.Request) {
	pq, err := parsePointQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	found, err := h.fuelPrices.FindFuelLocationsFromPoint(r.Context(), pq.point, pq.radius, pq.provider)
	if err != nil {
		h.writeError(w, err)
		return
	}

	results := make([]locationResult, 0, len(found))
	for _, ld := range found {
		results = append(results, locationResult{Location: ld.Location.View(), Distance: ld.Distance})
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *apiHandler) fuel(w http.ResponseWriter, r *http.Request) {
	pq, err := parsePointQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	fuelType := r.URL.Query().Get("fuel_type")
	if fuelType == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing fuel_type"})
		return
	}

	matches, err := h.fuelPrices.FindFuelFromPoint(r.Context(), pq.point, pq.radius, fuelType, pq.provider)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if matches == nil {
		matches = []fuelprices.FuelMatch{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *apiHandler) site(w http.ResponseWriter, r *http.Request) {
	loc, err := h.fuelPrices.GetFuelLocation(r.Context(), r.PathValue("id"), r.PathValue("provider"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc.View())
}

func (h *apiHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fuelprices.ErrUnmappedRegion),
		errors.Is(err, fuelprices.ErrUnknownProvider),
		errors.Is(err, api.ErrSiteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, fuelprices.ErrNoGeocoder):
		status = http.StatusServiceUnavailable
	case api.IsTimeout(err):
		status = http.StatusGatewayTimeout
	default:
		var failed *api.UpdateFailedError
		if errors.As(err, &failed) {
			status = http.StatusBadGateway
		}
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
