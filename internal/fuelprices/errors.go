package fuelprices

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/andygrunwald/fuelprices/internal/api"
)

var (
	// ErrUnmappedRegion is returned by point queries for a country no
	// provider serves.
	ErrUnmappedRegion = errors.New("no data source exists for the given coordinates")
	// ErrUnknownProvider is returned when a named provider is not configured.
	ErrUnknownProvider = errors.New("provider not configured")
	// ErrNoGeocoder is returned by point queries that need a country lookup
	// when no geocoder is set.
	ErrNoGeocoder = errors.New("no geocoder configured")
)

// UpdateError aggregates the failures of one Update fan-out.
type UpdateError struct {
	// Failed maps provider name to HTTP status for classified upstream failures.
	Failed map[string]int
	// Others holds every failure that is not an *api.UpdateFailedError.
	Others []error

	errs []error
}

func newUpdateError(errs []error) *UpdateError {
	e := &UpdateError{Failed: make(map[string]int), errs: errs}
	for _, err := range errs {
		var failed *api.UpdateFailedError
		if errors.As(err, &failed) {
			e.Failed[failed.Provider] = failed.Status
			continue
		}
		e.Others = append(e.Others, err)
	}
	return e
}

// Error implements the error interface.
func (e *UpdateError) Error() string {
	parts := make([]string, 0, len(e.Failed)+len(e.Others))
	for _, name := range slices.Sorted(maps.Keys(e.Failed)) {
		parts = append(parts, fmt.Sprintf("%s: status %d", name, e.Failed[name]))
	}
	for _, err := range e.Others {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("updating %d provider(s) failed: %s", len(e.errs), strings.Join(parts, "; "))
}

// Unwrap returns every collected failure.
func (e *UpdateError) Unwrap() []error {
	return e.errs
}
