// Package registry lists the compiled-in providers and the countries they serve.
package registry

import (
	"fmt"
	"slices"
	"strings"

	"github.com/andygrunwald/fuelprices/internal/api"
	"github.com/andygrunwald/fuelprices/internal/api/cma"
	"github.com/andygrunwald/fuelprices/internal/api/directlease"
	"github.com/andygrunwald/fuelprices/internal/api/tankerkoenig"
)

// ConfigType describes which settings a provider accepts.
type ConfigType string

const (
	ConfigRequiresOnly        ConfigType = "requires_only"
	ConfigOptionalOnly        ConfigType = "optional_only"
	ConfigRequiresAndOptional ConfigType = "requires_and_optional"
	ConfigNone                ConfigType = "none"
)

// Factory creates a provider.
type Factory func(opts api.Options) (api.Provider, error)

// Entry describes one provider.
type Entry struct {
	Name string
	// Countries are ISO 3166-1 alpha-2 codes, upper case.
	Countries []string
	Enabled   bool
	// AutoMapped providers are enabled when only a country code is configured.
	AutoMapped bool
	ConfigType ConfigType
	New        Factory
}

// RequiresConfig reports whether the provider cannot start without settings.
func (e Entry) RequiresConfig() bool {
	return e.ConfigType == ConfigRequiresOnly || e.ConfigType == ConfigRequiresAndOptional
}

// Registry is an ordered set of provider entries.
type Registry struct {
	entries []Entry
	byName  map[string]int
}

// New creates a registry from entries. Later entries with a duplicate name
// are ignored.
func New(entries ...Entry) *Registry {
	r := &Registry{byName: make(map[string]int, len(entries))}
	for _, e := range entries {
		if _, ok := r.byName[e.Name]; ok {
			continue
		}
		e.Countries = slices.Clone(e.Countries)
		for i, c := range e.Countries {
			e.Countries[i] = strings.ToUpper(c)
		}
		r.byName[e.Name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r
}

// Default returns the registry of every compiled-in provider.
func Default() *Registry {
	entries := make([]Entry, 0, len(cma.Retailers)+2)
	for _, retailer := range cma.Retailers {
		entries = append(entries, Entry{
			Name:       retailer.Name,
			Countries:  []string{"GB"},
			Enabled:    true,
			AutoMapped: true,
			ConfigType: ConfigNone,
			New: func(opts api.Options) (api.Provider, error) {
				return cma.New(retailer, opts), nil
			},
		})
	}
	entries = append(entries,
		Entry{
			Name:       directlease.ProviderName,
			Countries:  []string{"NL", "BE"},
			Enabled:    true,
			AutoMapped: true,
			ConfigType: ConfigNone,
			New: func(opts api.Options) (api.Provider, error) {
				return directlease.New(opts), nil
			},
		},
		Entry{
			Name:       tankerkoenig.ProviderName,
			Countries:  []string{"DE"},
			Enabled:    true,
			AutoMapped: true,
			ConfigType: ConfigOptionalOnly,
			New: func(opts api.Options) (api.Provider, error) {
				return tankerkoenig.New(opts)
			},
		},
	)
	return New(entries...)
}

// All returns every entry in registration order.
func (r *Registry) All() []Entry {
	return slices.Clone(r.entries)
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// ForCountry returns the names of every provider serving code, enabled or not.
// The result is nil for an unmapped country.
func (r *Registry) ForCountry(code string) []string {
	code = strings.ToUpper(code)
	var names []string
	for _, e := range r.entries {
		if slices.Contains(e.Countries, code) {
			names = append(names, e.Name)
		}
	}
	return names
}

// AutoMapped returns the enabled, auto-mapped providers serving code.
func (r *Registry) AutoMapped(code string) []string {
	code = strings.ToUpper(code)
	var names []string
	for _, e := range r.entries {
		if e.Enabled && e.AutoMapped && slices.Contains(e.Countries, code) {
			names = append(names, e.Name)
		}
	}
	return names
}

// RequiresConfig reports whether the named provider needs settings.
func (r *Registry) RequiresConfig(name string) (bool, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return false, fmt.Errorf("provider %q not found", name)
	}
	return e.RequiresConfig(), nil
}
