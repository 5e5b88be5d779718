package cma

import (
	"time"

	"github.com/andygrunwald/fuelprices/internal/useragent"
)

// Retailer describes one UK retailer publishing the open data feed.
type Retailer struct {
	// Name is the provider identifier.
	Name string
	// URL is the feed location.
	URL string
	// Timeout overrides the default upstream timeout when set.
	Timeout time.Duration
	// Headers are sent with every feed request.
	Headers map[string]string
}

var browserHeaders = map[string]string{
	"User-Agent":                useragent.Desktop,
	"Accept":                    "application/json",
	"Accept-Language":           "en-GB,en;q=0.5",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "cross-site",
	"Sec-Fetch-User":            "?1",
}

// Retailers lists every retailer feed, in registration order.
var Retailers = []Retailer{
	{Name: "applegreen", URL: "https://applegreenstores.com/fuel-prices/data.json"},
	{Name: "asconagroup", URL: "https://fuelprices.asconagroup.co.uk/newfuel.json"},
	{Name: "asda", URL: "https://storelocator.asda.com/fuel_prices_data.json", Timeout: 10 * time.Second},
	{Name: "bpuk", URL: "https://www.bp.com/en_gb/united-kingdom/home/fuelprices/fuel_prices_data.json"},
	{Name: "essouk", URL: "https://fuelprices.esso.co.uk/latestdata.json", Timeout: 60 * time.Second},
	{Name: "jet", URL: "https://jetlocal.co.uk/fuel_prices_data.json"},
	{Name: "morrisons", URL: "https://www.morrisons.com/fuel-prices/fuel.json"},
	{Name: "motorfuelgroup", URL: "https://fuel.motorfuelgroup.com/fuel_prices_data.json"},
	{Name: "motoway", URL: "https://moto-way.com/fuel-price/fuel_prices.json"},
	{Name: "rontec", URL: "https://www.rontec-servicestations.co.uk/fuel-prices/data/fuel_prices_data.json"},
	{Name: "sainsburys", URL: "https://api.sainsburys.co.uk/v1/exports/latest/fuel_prices_data.json"},
	{Name: "sgnretail", URL: "https://www.sgnretail.uk/files/data/SGN_daily_fuel_prices.json"},
	{Name: "tesco", URL: "https://www.tesco.com/fuel_prices/fuel_prices_data.json", Headers: browserHeaders},
}

// RetailerByName looks up a retailer.
func RetailerByName(name string) (Retailer, bool) {
	for _, r := range Retailers {
		if r.Name == name {
			return r, true
		}
	}
	return Retailer{}, false
}
