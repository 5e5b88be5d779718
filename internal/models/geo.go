package models

import "math"

const earthRadiusMiles = 3958.7613

// Coordinates is a WGS84 point.
type Coordinates struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
}

// Area is a circular region. Radius is in miles.
type Area struct {
	Latitude  float64 `json:"latitude" mapstructure:"latitude"`
	Longitude float64 `json:"longitude" mapstructure:"longitude"`
	Radius    float64 `json:"radius" mapstructure:"radius"`
}

// Center returns the centre point of the area.
func (a Area) Center() Coordinates {
	return Coordinates{Latitude: a.Latitude, Longitude: a.Longitude}
}

// Contains reports whether c lies inside the area, boundary included.
func (a Area) Contains(c Coordinates) bool {
	return Distance(a.Center(), c) <= a.Radius
}

// Distance returns the great-circle distance between a and b in miles.
func Distance(a, b Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// MilesToKilometers converts a distance in miles to kilometres.
func MilesToKilometers(miles float64) float64 {
	return miles * 1.609344
}

// Place is the result of a reverse geocode lookup.
type Place struct {
	// CountryCode is the ISO 3166-1 alpha-2 code, lower case as returned.
	CountryCode string
	Postcode    string
	DisplayName string
	Address     map[string]string
}
