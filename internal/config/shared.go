package config

import "finnscout/internal/geo"

// WorkLocation returns the configured workplace as a coordinate pair.
func (s SharedCfg) WorkLocation() geo.LatLng {
	return geo.LatLng{Lat: s.WorkLat, Lng: s.WorkLng}
}

// MaxTravelTime returns the transit-time ceiling in minutes.
func (s SharedCfg) MaxTravelTime() float64 {
	return s.MaxTransitTimeMinutes
}
