package geofence

import (
	"math"
	"sync"
)

const earthRadiusMeters = 6371000.0

// haversineMeters returns the great-circle distance in meters between two points
// specified in decimal degrees.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// Circle is a center + radius geofence
type Circle struct {
	CenterLat float64 `json:"center_lat" yaml:"center_lat"`
	CenterLon float64 `json:"center_lon" yaml:"center_lon"`
	RadiusM   float64 `json:"radius_m" yaml:"radius_m"`
}

// Contains reports whether the point lies inside (or on) the circle
func (c Circle) Contains(lat, lon float64) bool {
	return haversineMeters(c.CenterLat, c.CenterLon, lat, lon) <= c.RadiusM
}

// Valid reports whether the circle has a usable radius and coordinates
func (c Circle) Valid() bool {
	return c.RadiusM > 0 &&
		c.CenterLat >= -90 && c.CenterLat <= 90 &&
		c.CenterLon >= -180 && c.CenterLon <= 180
}

// BaseFences are the two named circles configured for one base
type BaseFences struct {
	Dock    Circle `json:"dock" yaml:"dock"`
	Parking Circle `json:"parking" yaml:"parking"`
}

// Provider supplies the current fences of a base. It is consulted on every sample,
// so a change takes effect from the next sample onwards.
type Provider interface {
	Fences(baseID string) (BaseFences, bool)
}

// StaticProvider is an in-process Provider fed by the config file and the dispatcher API
type StaticProvider struct {
	mu    sync.RWMutex
	bases map[string]BaseFences
}

// NewStaticProvider creates a provider with an initial set of bases
func NewStaticProvider(bases map[string]BaseFences) *StaticProvider {
	p := &StaticProvider{bases: make(map[string]BaseFences)}
	for id, f := range bases {
		p.bases[id] = f
	}
	return p
}

// Fences returns the fences for a base
func (p *StaticProvider) Fences(baseID string) (BaseFences, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.bases[baseID]
	return f, ok
}

// Set replaces the fences of a single base
func (p *StaticProvider) Set(baseID string, fences BaseFences) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bases[baseID] = fences
}

// Replace swaps the whole configuration
func (p *StaticProvider) Replace(bases map[string]BaseFences) {
	next := make(map[string]BaseFences, len(bases))
	for id, f := range bases {
		next[id] = f
	}
	p.mu.Lock()
	p.bases = next
	p.mu.Unlock()
}

// BaseIDs returns the configured bases
func (p *StaticProvider) BaseIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.bases))
	for id := range p.bases {
		ids = append(ids, id)
	}
	return ids
}
