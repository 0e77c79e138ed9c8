package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"dockwave-backend/internal/geofence"

	"gopkg.in/yaml.v3"
)

// GeofenceFile is the on-disk layout of the geofence configuration:
//
//	bases:
//	  - id: mad-01
//	    dock:    {center_lat: 40.4168, center_lon: -3.7038, radius_m: 80}
//	    parking: {center_lat: 40.4141, center_lon: -3.7038, radius_m: 60}
type GeofenceFile struct {
	Bases []BaseGeofences `yaml:"bases"`
}

// BaseGeofences is one base entry of GeofenceFile
type BaseGeofences struct {
	ID                  string `yaml:"id"`
	geofence.BaseFences `yaml:",inline"`
}

// ParseGeofences decodes and validates a geofence document
func ParseGeofences(r io.Reader) (map[string]geofence.BaseFences, error) {
	var file GeofenceFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]geofence.BaseFences{}, nil
		}
		return nil, fmt.Errorf("failed to decode geofence config: %w", err)
	}

	out := make(map[string]geofence.BaseFences, len(file.Bases))
	for i, b := range file.Bases {
		if b.ID == "" {
			return nil, fmt.Errorf("base #%d: id is required", i)
		}
		if _, dup := out[b.ID]; dup {
			return nil, fmt.Errorf("base %s: defined more than once", b.ID)
		}
		if !b.Dock.Valid() {
			return nil, fmt.Errorf("base %s: invalid dock circle", b.ID)
		}
		if !b.Parking.Valid() {
			return nil, fmt.Errorf("base %s: invalid parking circle", b.ID)
		}
		out[b.ID] = b.BaseFences
	}
	return out, nil
}

// LoadGeofences reads the geofence file at path. A missing file yields no bases.
func LoadGeofences(path string) (map[string]geofence.BaseFences, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("⚠️  Geofence config %s not found, starting without bases", path)
			return map[string]geofence.BaseFences{}, nil
		}
		return nil, fmt.Errorf("failed to open geofence config: %w", err)
	}
	defer f.Close()

	bases, err := ParseGeofences(f)
	if err != nil {
		return nil, err
	}
	log.Printf("✅ Loaded geofences for %d base(s) from %s", len(bases), path)
	return bases, nil
}
