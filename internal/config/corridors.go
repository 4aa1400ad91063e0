package config

import (
	"fmt"
	"strings"

	"github.com/radiance-data/radiancefleet/internal/geo"
)

// Corridor types recognised in corridors.yaml.
const (
	CorridorExportRoute      = "export_route"
	CorridorSTSZone          = "sts_zone"
	CorridorAnchorageHolding = "anchorage_holding"
	CorridorDarkZone         = "dark_zone"
)

// Corridor is a named polygon of operational interest.
type Corridor struct {
	Name          string   `yaml:"name"`
	CorridorType  string   `yaml:"corridor_type"`
	RiskWeight    float64  `yaml:"risk_weight"`
	IsJammingZone bool     `yaml:"is_jamming_zone"`
	Tags          []string `yaml:"tags"`
	WKT           string   `yaml:"wkt"`

	Polygon geo.Polygon `yaml:"-"`
}

// HasTag reports whether the corridor carries the tag (case-insensitive).
func (c *Corridor) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// CorridorSet is the full corridor table with the dark zones split out.
type CorridorSet struct {
	Corridors []Corridor `yaml:"corridors"`
}

// LoadCorridors loads corridors.yaml and precomputes polygon bounding boxes.
func LoadCorridors(path string) (*CorridorSet, error) {
	var set CorridorSet
	if err := decodeYAMLFile(path, &set); err != nil {
		return nil, err
	}
	for i := range set.Corridors {
		c := &set.Corridors[i]
		if c.Name == "" {
			return nil, fmt.Errorf("corridor %d has no name", i)
		}
		poly, err := geo.ParsePolygonWKT(c.WKT)
		if err != nil {
			return nil, fmt.Errorf("corridor %q: %w", c.Name, err)
		}
		c.Polygon = poly
		if c.RiskWeight == 0 {
			c.RiskWeight = 1.0
		}
	}
	return &set, nil
}

// DarkZones returns the corridors flagged as AIS jamming regions.
func (s *CorridorSet) DarkZones() []Corridor {
	var zones []Corridor
	for _, c := range s.Corridors {
		if c.IsJammingZone || c.CorridorType == CorridorDarkZone {
			zones = append(zones, c)
		}
	}
	return zones
}

// ByName returns the corridor with the given name.
func (s *CorridorSet) ByName(name string) (*Corridor, bool) {
	for i := range s.Corridors {
		if s.Corridors[i].Name == name {
			return &s.Corridors[i], true
		}
	}
	return nil, false
}
