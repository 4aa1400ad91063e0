// Package config loads and validates the scoring configuration, watchlist
// registries, and corridor definitions. A loaded *Config is immutable; hot
// reload swaps a new handle via Handle.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/yaml.v2"
)

// File names expected under the config directory.
const (
	ScoringFile    = "risk_scoring.yaml"
	PIClubsFile    = "legitimate_pi_clubs.yaml"
	RegistriesFile = "fraudulent_registries.yaml"
	ScrappedFile   = "scrapped_vessels.yaml"
	CorridorsFile  = "corridors.yaml"
)

// Config is the aggregate configuration handle passed through the call
// graph. It is never mutated after Load.
type Config struct {
	Scoring    *ScoringConfig
	PIClubs    *PIClubs
	Registries *FraudulentRegistries
	Scrapped   *ScrappedVessels
	Corridors  *CorridorSet
	Flags      *Flags
}

// Load reads every configuration file under dir. A missing or invalid file
// is fatal: the pipeline must not start on partial configuration.
func Load(dir string) (*Config, error) {
	scoring, err := LoadScoring(filepath.Join(dir, ScoringFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ScoringFile, err)
	}
	clubs, err := LoadPIClubs(filepath.Join(dir, PIClubsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", PIClubsFile, err)
	}
	registries, err := LoadRegistries(filepath.Join(dir, RegistriesFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", RegistriesFile, err)
	}
	scrapped, err := LoadScrapped(filepath.Join(dir, ScrappedFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ScrappedFile, err)
	}
	corridors, err := LoadCorridors(filepath.Join(dir, CorridorsFile))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", CorridorsFile, err)
	}

	return &Config{
		Scoring:    scoring,
		PIClubs:    clubs,
		Registries: registries,
		Scrapped:   scrapped,
		Corridors:  corridors,
		Flags:      LoadFlags(),
	}, nil
}

// Handle is an atomically swappable configuration pointer. Long-running
// sessions read through the handle so a reload takes effect at the next
// pipeline run without restarting the process.
type Handle struct {
	p atomic.Pointer[Config]
}

// NewHandle creates a handle holding cfg.
func NewHandle(cfg *Config) *Handle {
	h := &Handle{}
	h.p.Store(cfg)
	return h
}

// Get returns the current configuration.
func (h *Handle) Get() *Config { return h.p.Load() }

// Swap atomically replaces the configuration.
func (h *Handle) Swap(cfg *Config) { h.p.Store(cfg) }

// decodeYAMLFile decodes a single YAML file into out.
func decodeYAMLFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
