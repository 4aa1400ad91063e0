package config

import (
	"fmt"
	"strings"
)

// PIClub is a protection & indemnity insurer entry.
type PIClub struct {
	Name  string `yaml:"name"`
	Short string `yaml:"short"`
}

// PIClubs holds the International Group membership list and known
// fraudulent insurers.
type PIClubs struct {
	LegitimateClubs []PIClub `yaml:"legitimate_clubs"`
	KnownFraudulent []string `yaml:"known_fraudulent"`
	LastUpdated     string   `yaml:"last_updated"`
}

// LoadPIClubs loads legitimate_pi_clubs.yaml.
func LoadPIClubs(path string) (*PIClubs, error) {
	var clubs PIClubs
	if err := decodeYAMLFile(path, &clubs); err != nil {
		return nil, err
	}
	if len(clubs.LegitimateClubs) == 0 {
		return nil, fmt.Errorf("pi clubs config has no legitimate_clubs")
	}
	return &clubs, nil
}

// IsLegitimate reports whether the insurer name matches an IG club, by full
// name or short form, case-insensitively.
func (c *PIClubs) IsLegitimate(insurer string) bool {
	needle := strings.ToLower(strings.TrimSpace(insurer))
	if needle == "" {
		return false
	}
	for _, club := range c.LegitimateClubs {
		if needle == strings.ToLower(club.Name) || needle == strings.ToLower(club.Short) {
			return true
		}
	}
	return false
}

// IsKnownFraudulent reports whether the insurer appears on the fraudulent
// list.
func (c *PIClubs) IsKnownFraudulent(insurer string) bool {
	needle := strings.ToLower(strings.TrimSpace(insurer))
	for _, name := range c.KnownFraudulent {
		if needle == strings.ToLower(name) {
			return true
		}
	}
	return false
}

// RegistryEntry is one flag registry in the fraudulent-registry tiers.
type RegistryEntry struct {
	CountryCode string `yaml:"country_code"`
	Name        string `yaml:"name"`
}

// FraudulentRegistries holds the tiered registry watchlist.
type FraudulentRegistries struct {
	Tier0Fraudulent []RegistryEntry `yaml:"tier_0_fraudulent"`
	Tier1HighRisk   []RegistryEntry `yaml:"tier_1_high_risk"`
	Tier2Monitored  []RegistryEntry `yaml:"tier_2_monitored"`
}

// LoadRegistries loads fraudulent_registries.yaml.
func LoadRegistries(path string) (*FraudulentRegistries, error) {
	var reg FraudulentRegistries
	if err := decodeYAMLFile(path, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Tier returns the registry tier (0, 1, 2) for a flag country code, or -1
// when the flag is not listed.
func (r *FraudulentRegistries) Tier(countryCode string) int {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	for _, e := range r.Tier0Fraudulent {
		if code == strings.ToUpper(e.CountryCode) {
			return 0
		}
	}
	for _, e := range r.Tier1HighRisk {
		if code == strings.ToUpper(e.CountryCode) {
			return 1
		}
	}
	for _, e := range r.Tier2Monitored {
		if code == strings.ToUpper(e.CountryCode) {
			return 2
		}
	}
	return -1
}

// ScrappedVessel is one entry in the scrapped-IMO registry.
type ScrappedVessel struct {
	IMO          string `yaml:"imo"`
	Name         string `yaml:"name"`
	ScrappedYear int    `yaml:"scrapped_year"`
	Notes        string `yaml:"notes"`
}

// ScrappedVessels is the scrapped-hull registry keyed by IMO.
type ScrappedVessels struct {
	ScrappedIMOs []ScrappedVessel `yaml:"scrapped_imos"`

	byIMO map[string]ScrappedVessel
}

// LoadScrapped loads scrapped_vessels.yaml.
func LoadScrapped(path string) (*ScrappedVessels, error) {
	var sv ScrappedVessels
	if err := decodeYAMLFile(path, &sv); err != nil {
		return nil, err
	}
	sv.byIMO = make(map[string]ScrappedVessel, len(sv.ScrappedIMOs))
	for _, v := range sv.ScrappedIMOs {
		sv.byIMO[strings.TrimSpace(v.IMO)] = v
	}
	return &sv, nil
}

// NewScrappedVessels builds an indexed registry from entries.
func NewScrappedVessels(entries []ScrappedVessel) *ScrappedVessels {
	sv := &ScrappedVessels{
		ScrappedIMOs: entries,
		byIMO:        make(map[string]ScrappedVessel, len(entries)),
	}
	for _, v := range entries {
		sv.byIMO[strings.TrimSpace(v.IMO)] = v
	}
	return sv
}

// Lookup returns the scrapped-registry entry for an IMO, if present.
func (s *ScrappedVessels) Lookup(imo string) (ScrappedVessel, bool) {
	v, ok := s.byIMO[strings.TrimSpace(imo)]
	return v, ok
}
