package config

import (
	"fmt"
	"sort"
)

// ExpectedSections is the authoritative set of scoring sections. A
// risk_scoring.yaml missing any of these fails at load.
var ExpectedSections = []string{
	"gap_duration",
	"spoofing",
	"metadata",
	"legitimacy",
	"dark_zone",
	"corridor",
	"sts",
	"behavioral",
	"watchlist",
	"convoy",
	"pi_validation",
	"fraudulent_registry",
	"track_naturalness",
	"stale_ais",
	"at_sea_operations",
	"ism_continuity",
	"rename_velocity",
	"destination",
	"scrapped_registry",
	"track_replay",
	"ownership_graph",
	"vessel_age",
	"pi_insurance",
}

// ScoringConfig is the declarative signal table. Every signal key lives
// under exactly one section; values are integer points (negative values are
// legitimacy deductions).
type ScoringConfig struct {
	LastUpdated string                    `yaml:"last_updated"`
	Sections    map[string]map[string]int `yaml:",inline"`
}

// LoadScoring loads and validates risk_scoring.yaml.
func LoadScoring(path string) (*ScoringConfig, error) {
	var cfg ScoringConfig
	if err := decodeYAMLFile(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.LastUpdated == "" {
		return nil, fmt.Errorf("risk scoring config missing last_updated")
	}

	var missing []string
	for _, section := range ExpectedSections {
		if _, ok := cfg.Sections[section]; !ok {
			missing = append(missing, section)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("risk scoring config missing sections: %v", missing)
	}

	// A signal key must not appear under two sections; the scoring breakdown
	// keys must stay unique.
	seen := map[string]string{}
	for section, signals := range cfg.Sections {
		for key := range signals {
			if prev, dup := seen[key]; dup {
				return nil, fmt.Errorf("signal %q defined in both %s and %s", key, prev, section)
			}
			seen[key] = section
		}
	}

	return &cfg, nil
}

// Value returns the points for a signal key in a section.
func (c *ScoringConfig) Value(section, key string) (int, bool) {
	signals, ok := c.Sections[section]
	if !ok {
		return 0, false
	}
	v, ok := signals[key]
	return v, ok
}

// SectionOf returns the section a signal key belongs to, or "".
func (c *ScoringConfig) SectionOf(key string) string {
	for section, signals := range c.Sections {
		if _, ok := signals[key]; ok {
			return section
		}
	}
	return ""
}

// Section returns the full signal map for a section (nil if absent).
func (c *ScoringConfig) Section(section string) map[string]int {
	return c.Sections[section]
}
