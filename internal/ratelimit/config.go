package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type ceilingYAML struct {
	Calls   int `yaml:"calls"`
	Seconds int `yaml:"seconds"`
}

type venueYAML struct {
	Public  *ceilingYAML `yaml:"public"`
	Private *ceilingYAML `yaml:"private"`
	Orders  *ceilingYAML `yaml:"orders"`
}

type limitsFile struct {
	Venues map[string]venueYAML `yaml:"venues"`
}

// LoadLimits reads per-venue ceiling overrides from a YAML file. Classes not
// present in the file keep the built-in defaults for that venue.
func LoadLimits(path string) (map[string]VenueLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limits file: %w", err)
	}

	var f limitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rate limits file: %w", err)
	}

	out := make(map[string]VenueLimits, len(f.Venues))
	for venue, v := range f.Venues {
		lim := DefaultLimits(venue)
		if c := toCeiling(v.Public); c != nil {
			lim.Public = *c
		}
		if c := toCeiling(v.Private); c != nil {
			lim.Private = *c
		}
		if c := toCeiling(v.Orders); c != nil {
			lim.Orders = *c
		}
		out[venue] = lim
	}
	return out, nil
}

func toCeiling(c *ceilingYAML) *Ceiling {
	if c == nil || c.Calls <= 0 || c.Seconds <= 0 {
		return nil
	}
	return &Ceiling{Calls: c.Calls, Window: time.Duration(c.Seconds) * time.Second}
}
