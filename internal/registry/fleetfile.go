package registry

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// fleetDefaults holds fallback values applied to fleet-file entries that
// leave a field unset.
type fleetDefaults struct {
	Tier                Tier    `yaml:"tier"`
	Weight              float64 `yaml:"weight"`
	RequestsPerInterval int     `yaml:"requests_per_interval"`
	IntervalSecs        int     `yaml:"interval_secs"`
	TimeoutSecs         int     `yaml:"timeout_secs"`
}

type fleetEntry struct {
	Name                string   `yaml:"name"`
	Model               string   `yaml:"model"`
	Family              string   `yaml:"family"`
	Tier                Tier     `yaml:"tier"`
	Premium             bool     `yaml:"premium"`
	Weight              float64  `yaml:"weight"`
	RequestsPerInterval int      `yaml:"requests_per_interval"`
	IntervalSecs        int      `yaml:"interval_secs"`
	TimeoutSecs         int      `yaml:"timeout_secs"`
	BaseURL             string   `yaml:"base_url"`
	KeyEnvs             []string `yaml:"key_envs"`
}

// LoadFleetFile reads a provider fleet from a YAML file. Entries inherit
// unset fields from the file's defaults block.
func LoadFleetFile(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read fleet file %s", path)
	}

	var wrapper struct {
		Defaults  fleetDefaults `yaml:"defaults"`
		Providers []fleetEntry  `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "registry: parse fleet file")
	}

	d := wrapper.Defaults
	if d.Tier == "" {
		d.Tier = TierMedium
	}
	if d.Weight == 0 {
		d.Weight = 1.0
	}
	if d.RequestsPerInterval == 0 {
		d.RequestsPerInterval = 60
	}
	if d.IntervalSecs == 0 {
		d.IntervalSecs = 60
	}
	if d.TimeoutSecs == 0 {
		d.TimeoutSecs = 60
	}

	fleet := make([]ProviderConfig, len(wrapper.Providers))
	for i, e := range wrapper.Providers {
		if e.Name == "" {
			return nil, eris.Errorf("registry: fleet file entry %d has no name", i)
		}
		if e.Family == "" {
			e.Family = e.Name
		}
		if e.Tier == "" {
			e.Tier = d.Tier
		}
		if e.Weight == 0 {
			e.Weight = d.Weight
		}
		if e.RequestsPerInterval == 0 {
			e.RequestsPerInterval = d.RequestsPerInterval
		}
		if e.IntervalSecs == 0 {
			e.IntervalSecs = d.IntervalSecs
		}
		if e.TimeoutSecs == 0 {
			e.TimeoutSecs = d.TimeoutSecs
		}
		fleet[i] = ProviderConfig{
			Name:                e.Name,
			Model:               e.Model,
			Family:              e.Family,
			Tier:                e.Tier,
			Premium:             e.Premium,
			Weight:              e.Weight,
			RequestsPerInterval: e.RequestsPerInterval,
			Interval:            time.Duration(e.IntervalSecs) * time.Second,
			Timeout:             time.Duration(e.TimeoutSecs) * time.Second,
			BaseURL:             e.BaseURL,
			KeyEnvs:             e.KeyEnvs,
		}
	}
	return fleet, nil
}
