package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, applying it on top of Default()
// so unspecified sections keep their defaults, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
