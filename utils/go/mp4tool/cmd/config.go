package cmd

import (
	"fmt"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"
)

// config holds mp4tool's flat defaults file.
type config struct {
	ReservedMoovSize        uint64 `yaml:"reserved_moov_size"`
	Faststart               bool   `yaml:"faststart"`
	CreationTimestampMicros uint64 `yaml:"creation_timestamp_micros"`
	CacheDBPath             string `yaml:"cache_db_path"`
	LogDBPath               string `yaml:"log_db_path"`
}

func defaultConfig() config {
	return config{
		ReservedMoovSize: 8192,
		Faststart:        true,
	}
}

// loadConfig reads path if it exists, overlaying its fields onto the
// defaults; a missing file is not an error.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("could not read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return config{}, fmt.Errorf("could not parse config %v: %w", path, err)
	}
	return cfg, nil
}
