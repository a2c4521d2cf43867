package config

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Validate checks configuration correctness. It does not modify cfg.
func Validate(cfg *Config) error {
	d := cfg.Device
	if d.Link == "" {
		return fmt.Errorf("config: device: link is required")
	}
	if strings.ContainsAny(d.Name, `/\`) || d.Name == "." || d.Name == ".." {
		return fmt.Errorf("config: device: name %q must be a single path element", d.Name)
	}
	if d.Baudrate < 0 {
		return fmt.Errorf("config: device: baudrate %d must not be negative", d.Baudrate)
	}
	if d.ReadTimeout < 0 || d.CheckDelay < 0 {
		return fmt.Errorf("config: device: read_timeout and check_delay must not be negative")
	}
	if cfg.Telemetry.Interval < 0 {
		return fmt.Errorf("config: telemetry: interval must not be negative")
	}

	if in := cfg.Telemetry.Influx; in.Enabled() {
		if in.Org == "" || in.Bucket == "" {
			return fmt.Errorf("config: telemetry: influx org and bucket are required with url %q", in.URL)
		}
	}

	if cfg.Log.Level != "" {
		if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
			return fmt.Errorf("config: log: %w", err)
		}
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: log: unknown format %q", cfg.Log.Format)
	}
	return nil
}
