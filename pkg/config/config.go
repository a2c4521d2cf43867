// Package config reads the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device      Device      `yaml:"device"`
	Calibration Calibration `yaml:"calibration"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	HTTP        HTTP        `yaml:"http"`
	Log         Log         `yaml:"log"`
}

// Device describes the mini shutter module and its link
type Device struct {
	Name        string        `yaml:"name"`
	Link        string        `yaml:"link"` // device path or socket://host:port
	Baudrate    int           `yaml:"baudrate"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	CheckDelay  time.Duration `yaml:"check_delay"`
	Shutter     bool          `yaml:"shutter"`
	Photodiode  bool          `yaml:"photodiode"`
	Debug       bool          `yaml:"debug"` // raw pass-through of everything received
}

type Calibration struct {
	Dir string `yaml:"dir"`
}

type Telemetry struct {
	Interval time.Duration `yaml:"interval"`
	Log      bool          `yaml:"log"`
	Influx   Influx        `yaml:"influx"`
}

type Influx struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Enabled reports whether an InfluxDB target is configured
func (i Influx) Enabled() bool { return i.URL != "" }

type HTTP struct {
	Listen string `yaml:"listen"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// Default returns the configuration used without a config file
func Default() Config {
	cfg := Config{
		Device: Device{
			Link:       "/dev/ttyACM0",
			Shutter:    true,
			Photodiode: true,
		},
	}
	Normalize(&cfg)
	return cfg
}

// Load reads a YAML file. ${VAR} references are expanded from the environment before parsing.
// Fields missing in the file keep their Default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse decodes an already expanded YAML document
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads environment variables from path. Missing files are ignored.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
