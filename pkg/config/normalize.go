package config

import (
	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/shutter"
	"github.com/speters/minishutter/pkg/telemetry"
)

// Baudrates accepted for the serial link, others fall back to shutter.DefaultBaud
var Baudrates = []int{50, 75, 110, 134, 150, 200, 300, 600, 1200, 1800, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

const (
	DefaultCalibrationDir = "calibration"
	DefaultListen         = ":3000"
)

// Normalize fills in defaults. It must be called after Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	d := &cfg.Device
	if d.Name == "" {
		d.Name = shutter.DefaultName
	}
	if !validBaudrate(d.Baudrate) {
		if d.Baudrate != 0 {
			log.Warnf("Unsupported baudrate %d, using %d", d.Baudrate, shutter.DefaultBaud)
		}
		d.Baudrate = shutter.DefaultBaud
	}
	if d.ReadTimeout == 0 {
		d.ReadTimeout = shutter.DefaultReadTimeout
	}
	if d.CheckDelay == 0 {
		d.CheckDelay = shutter.DefaultCheckDelay
	}

	if cfg.Calibration.Dir == "" {
		cfg.Calibration.Dir = DefaultCalibrationDir
	}
	if cfg.Telemetry.Interval == 0 {
		cfg.Telemetry.Interval = telemetry.DefaultInterval
	}
	if cfg.Telemetry.Influx.Measurement == "" {
		cfg.Telemetry.Influx.Measurement = telemetry.DefaultMeasurement
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = DefaultListen
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func validBaudrate(b int) bool {
	for _, v := range Baudrates {
		if v == b {
			return true
		}
	}
	return false
}
