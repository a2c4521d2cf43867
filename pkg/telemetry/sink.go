package telemetry

import (
	"context"
	"errors"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	log "github.com/sirupsen/logrus"
)

// DefaultMeasurement is the InfluxDB measurement for readings
const DefaultMeasurement = "mini_shutter"

// InfluxConfig describes the InfluxDB v2 target
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration
}

// InfluxSink writes each value as one point with the device name as tag
type InfluxSink struct {
	client      influxdb2.Client
	writer      api.WriteAPIBlocking
	measurement string
}

// NewInfluxSink creates a sink. No connection is made before the first write.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	if cfg.Measurement == "" {
		cfg.Measurement = DefaultMeasurement
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &InfluxSink{
		client:      client,
		writer:      client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}
}

func (s *InfluxSink) Write(ctx context.Context, tag string, value float64, ts time.Time) error {
	p := influxdb2.NewPoint(s.measurement,
		map[string]string{"name": tag},
		map[string]interface{}{"value": value},
		ts)
	return s.writer.WritePoint(ctx, p)
}

// Close releases the client
func (s *InfluxSink) Close() {
	s.client.Close()
}

// LogSink only logs values, handy without a database
type LogSink struct {
	Logger log.FieldLogger
}

func (s LogSink) Write(_ context.Context, tag string, value float64, ts time.Time) error {
	l := s.Logger
	if l == nil {
		l = log.StandardLogger()
	}
	l.WithFields(log.Fields{"device": tag, "value": value, "ts": ts.Format(time.RFC3339Nano)}).Info("Reading")
	return nil
}

// MultiSink writes to all its members and joins their errors
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, tag string, value float64, ts time.Time) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, tag, value, ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
