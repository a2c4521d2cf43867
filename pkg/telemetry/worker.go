// Package telemetry forwards calibrated photodiode readings to a time series sink.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/shutter"
)

// DefaultInterval is used for a Worker without Interval
const DefaultInterval = time.Second

// ErrSinkWrite wraps every failure reported by a Sink
var ErrSinkWrite = errors.New("sink write failed")

// Sink stores a single value for tag at ts
type Sink interface {
	Write(ctx context.Context, tag string, value float64, ts time.Time) error
}

// Source hands out the latest reading and clears it
type Source interface {
	Take() shutter.Reading
}

// restorer is implemented by sources that take back an undelivered reading
type restorer interface {
	Restore(r shutter.Reading) bool
}

// Calibrator converts raw counts, see calibration.Active
type Calibrator interface {
	Apply(x float64) float64
}

// Worker periodically drains Source and pushes the calibrated reading to Sink
type Worker struct {
	Name        string
	Interval    time.Duration
	Source      Source
	Calibration Calibrator // nil means identity
	Sink        Sink
	Done        <-chan struct{} // optional, ends Run when closed

	written, failed atomic.Uint64
}

// Written returns the number of values accepted by the sink
func (w *Worker) Written() uint64 { return w.written.Load() }

// Failed returns the number of rejected writes
func (w *Worker) Failed() uint64 { return w.failed.Load() }

// Run ticks until ctx is cancelled or Done is closed. Sink failures never end it.
func (w *Worker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.Done:
			log.WithField("device", w.Name).Debugf("Telemetry stopped: link closed")
			return nil
		case <-t.C:
			if err := w.Step(ctx); err != nil {
				log.WithFields(log.Fields{"device": w.Name, "err": err}).Warnf("Telemetry write failed")
			}
		}
	}
}

// Step handles a single tick. It returns nil if there was nothing to send.
// A reading the sink rejected is handed back to the source for the next tick, unless a newer one arrived.
func (w *Worker) Step(ctx context.Context) error {
	r := w.Source.Take()
	if !r.HasValue {
		return nil
	}

	v := r.Value
	if w.Calibration != nil {
		v = w.Calibration.Apply(v)
	}
	if v < 0 {
		v = 0
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := w.Sink.Write(ctx, w.Name, v, ts); err != nil {
		w.failed.Add(1)
		if rs, ok := w.Source.(restorer); ok {
			rs.Restore(r)
		}
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	w.written.Add(1)
	return nil
}
