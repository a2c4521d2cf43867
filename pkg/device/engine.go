package device

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/frame"
)

// Defaults for a Config field left at its zero value
const (
	DefaultBufferSize          = 1
	DefaultRecordingPeriod     = time.Second
	DefaultOscillationInterval = 500 * time.Millisecond
	DefaultDebounceSamples     = 3
	DefaultLogLength           = 128
	DefaultInputQueue          = 4
)

// ErrStopped is returned by Tick once the device program has been stopped
var ErrStopped = errors.New("device stopped")

// ShutterActuator drives the shutter mechanics
type ShutterActuator interface {
	Open()
	Close()
}

// SampleSource returns a single photodiode reading in ADC counts
type SampleSource interface {
	Read() float64
}

// Pin is a raw digital input. Buttons are wired with pull-ups, so false means pressed.
type Pin interface {
	Get() bool
}

// Capabilities lists the optional hardware of a module. Nil members are absent.
type Capabilities struct {
	Shutter    ShutterActuator
	Photodiode SampleSource
	Button1    Pin // opens
	Button2    Pin // closes
}

// Config holds the timing and sizing parameters of the engine
type Config struct {
	BufferSize          int           // samples per recording period (data_buffer_size)
	RecordingPeriod     time.Duration // one data frame per period
	OscillationInterval time.Duration
	DebounceSamples     int
	LogLength           int
	InputQueue          int
}

func (c Config) withDefaults() Config {
	if c.BufferSize < 1 {
		c.BufferSize = DefaultBufferSize
	}
	if c.RecordingPeriod <= 0 {
		c.RecordingPeriod = DefaultRecordingPeriod
	}
	if c.OscillationInterval <= 0 {
		c.OscillationInterval = DefaultOscillationInterval
	}
	if c.DebounceSamples < 1 {
		c.DebounceSamples = DefaultDebounceSamples
	}
	if c.LogLength < 1 {
		c.LogLength = DefaultLogLength
	}
	if c.InputQueue < 1 {
		c.InputQueue = DefaultInputQueue
	}
	return c
}

// Engine is the device context. All state is owned by the goroutine calling Boot and Tick;
// only Feed may be called concurrently.
type Engine struct {
	cfg  Config
	caps Capabilities
	out  io.Writer
	buf  []byte // outgoing frames, flushed once per tick

	mode       Mode
	opened     bool
	btn1, btn2 *Debouncer
	samples    *SampleBuffer
	entries    []string

	sampleInterval                     time.Duration
	lastToggle, lastSample, lastRecord time.Time

	input    chan string
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an engine writing its frames to out. Buttons are only used if a shutter is fitted.
func New(cfg Config, caps Capabilities, out io.Writer) *Engine {
	cfg = cfg.withDefaults()
	if caps.Shutter == nil {
		caps.Button1, caps.Button2 = nil, nil
	}
	e := &Engine{
		cfg:            cfg,
		caps:           caps,
		out:            out,
		mode:           Closed,
		samples:        NewSampleBuffer(cfg.BufferSize),
		sampleInterval: cfg.RecordingPeriod / time.Duration(cfg.BufferSize),
		input:          make(chan string, cfg.InputQueue),
		done:           make(chan struct{}),
	}
	if caps.Button1 != nil && caps.Button2 != nil {
		e.btn1 = NewDebouncer(cfg.DebounceSamples, true)
		e.btn2 = NewDebouncer(cfg.DebounceSamples, true)
	}
	return e
}

// Mode returns the current mode
func (e *Engine) Mode() Mode { return e.mode }

// Done is closed once the engine has stopped
func (e *Engine) Done() <-chan struct{} { return e.done }

// Boot arms all interval timers at now and opens the shutter once
func (e *Engine) Boot(now time.Time) error {
	e.lastToggle, e.lastSample, e.lastRecord = now, now, now
	if e.caps.Shutter != nil {
		e.open()
		e.mode = Open
	}
	log.Debugf("Booted: mode=%v, shutter=%v, photodiode=%v", e.mode, e.caps.Shutter != nil, e.caps.Photodiode != nil)
	return e.flush()
}

// Feed queues one line of host input. It blocks while the queue is full and returns false
// if the engine stopped in the meantime.
func (e *Engine) Feed(line string) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.input <- line:
		return true
	case <-e.done:
		return false
	}
}

// Tick runs one poll cycle. It returns ErrStopped after a stop command, or the write error
// of the outgoing frames.
func (e *Engine) Tick(now time.Time) error {
	if e.mode == Stopped {
		return ErrStopped
	}

	e.processButtons(now)

	select {
	case line := <-e.input:
		e.parseInput(line, now)
	default:
	}

	if e.mode == Stopped {
		err := e.flush()
		e.stopOnce.Do(func() { close(e.done) })
		if err != nil {
			return err
		}
		return ErrStopped
	}

	if e.mode == Oscillating {
		e.oscillate(now)
	}

	e.record(now)

	return e.flush()
}

// Run calls Tick every period until ctx is done or the device is stopped. A stop is not an error.
func (e *Engine) Run(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			err := e.Tick(now)
			if errors.Is(err, ErrStopped) {
				log.Infof("Device program stopped")
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

func (e *Engine) processButtons(now time.Time) {
	if e.btn1 == nil {
		return
	}
	e.btn1.Update(e.caps.Button1.Get())
	e.btn2.Update(e.caps.Button2.Get())

	switch {
	case !e.btn1.Value() && !e.btn2.Value():
		e.enterOscillation(now)
	case e.btn1.Fell():
		e.open()
		e.mode = Open
	case e.btn2.Fell():
		e.close()
		e.mode = Closed
	}
}

func (e *Engine) enterOscillation(now time.Time) {
	if e.mode == Oscillating {
		return
	}
	e.mode = Oscillating
	e.lastToggle = now
}

// oscillate toggles the shutter at most once per OscillationInterval
func (e *Engine) oscillate(now time.Time) {
	if now.Sub(e.lastToggle) < e.cfg.OscillationInterval {
		return
	}
	e.lastToggle = now
	if e.opened {
		e.close()
	} else {
		e.open()
	}
}

func (e *Engine) open() {
	e.caps.Shutter.Open()
	e.opened = true
}

func (e *Engine) close() {
	e.caps.Shutter.Close()
	e.opened = false
}

func (e *Engine) record(now time.Time) {
	if e.caps.Photodiode == nil {
		return
	}
	if now.Sub(e.lastSample) >= e.sampleInterval {
		e.lastSample = now
		e.samples.Put(toSample(e.caps.Photodiode.Read()))
	}
	if now.Sub(e.lastRecord) >= e.cfg.RecordingPeriod {
		e.lastRecord = now
		e.buf = frame.AppendData(e.buf, e.samples.Snapshot())
	}
}

// reset brings the engine back to its power-on state, used for a soft reset
func (e *Engine) reset(now time.Time) {
	e.mode = Closed
	e.opened = false
	e.entries = e.entries[:0]
	e.samples.Reset()
	if e.btn1 != nil {
		e.btn1 = NewDebouncer(e.cfg.DebounceSamples, true)
		e.btn2 = NewDebouncer(e.cfg.DebounceSamples, true)
	}
	e.lastToggle, e.lastSample, e.lastRecord = now, now, now
	if e.caps.Shutter != nil {
		e.open()
		e.mode = Open
	}
}

func (e *Engine) flush() error {
	if len(e.buf) == 0 {
		return nil
	}
	_, err := e.out.Write(e.buf)
	e.buf = e.buf[:0]
	return err
}

// toSample converts a reading to the unsigned 16 bit wire representation
func toSample(v float64) uint16 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(math.Round(v))
}
