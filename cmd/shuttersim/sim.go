package main

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/device"
)

type simShutter struct {
	open bool
}

func (s *simShutter) Open() {
	s.open = true
	log.Debugf("Shutter open")
}

func (s *simShutter) Close() {
	s.open = false
	log.Debugf("Shutter closed")
}

// simPhotodiode sees bright while the shutter is open, dark otherwise
type simPhotodiode struct {
	shutter *simShutter
	dark    float64
	bright  float64
	noise   float64
	rnd     *rand.Rand
}

func (p *simPhotodiode) Read() float64 {
	v := p.dark
	if p.shutter == nil || p.shutter.open {
		v = p.bright
	}
	return v + p.rnd.NormFloat64()*p.noise
}

type simOptions struct {
	shutter, photodiode bool
	dark, bright, noise float64
	engine              device.Config
	tick                time.Duration
}

func (o simOptions) capabilities() device.Capabilities {
	var caps device.Capabilities
	var s *simShutter
	if o.shutter {
		s = &simShutter{}
		caps.Shutter = s
	}
	if o.photodiode {
		caps.Photodiode = &simPhotodiode{
			shutter: s,
			dark:    o.dark,
			bright:  o.bright,
			noise:   o.noise,
			rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		}
	}
	return caps
}

// serve runs a freshly booted device program on rw until the host goes away or sends a stop.
// It reports whether the program was stopped.
func serve(ctx context.Context, rw io.ReadWriteCloser, o simOptions) (bool, error) {
	defer rw.Close()

	e := device.New(o.engine, o.capabilities(), rw)
	if err := e.Boot(time.Now()); err != nil {
		return false, err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := e.Listen(rw); err != nil {
			log.Debugf("Input closed: %v", err)
		}
		cancel()
	}()

	err := e.Run(sctx, o.tick)
	select {
	case <-e.Done():
		return true, nil
	default:
	}
	if errors.Is(err, context.Canceled) {
		return false, nil
	}
	return false, err
}
