package shutter

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/frame"
)

// ErrEmptySampleSet is logged for a data frame without samples, its mean is undefined
var ErrEmptySampleSet = errors.New("empty sample set")

const readBufferSize = 4096

// Latest returns the newest reading without consuming it
func (o *Device) Latest() Reading { return o.mailbox.Peek() }

// Take returns the newest reading and empties the mailbox
func (o *Device) Take() Reading { return o.mailbox.Take() }

// Restore hands back a reading that could not be delivered, see Mailbox.Restore
func (o *Device) Restore(r Reading) bool { return o.mailbox.Restore(r) }

// Passthrough reports whether the reader forwards raw bytes instead of decoding frames
func (o *Device) Passthrough() bool { return o.cfg.Passthrough || !o.cfg.Photodiode }

func (o *Device) readLoop(ctx context.Context) {
	logger := log.WithField("device", o.cfg.Name)
	logger.Debugf("Reader started, passthrough=%v", o.Passthrough())
	b := make([]byte, readBufferSize)

	for {
		select {
		case <-ctx.Done():
			logger.Debugf("Reader stopped: %v", ctx.Err())
			return
		case <-o.done:
			logger.Debugf("Reader stopped: link closed")
			return
		default:
		}

		data, err := o.readAvailable(b)
		if len(data) > 0 {
			o.process(data, time.Now())
		}
		if err != nil {
			if !errors.Is(err, ErrLinkClosed) {
				logger.Errorf("Read failed: %v", err)
			} else {
				logger.Warnf("Peer closed the link")
			}
			o.Disconnect()
			return
		}

		select {
		case <-ctx.Done():
		case <-o.done:
		case <-time.After(o.cfg.CheckDelay):
		}
	}
}

// process handles one batch of received bytes
func (o *Device) process(data []byte, now time.Time) {
	if o.Passthrough() {
		o.stats.text.Add(1)
		o.emit(EventText, string(data), now)
		return
	}

	for _, res := range frame.DecodeAll(data) {
		if res.Err != nil {
			o.stats.diag.Add(1)
			log.WithField("device", o.cfg.Name).Warnf("Bad segment: %v", res.Err)
			o.emit(EventDiagnostic, diagnostic(res.Err), now)
			continue
		}
		switch res.Frame.Kind {
		case frame.KindString:
			o.stats.text.Add(1)
			log.WithField("device", o.cfg.Name).Debugf("Text: %q", res.Frame.Text)
			o.emit(EventText, res.Frame.Text, now)
		case frame.KindData:
			o.stats.data.Add(1)
			mean, ok := res.Frame.Mean()
			if !ok {
				o.stats.empty.Add(1)
				log.WithField("device", o.cfg.Name).Debugf("Skipped data frame: %v", ErrEmptySampleSet)
				continue
			}
			o.mailbox.Put(mean, now)
		}
	}
}

func diagnostic(err error) string {
	var de *frame.DecodeError
	if errors.As(err, &de) {
		return fmt.Sprintf("%v: % x", de.Err, de.Segment)
	}
	return err.Error()
}
