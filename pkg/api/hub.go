package api

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/shutter"
)

const subscriberBuffer = 16

// Hub fans device events out to websocket subscribers. Slow subscribers miss events.
type Hub struct {
	mu   sync.Mutex
	subs map[chan shutter.Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan shutter.Event]struct{})}
}

// Subscribe returns a channel of events and a function to cancel the subscription
func (h *Hub) Subscribe() (<-chan shutter.Event, func()) {
	ch := make(chan shutter.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

// Subscribers returns the number of current subscribers
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish hands ev to every subscriber that has room for it
func (h *Hub) Publish(ev shutter.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Pump publishes everything read from events until ctx is done or done is closed
func (h *Hub) Pump(ctx context.Context, events <-chan shutter.Event, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case ev := <-events:
			if ev.Kind == shutter.EventDiagnostic {
				log.WithField("device", ev.Device).Debugf("Diagnostic: %v", ev.Text)
			} else {
				log.WithField("device", ev.Device).Infof("%v", ev.Text)
			}
			h.Publish(ev)
		}
	}
}
