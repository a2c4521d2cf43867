package shutter

import (
	"sync/atomic"
	"time"
)

// EventKind tells what an Event carries
type EventKind byte

const (
	EventText       EventKind = iota + 1 // string frame or pass-through bytes
	EventDiagnostic                      // undecodable segment
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventDiagnostic:
		return "diagnostic"
	}
	return "unknown"
}

// Event is published by the reader worker
type Event struct {
	Kind      EventKind `json:"-"`
	Type      string    `json:"type"`
	Device    string    `json:"device"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats are the reader worker counters
type Stats struct {
	Frames      uint64 `json:"frames"`
	TextFrames  uint64 `json:"text_frames"`
	DataFrames  uint64 `json:"data_frames"`
	Diagnostics uint64 `json:"diagnostics"`
	EmptySets   uint64 `json:"empty_sets"`
	Dropped     uint64 `json:"dropped_events"`
}

type counters struct {
	text, data, diag, empty, dropped atomic.Uint64
}

// Events returns the channel the reader publishes to. Events are dropped when nobody keeps up.
func (o *Device) Events() <-chan Event { return o.events }

// Stats returns a snapshot of the reader counters
func (o *Device) Stats() Stats {
	s := Stats{
		TextFrames:  o.stats.text.Load(),
		DataFrames:  o.stats.data.Load(),
		Diagnostics: o.stats.diag.Load(),
		EmptySets:   o.stats.empty.Load(),
		Dropped:     o.stats.dropped.Load(),
	}
	s.Frames = s.TextFrames + s.DataFrames
	return s
}

func (o *Device) emit(kind EventKind, text string, ts time.Time) {
	ev := Event{Kind: kind, Type: kind.String(), Device: o.cfg.Name, Text: text, Timestamp: ts}
	select {
	case o.events <- ev:
	default:
		o.stats.dropped.Add(1)
	}
}
