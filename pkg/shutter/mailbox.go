package shutter

import (
	"sync"
	"time"
)

// Reading is the mean of the most recent data frame
type Reading struct {
	Value     float64
	HasValue  bool
	Timestamp time.Time
}

// Mailbox holds at most one Reading. A newer Put replaces an unconsumed older one.
type Mailbox struct {
	mu sync.Mutex
	r  Reading
}

// Put stores a new reading, overwriting any previous one
func (m *Mailbox) Put(v float64, ts time.Time) {
	m.mu.Lock()
	m.r = Reading{Value: v, HasValue: true, Timestamp: ts}
	m.mu.Unlock()
}

// Take returns the stored reading and empties the mailbox
func (m *Mailbox) Take() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.r
	m.r = Reading{}
	return r
}

// Peek returns the stored reading without consuming it
func (m *Mailbox) Peek() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.r
}

// Restore puts r back unless a newer reading arrived in the meantime. It reports whether r was kept.
func (m *Mailbox) Restore(r Reading) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.r.HasValue || !r.HasValue {
		return false
	}
	m.r = r
	return true
}
