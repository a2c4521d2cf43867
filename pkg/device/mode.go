package device

import "fmt"

// Mode is the high level behaviour of the device
type Mode byte

const (
	Closed Mode = iota
	Open
	Oscillating
	Stopped
)

func (m Mode) String() string {
	switch m {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Oscillating:
		return "oscillating"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("Mode(%d)", byte(m))
}
