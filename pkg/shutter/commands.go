package shutter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/speters/minishutter/pkg/frame"
)

// Command is a single character understood by the module
type Command byte

const (
	CmdOpen      Command = 'o'
	CmdClose     Command = 'c'
	CmdOscillate Command = 'b'
	CmdStop      Command = 's'
	CmdValue     Command = 'v'
	CmdLog       Command = 'l'
	CmdHelp      Command = 'h'
	CmdAbort     Command = Command(frame.ETX)
	CmdReload    Command = Command(frame.EOT)
)

// ErrNoShutter is returned for shutter commands sent to a module without shutter
var ErrNoShutter = errors.New("no shutter fitted")

var commandNames = map[string]Command{
	"open":      CmdOpen,
	"close":     CmdClose,
	"oscillate": CmdOscillate,
	"stop":      CmdStop,
	"value":     CmdValue,
	"log":       CmdLog,
	"help":      CmdHelp,
	"abort":     CmdAbort,
	"reload":    CmdReload,
}

// ParseCommand looks up a command by its name, e.g. "open"
func ParseCommand(name string) (Command, error) {
	c, ok := commandNames[name]
	if !ok {
		return 0, fmt.Errorf("Unknown command %q", name)
	}
	return c, nil
}

// CommandNames lists the names accepted by ParseCommand
func CommandNames() []string {
	names := make([]string, 0, len(commandNames))
	for n := range commandNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// IsControl reports whether the command is a raw control byte
func (c Command) IsControl() bool { return c == CmdAbort || c == CmdReload }

// NeedsShutter reports whether the command moves the shutter
func (c Command) NeedsShutter() bool { return c == CmdOpen || c == CmdClose || c == CmdOscillate }

// Bytes returns the wire form. Control bytes are sent bare, all others are newline terminated.
func (c Command) Bytes() []byte {
	if c.IsControl() {
		return []byte{byte(c)}
	}
	return []byte{byte(c), frame.LF}
}

// Send writes a single command to the module
func (o *Device) Send(c Command) error {
	if c.NeedsShutter() && !o.cfg.Shutter {
		return fmt.Errorf("%w: %v refused command %q", ErrNoShutter, o.cfg.Name, byte(c))
	}
	_, err := o.Write(c.Bytes())
	return err
}

// OpenShutter opens the shutter and ends oscillation
func (o *Device) OpenShutter() error { return o.Send(CmdOpen) }

// CloseShutter closes the shutter and ends oscillation
func (o *Device) CloseShutter() error { return o.Send(CmdClose) }

// Oscillate makes the shutter toggle twice a second
func (o *Device) Oscillate() error { return o.Send(CmdOscillate) }

// Stop halts the device program after it flushed its log
func (o *Device) Stop() error { return o.Send(CmdStop) }

// ReadValue requests a single photodiode reading as text
func (o *Device) ReadValue() error { return o.Send(CmdValue) }

// RequestLog asks the module for its command log
func (o *Device) RequestLog() error { return o.Send(CmdLog) }

// Help asks the module for its command list
func (o *Device) Help() error { return o.Send(CmdHelp) }

// Reload triggers a soft reset of the module
func (o *Device) Reload() error { return o.Send(CmdReload) }

// Abort interrupts the device program
func (o *Device) Abort() error { return o.Send(CmdAbort) }

// WriteString sends s followed by a newline
func (o *Device) WriteString(s string) error {
	_, err := o.Write(append([]byte(s), frame.LF))
	return err
}
