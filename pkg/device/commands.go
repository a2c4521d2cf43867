package device

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/frame"
)

// Single character commands accepted from the host
const (
	CmdOpen      byte = 'o'
	CmdClose     byte = 'c'
	CmdOscillate byte = 'b'
	CmdStop      byte = 's'
	CmdValue     byte = 'v'
	CmdLog       byte = 'l'
	CmdHelp      byte = 'h'
)

const helpText = "(o) open, (c) close, (b) oscillate, (s) stop, (v) photodiode value, (l) send log, (h) help"

// parseInput applies every command of line in arrival order. Commands are newline separated,
// a line holding several characters is applied character by character.
func (e *Engine) parseInput(line string, now time.Time) {
	for _, cmd := range strings.Split(line, "\n") {
		cmd = strings.TrimSpace(cmd)
		for i := 0; i < len(cmd); i++ {
			e.apply(cmd[i], now)
			if e.mode == Stopped {
				return
			}
		}
	}
}

func (e *Engine) apply(c byte, now time.Time) {
	entry := fmt.Sprintf("Command received: %q", c)

	if e.caps.Shutter == nil && (c == CmdOpen || c == CmdClose || c == CmdOscillate) {
		e.appendLog(fmt.Sprintf("Command %q received but no shutter available", c))
		return
	}

	switch c {
	case CmdStop:
		e.appendLog(entry + "\nStopping.")
		e.sendLog()
		e.mode = Stopped
		return
	case frame.ETX:
		log.Warnf("Abort received, stopping device program")
		e.mode = Stopped
		return
	case frame.EOT:
		log.Infof("Soft reset")
		e.reset(now)
		e.appendLog("Soft reset.")
		return
	case CmdOpen:
		e.open()
		e.mode = Open
		entry += "\nShutter opened."
	case CmdClose:
		e.close()
		e.mode = Closed
		entry += "\nShutter closed."
	case CmdOscillate:
		e.enterOscillation(now)
		entry += "\nBegan oscillating."
	case CmdValue:
		entry += "\nSending single photodiode value."
		if e.caps.Photodiode == nil {
			e.buf = frame.AppendString(e.buf, "Photodiode value: unavailable")
		} else {
			e.buf = frame.AppendString(e.buf, fmt.Sprintf("Photodiode value: %d", toSample(e.caps.Photodiode.Read())))
		}
	case CmdLog:
		e.appendLog(entry + "\nSending log.")
		e.sendLog()
		entry = "Just sent log."
	case CmdHelp:
		e.buf = frame.AppendString(e.buf, helpText)
	default:
		log.Debugf("Ignoring unknown command %q", c)
		entry = fmt.Sprintf("Unknown command: %q", c)
	}

	e.appendLog(entry)
}

// appendLog keeps at most LogLength entries, dropping the oldest
func (e *Engine) appendLog(entry string) {
	e.entries = append(e.entries, entry)
	if n := len(e.entries) - e.cfg.LogLength; n > 0 {
		e.entries = append(e.entries[:0], e.entries[n:]...)
	}
}

// sendLog emits the accumulated log as one string frame and clears it
func (e *Engine) sendLog() {
	e.buf = frame.AppendString(e.buf, strings.Join(e.entries, "\n"))
	e.entries = e.entries[:0]
}
