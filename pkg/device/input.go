package device

import (
	"bufio"
	"errors"
	"io"

	"github.com/speters/minishutter/pkg/frame"
)

// Listen reads host input from r and feeds it to the engine line by line. CR and LF both end
// a line; the control bytes ETX and EOT are fed on their own, without waiting for a terminator.
// Listen returns nil when r is exhausted or the engine stopped.
func (e *Engine) Listen(r io.Reader) error {
	br := bufio.NewReader(r)
	var line []byte

	feed := func(s string) bool {
		if s == "" {
			return true
		}
		return e.Feed(s)
	}

	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				feed(string(line))
				return nil
			}
			return err
		}

		switch b {
		case '\n', '\r':
			ok := feed(string(line))
			line = line[:0]
			if !ok {
				return nil
			}
		case frame.ETX, frame.EOT:
			if !feed(string(line)) || !feed(string([]byte{b})) {
				return nil
			}
			line = line[:0]
		default:
			line = append(line, b)
		}
	}
}
