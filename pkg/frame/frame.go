package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Bytes used by the device framing
const (
	NUL byte = 0x00 // Leading byte of every frame header
	DEL byte = 0x7F // Closes the frame header
	LF  byte = 0x0A // Terminator, always sent twice
	ETX byte = 0x03 // Host -> device: abort the running device program
	EOT byte = 0x04 // Host -> device: soft reset / reload
)

var (
	stringHeader = []byte{NUL, NUL, DEL}
	dataHeader   = []byte{NUL, DEL}
	terminator   = []byte{LF, LF}
)

var (
	// ErrTruncatedFrame is returned for any byte sequence that does not end in LF LF,
	// or whose data payload is cut in the middle of a sample
	ErrTruncatedFrame = errors.New("truncated frame")
	// ErrUnknownFrameType is returned if a terminated segment carries neither header
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Kind tells string frames from data frames
type Kind byte

const (
	KindString Kind = iota + 1
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindData:
		return "data"
	}
	return fmt.Sprintf("Kind(%d)", byte(k))
}

// Frame is a single decoded device transmission. Text is set for string frames, Samples for data frames.
type Frame struct {
	Kind    Kind
	Text    string
	Samples []uint16
}

// Mean returns the arithmetic mean of a data frame. ok is false for frames without samples.
func (f Frame) Mean() (mean float64, ok bool) {
	if len(f.Samples) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range f.Samples {
		sum += float64(s)
	}
	return sum / float64(len(f.Samples)), true
}

// DecodeError keeps the offending segment next to the cause
type DecodeError struct {
	Segment []byte
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v (segment='% x')", e.Err, e.Segment)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Result holds the outcome of decoding one segment of a batch
type Result struct {
	Frame Frame
	Err   error
}

// AppendString appends a string frame carrying text to dst
func AppendString(dst []byte, text string) []byte {
	dst = append(dst, stringHeader...)
	dst = append(dst, text...)
	return append(dst, terminator...)
}

// AppendData appends a data frame with big endian samples to dst
func AppendData(dst []byte, samples []uint16) []byte {
	dst = append(dst, dataHeader...)
	for _, s := range samples {
		dst = binary.BigEndian.AppendUint16(dst, s)
	}
	return append(dst, terminator...)
}

// EncodeString returns the string frame for text
func EncodeString(text string) []byte {
	return AppendString(make([]byte, 0, len(stringHeader)+len(text)+len(terminator)), text)
}

// EncodeData returns the data frame for samples
func EncodeData(samples []uint16) []byte {
	return AppendData(make([]byte, 0, len(dataHeader)+2*len(samples)+len(terminator)), samples)
}

func isString(b []byte) bool { return bytes.HasPrefix(b, stringHeader) }
func isData(b []byte) bool   { return bytes.HasPrefix(b, dataHeader) }

// Decode decodes exactly one frame. buf is rejected as a whole if it does not end in LF LF.
func Decode(buf []byte) (Frame, error) {
	if !bytes.HasSuffix(buf, terminator) {
		return Frame{}, &DecodeError{Segment: buf, Err: ErrTruncatedFrame}
	}

	switch {
	case isString(buf) && len(buf) >= len(stringHeader)+len(terminator):
		text := buf[len(stringHeader) : len(buf)-len(terminator)]
		return Frame{Kind: KindString, Text: string(text)}, nil
	case isData(buf) && len(buf) >= len(dataHeader)+len(terminator):
		payload := buf[len(dataHeader) : len(buf)-len(terminator)]
		if len(payload)%2 != 0 {
			return Frame{}, &DecodeError{Segment: buf, Err: ErrTruncatedFrame}
		}
		samples := make([]uint16, len(payload)/2)
		for i := range samples {
			samples[i] = binary.BigEndian.Uint16(payload[2*i:])
		}
		return Frame{Kind: KindData, Samples: samples}, nil
	}
	return Frame{}, &DecodeError{Segment: buf, Err: ErrUnknownFrameType}
}

// DecodeAll splits a concatenated read into segments and decodes each one on its own
func DecodeAll(buf []byte) []Result {
	segs := Split(buf)
	res := make([]Result, 0, len(segs))
	for _, s := range segs {
		f, err := Decode(s)
		res = append(res, Result{Frame: f, Err: err})
	}
	return res
}

// Split cuts buf into frame sized segments. The concatenation of all segments equals buf;
// a trailing remainder without terminator is returned as the last segment.
func Split(buf []byte) [][]byte {
	var segs [][]byte
	for len(buf) > 0 {
		n := segmentLen(buf)
		if n <= 0 {
			segs = append(segs, buf)
			break
		}
		segs = append(segs, buf[:n])
		buf = buf[n:]
	}
	return segs
}

func segmentLen(b []byte) int {
	switch {
	case isString(b):
		return newlineRunEnd(b, len(stringHeader))
	case isData(b):
		return dataEnd(b)
	}
	return headerlessEnd(b)
}

// headerlessEnd cuts a segment without a valid header at its first LF LF run or right before
// the next frame header, whichever comes first.
func headerlessEnd(b []byte) int {
	end := newlineRunEnd(b, 0)
	if h := nextHeader(b); h > 0 && (end < 0 || h < end) {
		return h
	}
	return end
}

// nextHeader returns the index of the first frame header after b[0], or -1
func nextHeader(b []byte) int {
	if len(b) < 2 {
		return -1
	}
	i := bytes.Index(b[1:], dataHeader)
	if i < 0 {
		return -1
	}
	i++
	if i > 1 && b[i-1] == NUL {
		return i - 1
	}
	return i
}

// newlineRunEnd finds the first LF LF at or after from and returns the index past the whole LF run.
// Text ending in LF therefore keeps its own newline.
func newlineRunEnd(b []byte, from int) int {
	i := bytes.Index(b[from:], terminator)
	if i < 0 {
		return -1
	}
	j := from + i + len(terminator)
	for j < len(b) && b[j] == LF {
		j++
	}
	return j
}

// dataEnd returns the index past the first LF LF at a sample boundary. A sample of 0x0a0a
// therefore ends the frame early; its remainder becomes a segment of its own.
func dataEnd(b []byte) int {
	for p := len(dataHeader); p+1 < len(b); p += 2 {
		if b[p] == LF && b[p+1] == LF {
			return p + 2
		}
	}
	return -1
}
