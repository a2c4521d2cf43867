package device

// SampleBuffer is a fixed size ring of photodiode samples
type SampleBuffer struct {
	buf []uint16
	pos int // next slot to write, i.e. one past the last written sample
}

// NewSampleBuffer returns a zeroed ring holding size samples (at least one)
func NewSampleBuffer(size int) *SampleBuffer {
	if size < 1 {
		size = 1
	}
	return &SampleBuffer{buf: make([]uint16, size)}
}

// Put stores v at the write cursor and advances it
func (r *SampleBuffer) Put(v uint16) {
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
}

// Snapshot copies the ring oldest first, starting one past the last written sample
func (r *SampleBuffer) Snapshot() []uint16 {
	n := len(r.buf)
	out := make([]uint16, n)
	for i := range out {
		out[i] = r.buf[(r.pos+i)%n]
	}
	return out
}

func (r *SampleBuffer) Cap() int { return len(r.buf) }

// Reset zeroes all samples and rewinds the cursor
func (r *SampleBuffer) Reset() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.pos = 0
}
