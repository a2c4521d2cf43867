package frame

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeString(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x00, 0x7f, 'o', 'p', 'e', 'n', 0x0a, 0x0a}, EncodeString("open"))
	assert.Equal(t, []byte{0x00, 0x00, 0x7f, 0x0a, 0x0a}, EncodeString(""))
}

func TestEncodeData(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x7f, 0x00, 0x05, 0x00, 0x0a, 0x0a, 0x0a}, EncodeData([]uint16{5, 10}))
	assert.Equal(t, []byte{0x00, 0x7f, 0x0a, 0x0a}, EncodeData(nil))
	assert.Equal(t, []byte{0x00, 0x7f, 0xff, 0xfe, 0x0a, 0x0a}, EncodeData([]uint16{0xfffe}))
}

func TestDecodeDataFrame(t *testing.T) {
	f, err := Decode([]byte{0x00, 0x7f, 0x00, 0x05, 0x00, 0x0a, 0x0a, 0x0a})
	require.NoError(t, err)
	assert.Equal(t, KindData, f.Kind)
	assert.Equal(t, []uint16{5, 10}, f.Samples)

	mean, ok := f.Mean()
	require.True(t, ok)
	assert.Equal(t, 7.5, mean)
}

func TestDecodeEmptyDataFrame(t *testing.T) {
	f, err := Decode([]byte{0x00, 0x7f, 0x0a, 0x0a})
	require.NoError(t, err)
	assert.Equal(t, KindData, f.Kind)
	assert.Empty(t, f.Samples)

	_, ok := f.Mean()
	assert.False(t, ok)
}

func TestDecodeStringFrame(t *testing.T) {
	f, err := Decode(EncodeString("Photodiode value: 1234"))
	require.NoError(t, err)
	assert.Equal(t, KindString, f.Kind)
	assert.Equal(t, "Photodiode value: 1234", f.Text)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{"no terminator", []byte{0x00, 0x7f, 0x00, 0x05, 0x0a}, ErrTruncatedFrame},
		{"empty", []byte{}, ErrTruncatedFrame},
		{"single LF", []byte{0x0a}, ErrTruncatedFrame},
		{"odd payload", []byte{0x00, 0x7f, 0x00, 0x05, 0x01, 0x0a, 0x0a}, ErrTruncatedFrame},
		{"unknown header", []byte{'h', 'i', 0x0a, 0x0a}, ErrUnknownFrameType},
		{"bare terminator", []byte{0x0a, 0x0a}, ErrUnknownFrameType},
		{"half header", []byte{0x00, 0x00, 0x0a, 0x0a}, ErrUnknownFrameType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, Frame{}, f)

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, tt.in, de.Segment)
		})
	}
}

func TestDecodeRejectsAnythingWithoutTerminator(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		b := make([]byte, rnd.Intn(40))
		rnd.Read(b)
		if bytes.HasSuffix(b, []byte{LF, LF}) {
			continue
		}
		f, err := Decode(b)
		require.ErrorIs(t, err, ErrTruncatedFrame, "input '% x'", b)
		require.Equal(t, Frame{}, f)
	}
}

func TestDataRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for n := 0; n <= 256; n++ {
		samples := make([]uint16, n)
		for i := range samples {
			samples[i] = uint16(rnd.Intn(1 << 16))
		}
		f, err := Decode(EncodeData(samples))
		require.NoError(t, err, "n=%d", n)
		require.Equal(t, KindData, f.Kind)
		require.Equal(t, samples, f.Samples, "n=%d", n)
	}
}

func TestDecodeAllConcatenated(t *testing.T) {
	var buf []byte
	buf = AppendData(buf, []uint16{5, 10})
	buf = AppendString(buf, "open")
	buf = AppendData(buf, nil)
	buf = AppendString(buf, "Command recieved: l\nSending log.")

	res := DecodeAll(buf)
	require.Len(t, res, 4)
	for _, r := range res {
		require.NoError(t, r.Err)
	}
	assert.Equal(t, []uint16{5, 10}, res[0].Frame.Samples)
	assert.Equal(t, "open", res[1].Frame.Text)
	assert.Equal(t, KindData, res[2].Frame.Kind)
	assert.Empty(t, res[2].Frame.Samples)
	assert.Equal(t, "Command recieved: l\nSending log.", res[3].Frame.Text)
}

func TestDecodeAllTruncatedOnly(t *testing.T) {
	res := DecodeAll([]byte{0x00, 0x7f, 0x00, 0x05, 0x0a})
	require.Len(t, res, 1)
	assert.ErrorIs(t, res[0].Err, ErrTruncatedFrame)
}

func TestDecodeAllKeepsNeighboursOfCorruptSegment(t *testing.T) {
	var buf []byte
	buf = AppendString(buf, "before")
	buf = append(buf, 'x', 'y', 'z', LF, LF)
	buf = AppendData(buf, []uint16{1, 2, 3})
	buf = append(buf, 0x00, 0x7f, 0x12) // cut off

	res := DecodeAll(buf)
	require.Len(t, res, 4)
	assert.Equal(t, "before", res[0].Frame.Text)
	assert.ErrorIs(t, res[1].Err, ErrUnknownFrameType)
	assert.Equal(t, []uint16{1, 2, 3}, res[2].Frame.Samples)
	assert.ErrorIs(t, res[3].Err, ErrTruncatedFrame)
}

func TestSplitSampleContainingTerminatorBytes(t *testing.T) {
	var buf []byte
	buf = AppendData(buf, []uint16{0x1234, 0x0a0a, 0x5678})
	buf = AppendString(buf, "next")

	res := DecodeAll(buf)
	require.Len(t, res, 3)
	require.NoError(t, res[0].Err)
	assert.Equal(t, []uint16{0x1234}, res[0].Frame.Samples, "0x0a0a ends the frame")
	assert.ErrorIs(t, res[1].Err, ErrUnknownFrameType)
	assert.Equal(t, "next", res[2].Frame.Text)
}

func TestDataFrameNeverSpansGarbage(t *testing.T) {
	var buf []byte
	buf = AppendData(buf, []uint16{5})
	buf = append(buf, 'x', 'y', LF, LF)
	buf = AppendData(buf, []uint16{6})

	res := DecodeAll(buf)
	require.Len(t, res, 3)
	require.NoError(t, res[0].Err)
	assert.Equal(t, []uint16{5}, res[0].Frame.Samples)
	mean, ok := res[0].Frame.Mean()
	require.True(t, ok)
	assert.Equal(t, 5.0, mean)

	var de *DecodeError
	require.True(t, errors.As(res[1].Err, &de))
	assert.Equal(t, []byte{'x', 'y', LF, LF}, de.Segment)
	assert.Equal(t, []uint16{6}, res[2].Frame.Samples)
}

func TestSplitResyncsOnHeader(t *testing.T) {
	tests := []struct {
		name    string
		prefix  []byte
		wantErr error
	}{
		{"stray LF", []byte{LF}, ErrTruncatedFrame},
		{"stray byte", []byte{0x05}, ErrTruncatedFrame},
		{"text without header", []byte("abc"), ErrTruncatedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, next := range [][]byte{EncodeData([]uint16{6}), EncodeString("hi")} {
				buf := append(append([]byte(nil), tt.prefix...), next...)

				res := DecodeAll(buf)
				require.Len(t, res, 2, "input '% x'", buf)
				assert.ErrorIs(t, res[0].Err, tt.wantErr)
				require.NoError(t, res[1].Err)
				want, err := Decode(next)
				require.NoError(t, err)
				assert.Equal(t, want, res[1].Frame)
			}
		})
	}
}

func TestSplitMisalignedTerminator(t *testing.T) {
	// 0x000a followed by 0x0a00: LF LF sits at an odd payload offset
	buf := EncodeData([]uint16{0x000a, 0x0a00})
	segs := Split(buf)
	require.Len(t, segs, 1)
	assert.Equal(t, buf, segs[0])
}

func TestSplitStringEndingInNewline(t *testing.T) {
	var buf []byte
	buf = AppendString(buf, "line\n")
	buf = AppendData(buf, []uint16{7})

	res := DecodeAll(buf)
	require.Len(t, res, 2)
	assert.Equal(t, "line\n", res[0].Frame.Text)
	assert.Equal(t, []uint16{7}, res[1].Frame.Samples)
}

func TestSplitKeepsAllBytes(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	alphabet := []byte{0x00, 0x7f, 0x0a, 'a', 0x05}
	for i := 0; i < 500; i++ {
		b := make([]byte, rnd.Intn(64))
		for j := range b {
			b[j] = alphabet[rnd.Intn(len(alphabet))]
		}
		segs := Split(b)
		assert.Equal(t, b, bytes.Join(segs, nil))
		for _, s := range segs {
			assert.NotEmpty(t, s)
		}
	}
}
