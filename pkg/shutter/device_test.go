package shutter

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speters/minishutter/pkg/frame"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPipeDevice(t *testing.T, cfg Config) (*Device, net.Conn) {
	t.Helper()
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Millisecond
	}
	if cfg.CheckDelay == 0 {
		cfg.CheckDelay = time.Millisecond
	}
	local, peer := net.Pipe()
	o := NewDevice(cfg)
	o.Attach(local)
	t.Cleanup(func() {
		o.Close()
		peer.Close()
	})
	return o, peer
}

func drain(o *Device) []Event {
	var evs []Event
	for {
		select {
		case ev := <-o.Events():
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestNewDeviceDefaults(t *testing.T) {
	o := NewDevice(Config{})
	assert.Equal(t, DefaultName, o.Name())
	assert.Equal(t, DefaultBaud, o.cfg.Baud)
	assert.Equal(t, DefaultReadTimeout, o.cfg.ReadTimeout)
	assert.Equal(t, DefaultCheckDelay, o.cfg.CheckDelay)
	assert.False(t, o.Connected())
	assert.True(t, o.Passthrough())
}

func TestProcessDataFrame(t *testing.T) {
	o := NewDevice(Config{Name: "pd", Photodiode: true})

	o.process([]byte{0x00, 0x7F, 0x00, 0x05, 0x00, 0x0A, 0x0A, 0x0A}, t0)

	r := o.Take()
	require.True(t, r.HasValue)
	assert.Equal(t, 7.5, r.Value)
	assert.Equal(t, t0, r.Timestamp)
	assert.False(t, o.Take().HasValue)
	assert.Empty(t, drain(o))
	assert.Equal(t, uint64(1), o.Stats().DataFrames)
}

func TestProcessTruncatedFrame(t *testing.T) {
	o := NewDevice(Config{Name: "pd", Photodiode: true})

	o.process([]byte{0x00, 0x7F, 0x00, 0x05, 0x0A}, t0)

	assert.False(t, o.Latest().HasValue)
	evs := drain(o)
	require.Len(t, evs, 1)
	assert.Equal(t, EventDiagnostic, evs[0].Kind)
	assert.Equal(t, "diagnostic", evs[0].Type)
	assert.Equal(t, "pd", evs[0].Device)
	st := o.Stats()
	assert.Equal(t, uint64(0), st.Frames)
	assert.Equal(t, uint64(1), st.Diagnostics)
}

func TestProcessMixedBatch(t *testing.T) {
	o := NewDevice(Config{Photodiode: true})
	var b []byte
	b = frame.AppendString(b, "Shutter opened.")
	b = frame.AppendData(b, []uint16{10, 20})
	b = frame.AppendData(b, []uint16{100, 300})

	o.process(b, t0)

	r := o.Take()
	require.True(t, r.HasValue)
	assert.Equal(t, 200.0, r.Value, "newest reading wins")
	evs := drain(o)
	require.Len(t, evs, 1)
	assert.Equal(t, EventText, evs[0].Kind)
	assert.Equal(t, "Shutter opened.", evs[0].Text)
	assert.Equal(t, uint64(3), o.Stats().Frames)
}

func TestProcessEmptyDataFrame(t *testing.T) {
	o := NewDevice(Config{Photodiode: true})

	o.process(frame.EncodeData(nil), t0)

	assert.False(t, o.Latest().HasValue)
	assert.Equal(t, uint64(1), o.Stats().EmptySets)
	assert.Empty(t, drain(o))
}

func TestProcessEmptyDataFrameKeepsPriorReading(t *testing.T) {
	o := NewDevice(Config{Photodiode: true})
	o.process(frame.EncodeData([]uint16{40, 60}), t0)

	o.process(frame.EncodeData(nil), t0.Add(time.Second))

	assert.Equal(t, Reading{Value: 50, HasValue: true, Timestamp: t0}, o.Latest())
	assert.Equal(t, uint64(1), o.Stats().EmptySets)
}

func TestProcessPassthrough(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no photodiode", Config{}},
		{"forced", Config{Photodiode: true, Passthrough: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewDevice(tt.cfg)
			raw := frame.EncodeData([]uint16{1, 2})

			o.process(raw, t0)

			assert.False(t, o.Latest().HasValue)
			evs := drain(o)
			require.Len(t, evs, 1)
			assert.Equal(t, string(raw), evs[0].Text)
		})
	}
}

func TestEventsDroppedWhenFull(t *testing.T) {
	o := NewDevice(Config{Photodiode: true, EventBuffer: 1})

	o.process(frame.EncodeString("one"), t0)
	o.process(frame.EncodeString("two"), t0)

	evs := drain(o)
	require.Len(t, evs, 1)
	assert.Equal(t, "one", evs[0].Text)
	assert.Equal(t, uint64(1), o.Stats().Dropped)
}

func TestMailbox(t *testing.T) {
	var m Mailbox
	assert.False(t, m.Take().HasValue)

	m.Put(1, t0)
	m.Put(2, t0.Add(time.Second))
	assert.Equal(t, 2.0, m.Peek().Value)

	r := m.Take()
	assert.Equal(t, Reading{Value: 2, HasValue: true, Timestamp: t0.Add(time.Second)}, r)
	assert.False(t, m.Peek().HasValue)
}

func TestMailboxRestore(t *testing.T) {
	var m Mailbox
	m.Put(1, t0)
	r := m.Take()

	assert.True(t, m.Restore(r))
	assert.Equal(t, r, m.Peek())

	m.Put(2, t0.Add(time.Second))
	assert.False(t, m.Restore(r), "newer reading is kept")
	assert.Equal(t, 2.0, m.Peek().Value)

	m.Take()
	assert.False(t, m.Restore(Reading{}))
	assert.False(t, m.Peek().HasValue)
}

func TestSendCommands(t *testing.T) {
	tests := []struct {
		name string
		send func(o *Device) error
		want []byte
	}{
		{"open", (*Device).OpenShutter, []byte("o\n")},
		{"close", (*Device).CloseShutter, []byte("c\n")},
		{"oscillate", (*Device).Oscillate, []byte("b\n")},
		{"stop", (*Device).Stop, []byte("s\n")},
		{"value", (*Device).ReadValue, []byte("v\n")},
		{"log", (*Device).RequestLog, []byte("l\n")},
		{"help", (*Device).Help, []byte("h\n")},
		{"reload", (*Device).Reload, []byte{0x04}},
		{"abort", (*Device).Abort, []byte{0x03}},
		{"string", func(o *Device) error { return o.WriteString("x") }, []byte("x\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, peer := newPipeDevice(t, Config{Shutter: true})
			got := make(chan []byte, 1)
			go func() {
				b := make([]byte, 16)
				n, _ := peer.Read(b)
				got <- b[:n]
			}()

			require.NoError(t, tt.send(o))
			assert.Equal(t, tt.want, <-got)
		})
	}
}

func TestShutterCommandsWithoutShutter(t *testing.T) {
	o, peer := newPipeDevice(t, Config{})
	require.False(t, o.HasShutter())

	for _, send := range []func() error{o.OpenShutter, o.CloseShutter, o.Oscillate} {
		assert.ErrorIs(t, send(), ErrNoShutter)
	}

	// nothing reached the module, the next byte on the wire is the help command
	got := make(chan []byte, 1)
	go func() {
		b := make([]byte, 16)
		n, _ := peer.Read(b)
		got <- b[:n]
	}()
	require.NoError(t, o.Help())
	assert.Equal(t, []byte("h\n"), <-got)
}

func TestParseCommand(t *testing.T) {
	for _, name := range CommandNames() {
		c, err := ParseCommand(name)
		require.NoError(t, err, name)
		assert.NotZero(t, c)
	}
	c, err := ParseCommand("open")
	require.NoError(t, err)
	assert.Equal(t, CmdOpen, c)

	_, err = ParseCommand("dance")
	assert.Error(t, err)
}

func TestDisconnect(t *testing.T) {
	o, _ := newPipeDevice(t, Config{Shutter: true})
	require.True(t, o.Connected())

	require.NoError(t, o.Disconnect())

	assert.False(t, o.Connected())
	assert.ErrorIs(t, o.OpenShutter(), ErrLinkClosed)
	assert.ErrorIs(t, o.Disconnect(), ErrLinkClosed)
	assert.NoError(t, o.Close())
	select {
	case <-o.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestReaderEndToEnd(t *testing.T) {
	o, peer := newPipeDevice(t, Config{Name: "e2e", Shutter: true, Photodiode: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	go peer.Write(append(frame.EncodeString("hello"), frame.EncodeData([]uint16{4, 6})...))

	require.Eventually(t, func() bool { return o.Latest().HasValue }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5.0, o.Take().Value)
	select {
	case ev := <-o.Events():
		assert.Equal(t, "hello", ev.Text)
	case <-time.After(time.Second):
		t.Fatal("no text event")
	}

	// commands interleave with the running reader
	got := make(chan []byte, 1)
	go func() {
		b := make([]byte, 16)
		n, _ := io.ReadAtLeast(peer, b, 2)
		got <- b[:n]
	}()
	require.NoError(t, o.OpenShutter())
	assert.Equal(t, []byte("o\n"), <-got)
}

func TestDisconnectWhileReaderIdle(t *testing.T) {
	o, _ := newPipeDevice(t, Config{Photodiode: true, ReadTimeout: 20 * time.Millisecond})
	o.Start(context.Background())
	time.Sleep(5 * time.Millisecond)

	errc := make(chan error, 1)
	go func() { errc <- o.Disconnect() }()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Disconnect blocked behind the reader")
	}
}

func TestReaderPeerClosed(t *testing.T) {
	o, peer := newPipeDevice(t, Config{Photodiode: true})
	o.Start(context.Background())

	peer.Close()

	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not notice the closed link")
	}
	assert.False(t, o.Connected())
	assert.ErrorIs(t, o.Stop(), ErrLinkClosed)
}

func TestConnectSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	o := NewDevice(Config{ReadTimeout: 10 * time.Millisecond})
	require.NoError(t, o.Connect("socket://"+ln.Addr().String()))
	defer o.Close()
	peer := <-accepted
	defer peer.Close()

	assert.Equal(t, "socket://"+ln.Addr().String(), o.Link())
	data, err := o.readAvailable(make([]byte, 16))
	assert.NoError(t, err, "timeout is not an error")
	assert.Empty(t, data)

	require.NoError(t, o.Help())
	b := make([]byte, 2)
	_, err = io.ReadFull(peer, b)
	require.NoError(t, err)
	assert.Equal(t, "h\n", string(b))
}

func TestConnectInvalid(t *testing.T) {
	o := NewDevice(Config{})
	assert.Error(t, o.Connect("http://example.com"))
	assert.Error(t, o.Connect("file:///nonexistent/tty-for-test"))
	assert.False(t, o.Connected())
}
