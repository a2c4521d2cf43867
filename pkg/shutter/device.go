package shutter

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Defaults used by NewDevice for zero Config fields
const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 100 * time.Millisecond
	DefaultCheckDelay  = 100 * time.Millisecond
	DefaultEventBuffer = 64
	DefaultName        = "no_name_given"
)

// ErrLinkClosed is returned once the link has been disconnected or lost. It is terminal.
var ErrLinkClosed = errors.New("link closed")

// Config describes the module behind the link
type Config struct {
	Name        string
	Baud        int
	ReadTimeout time.Duration // bounds a single blocking read
	CheckDelay  time.Duration // pause between reader iterations
	Shutter     bool          // module has a shutter, required for open, close and oscillate
	Photodiode  bool          // module sends data frames
	Passthrough bool          // forward raw bytes without parsing frames
	EventBuffer int
}

// Device is the host side of a mini shutter module, reachable via serial line or tcp socket
type Device struct {
	cfg Config

	conn      io.ReadWriteCloser
	r         *bufio.Reader
	serial    bool
	lock      sync.Mutex // guards the whole link, reads and writes alike
	link      string
	connected bool

	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once

	mailbox Mailbox
	events  chan Event
	stats   counters
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// NewDevice is the factory method to create a new, unconnected Device
func NewDevice(cfg Config) *Device {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Baud <= 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.CheckDelay <= 0 {
		cfg.CheckDelay = DefaultCheckDelay
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Device{
		cfg:    cfg,
		done:   make(chan struct{}),
		events: make(chan Event, cfg.EventBuffer),
	}
}

// Name returns the configured module name
func (o *Device) Name() string { return o.cfg.Name }

// HasShutter reports whether the module has a shutter fitted
func (o *Device) HasShutter() bool { return o.cfg.Shutter }

// Link returns the connection string passed to Connect
func (o *Device) Link() string { return o.link }

// Connect attaches to the module via serial device or a tcp socket.
// Use socket://host:port or tcp://host:port for TCP, a device path or file://path for serial.
func (o *Device) Connect(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return err
	}

	var conn io.ReadWriteCloser
	isSerial := false
	switch u.Scheme {
	case "socket", "tcp":
		c, err := net.Dial("tcp", u.Host)
		if err != nil {
			return err
		}
		c.(*net.TCPConn).SetKeepAlive(true)
		c.(*net.TCPConn).SetKeepAlivePeriod(30 * time.Second)
		conn = c
	case "file", "":
		conn, err = serial.OpenPort(&serial.Config{
			Name:        u.Path,
			Baud:        o.cfg.Baud,
			ReadTimeout: o.cfg.ReadTimeout,
			Size:        8,
			Parity:      serial.ParityNone,
			StopBits:    serial.Stop1,
		})
		if err != nil {
			return err
		}
		isSerial = true
	default:
		return fmt.Errorf("can not find a valid connection string in %q", link)
	}

	o.attach(conn, isSerial)
	o.link = link
	log.WithField("device", o.cfg.Name).Infof("Connected to %v", link)
	return nil
}

// DeadlineConn is a connection whose reads can be bounded, any net.Conn will do
type DeadlineConn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Attach uses an already established connection, e.g. one end of a net.Pipe.
// The reader holds the link lock for one read, so reads must honour ReadTimeout via the deadline.
func (o *Device) Attach(conn DeadlineConn) {
	o.attach(conn, false)
}

func (o *Device) attach(conn io.ReadWriteCloser, isSerial bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.conn = conn
	o.serial = isSerial
	o.r = bufio.NewReader(conn)
	o.connected = true
}

// Connected reports whether the link is up
func (o *Device) Connected() bool {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.connected
}

// Done is closed when the link is gone, either by Disconnect or because the peer went away
func (o *Device) Done() <-chan struct{} { return o.done }

// Start runs the reader worker until ctx is cancelled or the link is closed
func (o *Device) Start(ctx context.Context) {
	o.startOnce.Do(func() {
		go o.readLoop(ctx)
	})
}

// Disconnect closes the link. It is terminal, all later sends fail with ErrLinkClosed.
func (o *Device) Disconnect() error {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.closeLocked()
}

// Close implements io.Closer, see Disconnect
func (o *Device) Close() error {
	err := o.Disconnect()
	if errors.Is(err, ErrLinkClosed) {
		return nil
	}
	return err
}

func (o *Device) closeLocked() error {
	if !o.connected {
		o.closeOnce.Do(func() { close(o.done) })
		return ErrLinkClosed
	}
	o.connected = false
	err := o.conn.Close()
	o.closeOnce.Do(func() { close(o.done) })
	log.WithField("device", o.cfg.Name).Infof("Disconnected")
	return err
}

func (o *Device) Write(b []byte) (int, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if !o.connected {
		return 0, ErrLinkClosed
	}
	n, err := o.conn.Write(b)
	log.Debugf("Write b='%# x', n=%v, err=%v", b, n, err)
	if err != nil {
		return n, fmt.Errorf("write to %v: %w", o.cfg.Name, err)
	}
	return n, nil
}

// readAvailable blocks for at most the read timeout and returns the bytes that arrived.
// A timeout is not an error; a vanished peer is reported as ErrLinkClosed.
func (o *Device) readAvailable(b []byte) ([]byte, error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	if !o.connected {
		return nil, ErrLinkClosed
	}

	if d, ok := o.conn.(deadliner); ok {
		d.SetReadDeadline(time.Now().Add(o.cfg.ReadTimeout))
	}

	var out []byte
	n, err := o.r.Read(b)
	out = append(out, b[:n]...)
	for err == nil && o.r.Buffered() > 0 {
		n, err = o.r.Read(b)
		out = append(out, b[:n]...)
	}
	if len(out) > 0 {
		log.Debugf("Read b='%# x', n=%v, err=%v", out, len(out), err)
	}

	var ne net.Error
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &ne) && ne.Timeout():
		return out, nil
	case errors.Is(err, io.EOF) && o.serial:
		// tarm/serial reports an expired ReadTimeout as EOF
		return out, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return out, ErrLinkClosed
	}
	return out, fmt.Errorf("read from %v: %w", o.cfg.Name, err)
}
