// Package calibration persists a linear transform from raw photodiode counts to a
// reported quantity, one per device name.
package calibration

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sigurn/crc16"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidCalibration is returned for input that is not a linear transform
	ErrInvalidCalibration = errors.New("invalid calibration")
	// ErrInvalidName is returned for device names that are not a single path element
	ErrInvalidName = errors.New("invalid device name")
	// ErrChecksum is returned by Load for a file whose coefficients do not match its crc
	ErrChecksum = errors.New("calibration checksum mismatch")
)

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Linear maps x to A*x + B
type Linear struct {
	A float64 `json:"a" yaml:"a"`
	B float64 `json:"b" yaml:"b"`
}

// Identity is used when no calibration is stored
var Identity = Linear{A: 1, B: 0}

// Apply evaluates the transform at x
func (l Linear) Apply(x float64) float64 { return l.A*x + l.B }

func (l Linear) valid() bool {
	for _, v := range []float64{l.A, l.B} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// checksum is the CRC-16/MODBUS of both coefficients in big endian IEEE 754 form
func (l Linear) checksum() uint16 {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], math.Float64bits(l.A))
	binary.BigEndian.PutUint64(b[8:], math.Float64bits(l.B))
	return crc16.Checksum(b[:], crcTable)
}

type file struct {
	Name string  `yaml:"name"`
	A    float64 `yaml:"a"`
	B    float64 `yaml:"b"`
	CRC  uint16  `yaml:"crc"`
}

// Store keeps one YAML file per device name in a directory
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir. The directory is created on first Save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the storage directory
func (s *Store) Dir() string { return s.dir }

// Path returns the file used for name
func (s *Store) Path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name+".yaml"), nil
}

// Load reads the calibration of name. On any failure Identity is returned together
// with the reason, which callers usually just log.
func (s *Store) Load(name string) (Linear, error) {
	p, err := s.Path(name)
	if err != nil {
		return Identity, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return Identity, fmt.Errorf("load calibration %q: %w", name, err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Identity, fmt.Errorf("load calibration %q: %w", name, err)
	}
	l := Linear{A: f.A, B: f.B}
	if l.checksum() != f.CRC {
		return Identity, fmt.Errorf("load calibration %q: %w", name, ErrChecksum)
	}
	if !l.valid() {
		return Identity, fmt.Errorf("load calibration %q: %w", name, ErrInvalidCalibration)
	}
	return l, nil
}

// Save derives the coefficients of fn as b = fn(0) and a = fn(1) - fn(0) and persists them
func (s *Store) Save(name string, fn func(float64) float64) (Linear, error) {
	if fn == nil {
		return Identity, ErrInvalidCalibration
	}
	b := fn(0)
	return s.write(name, Linear{A: fn(1) - b, B: b})
}

// Set persists a calibration given as func(float64) float64, Linear, [2]float64 or a
// []float64 of length 2 holding a and b.
func (s *Store) Set(name string, v any) (Linear, error) {
	switch c := v.(type) {
	case func(float64) float64:
		return s.Save(name, c)
	case Linear:
		return s.write(name, c)
	case [2]float64:
		return s.write(name, Linear{A: c[0], B: c[1]})
	case []float64:
		if len(c) != 2 {
			return Identity, fmt.Errorf("%w: %d coefficients", ErrInvalidCalibration, len(c))
		}
		return s.write(name, Linear{A: c[0], B: c[1]})
	}
	return Identity, fmt.Errorf("%w: unsupported type %T", ErrInvalidCalibration, v)
}

func (s *Store) write(name string, l Linear) (Linear, error) {
	if !l.valid() {
		return Identity, fmt.Errorf("%w: a=%v, b=%v", ErrInvalidCalibration, l.A, l.B)
	}
	p, err := s.Path(name)
	if err != nil {
		return Identity, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Identity, err
	}

	b, err := yaml.Marshal(file{Name: name, A: l.A, B: l.B, CRC: l.checksum()})
	if err != nil {
		return Identity, err
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return Identity, err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return Identity, err
	}
	if err := tmp.Close(); err != nil {
		return Identity, err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return Identity, err
	}
	log.WithField("device", name).Infof("Saved calibration a=%v, b=%v", l.A, l.B)
	return l, nil
}

// Active holds the calibration in use. It is replaced as a whole, never modified in place.
type Active struct {
	p atomic.Pointer[Linear]
}

// NewActive returns a holder initialised with l
func NewActive(l Linear) *Active {
	a := &Active{}
	a.Store(l)
	return a
}

// Load returns the current calibration, Identity if none was stored
func (a *Active) Load() Linear {
	if l := a.p.Load(); l != nil {
		return *l
	}
	return Identity
}

// Store swaps in l
func (a *Active) Store(l Linear) {
	a.p.Store(&l)
}

// Apply evaluates the current calibration at x
func (a *Active) Apply(x float64) float64 { return a.Load().Apply(x) }
