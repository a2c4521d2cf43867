// Package api exposes the mini shutter driver over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/speters/minishutter/pkg/calibration"
	"github.com/speters/minishutter/pkg/shutter"
)

// Options configures a Server
type Options struct {
	Name        string // device name, used as calibration key
	Version     string
	BuildDate   string
	Store       *calibration.Store
	Calibration *calibration.Active
	Hub         *Hub
}

// Server serves the control endpoints. The device may be swapped at runtime, e.g. after a reconnect.
type Server struct {
	opts   Options
	router *mux.Router

	mu  sync.RWMutex
	dev *shutter.Device
}

func NewServer(opts Options) *Server {
	if opts.Calibration == nil {
		opts.Calibration = calibration.NewActive(calibration.Identity)
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	s := &Server{opts: opts, router: mux.NewRouter()}

	s.router.HandleFunc("/version", s.versionInfo).Methods("GET")
	s.router.HandleFunc("/status", s.getStatus).Methods("GET")
	s.router.HandleFunc("/command/{name}", s.postCommand).Methods("POST")
	s.router.HandleFunc("/calibration", s.getCalibration).Methods("GET")
	s.router.HandleFunc("/calibration", s.putCalibration).Methods("PUT")
	s.router.HandleFunc("/events", s.streamEvents).Methods("GET")
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the event hub used by /events
func (s *Server) Hub() *Hub { return s.opts.Hub }

// SetDevice sets the device commands are sent to
func (s *Server) SetDevice(d *shutter.Device) {
	s.mu.Lock()
	s.dev = d
	s.mu.Unlock()
}

func (s *Server) device() *shutter.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dev
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(status)
	w.Write([]byte(err.Error()))
}

func (s *Server) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: s.opts.Version, BuildDate: s.opts.BuildDate})
}

type reading struct {
	Value     float64    `json:"value"`
	HasValue  bool       `json:"has_value"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type status struct {
	Name        string             `json:"name"`
	Link        string             `json:"link,omitempty"`
	Connected   bool               `json:"connected"`
	Shutter     bool               `json:"shutter"`
	Passthrough bool               `json:"passthrough"`
	Reading     reading            `json:"reading"`
	Calibrated  float64            `json:"calibrated"`
	Stats       shutter.Stats      `json:"stats"`
	Calibration calibration.Linear `json:"calibration"`
	Subscribers int                `json:"subscribers"`
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	cal := s.opts.Calibration.Load()
	st := status{Name: s.opts.Name, Calibration: cal, Subscribers: s.opts.Hub.Subscribers()}
	if d := s.device(); d != nil {
		st.Link = d.Link()
		st.Connected = d.Connected()
		st.Shutter = d.HasShutter()
		st.Passthrough = d.Passthrough()
		st.Stats = d.Stats()
		if rd := d.Latest(); rd.HasValue {
			ts := rd.Timestamp
			st.Reading = reading{Value: rd.Value, HasValue: true, Timestamp: &ts}
			st.Calibrated = cal.Apply(rd.Value)
		}
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	c, err := shutter.ParseCommand(params["name"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	d := s.device()
	if d == nil {
		writeError(w, http.StatusServiceUnavailable, shutter.ErrLinkClosed)
		return
	}
	if err := d.Send(c); err != nil {
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, shutter.ErrLinkClosed):
			code = http.StatusServiceUnavailable
		case errors.Is(err, shutter.ErrNoShutter):
			code = http.StatusConflict
		}
		writeError(w, code, err)
		return
	}
	log.WithField("device", d.Name()).Debugf("Sent command %v", params["name"])
	writeJSON(w, http.StatusOK, "OK")
}

func (s *Server) getCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Calibration.Load())
}

func (s *Server) putCalibration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		A *float64 `json:"a"`
		B *float64 `json:"b"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.A == nil || body.B == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: a and b are required", calibration.ErrInvalidCalibration))
		return
	}
	if s.opts.Store == nil {
		writeError(w, http.StatusInternalServerError, errors.New("No calibration store configured"))
		return
	}

	l, err := s.opts.Store.Set(s.opts.Name, calibration.Linear{A: *body.A, B: *body.B})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, calibration.ErrInvalidCalibration) || errors.Is(err, calibration.ErrInvalidName) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	s.opts.Calibration.Store(l)
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer c.CloseNow()

	events, cancel := s.opts.Hub.Subscribe()
	defer cancel()

	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, c, ev)
			wcancel()
			if err != nil {
				log.Debugf("Websocket write failed: %v", err)
				return
			}
		}
	}
}
