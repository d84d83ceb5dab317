// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fakeserval provides a fake SERVAL server: its HTTP control
// API and its focus, cumulative and raw data sinks.
package fakeserval // import "github.com/go-lpc/tp3/internal/fakeserval"

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-lpc/tp3/serval"
)

// Server is a fake SERVAL server.
type Server struct {
	msg *log.Logger
	cfg config

	mu     sync.Mutex
	status serval.Status
	det    serval.DetectorConfig
	dst    serval.Destination
	loaded map[string]string // format -> file
	starts int
	stops  int
	fail   bool // whether measurement start requests fail
	run    chan struct{}

	ctl   net.Listener
	http  *http.Server
	sinks struct {
		focus net.Listener
		cumul net.Listener
		raw   net.Listener
	}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type config struct {
	host   string
	ctl    int
	ports  serval.Ports
	period time.Duration

	width  int
	height int
	depth  int

	lines   int           // lines per raw scan
	columns int           // columns per line
	hits    int           // hits per pixel
	line    time.Duration // line duration
}

func newConfig() config {
	return config{
		host:   "127.0.0.1",
		period: 10 * time.Millisecond,
		width:  1024,
		height: 256,
		depth:  8,

		lines:   16,
		columns: 16,
		hits:    1,
		line:    time.Millisecond,
	}
}

// Option configures a fake server.
type Option func(*config)

// WithHost sets the host the server listens on.
func WithHost(host string) Option {
	return func(cfg *config) { cfg.host = host }
}

// WithControlPort sets the port of the HTTP control API.
// The default is to pick a free port.
func WithControlPort(port int) Option {
	return func(cfg *config) { cfg.ctl = port }
}

// WithPorts sets the ports of the data sinks.
// The default is to pick free ports.
func WithPorts(ports serval.Ports) Option {
	return func(cfg *config) { cfg.ports = ports }
}

// WithPeriod sets the interval between two frames sent by the image sinks.
func WithPeriod(d time.Duration) Option {
	return func(cfg *config) { cfg.period = d }
}

// WithFrame sets the shape and bit depth of generated frames.
func WithFrame(width, height, depth int) Option {
	return func(cfg *config) {
		cfg.width = width
		cfg.height = height
		cfg.depth = depth
	}
}

// WithScan sets the shape of the scan generated on the raw sink:
// lines of columns pixels, each pixel receiving hits hits, each line
// lasting d.
func WithScan(lines, columns, hits int, d time.Duration) Option {
	return func(cfg *config) {
		cfg.lines = lines
		cfg.columns = columns
		cfg.hits = hits
		cfg.line = d
	}
}

// New creates a new fake server listening on its control and data ports,
// logging to msg. A nil msg logs to stdout.
func New(msg *log.Logger, opts ...Option) (*Server, error) {
	if msg == nil {
		msg = log.New(os.Stdout, "fake-serval: ", 0)
	}
	srv := &Server{
		msg:    msg,
		cfg:    newConfig(),
		status: serval.Idle,
		det: serval.DetectorConfig{
			"ExposureTime":  0.01,
			"TriggerPeriod": 0.01,
			"nTriggers":     1,
			"TriggerMode":   "AUTOTRIGSTART_TIMERSTOP",
			"BiasEnabled":   true,
			"BiasVoltage":   100.0,
		},
		loaded: make(map[string]string),
		run:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&srv.cfg)
	}
	srv.ctx, srv.cancel = context.WithCancel(context.Background())

	var err error
	listen := func(port int) net.Listener {
		if err != nil {
			return nil
		}
		var l net.Listener
		l, err = net.Listen("tcp", net.JoinHostPort(srv.cfg.host, fmt.Sprint(port)))
		return l
	}
	srv.ctl = listen(srv.cfg.ctl)
	srv.sinks.focus = listen(srv.cfg.ports.Focus)
	srv.sinks.cumul = listen(srv.cfg.ports.Cumul)
	srv.sinks.raw = listen(srv.cfg.ports.Raw)
	if err != nil {
		srv.closeListeners()
		return nil, fmt.Errorf("fakeserval: could not create listener: %w", err)
	}

	srv.http = &http.Server{Handler: srv.Router()}
	srv.wg.Add(4)
	go func() {
		defer srv.wg.Done()
		_ = srv.http.Serve(srv.ctl)
	}()
	go srv.accept(srv.sinks.focus, srv.sendFrames(false))
	go srv.accept(srv.sinks.cumul, srv.sendFrames(true))
	go srv.accept(srv.sinks.raw, srv.sendScan)

	return srv, nil
}

func (srv *Server) closeListeners() {
	for _, l := range []net.Listener{srv.ctl, srv.sinks.focus, srv.sinks.cumul, srv.sinks.raw} {
		if l != nil {
			_ = l.Close()
		}
	}
}

// Close shuts the server down.
func (srv *Server) Close() error {
	srv.cancel()
	err := srv.http.Close()
	srv.closeListeners()
	srv.wg.Wait()
	return err
}

// URL returns the address of the HTTP control API.
func (srv *Server) URL() string {
	return "http://" + srv.ctl.Addr().String()
}

// Host returns the host the data sinks listen on.
func (srv *Server) Host() string { return srv.cfg.host }

// Ports returns the ports of the data sinks.
func (srv *Server) Ports() serval.Ports {
	port := func(l net.Listener) int {
		return l.Addr().(*net.TCPAddr).Port
	}
	return serval.Ports{
		Focus: port(srv.sinks.focus),
		Cumul: port(srv.sinks.cumul),
		Raw:   port(srv.sinks.raw),
	}
}

// Status returns the measurement status.
func (srv *Server) Status() serval.Status {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.status
}

// SetStatus forces the measurement status.
func (srv *Server) SetStatus(st serval.Status) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.setStatus(st)
}

func (srv *Server) setStatus(st serval.Status) {
	recording := srv.status == serval.Recording
	srv.status = st
	switch {
	case st == serval.Recording && !recording:
		close(srv.run)
	case st != serval.Recording && recording:
		srv.run = make(chan struct{})
	}
}

// FailStart makes measurement start requests fail.
func (srv *Server) FailStart(fail bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.fail = fail
}

// Counts returns the number of measurement start and stop requests.
func (srv *Server) Counts() (starts, stops int) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.starts, srv.stops
}

// DetectorConfig returns a copy of the detector configuration.
func (srv *Server) DetectorConfig() serval.DetectorConfig {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	cfg := make(serval.DetectorConfig, len(srv.det))
	for k, v := range srv.det {
		cfg[k] = v
	}
	return cfg
}

// Destination returns the data destination.
func (srv *Server) Destination() serval.Destination {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.dst
}

// Loaded returns the name of the last loaded file of the given format.
func (srv *Server) Loaded(format string) string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.loaded[format]
}

// recording returns a channel closed while a measurement is recording.
func (srv *Server) recording() <-chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.run
}

func (srv *Server) isRecording() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.status == serval.Recording
}

// Router returns the HTTP control API.
func (srv *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  srv.msg,
		NoColor: true,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "fake SERVAL\n")
	})
	r.Get("/dashboard", srv.handleDashboard)
	r.Route("/detector", func(r chi.Router) {
		r.Get("/config", srv.handleGetConfig)
		r.Put("/config", srv.handlePutConfig)
	})
	r.Get("/config/load", srv.handleLoad)
	r.Route("/server", func(r chi.Router) {
		r.Get("/destination", srv.handleGetDestination)
		r.Put("/destination", srv.handlePutDestination)
	})
	r.Route("/measurement", func(r chi.Router) {
		r.Get("/start", srv.handleStart)
		r.Get("/stop", srv.handleStop)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (srv *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	var db serval.Dashboard
	db.Server.SoftwareVersion = "fake-2.1.6"
	db.Measurement = &serval.Measurement{Status: srv.status}
	srv.mu.Unlock()

	writeJSON(w, db)
}

func (srv *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, srv.DetectorConfig())
}

func (srv *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var cfg serval.DetectorConfig
	err := json.NewDecoder(r.Body).Decode(&cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if v, ok := cfg.Float("ExposureTime"); ok && v < 0 {
		http.Error(w, "invalid negative exposure time", http.StatusBadRequest)
		return
	}

	srv.mu.Lock()
	srv.det = cfg
	srv.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var (
		format = r.URL.Query().Get("format")
		fname  = r.URL.Query().Get("file")
	)
	switch format {
	case serval.PixelConfig, serval.DACs:
	default:
		http.Error(w, fmt.Sprintf("invalid format %q", format), http.StatusBadRequest)
		return
	}
	if fname == "" {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}

	srv.mu.Lock()
	srv.loaded[format] = fname
	srv.mu.Unlock()
	fmt.Fprintf(w, "loaded %s from %s\n", format, fname)
}

func (srv *Server) handleGetDestination(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, srv.Destination())
}

func (srv *Server) handlePutDestination(w http.ResponseWriter, r *http.Request) {
	var dst serval.Destination
	err := json.NewDecoder(r.Body).Decode(&dst)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, img := range dst.Image {
		_, err := serval.ParsePortMode(img.Mode)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	srv.mu.Lock()
	srv.dst = dst
	srv.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.starts++
	switch {
	case srv.fail:
		http.Error(w, "could not start measurement", http.StatusInternalServerError)
		return
	case srv.status != serval.Idle:
		http.Error(w, fmt.Sprintf("measurement is %s", srv.status), http.StatusConflict)
		return
	}
	srv.setStatus(serval.Recording)
	w.WriteHeader(http.StatusOK)
}

func (srv *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.stops++
	srv.setStatus(serval.Idle)
	w.WriteHeader(http.StatusOK)
}
