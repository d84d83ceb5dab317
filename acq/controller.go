// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-lpc/tp3/internal/metrics"
	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/serval"
	"github.com/go-lpc/tp3/spim"
	"github.com/go-lpc/tp3/stream"
	"github.com/go-lpc/tp3/tpx3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Controller drives acquisition sessions.
type Controller struct {
	msg *log.Logger
	cli *serval.Client
	cfg config

	mu    sync.Mutex
	state State
	qs    *stream.Queues
	sess  *session
}

// session is a running acquisition session.
type session struct {
	Session
	rdr    *stream.Reader
	grp    *errgroup.Group
	cancel context.CancelFunc
	rec    io.WriteCloser
}

type config struct {
	host     string
	ports    serval.Ports
	timeout  time.Duration
	depth    int
	trigger  tpx3.EdgeType
	selector bool

	notify   func(stream.Notice)
	recorder func(id uuid.UUID, kind stream.Kind) (io.WriteCloser, error)
	metrics  *metrics.Metrics

	scanner  Scanner
	stage    Stage
	archiver Archiver
	runlog   RunLog
}

func newConfig() config {
	return config{
		host:    "localhost",
		ports:   serval.DefaultPorts(),
		depth:   stream.DefaultFrameDepth,
		trigger: tpx3.TDC1Rise,
	}
}

// Option configures a Controller.
type Option func(*config)

// WithHost sets the host of the data sinks.
func WithHost(host string) Option {
	return func(cfg *config) { cfg.host = host }
}

// WithPorts sets the ports of the data sinks.
func WithPorts(ports serval.Ports) Option {
	return func(cfg *config) { cfg.ports = ports }
}

// WithTimeout sets the read deadline of the data sink readers.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) { cfg.timeout = d }
}

// WithFrameDepth sets the number of frames kept in the frame queue.
func WithFrameDepth(n int) Option {
	return func(cfg *config) { cfg.depth = n }
}

// WithTrigger sets the TDC edge type marking the beginning of a scan line.
func WithTrigger(et tpx3.EdgeType) Option {
	return func(cfg *config) { cfg.trigger = et }
}

// WithSelector makes the readers send a mode-selector byte after
// connecting to a data sink. The byte tells whether projected or full
// frames are expected.
func WithSelector(v bool) Option {
	return func(cfg *config) { cfg.selector = v }
}

// WithNotify sets the function called each time new data is available.
func WithNotify(fn func(stream.Notice)) Option {
	return func(cfg *config) { cfg.notify = fn }
}

// WithRecorder sets the function creating the raw capture of a session.
func WithRecorder(fn func(id uuid.UUID, kind stream.Kind) (io.WriteCloser, error)) Option {
	return func(cfg *config) { cfg.recorder = fn }
}

// WithMetrics sets the metrics updated by the controller and its readers.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) { cfg.metrics = m }
}

// WithScanner sets the probe scanning unit.
func WithScanner(sc Scanner) Option {
	return func(cfg *config) { cfg.scanner = sc }
}

// WithStage sets the sample stage.
func WithStage(st Stage) Option {
	return func(cfg *config) { cfg.stage = st }
}

// WithArchiver sets the archiver used by Controller.Save.
func WithArchiver(a Archiver) Option {
	return func(cfg *config) { cfg.archiver = a }
}

// WithRunLog sets the log of acquisition sessions.
func WithRunLog(rl RunLog) Option {
	return func(cfg *config) { cfg.runlog = rl }
}

// New creates a new acquisition controller, driving the server behind cli.
// A nil msg logs to stdout.
func New(cli *serval.Client, msg *log.Logger, opts ...Option) *Controller {
	if msg == nil {
		msg = log.New(os.Stdout, "acq: ", 0)
	}
	ctl := &Controller{
		msg: msg,
		cli: cli,
		cfg: newConfig(),
	}
	for _, opt := range opts {
		opt(&ctl.cfg)
	}
	if ctl.cfg.metrics == nil {
		ctl.cfg.metrics = metrics.New()
	}
	ctl.qs = stream.NewQueues(ctl.cfg.depth)
	return ctl
}

// State returns the state of the controller.
func (ctl *Controller) State() State {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.state
}

// Session returns the current session, if any.
func (ctl *Controller) Session() (Session, bool) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.sess == nil {
		return Session{}, false
	}
	return ctl.sess.Session, true
}

// Metrics returns the metrics of the controller.
func (ctl *Controller) Metrics() *metrics.Metrics { return ctl.cfg.metrics }

func (ctl *Controller) setState(st State) {
	ctl.mu.Lock()
	ctl.state = st
	ctl.mu.Unlock()
}

func (ctl *Controller) queues() *stream.Queues {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.qs
}

// Start starts a frame acquisition.
//
// Frames are read from the cumulative sink when accumulate is set, from
// the focus sink otherwise. Frames are projected along their height when
// display is Display1D. A positive exposure, in seconds, is applied
// before starting.
//
// Start stops the current measurement first, if any. Start returns
// ErrBusy if the detector is neither idle nor recording, and a
// *stream.ConnectionError if the data sink could not be reached.
func (ctl *Controller) Start(ctx context.Context, exposure float64, display string, accumulate bool) (bool, error) {
	port := ctl.cfg.ports.Focus
	if accumulate {
		port = ctl.cfg.ports.Cumul
	}
	sess := Session{
		Kind:     stream.KindFocus,
		Addr:     net.JoinHostPort(ctl.cfg.host, strconv.Itoa(port)),
		Exposure: exposure,
		Project:  display == Display1D,
		Cumul:    accumulate,
	}
	return ctl.start(ctx, sess, stream.ModeFrame)
}

// StartSpim starts a spectrum-image acquisition, reading raw TPX3 data
// from the raw sink.
// StartSpim returns ErrStageMoving if the sample stage is moving.
func (ctl *Controller) StartSpim(ctx context.Context, exposure float64) (bool, error) {
	if ctl.cfg.stage != nil && ctl.cfg.stage.Moving() {
		return false, ErrStageMoving
	}
	sess := Session{
		Kind:     stream.KindSpim,
		Addr:     net.JoinHostPort(ctl.cfg.host, strconv.Itoa(ctl.cfg.ports.Raw)),
		Exposure: exposure,
	}
	return ctl.start(ctx, sess, stream.ModeEvent)
}

func (ctl *Controller) start(ctx context.Context, sess Session, mode stream.Mode) (bool, error) {
	st, err := ctl.cli.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("acq: could not get detector status: %w", err)
	}

	ctl.mu.Lock()
	running := ctl.sess != nil
	ctl.mu.Unlock()

	if st == serval.Recording || running {
		err = ctl.Stop(ctx)
		if err != nil {
			ctl.msg.Printf("could not cleanly stop previous session: %+v", err)
		}
		st, err = ctl.cli.Status(ctx)
		if err != nil {
			return false, fmt.Errorf("acq: could not get detector status: %w", err)
		}
	}
	if st != serval.Idle {
		ctl.msg.Printf("detector is %s: could not start %v acquisition", st, sess.Kind)
		return false, ErrBusy
	}

	ctl.mu.Lock()
	if ctl.state != Idle {
		ctl.mu.Unlock()
		return false, ErrBusy
	}
	ctl.state = Preparing
	ctl.mu.Unlock()

	if sess.Exposure > 0 {
		err = ctl.cli.SetExposure(ctx, sess.Exposure)
		if err != nil {
			ctl.msg.Printf("could not set exposure to %v s: %+v", sess.Exposure, err)
		}
	}

	err = ctl.cli.Start(ctx)
	if err != nil {
		ctl.msg.Printf("could not start remote measurement: %+v", err)
	}

	sess.ID = uuid.New()
	opts := []stream.Option{
		stream.WithMode(mode),
		stream.WithSession(sess.ID),
		stream.WithTimeout(ctl.cfg.timeout),
		stream.WithTrigger(ctl.cfg.trigger),
		stream.WithMetrics(ctl.cfg.metrics),
		stream.WithNotify(ctl.cfg.notify),
		stream.WithLogger(ctl.msg),
	}
	if ctl.cfg.selector && mode == stream.ModeFrame {
		sel := stream.SelectFull
		if sess.Project {
			sel = stream.SelectProjected
		}
		opts = append(opts, stream.WithSelector(sel))
	}

	var rec io.WriteCloser
	if ctl.cfg.recorder != nil {
		rec, err = ctl.cfg.recorder(sess.ID, sess.Kind)
		if err != nil {
			ctl.abort(ctx)
			return false, fmt.Errorf("acq: could not create raw capture: %w", err)
		}
		opts = append(opts, stream.WithRecord(rec))
	}

	rdr, err := stream.Dial(ctx, sess.Addr, opts...)
	if err != nil {
		if rec != nil {
			_ = rec.Close()
		}
		ctl.abort(ctx)
		return false, err
	}

	sess.Start = time.Now()
	sctx, cancel := context.WithCancel(context.Background())
	grp, gctx := errgroup.WithContext(sctx)
	qs := ctl.queues()
	grp.Go(func() error {
		return rdr.Run(gctx, qs)
	})

	ctl.mu.Lock()
	ctl.sess = &session{
		Session: sess,
		rdr:     rdr,
		grp:     grp,
		cancel:  cancel,
		rec:     rec,
	}
	ctl.state = Recording
	ctl.mu.Unlock()

	ctl.cfg.metrics.RecordSessionStart(sess.Kind.String())
	ctl.msg.Printf("session %v: %v acquisition started on %q", sess.ID, sess.Kind, sess.Addr)

	if ctl.cfg.runlog != nil {
		err = ctl.cfg.runlog.Begin(ctx, sess)
		if err != nil {
			ctl.msg.Printf("session %v: could not log session start: %+v", sess.ID, err)
		}
	}

	return true, nil
}

// abort stops the remote measurement of a session that could not start.
func (ctl *Controller) abort(ctx context.Context) {
	err := ctl.cli.Stop(ctx)
	if err != nil {
		ctl.msg.Printf("could not stop remote measurement: %+v", err)
	}
	ctl.setState(Idle)
}

// Stop stops the remote measurement and the current session, if any,
// and empties all queues.
//
// Once Stop returns, no data from the stopped session can be queued.
// Stop returns the error that terminated the session reader, if any.
func (ctl *Controller) Stop(ctx context.Context) error {
	ctl.mu.Lock()
	sess := ctl.sess
	ctl.sess = nil
	if sess != nil {
		ctl.state = Stopping
	}
	ctl.mu.Unlock()

	rerr := ctl.cli.Stop(ctx)
	if rerr != nil {
		ctl.msg.Printf("could not stop remote measurement: %+v", rerr)
		rerr = fmt.Errorf("acq: could not stop remote measurement: %w", rerr)
	}

	var err error
	if sess != nil {
		sess.cancel()
		err = sess.grp.Wait()
		if sess.rec != nil {
			e := sess.rec.Close()
			if e != nil && err == nil {
				err = fmt.Errorf("acq: could not close raw capture: %w", e)
			}
		}
		sess.Stop = time.Now()
		sess.Err = err
		ctl.cfg.metrics.RecordSessionStop(sess.Stop.Sub(sess.Start).Seconds())
		if err != nil {
			ctl.msg.Printf("session %v: reader failed: %+v", sess.ID, err)
		}
		ctl.msg.Printf("session %v: %v acquisition stopped", sess.ID, sess.Kind)

		if ctl.cfg.runlog != nil {
			e := ctl.cfg.runlog.End(ctx, sess.Session)
			if e != nil {
				ctl.msg.Printf("session %v: could not log session end: %+v", sess.ID, e)
			}
		}
	}

	ctl.mu.Lock()
	old := ctl.qs
	ctl.qs = stream.NewQueues(ctl.cfg.depth)
	ctl.state = Idle
	ctl.mu.Unlock()
	old.Close()

	if err != nil {
		return err
	}
	return rerr
}

// grab pops the next item of the queue selected by pick, moving on to
// the new queues when the current ones are reset by Stop.
func grab[T any](ctx context.Context, ctl *Controller, pick func(qs *stream.Queues) *stream.Queue[T]) (T, error) {
	for {
		qs := ctl.queues()
		v, err := pick(qs).Pop(ctx)
		if errors.Is(err, stream.ErrClosed) {
			continue
		}
		return v, err
	}
}

// GrabFrame returns the most recent frame, blocking until one is available.
func (ctl *Controller) GrabFrame(ctx context.Context) (jsonimage.RawFrame, error) {
	return grab(ctx, ctl, func(qs *stream.Queues) *stream.Queue[jsonimage.RawFrame] {
		return qs.Frames
	})
}

// GrabEvent returns the next block of hit records, blocking until one
// is available.
func (ctl *Controller) GrabEvent(ctx context.Context) (spim.Block, error) {
	return grab(ctx, ctl, func(qs *stream.Queues) *stream.Queue[spim.Block] {
		return qs.Events
	})
}

// GrabEdge returns the next line trigger, blocking until one is available.
func (ctl *Controller) GrabEdge(ctx context.Context) (spim.Trigger, error) {
	return grab(ctx, ctl, func(qs *stream.Queues) *stream.Queue[spim.Trigger] {
		return qs.Edges
	})
}

// GrabImage returns the most recent frame, decoded with the projection
// of the current session.
func (ctl *Controller) GrabImage(ctx context.Context) (*jsonimage.Image, error) {
	frame, err := ctl.GrabFrame(ctx)
	if err != nil {
		return nil, err
	}
	project := false
	if sess, ok := ctl.Session(); ok {
		project = sess.Project
	}
	img, err := jsonimage.Decode(frame, project)
	if err != nil {
		return nil, fmt.Errorf("acq: could not decode frame: %w", err)
	}
	return img, nil
}

// GrabSpim reconstructs a spectrum-image of lines by columns pixels
// from the next lines+1 line triggers of the current session.
func (ctl *Controller) GrabSpim(ctx context.Context, lines, columns int) (*spim.Cube, error) {
	cube, err := spim.Collect(ctx, ctl.queues(), lines, columns)
	if err != nil {
		return cube, fmt.Errorf("acq: could not reconstruct spectrum-image: %w", err)
	}
	if cube.Clamped > 0 {
		ctl.msg.Printf("spectrum-image: %d hits outside of their line", cube.Clamped)
	}
	return cube, nil
}

// SetExposure sets the exposure time, in seconds.
func (ctl *Controller) SetExposure(ctx context.Context, exposure float64) error {
	err := ctl.cli.SetExposure(ctx, exposure)
	if err != nil {
		return fmt.Errorf("acq: could not set exposure: %w", err)
	}
	return nil
}

// SetPort routes images of the given mode to the focus and cumulative
// sinks, and raw data to the raw sink.
func (ctl *Controller) SetPort(ctx context.Context, mode serval.PortMode) error {
	dst := serval.NewDestination(ctl.cfg.host, ctl.cfg.ports, mode, true)
	err := ctl.cli.SetDestination(ctx, dst)
	if err != nil {
		return fmt.Errorf("acq: could not set destination: %w", err)
	}
	ctl.msg.Printf("selected port mode %v", mode)
	return nil
}

// Init loads the pixel configuration and DACs files and prepares the
// detector for a continuous acquisition of ntrig triggers.
func (ctl *Controller) Init(ctx context.Context, bpc, dacs string, ntrig int) error {
	_, err := ctl.cli.LoadConfig(ctx, serval.PixelConfig, bpc)
	if err != nil {
		return fmt.Errorf("acq: could not load pixel configuration: %w", err)
	}
	_, err = ctl.cli.LoadConfig(ctx, serval.DACs, dacs)
	if err != nil {
		return fmt.Errorf("acq: could not load DACs: %w", err)
	}
	err = ctl.cli.AcqInit(ctx, ntrig)
	if err != nil {
		return fmt.Errorf("acq: could not initialize acquisition: %w", err)
	}
	return nil
}

// Status returns the status of the remote measurement.
func (ctl *Controller) Status(ctx context.Context) (serval.Status, error) {
	return ctl.cli.Status(ctx)
}
