// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stream reads the data sinks of a TimePix3 detector server.
//
// A Reader either reassembles jsonimage frames (ModeFrame) or extracts
// TPX3 hit records and TDC line triggers (ModeEvent) from a TCP stream,
// and feeds them to a set of Queues.
package stream // import "github.com/go-lpc/tp3/stream"

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/go-lpc/tp3/internal/metrics"
	"github.com/go-lpc/tp3/tpx3"
	"github.com/google/uuid"
)

// Mode selects how the data stream is interpreted.
type Mode int

const (
	ModeFrame Mode = iota // jsonimage frames
	ModeEvent             // TPX3 raw chunks
)

func (m Mode) String() string {
	switch m {
	case ModeFrame:
		return "frame"
	case ModeEvent:
		return "event"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Selector bytes sent to the data sink right after connecting.
const (
	SelectProjected byte = 0x01
	SelectFull      byte = 0x02
)

// Kind is the kind of acquisition a notice refers to.
type Kind int

const (
	KindFocus Kind = 1 // frame acquisitions
	KindSpim  Kind = 2 // spectrum-image acquisitions
)

func (k Kind) String() string {
	switch k {
	case KindFocus:
		return "focus"
	case KindSpim:
		return "spim"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Notice is sent each time new data has been queued.
type Notice struct {
	Session uuid.UUID
	Kind    Kind
	Pending bool // whether more data was already queued
}

// State is the state of a Reader.
type State int32

const (
	Disconnected State = iota
	Connecting         // connection established, read loop not yet running
	Streaming
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

const (
	defaultTimeout  = 5 * time.Millisecond
	defaultDialTmo  = 2 * time.Second
	defaultMaxBlock = 4096 // records
	defaultBufSize  = 64 * 1024
)

type config struct {
	mode     Mode
	selector []byte
	timeout  time.Duration // read deadline
	dialTmo  time.Duration
	trigger  tpx3.EdgeType
	maxBlock int
	bufsize  int

	session uuid.UUID
	record  io.Writer
	notify  func(Notice)
	metrics *metrics.Metrics
	msg     *log.Logger
}

func newConfig() config {
	return config{
		mode:     ModeFrame,
		timeout:  defaultTimeout,
		dialTmo:  defaultDialTmo,
		trigger:  tpx3.TDC1Rise,
		maxBlock: defaultMaxBlock,
		bufsize:  defaultBufSize,
		session:  uuid.New(),
		notify:   func(Notice) {},
		msg:      log.New(os.Stdout, "stream: ", 0),
	}
}

// Option configures a Reader.
type Option func(*config)

// WithMode sets how the data stream is interpreted.
func WithMode(mode Mode) Option {
	return func(cfg *config) {
		cfg.mode = mode
	}
}

// WithSelector sets the mode-selector byte sent right after connecting.
func WithSelector(b byte) Option {
	return func(cfg *config) {
		cfg.selector = []byte{b}
	}
}

// WithTimeout sets the socket read deadline.
// The read loop checks for cancellation at least that often.
func WithTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithDialTimeout sets the connection timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *config) {
		if d > 0 {
			cfg.dialTmo = d
		}
	}
}

// WithTrigger sets the TDC edge type marking the beginning of a scan line.
func WithTrigger(et tpx3.EdgeType) Option {
	return func(cfg *config) {
		cfg.trigger = et
	}
}

// WithMaxBlock sets the maximum number of records in a hit block.
func WithMaxBlock(n int) Option {
	return func(cfg *config) {
		if n > 0 {
			cfg.maxBlock = n
		}
	}
}

// WithSession sets the identifier of the acquisition session.
func WithSession(id uuid.UUID) Option {
	return func(cfg *config) {
		cfg.session = id
	}
}

// WithRecord tees all received bytes to w.
func WithRecord(w io.Writer) Option {
	return func(cfg *config) {
		cfg.record = w
	}
}

// WithNotify sets the function called each time data has been queued.
// fn is called from the read loop goroutine and should not block.
func WithNotify(fn func(Notice)) Option {
	return func(cfg *config) {
		if fn != nil {
			cfg.notify = fn
		}
	}
}

// WithMetrics sets the metrics updated by the read loop.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cfg *config) {
		cfg.metrics = m
	}
}

// WithLogger sets the logger of the read loop.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		if msg != nil {
			cfg.msg = msg
		}
	}
}
