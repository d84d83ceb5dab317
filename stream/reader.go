// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/go-lpc/tp3/internal/metrics"
	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/spim"
	"github.com/go-lpc/tp3/tpx3"
)

// ConnectionError is returned when the data sink could not be reached.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("stream: could not connect to %q: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Reader reads a detector data sink and feeds queues.
type Reader struct {
	cfg   config
	addr  string
	conn  net.Conn
	state atomic.Int32

	stats struct {
		frames  int
		dropped int
		badhdrs int
		blocks  int
		hits    int
		edges   int
		others  int
	}
}

// Dial connects to the data sink at addr.
// Dial does not retry: a refused or timed-out connection is reported
// as a *ConnectionError.
func Dial(ctx context.Context, addr string, opts ...Option) (*Reader, error) {
	r := &Reader{
		cfg:  newConfig(),
		addr: addr,
	}
	for _, opt := range opts {
		opt(&r.cfg)
	}
	if r.cfg.metrics == nil {
		r.cfg.metrics = metrics.New()
	}
	r.state.Store(int32(Connecting))

	dialer := net.Dialer{Timeout: r.cfg.dialTmo}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		r.state.Store(int32(Disconnected))
		return nil, &ConnectionError{Addr: addr, Err: err}
	}

	if len(r.cfg.selector) > 0 {
		_, err = conn.Write(r.cfg.selector)
		if err != nil {
			_ = conn.Close()
			r.state.Store(int32(Disconnected))
			return nil, &ConnectionError{
				Addr: addr,
				Err:  fmt.Errorf("could not send mode selector: %w", err),
			}
		}
	}
	r.conn = conn

	return r, nil
}

// State returns the current state of the reader.
func (r *Reader) State() State { return State(r.state.Load()) }

// Addr returns the address of the data sink.
func (r *Reader) Addr() string { return r.addr }

// Mode returns how the data stream is interpreted.
func (r *Reader) Mode() Mode { return r.cfg.mode }

// Close closes the underlying connection.
func (r *Reader) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Run reads the data sink until ctx is done or the connection is
// closed by the peer, feeding qs.
//
// Run returns nil on cancellation and on end of stream.
// Run is the only writer to qs.
func (r *Reader) Run(ctx context.Context, qs *Queues) error {
	r.state.Store(int32(Streaming))
	defer r.state.Store(int32(Stopped))
	defer r.conn.Close()

	var (
		buf  = make([]byte, r.cfg.bufsize)
		feed func(ctx context.Context, qs *Queues, p []byte) error
		sink func(qs *Queues) error
	)
	switch r.cfg.mode {
	case ModeFrame:
		fs := frameSink{r: r, asm: jsonimage.NewAssembler()}
		feed = fs.feed
		sink = func(*Queues) error { return nil }
	case ModeEvent:
		es := newEventSink(r)
		feed = es.feed
		sink = es.flush
	default:
		return fmt.Errorf("stream: invalid mode %v", r.cfg.mode)
	}
	defer r.summary()

	for {
		err := r.conn.SetReadDeadline(time.Now().Add(r.cfg.timeout))
		if err != nil {
			return fmt.Errorf("stream: could not set read deadline: %w", err)
		}

		n, err := r.conn.Read(buf)
		if n > 0 {
			r.cfg.metrics.BytesReceived.Add(float64(n))
			if r.cfg.record != nil {
				_, werr := r.cfg.record.Write(buf[:n])
				if werr != nil {
					return fmt.Errorf("stream: could not record raw data: %w", werr)
				}
			}
			ferr := feed(ctx, qs, buf[:n])
			switch {
			case errors.Is(ferr, context.Canceled), errors.Is(ferr, context.DeadlineExceeded):
				return nil
			case ferr != nil:
				return ferr
			}
			if ctx.Err() != nil {
				return nil
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			ferr := sink(qs)
			if ferr != nil {
				return ferr
			}
			if ctx.Err() != nil {
				return nil
			}
		case errors.Is(err, io.EOF):
			r.cfg.msg.Printf("session %v: end of stream from %q", r.cfg.session, r.addr)
			return sink(qs)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("stream: could not read from %q: %w", r.addr, err)
		}
	}
}

func (r *Reader) summary() {
	switch r.cfg.mode {
	case ModeFrame:
		r.cfg.msg.Printf(
			"session %v: frames=%d, dropped=%d, bad-headers=%d",
			r.cfg.session, r.stats.frames, r.stats.dropped, r.stats.badhdrs,
		)
	case ModeEvent:
		r.cfg.msg.Printf(
			"session %v: blocks=%d, hits=%d, edges=%d, others=%d",
			r.cfg.session, r.stats.blocks, r.stats.hits, r.stats.edges, r.stats.others,
		)
	}
}

type frameSink struct {
	r   *Reader
	asm *jsonimage.Assembler
}

func (fs *frameSink) feed(ctx context.Context, qs *Queues, p []byte) error {
	var (
		r   = fs.r
		cfg = r.cfg
	)
	_, _ = fs.asm.Write(p)
	for {
		frame, ok, err := fs.asm.Next()
		if err != nil {
			r.stats.badhdrs++
			cfg.metrics.ProtocolErrors.Inc()
			cfg.msg.Printf("session %v: dropping frame: %+v", cfg.session, err)
			continue
		}
		if !ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dropped, err := qs.Frames.Push(frame)
		if err != nil {
			return fmt.Errorf("stream: could not queue frame %d: %w", frame.Header.FrameNumber, err)
		}
		r.stats.frames++
		cfg.metrics.RecordFrame(frame.Header.DataSize)
		if dropped {
			r.stats.dropped++
			cfg.metrics.FramesDropped.Inc()
		}
		cfg.notify(Notice{
			Session: cfg.session,
			Kind:    KindFocus,
			Pending: qs.Frames.Len() > 1,
		})
	}
}

type eventSink struct {
	r    *Reader
	sc   *tpx3.Scanner
	line int // index of the last line trigger
	blk  []byte
}

func newEventSink(r *Reader) *eventSink {
	return &eventSink{
		r:    r,
		sc:   tpx3.NewScanner(),
		line: -1,
		blk:  make([]byte, 0, r.cfg.maxBlock*tpx3.RecordSize),
	}
}

func (es *eventSink) flush(qs *Queues) error {
	if len(es.blk) == 0 {
		return nil
	}
	blk := spim.Block{Line: es.line, Data: es.blk}
	es.blk = make([]byte, 0, es.r.cfg.maxBlock*tpx3.RecordSize)

	_, err := qs.Events.Push(blk)
	if err != nil {
		return fmt.Errorf("stream: could not queue hit block: %w", err)
	}
	es.r.stats.blocks++
	es.r.cfg.metrics.Blocks.Inc()
	return nil
}

func (es *eventSink) feed(ctx context.Context, qs *Queues, p []byte) error {
	var (
		r   = es.r
		cfg = r.cfg
	)
	_, _ = es.sc.Write(p)
	for {
		rec, ok := es.sc.Next()
		if !ok {
			return nil
		}

		switch rec.Type() {
		case tpx3.TypeHit:
			es.blk = append(es.blk, rec[:]...)
			r.stats.hits++
			cfg.metrics.RecordRecord("hit")
			if len(es.blk) >= cfg.maxBlock*tpx3.RecordSize {
				err := es.flush(qs)
				if err != nil {
					return err
				}
			}

		case tpx3.TypeTDC:
			cfg.metrics.RecordRecord("tdc")
			edge, err := tpx3.DecodeEdge(rec)
			if err != nil {
				r.stats.others++
				continue
			}
			cfg.metrics.RecordEdge(edge.Type.String())
			if edge.Type != cfg.trigger {
				r.stats.others++
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			err = es.flush(qs)
			if err != nil {
				return err
			}
			es.line++
			_, err = qs.Edges.Push(spim.Trigger{Index: es.line, Edge: edge})
			if err != nil {
				return fmt.Errorf("stream: could not queue line trigger: %w", err)
			}
			r.stats.edges++
			cfg.notify(Notice{
				Session: cfg.session,
				Kind:    KindSpim,
				Pending: qs.Edges.Len() > 1,
			})

		default:
			r.stats.others++
			cfg.metrics.RecordRecord("other")
		}
	}
}
