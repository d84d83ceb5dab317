// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fakeserval

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/tpx3"
)

func (srv *Server) accept(l net.Listener, send func(w io.Writer) error) {
	defer srv.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-srv.ctx.Done():
			default:
				srv.msg.Printf("could not accept connection on %v: %+v", l.Addr(), err)
			}
			return
		}

		srv.wg.Add(1)
		go srv.handle(conn, send)
	}
}

func (srv *Server) handle(conn net.Conn, send func(w io.Writer) error) {
	defer srv.wg.Done()
	defer conn.Close()

	go func() {
		// drain mode selectors.
		_, _ = io.Copy(io.Discard, conn)
	}()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-srv.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	err := send(conn)
	if err != nil {
		select {
		case <-srv.ctx.Done():
		default:
			srv.msg.Printf("client %v: %+v", conn.RemoteAddr(), err)
		}
	}
}

// wait blocks until a measurement is recording.
func (srv *Server) wait() error {
	select {
	case <-srv.recording():
		return nil
	case <-srv.ctx.Done():
		return srv.ctx.Err()
	}
}

func (srv *Server) sendFrames(cumul bool) func(w io.Writer) error {
	return func(w io.Writer) error {
		var (
			enc  = jsonimage.NewEncoder(w)
			npix = srv.cfg.width * srv.cfg.height
			pix  = make([]uint32, npix)
			lim  = uint32(1)<<srv.cfg.depth - 1
			tick = time.NewTicker(srv.cfg.period)
		)
		defer tick.Stop()

		for i := 0; ; i++ {
			err := srv.wait()
			if err != nil {
				return nil
			}

			for j := range pix {
				switch {
				case cumul:
					if pix[j] < lim {
						pix[j]++
					}
				default:
					pix[j] = 1
				}
			}
			data, err := jsonimage.Pack(srv.cfg.depth, pix)
			if err != nil {
				return fmt.Errorf("could not pack frame: %w", err)
			}
			err = enc.Encode(jsonimage.Header{
				TimeAtFrame:   float64(i) * float64(srv.cfg.period),
				FrameNumber:   i,
				MeasurementID: srv.measurement(),
				DataSize:      len(data),
				BitDepth:      srv.cfg.depth,
				Width:         srv.cfg.width,
				Height:        srv.cfg.height,
			}, data)
			if err != nil {
				return err
			}

			select {
			case <-tick.C:
			case <-srv.ctx.Done():
				return nil
			}
		}
	}
}

func (srv *Server) measurement() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.starts
}

// sendScan sends a never-ending raster scan: a TDC1 rising edge marks
// the beginning of each line, and each pixel of the line receives the
// same number of hits.
func (srv *Server) sendScan(w io.Writer) error {
	var (
		cfg   = srv.cfg
		dline = cfg.line.Seconds()
		dpix  = dline / float64(cfg.columns)
		buf   []byte
		line  int
		t0    = 0.5
	)

	for {
		err := srv.wait()
		if err != nil {
			return nil
		}

		beg := t0 + float64(line)*dline
		buf, err = scanLine(buf[:0], line%cfg.lines, beg, dpix, cfg.columns, cfg.hits)
		if err != nil {
			return fmt.Errorf("could not generate line %d: %w", line, err)
		}
		_, err = w.Write(buf)
		if err != nil {
			return err
		}
		line++

		select {
		case <-time.After(cfg.line):
		case <-srv.ctx.Done():
			return nil
		}
	}
}

// scanLine appends the TPX3 chunks of a scan line starting at beg to buf.
func scanLine(buf []byte, line int, beg, dpix float64, columns, hits int) ([]byte, error) {
	trig, err := tpx3.EncodeEdge(tpx3.TDC1Rise, beg)
	if err != nil {
		return buf, err
	}
	chips := make([][]tpx3.Record, tpx3.NumChips)
	chips[0] = append(chips[0], trig)

	for col := 0; col < columns; col++ {
		for i := 0; i < hits; i++ {
			var (
				x = (col*131 + i*17 + line*7) % (tpx3.Width - 3)
				y = (col + i) % tpx3.Height
				t = beg + (float64(col)+(float64(i)+0.5)/float64(hits))*dpix
			)
			rec, err := tpx3.EncodeHit(x, y, t)
			if err != nil {
				return buf, err
			}
			chips[rec.Chip()] = append(chips[rec.Chip()], rec)
		}
	}

	for chip, recs := range chips {
		if len(recs) == 0 {
			continue
		}
		buf, err = tpx3.AppendChunk(buf, uint8(chip), 0, recs)
		if err != nil {
			return buf, err
		}
	}
	return buf, nil
}
