// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spim reconstructs spectrum-images from time-stamped pixel
// hits, using TDC line triggers as a clock.
//
// A line trigger marks the beginning of a scan line. Hits recorded
// between two consecutive triggers are binned into columns according
// to their arrival time.
package spim // import "github.com/go-lpc/tp3/spim"

import (
	"fmt"
	"math"

	"github.com/go-lpc/tp3/tpx3"
)

// Cube is a spectrum-image, indexed by [line][column][x].
type Cube struct {
	Lines   int
	Columns int
	Width   int
	Data    []uint32

	Clamped int // number of hits whose column was out of range
}

// NewCube creates a new, zero-filled, spectrum-image.
func NewCube(lines, columns int) *Cube {
	return &Cube{
		Lines:   lines,
		Columns: columns,
		Width:   tpx3.Width,
		Data:    make([]uint32, lines*columns*tpx3.Width),
	}
}

func (c *Cube) index(line, col, x int) int {
	return (line*c.Columns+col)*c.Width + x
}

// At returns the number of hits at column x of the spectrum of
// pixel (line, col).
func (c *Cube) At(line, col, x int) uint32 {
	return c.Data[c.index(line, col, x)]
}

// Spectrum returns the spectrum of pixel (line, col).
// The returned slice aliases the cube data.
func (c *Cube) Spectrum(line, col int) []uint32 {
	beg := c.index(line, col, 0)
	return c.Data[beg : beg+c.Width]
}

// Image returns the number of hits per pixel, summed over the spectrum,
// as a row-major (lines, columns) image.
func (c *Cube) Image() []uint32 {
	img := make([]uint32, c.Lines*c.Columns)
	for i := range img {
		for _, v := range c.Data[i*c.Width : (i+1)*c.Width] {
			img[i] += v
		}
	}
	return img
}

// Total returns the number of hits in the cube.
func (c *Cube) Total() uint64 {
	var n uint64
	for _, v := range c.Data {
		n += uint64(v)
	}
	return n
}

// Reconstructor bins hits into a Cube, one scan line at a time.
type Reconstructor struct {
	cube *Cube
	line int // index of the next line to bin

	ref     float64 // phase of the current line reference
	started bool
}

// New returns a reconstructor filling cube.
func New(cube *Cube) *Reconstructor {
	return &Reconstructor{cube: cube}
}

// Cube returns the cube being filled.
func (rec *Reconstructor) Cube() *Cube { return rec.cube }

// Lines returns the number of lines binned so far.
func (rec *Reconstructor) Lines() int { return rec.line }

// Start sets the reference edge of the first line.
func (rec *Reconstructor) Start(edge tpx3.Edge) {
	rec.ref = edge.Phase
	rec.line = 0
	rec.started = true
}

// Line bins the hit records of blocks into the current line, delimited
// by the current reference edge and next, and makes next the reference
// of the following line.
func (rec *Reconstructor) Line(next tpx3.Edge, blocks ...[]byte) error {
	if !rec.started {
		return fmt.Errorf("spim: line reference not set")
	}
	if rec.line >= rec.cube.Lines {
		return fmt.Errorf("spim: cube is full (lines=%d)", rec.cube.Lines)
	}

	var (
		cube = rec.cube
		tL   = rec.ref
		tN   = next.Phase
	)
	if tN < tL {
		// TDC counter wrapped around.
		tN += tpx3.RearmPeriod
	}
	var (
		interval = tN - tL
		dt       = interval / float64(cube.Columns)
	)

	for _, blk := range blocks {
		pos, times := tpx3.DecodeHits(blk, tpx3.Options{Time: true})
		for i, p := range pos {
			ts := times[i]
			if tL-ts > 0.5*tpx3.RearmPeriod {
				// hit time counter wrapped around.
				ts += tpx3.RearmPeriod
			}
			var col int
			switch {
			case dt > 0:
				col = int(math.Floor((ts - tL) / dt))
			case ts > tL:
				col = cube.Columns
			default:
				col = -1
			}
			switch {
			case col < 0:
				col = 0
				cube.Clamped++
			case col >= cube.Columns:
				col = cube.Columns - 1
				cube.Clamped++
			}
			cube.Data[cube.index(rec.line, col, p.X)]++
		}
	}

	rec.ref = next.Phase
	rec.line++
	return nil
}
