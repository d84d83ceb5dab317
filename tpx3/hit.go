// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tpx3

import (
	"math"

	"golang.org/x/xerrors"
)

// chipOffsets maps a chip index to the position of its column 0 on the
// 4-chip plane. Chips are mounted mirrored.
var chipOffsets = [NumChips]int{255, 1020, 765, 510}

// Pos is a pixel position on the 4-chip plane.
type Pos struct {
	X, Y int
}

// Gate selects hits whose arrival time, in seconds, lies in
// [Ref+Delay, Ref+Delay+Width].
type Gate struct {
	Ref   float64
	Delay float64
	Width float64
}

func (g *Gate) accept(t float64) bool {
	beg := g.Ref + g.Delay
	return beg <= t && t <= beg+g.Width
}

// Options control the decoding of pixel hits.
type Options struct {
	Time bool  // decode arrival times
	Full bool  // decode the y coordinate. Otherwise, hits are projected on y=0.
	Gate *Gate // optional time gate
}

// DecodeHits decodes a buffer of 9-byte records into pixel positions
// and arrival times, in seconds.
//
// Times are zero when opts.Time is not set.
// Records that are not pixel hits or that come from an unknown chip
// are skipped.
// An empty buffer, or one whose length is not a multiple of 9, yields
// no hits.
func DecodeHits(buf []byte, opts Options) ([]Pos, []float64) {
	if len(buf) == 0 || len(buf)%RecordSize != 0 {
		return nil, nil
	}

	var (
		n     = len(buf) / RecordSize
		pos   = make([]Pos, 0, n)
		times = make([]float64, 0, n)
	)
	for i := 0; i < len(buf); i += RecordSize {
		var rec Record
		copy(rec[:], buf[i:i+RecordSize])
		if rec.Type() != TypeHit || int(rec.Chip()) >= NumChips {
			continue
		}

		var t float64
		if opts.Time || opts.Gate != nil {
			t = HitTime(rec)
			if opts.Gate != nil && !opts.Gate.accept(t) {
				continue
			}
			if !opts.Time {
				t = 0
			}
		}

		pos = append(pos, hitPos(rec, opts.Full))
		times = append(times, t)
	}

	return pos, times
}

func hitPos(rec Record, full bool) Pos {
	var (
		b0 = int(rec[0])
		b1 = int(rec[1])
		b2 = int(rec[2])

		dcol = (b0&0x0f)<<4 | (b1&0xe0)>>4
		pix  = (b2 & 0x70) >> 4
		x0   = dcol + pix/4
		y0   = 0
	)
	if full {
		spix := (b1&0x1f)<<3 | (b2&0x80)>>5
		y0 = spix + (pix & 3)
	}
	return Pos{X: chipOffsets[rec.Chip()] - x0, Y: y0}
}

// HitTime returns the time of arrival of a pixel hit, in seconds.
func HitTime(rec Record) float64 {
	var (
		b2 = uint64(rec[2])
		b3 = uint64(rec[3])
		b4 = uint64(rec[4])
		b5 = uint64(rec[5])
		b6 = uint64(rec[6])
		b7 = uint64(rec[7])

		toa    = (b2&0x0f)<<10 | b3<<2 | (b4&0xc0)>>6
		ftoa   = b5 & 0x0f
		spidr  = b6<<8 | b7
		coarse = toa<<4 | (^ftoa & 0x0f)
	)
	ns := float64(spidr)*25*16384 + float64(coarse)*25/16
	return ns * 1e-9
}

// ChipOf returns the chip index and chip-local column of the column x
// of the 4-chip plane.
func ChipOf(x int) (chip uint8, x0 int, ok bool) {
	for _, c := range []uint8{0, 3, 2, 1} {
		x0 = chipOffsets[c] - x
		if 0 <= x0 && x0 < ChipWidth {
			return c, x0, true
		}
	}
	return 0, 0, false
}

// EncodeHit creates the record of a pixel hit at (x,y) on the 4-chip
// plane, with a time of arrival t in seconds.
// Times are encoded modulo the SPIDR counter period and rounded to the
// 1.5625 ns fine time-of-arrival resolution.
func EncodeHit(x, y int, t float64) (Record, error) {
	var rec Record
	chip, x0, ok := ChipOf(x)
	if !ok {
		return rec, xerrors.Errorf("tpx3: column %d out of range", x)
	}
	if y < 0 || y >= Height {
		return rec, xerrors.Errorf("tpx3: row %d out of range", y)
	}

	var (
		dcol = x0 &^ 1
		spix = y &^ 3
		pix  = (x0&1)<<2 | y&3
	)

	ns := math.Mod(t*1e9, RearmPeriod*1e9)
	if ns < 0 {
		ns += RearmPeriod * 1e9
	}
	var (
		spidr  = uint64(ns / (25 * 16384))
		coarse = uint64(math.Round((ns - float64(spidr)*25*16384) * 16 / 25))
	)
	if coarse >= 1<<18 {
		coarse -= 1 << 18
		spidr++
	}
	spidr &= 0xffff
	var (
		toa  = coarse >> 4
		ftoa = ^coarse & 0x0f
	)

	rec[0] = TypeHit<<4 | uint8(dcol>>4)&0x0f
	rec[1] = uint8(dcol&0x0e)<<4 | uint8(spix>>3)&0x1f
	rec[2] = uint8(spix&0x04)<<5 | uint8(pix)<<4 | uint8(toa>>10)&0x0f
	rec[3] = uint8(toa >> 2)
	rec[4] = uint8(toa&0x03) << 6
	rec[5] = uint8(ftoa)
	rec[6] = uint8(spidr >> 8)
	rec[7] = uint8(spidr)
	rec[8] = chip
	return rec, nil
}
