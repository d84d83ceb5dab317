// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tpx3

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeHitsEmpty(t *testing.T) {
	for _, tc := range []struct {
		name string
		buf  []byte
	}{
		{"nil", nil},
		{"empty", []byte{}},
		{"short", make([]byte, 8)},
		{"not-a-multiple", make([]byte, 2*RecordSize+1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pos, times := DecodeHits(tc.buf, Options{Time: true, Full: true})
			if len(pos) != 0 || len(times) != 0 {
				t.Fatalf("invalid output: got=(%d,%d), want=(0,0)", len(pos), len(times))
			}
		})
	}
}

func TestChipOffsets(t *testing.T) {
	// a hit at chip-local column 0 lands on each chip's offset.
	for _, tc := range []struct {
		chip uint8
		want int
	}{
		{0, 255},
		{1, 1020},
		{2, 765},
		{3, 510},
	} {
		t.Run(fmt.Sprintf("chip=%d", tc.chip), func(t *testing.T) {
			rec := Record{TypeHit << 4, 0, 0, 0, 0, 0, 0, 0, tc.chip}
			pos, _ := DecodeHits(rec[:], Options{})
			if len(pos) != 1 {
				t.Fatalf("invalid number of hits: got=%d, want=1", len(pos))
			}
			if got := pos[0].X; got != tc.want {
				t.Fatalf("invalid x: got=%d, want=%d", got, tc.want)
			}

			// chip-local column 255.
			rec[0] |= 0x0f
			rec[1] |= 0xe0
			rec[2] |= 0x40
			pos, _ = DecodeHits(rec[:], Options{})
			if got, want := pos[0].X, tc.want-255; got != want {
				t.Fatalf("invalid x for last column: got=%d, want=%d", got, want)
			}
		})
	}

	// the lowest column of each chip, once mirrored, is the offset minus 255.
	var lows []int
	for _, off := range chipOffsets {
		lows = append(lows, off-255)
	}
	if diff := cmp.Diff([]int{0, 765, 510, 255}, lows); diff != "" {
		t.Fatalf("invalid chip layout (-want +got):\n%s", diff)
	}
}

func TestDecodeHitsSkip(t *testing.T) {
	var buf []byte
	good, err := EncodeHit(10, 20, 0)
	if err != nil {
		t.Fatalf("could not encode hit: %+v", err)
	}
	bad := good
	bad[8] = 4 // unknown chip
	tdc, err := EncodeEdge(TDC1Rise, 1)
	if err != nil {
		t.Fatalf("could not encode edge: %+v", err)
	}
	buf = append(buf, good[:]...)
	buf = append(buf, bad[:]...)
	buf = append(buf, tdc[:]...)
	buf = append(buf, good[:]...)

	pos, times := DecodeHits(buf, Options{Full: true})
	if diff := cmp.Diff([]Pos{{10, 20}, {10, 20}}, pos); diff != "" {
		t.Fatalf("invalid hits (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0, 0}, times); diff != "" {
		t.Fatalf("invalid times (-want +got):\n%s", diff)
	}
}

func TestEncodeHit(t *testing.T) {
	for _, tc := range []struct {
		x, y int
		t    float64
	}{
		{0, 0, 0},
		{255, 255, 1e-3},
		{256, 3, 0.5},
		{510, 17, 1},
		{511, 128, 2.25},
		{765, 200, 10},
		{766, 1, 25.125},
		{1020, 254, 26},
	} {
		t.Run(fmt.Sprintf("x=%d-y=%d", tc.x, tc.y), func(t *testing.T) {
			rec, err := EncodeHit(tc.x, tc.y, tc.t)
			if err != nil {
				t.Fatalf("could not encode hit: %+v", err)
			}
			if got, want := rec.Type(), TypeHit; got != want {
				t.Fatalf("invalid type: got=0x%x, want=0x%x", got, want)
			}

			pos, times := DecodeHits(rec[:], Options{Time: true, Full: true})
			if len(pos) != 1 {
				t.Fatalf("invalid number of hits: got=%d, want=1", len(pos))
			}
			if got, want := pos[0], (Pos{tc.x, tc.y}); got != want {
				t.Fatalf("invalid position: got=%v, want=%v", got, want)
			}
			if got, want := times[0], tc.t; math.Abs(got-want) > 1e-9 {
				t.Fatalf("invalid time: got=%v, want=%v", got, want)
			}

			pos, _ = DecodeHits(rec[:], Options{})
			if got, want := pos[0], (Pos{tc.x, 0}); got != want {
				t.Fatalf("invalid projected position: got=%v, want=%v", got, want)
			}
		})
	}

	for _, tc := range []struct{ x, y int }{
		{-1, 0}, {1021, 0}, {1023, 0}, {0, -1}, {0, 256},
	} {
		_, err := EncodeHit(tc.x, tc.y, 0)
		if err == nil {
			t.Fatalf("expected an error for (%d,%d)", tc.x, tc.y)
		}
	}
}

func TestDecodeHitsGate(t *testing.T) {
	var buf []byte
	for i, ts := range []float64{1.0, 1.5, 2.0, 2.5, 3.0} {
		rec, err := EncodeHit(i, 0, ts)
		if err != nil {
			t.Fatalf("could not encode hit: %+v", err)
		}
		buf = append(buf, rec[:]...)
	}

	gate := &Gate{Ref: 1, Delay: 0.25, Width: 1.5}
	pos, times := DecodeHits(buf, Options{Time: true, Gate: gate})
	if diff := cmp.Diff([]Pos{{1, 0}, {2, 0}, {3, 0}}, pos); diff != "" {
		t.Fatalf("invalid gated hits (-want +got):\n%s", diff)
	}
	for i, want := range []float64{1.5, 2.0, 2.5} {
		if got := times[i]; math.Abs(got-want) > 1e-9 {
			t.Fatalf("invalid time[%d]: got=%v, want=%v", i, got, want)
		}
	}

	pos, times = DecodeHits(buf, Options{Gate: gate})
	if got, want := len(pos), 3; got != want {
		t.Fatalf("invalid number of gated hits: got=%d, want=%d", got, want)
	}
	for i, v := range times {
		if v != 0 {
			t.Fatalf("invalid time[%d]: got=%v, want=0", i, v)
		}
	}
}
