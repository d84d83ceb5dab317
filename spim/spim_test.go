// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spim

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-lpc/tp3/tpx3"
	"github.com/google/go-cmp/cmp"
)

func mkEdge(t *testing.T, ts float64) tpx3.Edge {
	t.Helper()
	rec, err := tpx3.EncodeEdge(tpx3.TDC1Rise, ts)
	if err != nil {
		t.Fatalf("could not encode edge: %+v", err)
	}
	edge, err := tpx3.DecodeEdge(rec)
	if err != nil {
		t.Fatalf("could not decode edge: %+v", err)
	}
	return edge
}

func mkHits(t *testing.T, x int, times ...float64) []byte {
	t.Helper()
	var buf []byte
	for _, ts := range times {
		rec, err := tpx3.EncodeHit(x, 0, ts)
		if err != nil {
			t.Fatalf("could not encode hit: %+v", err)
		}
		buf = append(buf, rec[:]...)
	}
	return buf
}

// uniformLine returns one hit per column, at the center of each column.
func uniformLine(t *testing.T, x int, t0, interval float64, columns int) []byte {
	t.Helper()
	times := make([]float64, columns)
	for i := range times {
		times[i] = t0 + (float64(i)+0.5)*interval/float64(columns)
	}
	return mkHits(t, x, times...)
}

func TestReconstructorUniform(t *testing.T) {
	for _, tc := range []struct {
		name string
		t0   float64
	}{
		{"simple", 1.0},
		// lines straddling the TDC rearm.
		{"wrap", tpx3.RearmPeriod - 0.0015},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const (
				lines    = 4
				columns  = 8
				interval = 1e-3
				x        = 42
			)
			var (
				cube = NewCube(lines, columns)
				rec  = New(cube)
			)
			rec.Start(mkEdge(t, tc.t0))
			for i := 0; i < lines; i++ {
				beg := tc.t0 + float64(i)*interval
				blk := uniformLine(t, x, beg, interval, columns)
				err := rec.Line(mkEdge(t, beg+interval), blk)
				if err != nil {
					t.Fatalf("could not bin line %d: %+v", i, err)
				}
			}

			if got, want := cube.Total(), uint64(lines*columns); got != want {
				t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
			}
			if cube.Clamped != 0 {
				t.Fatalf("invalid number of clamped hits: got=%d, want=0", cube.Clamped)
			}
			for i, v := range cube.Image() {
				if v != 1 {
					t.Fatalf("invalid image pixel %d: got=%d, want=1", i, v)
				}
			}
			for l := 0; l < lines; l++ {
				for c := 0; c < columns; c++ {
					if got := cube.At(l, c, x); got != 1 {
						t.Fatalf("invalid cube[%d,%d,%d]: got=%d, want=1", l, c, x, got)
					}
				}
			}
			if got, want := rec.Lines(), lines; got != want {
				t.Fatalf("invalid number of lines: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestReconstructorClamp(t *testing.T) {
	var (
		cube = NewCube(2, 4)
		rec  = New(cube)
	)
	rec.Start(mkEdge(t, 2.0))

	// the second hit arrives after the next trigger.
	blk := mkHits(t, 7, 2.0+0.1e-3, 2.0+1.5e-3)
	err := rec.Line(mkEdge(t, 2.0+1e-3), blk)
	if err != nil {
		t.Fatalf("could not bin line: %+v", err)
	}
	if got, want := cube.Clamped, 1; got != want {
		t.Fatalf("invalid number of clamped hits: got=%d, want=%d", got, want)
	}
	if got, want := cube.At(0, 0, 7), uint32(1); got != want {
		t.Fatalf("invalid first column: got=%d, want=%d", got, want)
	}
	if got, want := cube.At(0, 3, 7), uint32(1); got != want {
		t.Fatalf("invalid last column: got=%d, want=%d", got, want)
	}

	// empty line.
	err = rec.Line(mkEdge(t, 2.0+2e-3))
	if err != nil {
		t.Fatalf("could not bin empty line: %+v", err)
	}
	for _, v := range cube.Image()[4:] {
		if v != 0 {
			t.Fatalf("empty line is not empty")
		}
	}

	err = rec.Line(mkEdge(t, 2.0+3e-3))
	if err == nil {
		t.Fatalf("expected an error on a full cube")
	}
}

func TestReconstructorEarlyHit(t *testing.T) {
	for _, tc := range []struct {
		name    string
		t0      float64
		next    float64
		hits    []float64
		want    []uint32
		clamped int
	}{
		{
			name:    "before-trigger",
			t0:      2.0,
			next:    2.0 + 1e-3,
			hits:    []float64{2.0 - 1e-6},
			want:    []uint32{1, 0, 0, 0},
			clamped: 1,
		},
		{
			name:    "before-trigger-wrap",
			t0:      tpx3.RearmPeriod - 0.5e-3,
			next:    0.5e-3,
			hits:    []float64{tpx3.RearmPeriod - 0.5e-3 - 1e-6, 0.1e-3},
			want:    []uint32{1, 0, 1, 0},
			clamped: 1,
		},
		{
			name:    "zero-interval",
			t0:      2.0,
			next:    2.0,
			hits:    []float64{2.0 - 1e-6, 2.0 + 1e-6},
			want:    []uint32{1, 0, 0, 1},
			clamped: 2,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const x = 3
			var (
				cube = NewCube(1, 4)
				rec  = New(cube)
			)
			rec.Start(mkEdge(t, tc.t0))
			err := rec.Line(mkEdge(t, tc.next), mkHits(t, x, tc.hits...))
			if err != nil {
				t.Fatalf("could not bin line: %+v", err)
			}
			got := make([]uint32, cube.Columns)
			for c := range got {
				got[c] = cube.At(0, c, x)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("invalid line (-want +got):\n%s", diff)
			}
			if got, want := cube.Clamped, tc.clamped; got != want {
				t.Fatalf("invalid number of clamped hits: got=%d, want=%d", got, want)
			}
			if got, want := cube.Total(), uint64(len(tc.hits)); got != want {
				t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestReconstructorNotStarted(t *testing.T) {
	rec := New(NewCube(1, 1))
	err := rec.Line(tpx3.Edge{})
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestCubeSpectrum(t *testing.T) {
	cube := NewCube(2, 3)
	cube.Data[cube.index(1, 2, 10)] = 5
	sp := cube.Spectrum(1, 2)
	if got, want := len(sp), tpx3.Width; got != want {
		t.Fatalf("invalid spectrum length: got=%d, want=%d", got, want)
	}
	if got, want := sp[10], uint32(5); got != want {
		t.Fatalf("invalid spectrum: got=%d, want=%d", got, want)
	}
	if got, want := cube.Image()[5], uint32(5); got != want {
		t.Fatalf("invalid image: got=%d, want=%d", got, want)
	}
}

type fakeSource struct {
	trigs  []Trigger
	blocks map[int][]Block // blocks made available once trigger i is popped
	avail  []Block
}

func (src *fakeSource) Trigger(ctx context.Context) (Trigger, error) {
	if len(src.trigs) == 0 {
		<-ctx.Done()
		return Trigger{}, ctx.Err()
	}
	trig := src.trigs[0]
	src.trigs = src.trigs[1:]
	src.avail = append(src.avail, src.blocks[trig.Index]...)
	return trig, nil
}

func (src *fakeSource) Block() (Block, bool) {
	if len(src.avail) == 0 {
		return Block{}, false
	}
	blk := src.avail[0]
	src.avail = src.avail[1:]
	return blk, true
}

func TestCollect(t *testing.T) {
	const (
		lines    = 4
		columns  = 5
		interval = 2e-3
		t0       = 3.0
		offset   = 10 // index of the first trigger seen by Collect
	)

	src := &fakeSource{blocks: make(map[int][]Block)}
	// stale block, recorded before the first trigger.
	src.blocks[offset] = []Block{{Line: offset - 1, Data: mkHits(t, 1, t0-0.5e-3)}}
	for i := 0; i <= lines+1; i++ {
		idx := offset + i
		beg := t0 + float64(i)*interval
		src.trigs = append(src.trigs, Trigger{Index: idx, Edge: mkEdge(t, beg)})
		// blocks of line i are flushed before trigger i+1.
		data := uniformLine(t, 100+i, beg, interval, columns)
		half := columns / 2 * tpx3.RecordSize
		src.blocks[idx+1] = append(src.blocks[idx+1],
			Block{Line: idx, Data: data[:half]},
			Block{Line: idx, Data: data[half:]},
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cube, err := Collect(ctx, src, lines, columns)
	if err != nil {
		t.Fatalf("could not collect spim: %+v", err)
	}
	if got, want := cube.Total(), uint64(lines*columns); got != want {
		t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
	}
	for l := 0; l < lines; l++ {
		for c := 0; c < columns; c++ {
			if got := cube.At(l, c, 100+l); got != 1 {
				t.Fatalf("invalid cube[%d,%d]: got=%d, want=1", l, c, got)
			}
		}
	}
	if cube.Clamped != 0 {
		t.Fatalf("invalid number of clamped hits: got=%d", cube.Clamped)
	}
}

func TestCollectErrors(t *testing.T) {
	for _, tc := range []struct {
		lines, columns int
	}{
		{0, 1}, {1, 0}, {-1, 2},
	} {
		t.Run(fmt.Sprintf("%dx%d", tc.lines, tc.columns), func(t *testing.T) {
			_, err := Collect(context.Background(), &fakeSource{}, tc.lines, tc.columns)
			if err == nil {
				t.Fatalf("expected an error")
			}
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Collect(ctx, &fakeSource{}, 2, 2)
	if err == nil {
		t.Fatalf("expected an error")
	}
}
