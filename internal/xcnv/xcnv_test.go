// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"bytes"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/tp3/tpx3"
	"github.com/google/go-cmp/cmp"
	"go-hep.org/x/hep/lcio"
)

type hit struct {
	x, y int
	t    float64
}

// capture returns a raw capture: a stray hit, then lines of hits, each
// line starting with a trigger edge.
func capture(t *testing.T, lines [][]hit) ([]byte, []tpx3.Record) {
	t.Helper()

	var (
		buf  = []byte("garbage")
		recs []tpx3.Record
	)
	add := func(chip uint8, rs ...tpx3.Record) {
		var err error
		buf, err = tpx3.AppendChunk(buf, chip, 0, rs)
		if err != nil {
			t.Fatalf("could not append chunk: %+v", err)
		}
		recs = append(recs, rs...)
	}

	stray, err := tpx3.EncodeHit(10, 20, 0.1)
	if err != nil {
		t.Fatalf("could not encode hit: %+v", err)
	}
	add(stray.Chip(), stray)

	for i, line := range lines {
		trig, err := tpx3.EncodeEdge(tpx3.TDC1Rise, 1+float64(i))
		if err != nil {
			t.Fatalf("could not encode edge: %+v", err)
		}
		other, err := tpx3.EncodeEdge(tpx3.TDC2Rise, 1.5+float64(i))
		if err != nil {
			t.Fatalf("could not encode edge: %+v", err)
		}
		add(0, trig, other)
		for _, h := range line {
			rec, err := tpx3.EncodeHit(h.x, h.y, h.t)
			if err != nil {
				t.Fatalf("could not encode hit: %+v", err)
			}
			add(rec.Chip(), rec)
		}
	}
	return buf, recs
}

func TestTPX2LCIO(t *testing.T) {
	tmp, err := os.MkdirTemp("", "tp3-xcnv-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	const run = 42
	var (
		msg   = log.New(io.Discard, "", 0)
		lines = [][]hit{
			{{x: 1, y: 2, t: 1.25}, {x: 300, y: 4, t: 1.5}, {x: 1000, y: 255, t: 1.75}},
			{},
			{{x: 600, y: 100, t: 3.5}},
		}
		fname = filepath.Join(tmp, "run.lcio")
	)

	raw, recs := capture(t, lines)

	lw, err := lcio.Create(fname)
	if err != nil {
		t.Fatalf("could not create LCIO file: %+v", err)
	}
	defer lw.Close()

	err = TPX2LCIO(lw, bytes.NewReader(raw), run, tpx3.TDC1Rise, msg)
	if err != nil {
		t.Fatalf("could not convert to LCIO: %+v", err)
	}
	err = lw.Close()
	if err != nil {
		t.Fatalf("could not close LCIO file: %+v", err)
	}

	lr, err := lcio.Open(fname)
	if err != nil {
		t.Fatalf("could not open LCIO file: %+v", err)
	}
	defer lr.Close()

	var (
		nevts int
		got   [][]hit
	)
	for lr.Next() {
		evt := lr.Event()
		if evt.RunNumber != run || evt.EventNumber != int32(nevts) {
			t.Fatalf("invalid event: run=%d, evt=%d", evt.RunNumber, evt.EventNumber)
		}
		if nevts > 0 {
			if got, want := evt.TimeStamp, int64(nevts)*1e9; got != want {
				t.Fatalf("invalid event %d timestamp: got=%d, want=%d", nevts, got, want)
			}
		}
		hits := evt.Get(HitCollection).(*lcio.RawCalorimeterHitContainer)
		var line []hit
		for _, h := range hits.Hits {
			p := CellPos(h)
			line = append(line, hit{x: p.X, y: p.Y, t: float64(h.TimeStamp) * TimeUnit})
		}
		got = append(got, line)
		nevts++
	}
	if err := lr.Err(); err != nil && err != io.EOF {
		t.Fatalf("could not read LCIO file: %+v", err)
	}

	if got, want := nevts, 1+len(lines); got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}
	want := append([][]hit{{{x: 10, y: 20, t: 0.1}}}, lines...)
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("event %d: invalid number of hits: got=%d, want=%d", i, len(got[i]), len(want[i]))
		}
		for j := range want[i] {
			g, w := got[i][j], want[i][j]
			if g.x != w.x || g.y != w.y || g.t-w.t > TimeUnit || w.t-g.t > TimeUnit {
				t.Fatalf("event %d, hit %d: got=%+v, want=%+v", i, j, g, w)
			}
		}
	}

	// round-trip back to raw records.
	err = lr.Close()
	if err != nil {
		t.Fatalf("could not close LCIO file: %+v", err)
	}
	lr, err = lcio.Open(fname)
	if err != nil {
		t.Fatalf("could not re-open LCIO file: %+v", err)
	}
	defer lr.Close()

	out := new(bytes.Buffer)
	err = LCIO2TPX(out, lr, 1, msg)
	if err != nil {
		t.Fatalf("could not convert to TPX3: %+v", err)
	}

	sc := tpx3.NewScanner()
	_, _ = sc.Write(out.Bytes())
	var back []tpx3.Record
	for {
		rec, ok := sc.Next()
		if !ok {
			break
		}
		back = append(back, rec)
	}
	if diff := cmp.Diff(recs, back); diff != "" {
		t.Fatalf("round-trip failed: (-want +got)\n%s", diff)
	}
	if sc.Skipped() != 0 {
		t.Fatalf("invalid TPX3 stream: %d bytes skipped", sc.Skipped())
	}
}

func TestAppendChunks(t *testing.T) {
	recs := make([]tpx3.Record, maxChunk+2)
	for i := range recs {
		recs[i][8] = 1
	}
	recs[len(recs)-1][8] = 2

	buf, err := appendChunks(nil, recs)
	if err != nil {
		t.Fatalf("could not append chunks: %+v", err)
	}

	sc := tpx3.NewScanner()
	_, _ = sc.Write(buf)
	n := 0
	for {
		if _, ok := sc.Next(); !ok {
			break
		}
		n++
	}
	if got, want := sc.Chunks(), 3; got != want {
		t.Fatalf("invalid number of chunks: got=%d, want=%d", got, want)
	}
	if got, want := n, len(recs); got != want {
		t.Fatalf("invalid number of records: got=%d, want=%d", got, want)
	}
}
