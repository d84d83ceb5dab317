// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"compress/flate"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/tp3/tpx3"
	"go-hep.org/x/hep/lcio"
)

func TestRunNbrFrom(t *testing.T) {
	for _, tc := range []struct {
		fname string
		run   int32
	}{
		{"./spim_063.tpx3", 63},
		{"/some/dir/focus_663.tpx3", 663},
		{"../some/dir/spim-4e7a8a3c.tpx3", 0},
		{"run_abc.tpx3", 0},
	} {
		t.Run(tc.fname, func(t *testing.T) {
			if got, want := runNbrFrom(tc.fname), tc.run; got != want {
				t.Fatalf("invalid run number: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestConvert(t *testing.T) {
	tmp, err := os.MkdirTemp("", "tp3-lcio-")
	if err != nil {
		t.Fatalf("could not create tmp dir: %+v", err)
	}
	defer os.RemoveAll(tmp)

	msg.SetOutput(io.Discard)
	defer msg.SetOutput(os.Stdout)

	var raw []byte
	for i := 0; i < 3; i++ {
		trig, err := tpx3.EncodeEdge(tpx3.TDC1Rise, float64(i+1))
		if err != nil {
			t.Fatalf("could not encode edge: %+v", err)
		}
		hit, err := tpx3.EncodeHit(i, i, float64(i+1)+0.5)
		if err != nil {
			t.Fatalf("could not encode hit: %+v", err)
		}
		raw, err = tpx3.AppendChunk(raw, 0, 0, []tpx3.Record{trig, hit})
		if err != nil {
			t.Fatalf("could not encode chunk: %+v", err)
		}
	}

	var (
		fname = filepath.Join(tmp, "spim_042.tpx3")
		lname = filepath.Join(tmp, "spim_042.lcio")
		oname = filepath.Join(tmp, "back.tpx3")
	)
	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		t.Fatalf("could not write capture: %+v", err)
	}

	err = toLCIO(lname, flate.BestCompression, fname, 0, tpx3.TDC1Rise)
	if err != nil {
		t.Fatalf("could not convert to LCIO: %+v", err)
	}

	r, err := lcio.Open(lname)
	if err != nil {
		t.Fatalf("could not open LCIO file: %+v", err)
	}
	n := 0
	for r.Next() {
		if got, want := r.Event().RunNumber, int32(42); got != want {
			t.Fatalf("invalid run number: got=%d, want=%d", got, want)
		}
		n++
	}
	r.Close()
	if got, want := n, 3; got != want {
		t.Fatalf("invalid number of events: got=%d, want=%d", got, want)
	}

	err = toTPX3(oname, lname)
	if err != nil {
		t.Fatalf("could not convert to TPX3: %+v", err)
	}

	got, err := os.ReadFile(oname)
	if err != nil {
		t.Fatalf("could not read back TPX3 file: %+v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("round-trip failed")
	}
}
