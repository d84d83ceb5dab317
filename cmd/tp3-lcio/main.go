// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tp3-lcio converts a raw TPX3 capture file to an LCIO one,
// or an LCIO file back to a raw TPX3 capture.
package main // import "github.com/go-lpc/tp3/cmd/tp3-lcio"

import (
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-lpc/tp3/internal/mmap"
	"github.com/go-lpc/tp3/internal/xcnv"
	"github.com/go-lpc/tp3/tpx3"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "tp3-lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		run   = flag.Int("run", 0, "run number")
		trig  = flag.String("trigger", tpx3.TDC1Rise.String(), "TDC edge cutting events")
		rev   = flag.Bool("r", false, "convert an LCIO file back to a raw TPX3 capture")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: tp3-lcio [OPTIONS] file

ex:
 $> tp3-lcio -o out.lcio -lvl=9 -run=42 ./spim.tpx3
 $> tp3-lcio -r -o out.tpx3 ./out.lcio

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output file name")
	}

	var err error
	switch {
	case *rev:
		err = toTPX3(*oname, flag.Arg(0))
	default:
		var et tpx3.EdgeType
		et, err = tpx3.ParseEdgeType(*trig)
		if err != nil {
			msg.Fatalf("invalid trigger: %+v", err)
		}
		err = toLCIO(*oname, *compr, flag.Arg(0), int32(*run), et)
	}
	if err != nil {
		msg.Fatalf("could not convert file: %+v", err)
	}
}

func toLCIO(oname string, lvl int, fname string, run int32, trig tpx3.EdgeType) error {
	h, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open TPX3 file: %w", err)
	}
	defer h.Close()

	if run == 0 {
		run = runNbrFrom(fname)
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	err = xcnv.TPX2LCIO(w, h.Reader(), run, trig, msg)
	if err != nil {
		return fmt.Errorf("could not convert TPX3 to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func toTPX3(oname, fname string) error {
	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output TPX3 file: %w", err)
	}
	defer f.Close()

	err = xcnv.LCIO2TPX(f, r, 100, msg)
	if err != nil {
		return fmt.Errorf("could not convert LCIO to TPX3: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output TPX3 file: %w", err)
	}

	return nil
}

// runNbrFrom infers the run number from a "<name>_<run>.tpx3" file name.
// runNbrFrom returns 0 when no run number could be inferred.
func runNbrFrom(fname string) int32 {
	var (
		name = strings.TrimSuffix(filepath.Base(fname), filepath.Ext(fname))
		run  int32
	)
	i := strings.LastIndex(name, "_")
	if i < 0 {
		return 0
	}
	_, err := fmt.Sscanf(name[i+1:], "%d", &run)
	if err != nil {
		return 0
	}
	return run
}
