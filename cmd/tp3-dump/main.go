// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// tp3-dump decodes and displays raw TPX3 capture files.
//
// Usage: tp3-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> tp3-dump -n 4 ./spim-4e7a8a3c.tpx3
//	=== file ./spim-4e7a8a3c.tpx3 ===
//	tdc  tdc1-rise t=   0.500000000 s
//	hit  chip=0 x=   0 y=   0 t=   0.500031250 s
//	hit  chip=0 x= 131 y=   1 t=   0.500093750 s
//	hit  chip=3 x= 262 y=   2 t=   0.500156250 s
//	records:   4 (hits=3, tdc=1, other=0)
//	chunks:    2
//	skipped:   0 bytes
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/tp3/internal/mmap"
	"github.com/go-lpc/tp3/tpx3"
)

func main() {
	log.SetPrefix("tp3-dump: ")
	log.SetFlags(0)

	var (
		n     = flag.Int("n", 0, "maximum number of records to display per file (0: all)")
		quiet = flag.Bool("q", false, "only display summaries")
	)

	flag.Usage = func() {
		fmt.Printf(`tp3-dump decodes and displays raw TPX3 capture files.

Usage: tp3-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> tp3-dump -n 4 ./spim-4e7a8a3c.tpx3

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input TPX3 file")
	}

	lim := *n
	if *quiet {
		lim = -1
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, lim)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

// process displays the first n records of the named capture file, all
// of them if n is zero, none if n is negative.
func process(w io.Writer, fname string, n int) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	h, err := mmap.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer h.Close()

	sc := tpx3.NewScanner()
	_, _ = sc.Write(h.Bytes())

	var (
		nrecs, nhits, ntdcs, nother int
		opts                        = tpx3.Options{Time: true, Full: true}
	)

	fmt.Fprintf(wbuf, "=== file %s ===\n", fname)
	for {
		rec, ok := sc.Next()
		if !ok {
			break
		}
		show := n == 0 || nrecs < n

		switch rec.Type() {
		case tpx3.TypeHit:
			nhits++
			pos, times := tpx3.DecodeHits(rec[:], opts)
			if show && len(pos) == 1 {
				fmt.Fprintf(wbuf, "hit  chip=%d x=%4d y=%4d t=%14.9f s\n",
					rec.Chip(), pos[0].X, pos[0].Y, times[0],
				)
			}
		case tpx3.TypeTDC:
			ntdcs++
			edge, err := tpx3.DecodeEdge(rec)
			if show {
				if err != nil {
					fmt.Fprintf(wbuf, "tdc  invalid: %v\n", err)
					break
				}
				fmt.Fprintf(wbuf, "tdc  %s t=%14.9f s\n", edge.Type, edge.Time)
			}
		default:
			nother++
			if show {
				fmt.Fprintf(wbuf, "pkt  type=0x%x %x\n", rec.Type(), rec[:tpx3.WordSize])
			}
		}
		nrecs++
	}

	fmt.Fprintf(wbuf, "records: %3d (hits=%d, tdc=%d, other=%d)\n", nrecs, nhits, ntdcs, nother)
	fmt.Fprintf(wbuf, "chunks:  %3d\n", sc.Chunks())
	fmt.Fprintf(wbuf, "skipped: %3d bytes\n", sc.Skipped())
	if left := sc.Len(); left > 0 {
		fmt.Fprintf(wbuf, "truncated: %d bytes\n", left)
	}

	return nil
}
