// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/tp3/tpx3"
	"go-hep.org/x/hep/lcio"
)

type event struct {
	time float64 // time of the trigger edge starting the event
	recs []tpx3.Record
}

// TPX2LCIO converts the raw TPX3 capture read from r into LCIO events,
// cutting a new event at each trigger edge.
func TPX2LCIO(w *lcio.Writer, r io.Reader, run int32, trigger tpx3.EdgeType, msg *log.Logger) error {
	err := w.WriteRunHeader(&lcio.RunHeader{
		RunNumber: run,
		Detector:  Detector,
		Params: lcio.Params{
			Ints: map[string][]int32{
				"Width":  {tpx3.Width},
				"Height": {tpx3.Height},
			},
			Strings: map[string][]string{
				"Trigger": {trigger.String()},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("could not write run header: %w", err)
	}

	var (
		sc   = tpx3.NewScanner()
		buf  = make([]byte, 64*1024)
		cur  event
		ievt int32
	)

	flush := func() error {
		if len(cur.recs) == 0 {
			return nil
		}
		if ievt%100 == 0 {
			msg.Printf("processing evt %d...", ievt)
		}
		evt := newEvent(run, ievt, &cur)
		err := w.WriteEvent(evt)
		if err != nil {
			return fmt.Errorf("could not write event %d: %w", ievt, err)
		}
		ievt++
		cur.recs = cur.recs[:0]
		return nil
	}

loop:
	for {
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = sc.Write(buf[:n])
			for {
				rec, ok := sc.Next()
				if !ok {
					break
				}
				if rec.Type() == tpx3.TypeTDC {
					edge, err := tpx3.DecodeEdge(rec)
					if err == nil && edge.Type == trigger {
						err = flush()
						if err != nil {
							return err
						}
						cur.time = edge.Time
					}
				}
				cur.recs = append(cur.recs, rec)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not read TPX3 capture: %w", err)
		}
	}

	err = flush()
	if err != nil {
		return err
	}

	if n := sc.Skipped(); n > 0 {
		msg.Printf("skipped %d bytes outside of TPX3 chunks", n)
	}
	if n := sc.Len(); n > 0 {
		msg.Printf("discarded %d bytes of truncated chunk", n)
	}
	msg.Printf("converted %d events (%d chunks)", ievt, sc.Chunks())

	return nil
}

func newEvent(run, ievt int32, cur *event) *lcio.Event {
	var (
		raw = &lcio.GenericObject{
			Data: []lcio.GenericObjectData{
				{I32s: make([]int32, 0, 3*len(cur.recs))},
			},
		}
		hits = &lcio.RawCalorimeterHitContainer{}
		word [tpx3.WordSize]byte
		opts = tpx3.Options{Time: true, Full: true}
	)

	for _, rec := range cur.recs {
		w := rec.AppendWord(word[:0])
		raw.Data[0].I32s = append(raw.Data[0].I32s,
			int32(binary.LittleEndian.Uint32(w[0:4])),
			int32(binary.LittleEndian.Uint32(w[4:8])),
			int32(rec.Chip()),
		)

		pos, times := tpx3.DecodeHits(rec[:], opts)
		for i, p := range pos {
			hits.Hits = append(hits.Hits, lcio.RawCalorimeterHit{
				CellID0:   int32(p.X) | int32(p.Y)<<16,
				CellID1:   int32(rec.Chip()),
				Amplitude: 1,
				TimeStamp: int32(times[i] / TimeUnit),
			})
		}
	}

	evt := &lcio.Event{
		RunNumber:   run,
		EventNumber: ievt,
		TimeStamp:   int64(cur.time * 1e9),
		Detector:    Detector,
	}
	evt.Add(RawCollection, raw)
	evt.Add(HitCollection, hits)
	return evt
}

// CellPos returns the pixel position encoded in the cell ID of a hit.
func CellPos(hit lcio.RawCalorimeterHit) tpx3.Pos {
	return tpx3.Pos{
		X: int(hit.CellID0 & 0xffff),
		Y: int(hit.CellID0 >> 16 & 0xffff),
	}
}
