// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/tp3/tpx3"
	"go-hep.org/x/hep/lcio"
)

const maxChunk = 0xffff

// LCIO2TPX writes the raw records of the LCIO events read from r as
// TPX3 chunks, one chunk per run of records from the same chip.
func LCIO2TPX(w io.Writer, r *lcio.Reader, freq int, msg *log.Logger) error {
	var (
		i    = 0
		buf  []byte
		recs []tpx3.Record
		word [tpx3.WordSize]byte
	)

	for r.Next() {
		if freq > 0 && i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()
		obj, ok := evt.Get(RawCollection).(*lcio.GenericObject)
		if !ok || len(obj.Data) == 0 {
			return fmt.Errorf("event %d: missing %q collection", evt.EventNumber, RawCollection)
		}
		raw := obj.Data[0].I32s
		if len(raw)%3 != 0 {
			return fmt.Errorf("event %d: invalid raw collection size %d", evt.EventNumber, len(raw))
		}

		recs = recs[:0]
		for j := 0; j < len(raw); j += 3 {
			binary.LittleEndian.PutUint32(word[0:4], uint32(raw[j+0]))
			binary.LittleEndian.PutUint32(word[4:8], uint32(raw[j+1]))
			recs = append(recs, tpx3.NewRecord(word[:], uint8(raw[j+2])))
		}

		var err error
		buf, err = appendChunks(buf[:0], recs)
		if err != nil {
			return fmt.Errorf("event %d: could not encode chunks: %w", evt.EventNumber, err)
		}
		_, err = w.Write(buf)
		if err != nil {
			return fmt.Errorf("event %d: could not write chunks: %w", evt.EventNumber, err)
		}
		i++
	}

	if err := r.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("could not read LCIO events: %w", err)
	}

	return nil
}

func appendChunks(dst []byte, recs []tpx3.Record) ([]byte, error) {
	var err error
	for len(recs) > 0 {
		n := 1
		for n < len(recs) && n < maxChunk && recs[n].Chip() == recs[0].Chip() {
			n++
		}
		dst, err = tpx3.AppendChunk(dst, recs[0].Chip(), 0, recs[:n])
		if err != nil {
			return dst, err
		}
		recs = recs[n:]
	}
	return dst, nil
}
