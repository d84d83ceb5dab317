// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tpx3

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/xerrors"
)

const chunkHeaderSize = 8

var chunkMagic = []byte("TPX3")

// Scanner extracts records from a stream of TPX3 chunks cut at
// arbitrary boundaries.
//
// A chunk is the ASCII tag "TPX3", a chip index byte, a mode byte and
// the little-endian number of 8-byte packets that follow.
// Bytes found outside of a chunk are skipped.
type Scanner struct {
	buf []byte
	off int

	left int   // packets left in the current chunk
	chip uint8 // chip index of the current chunk
	mode uint8 // mode of the current chunk

	chunks  int
	skipped int
}

// NewScanner returns a new, empty, chunk scanner.
func NewScanner() *Scanner {
	return &Scanner{buf: make([]byte, 0, 64*1024)}
}

// Write appends p to the scanner's buffer. It never fails.
func (sc *Scanner) Write(p []byte) (int, error) {
	if sc.off > 0 {
		n := copy(sc.buf, sc.buf[sc.off:])
		sc.buf = sc.buf[:n]
		sc.off = 0
	}
	sc.buf = append(sc.buf, p...)
	return len(p), nil
}

// Len returns the number of buffered, not yet scanned, bytes.
func (sc *Scanner) Len() int { return len(sc.buf) - sc.off }

// Chunks returns the number of chunk headers scanned so far.
func (sc *Scanner) Chunks() int { return sc.chunks }

// Skipped returns the number of bytes found outside of any chunk.
func (sc *Scanner) Skipped() int { return sc.skipped }

// Mode returns the mode byte of the current chunk.
func (sc *Scanner) Mode() uint8 { return sc.mode }

// Reset discards all buffered data.
func (sc *Scanner) Reset() {
	sc.buf = sc.buf[:0]
	sc.off = 0
	sc.left = 0
}

// Next returns the next record, if any.
// Next returns false when more data is needed.
func (sc *Scanner) Next() (Record, bool) {
	for sc.left == 0 {
		if !sc.scanHeader() {
			return Record{}, false
		}
	}

	if sc.Len() < WordSize {
		return Record{}, false
	}
	rec := NewRecord(sc.buf[sc.off:sc.off+WordSize], sc.chip)
	sc.off += WordSize
	sc.left--
	return rec, true
}

func (sc *Scanner) scanHeader() bool {
	data := sc.buf[sc.off:]
	i := bytes.Index(data, chunkMagic)
	if i < 0 {
		// keep a possibly truncated tag around.
		if n := len(data) - len(chunkMagic) + 1; n > 0 {
			sc.off += n
			sc.skipped += n
		}
		return false
	}
	sc.off += i
	sc.skipped += i
	if sc.Len() < chunkHeaderSize {
		return false
	}

	hdr := sc.buf[sc.off : sc.off+chunkHeaderSize]
	sc.chip = hdr[4]
	sc.mode = hdr[5]
	sc.left = int(binary.LittleEndian.Uint16(hdr[6:8]))
	sc.off += chunkHeaderSize
	sc.chunks++
	return true
}

// AppendChunk appends the wire representation of a chunk holding recs
// to dst. The chip index of each record is ignored.
func AppendChunk(dst []byte, chip, mode uint8, recs []Record) ([]byte, error) {
	if len(recs) > 0xffff {
		return dst, xerrors.Errorf("tpx3: too many records for a chunk (%d)", len(recs))
	}
	dst = append(dst, chunkMagic...)
	dst = append(dst, chip, mode)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(recs)))
	for _, rec := range recs {
		dst = rec.AppendWord(dst)
	}
	return dst, nil
}
