// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonimage

import (
	"bytes"

	"golang.org/x/xerrors"
)

// maxHeaderSize is the largest header the assembler waits for before
// declaring the opening marker spurious.
const maxHeaderSize = 1024

// Assembler reassembles jsonimage frames from a byte stream cut at
// arbitrary boundaries.
//
// Bytes preceding a header opener belong to an incomplete frame and
// are discarded.
type Assembler struct {
	buf []byte

	pending bool   // whether hdr has been parsed and awaits its payload
	hdr     Header // header of the frame being assembled
	body    int    // offset of the payload in buf
}

// NewAssembler returns a new, empty, frame assembler.
func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, 64*1024)}
}

// Write appends p to the assembler's buffer. It never fails.
func (asm *Assembler) Write(p []byte) (int, error) {
	asm.buf = append(asm.buf, p...)
	return len(p), nil
}

// Len returns the number of buffered, not yet consumed, bytes.
func (asm *Assembler) Len() int { return len(asm.buf) }

// Pending returns whether a header has been parsed and the assembler
// is waiting for the rest of its payload.
func (asm *Assembler) Pending() bool { return asm.pending }

// Reset discards all buffered data.
func (asm *Assembler) Reset() {
	asm.buf = asm.buf[:0]
	asm.pending = false
	asm.body = 0
}

// Next returns the next complete frame, if any.
//
// Next returns ok=false when more data is needed.
// A non-nil error wraps ErrProtocol: the offending header has been
// dropped and Next may be called again to resume scanning.
func (asm *Assembler) Next() (frame RawFrame, ok bool, err error) {
	if !asm.pending {
		ok, err = asm.scanHeader()
		if err != nil || !ok {
			return frame, false, err
		}
	}

	var (
		size = asm.hdr.DataSize + 1
		end  = asm.body + size
	)
	if len(asm.buf) < end {
		return frame, false, nil
	}

	frame.Header = asm.hdr
	frame.Data = make([]byte, size)
	copy(frame.Data, asm.buf[asm.body:end])

	asm.consume(end)
	asm.pending = false
	return frame, true, nil
}

func (asm *Assembler) scanHeader() (bool, error) {
	beg := bytes.Index(asm.buf, hdrOpen)
	if beg < 0 {
		// keep a possibly truncated opener around.
		if n := len(asm.buf) - len(hdrOpen) + 1; n > 0 {
			asm.consume(n)
		}
		return false, nil
	}
	asm.consume(beg)

	end := bytes.Index(asm.buf, hdrClose)
	if end < 0 {
		if len(asm.buf) > maxHeaderSize {
			asm.consume(1)
			return false, xerrors.Errorf(
				"jsonimage: header exceeds %d bytes: %w", maxHeaderSize, ErrProtocol,
			)
		}
		return false, nil
	}

	hdr, err := ParseHeader(asm.buf[:end+1])
	if err == nil {
		err = hdr.Validate()
	}
	if err != nil {
		asm.consume(end + len(hdrClose))
		return false, xerrors.Errorf("jsonimage: could not parse header: %w", err)
	}

	asm.hdr = hdr
	asm.body = end + len(hdrClose)
	asm.pending = true
	return true, nil
}

func (asm *Assembler) consume(n int) {
	asm.buf = append(asm.buf[:0], asm.buf[n:]...)
}
