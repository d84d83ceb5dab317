// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonimage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"golang.org/x/xerrors"
)

// Encoder writes jsonimage frames to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, 256)}
}

// Encode writes the header, its newline and the payload pix followed by
// the trailing delimiter.
// pix must be hdr.DataSize bytes long.
func (enc *Encoder) Encode(hdr Header, pix []byte) error {
	err := hdr.Validate()
	if err != nil {
		return xerrors.Errorf("jsonimage: could not encode frame %d: %w", hdr.FrameNumber, err)
	}
	if len(pix) != hdr.DataSize {
		return xerrors.Errorf(
			"jsonimage: frame %d payload size mismatch (got=%d, want=%d)",
			hdr.FrameNumber, len(pix), hdr.DataSize,
		)
	}

	enc.buf = AppendHeader(enc.buf[:0], hdr)
	enc.write(enc.buf)
	enc.write(pix)
	enc.write([]byte{'\n'})
	if enc.err != nil {
		return fmt.Errorf("jsonimage: could not write frame %d: %w", hdr.FrameNumber, enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

// AppendHeader appends the wire representation of hdr, newline
// included, to dst.
func AppendHeader(dst []byte, hdr Header) []byte {
	dst = append(dst, `{"timeAtFrame":`...)
	dst = appendFloat(dst, hdr.TimeAtFrame)
	dst = append(dst, `,"frameNumber":`...)
	dst = strconv.AppendInt(dst, int64(hdr.FrameNumber), 10)
	dst = append(dst, `,"measurementID":`...)
	dst = strconv.AppendInt(dst, int64(hdr.MeasurementID), 10)
	dst = append(dst, `,"dataSize":`...)
	dst = strconv.AppendInt(dst, int64(hdr.DataSize), 10)
	dst = append(dst, `,"bitDepth":`...)
	dst = strconv.AppendInt(dst, int64(hdr.BitDepth), 10)
	dst = append(dst, `,"width":`...)
	dst = strconv.AppendInt(dst, int64(hdr.Width), 10)
	dst = append(dst, `,"height":`...)
	dst = strconv.AppendInt(dst, int64(hdr.Height), 10)
	dst = append(dst, "}\n"...)
	return dst
}

func appendFloat(dst []byte, v float64) []byte {
	n := len(dst)
	dst = strconv.AppendFloat(dst, v, 'f', -1, 64)
	if bytes.IndexByte(dst[n:], '.') < 0 {
		dst = append(dst, ".0"...)
	}
	return dst
}

// Pack encodes pixel values as a big-endian payload of the given bit depth.
// Values are truncated to the bit depth.
func Pack(depth int, pix []uint32) ([]byte, error) {
	switch depth {
	case 8:
		out := make([]byte, len(pix))
		for i, v := range pix {
			out[i] = uint8(v)
		}
		return out, nil
	case 16:
		out := make([]byte, 2*len(pix))
		for i, v := range pix {
			binary.BigEndian.PutUint16(out[2*i:], uint16(v))
		}
		return out, nil
	default:
		return nil, xerrors.Errorf("jsonimage: invalid bit depth %d: %w", depth, ErrProtocol)
	}
}
