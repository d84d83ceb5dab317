// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonimage

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// Image is a decoded frame, stored row-major.
type Image struct {
	Width  int
	Height int
	Pix    []uint32 // len(Pix) == Width*Height
}

// At returns the pixel value at column x, row y.
func (img *Image) At(x, y int) uint32 {
	return img.Pix[y*img.Width+x]
}

// Sum returns the sum of all pixel values.
func (img *Image) Sum() uint64 {
	var sum uint64
	for _, v := range img.Pix {
		sum += uint64(v)
	}
	return sum
}

// Decode decodes the payload of a raw frame into an image of shape
// (height, width).
// When project is set, rows are summed together and the returned
// image has shape (1, width).
func Decode(frame RawFrame, project bool) (*Image, error) {
	hdr := frame.Header
	err := hdr.Validate()
	if err != nil {
		return nil, xerrors.Errorf("jsonimage: could not decode frame %d: %w", hdr.FrameNumber, err)
	}

	data := frame.Data
	if n := len(data); n == hdr.DataSize+1 {
		data = data[:hdr.DataSize]
	}
	if len(data) != hdr.DataSize {
		return nil, xerrors.Errorf(
			"jsonimage: frame %d payload size mismatch (got=%d, want=%d): %w",
			hdr.FrameNumber, len(data), hdr.DataSize, ErrProtocol,
		)
	}

	img := &Image{
		Width:  hdr.Width,
		Height: hdr.Height,
	}
	switch {
	case project:
		img.Height = 1
		img.Pix = make([]uint32, hdr.Width)
		for i := 0; i < hdr.Width*hdr.Height; i++ {
			img.Pix[i%hdr.Width] += pixel(data, hdr.BitDepth, i)
		}
	default:
		img.Pix = make([]uint32, hdr.Width*hdr.Height)
		for i := range img.Pix {
			img.Pix[i] = pixel(data, hdr.BitDepth, i)
		}
	}

	return img, nil
}

func pixel(data []byte, depth, i int) uint32 {
	switch depth {
	case 8:
		return uint32(data[i])
	default:
		return uint32(binary.BigEndian.Uint16(data[2*i:]))
	}
}
