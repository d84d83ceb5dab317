// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package jsonimage handles frames in the SERVAL jsonimage format:
// a one-line JSON header followed by the raw pixel payload.
//
//	{"timeAtFrame":1000.0,"frameNumber":1,...,"height":256}\n<dataSize+1 bytes>
package jsonimage // import "github.com/go-lpc/tp3/jsonimage"

import (
	"errors"

	"golang.org/x/xerrors"
)

// ErrProtocol is wrapped by all errors caused by a malformed header
// or by an inconsistent header/payload pair.
var ErrProtocol = errors.New("jsonimage: protocol error")

// Bounds on the frame shape and payload size accepted by Validate.
const (
	MaxDim      = 1 << 14  // pixels along a frame axis
	MaxDataSize = 64 << 20 // bytes
)

// Header is the jsonimage frame header.
type Header struct {
	TimeAtFrame   float64 `json:"timeAtFrame"` // in ns
	FrameNumber   int     `json:"frameNumber"`
	MeasurementID int     `json:"measurementID"`
	DataSize      int     `json:"dataSize"` // in bytes, trailing delimiter excluded
	BitDepth      int     `json:"bitDepth"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
}

// Validate checks the header describes a well-formed payload.
func (hdr Header) Validate() error {
	switch hdr.BitDepth {
	case 8, 16:
	default:
		return xerrors.Errorf("invalid bit depth %d: %w", hdr.BitDepth, ErrProtocol)
	}
	if hdr.Width <= 0 || hdr.Height <= 0 || hdr.Width > MaxDim || hdr.Height > MaxDim {
		return xerrors.Errorf(
			"invalid frame shape (w=%d, h=%d): %w",
			hdr.Width, hdr.Height, ErrProtocol,
		)
	}
	if hdr.DataSize > MaxDataSize {
		return xerrors.Errorf(
			"data size %d exceeds %d bytes: %w",
			hdr.DataSize, MaxDataSize, ErrProtocol,
		)
	}
	if n := hdr.Width * hdr.Height * hdr.BitDepth / 8; n != hdr.DataSize {
		return xerrors.Errorf(
			"inconsistent data size (got=%d, want=%d): %w",
			hdr.DataSize, n, ErrProtocol,
		)
	}
	return nil
}

// RawFrame is a header and its payload, trailing delimiter byte included.
type RawFrame struct {
	Header Header
	Data   []byte // len(Data) == Header.DataSize+1
}
