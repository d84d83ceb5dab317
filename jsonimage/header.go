// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package jsonimage

import (
	"bytes"
	"math"
	"strconv"

	"golang.org/x/xerrors"
)

var (
	hdrOpen  = []byte(`{"time`)
	hdrClose = []byte("}\n")
)

// ParseHeader parses the header found in raw, from its opening brace
// to its closing one.
//
// SERVAL's header is not length-prefixed: each key is located by name,
// its value runs from the next ':' to the next ',' or, for the last
// field, to the closing '}'.
func ParseHeader(raw []byte) (Header, error) {
	var hdr Header

	for _, field := range []struct {
		key string
		f64 *float64
		int *int
	}{
		{key: "timeAtFrame", f64: &hdr.TimeAtFrame},
		{key: "frameNumber", int: &hdr.FrameNumber},
		{key: "measurementID", int: &hdr.MeasurementID},
		{key: "dataSize", int: &hdr.DataSize},
		{key: "bitDepth", int: &hdr.BitDepth},
		{key: "width", int: &hdr.Width},
		{key: "height", int: &hdr.Height},
	} {
		v, err := fieldValue(raw, field.key)
		if err != nil {
			return hdr, err
		}
		f, err := strconv.ParseFloat(string(v), 64)
		if err != nil {
			return hdr, xerrors.Errorf(
				"invalid value %q for key %q: %w", v, field.key, ErrProtocol,
			)
		}
		switch {
		case field.f64 != nil:
			*field.f64 = f
		case math.IsNaN(f) || math.Abs(f) > math.MaxInt32:
			return hdr, xerrors.Errorf(
				"value %q for key %q out of range: %w", v, field.key, ErrProtocol,
			)
		default:
			*field.int = int(f)
		}
	}

	return hdr, nil
}

func fieldValue(raw []byte, key string) ([]byte, error) {
	i := bytes.Index(raw, []byte(`"`+key+`"`))
	if i < 0 {
		return nil, xerrors.Errorf("missing key %q: %w", key, ErrProtocol)
	}
	rest := raw[i+len(key)+2:]

	beg := bytes.IndexByte(rest, ':')
	if beg < 0 {
		return nil, xerrors.Errorf("missing value for key %q: %w", key, ErrProtocol)
	}
	rest = rest[beg+1:]

	end := bytes.IndexAny(rest, ",}")
	if end < 0 {
		return nil, xerrors.Errorf("unterminated value for key %q: %w", key, ErrProtocol)
	}
	return bytes.TrimSpace(rest[:end]), nil
}
