// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tpx3

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/xerrors"
)

// RearmPeriod is the period of the TDC coarse counter, in seconds.
const RearmPeriod = 26.8435456

const (
	tdcClock = 320e6   // coarse TDC clock, in Hz
	tdcFine  = 260e-12 // fine TDC step, in seconds
)

// EdgeType describes the TDC input and signal edge that produced a
// TDC record.
type EdgeType uint8

const (
	TDC1Rise EdgeType = 0xf
	TDC1Fall EdgeType = 0xa
	TDC2Rise EdgeType = 0xe
	TDC2Fall EdgeType = 0xb
)

func (et EdgeType) String() string {
	switch et {
	case TDC1Rise:
		return "tdc1-rise"
	case TDC1Fall:
		return "tdc1-fall"
	case TDC2Rise:
		return "tdc2-rise"
	case TDC2Fall:
		return "tdc2-fall"
	}
	return fmt.Sprintf("EdgeType(0x%x)", uint8(et))
}

func (et EdgeType) valid() bool {
	switch et {
	case TDC1Rise, TDC1Fall, TDC2Rise, TDC2Fall:
		return true
	}
	return false
}

// ParseEdgeType parses the name of an edge type, as returned by EdgeType.String.
func ParseEdgeType(name string) (EdgeType, error) {
	for _, et := range []EdgeType{TDC1Rise, TDC1Fall, TDC2Rise, TDC2Fall} {
		if strings.EqualFold(name, et.String()) {
			return et, nil
		}
	}
	return 0, xerrors.Errorf("tpx3: invalid edge type %q", name)
}

// Edge is a decoded TDC record.
type Edge struct {
	Time  float64  // absolute time, in seconds
	Phase float64  // time modulo RearmPeriod, in seconds
	Type  EdgeType // TDC input and edge
}

// DecodeEdge decodes a TDC record.
func DecodeEdge(rec Record) (Edge, error) {
	if rec.Type() != TypeTDC {
		return Edge{}, xerrors.Errorf("tpx3: record is not a TDC record (type=0x%x)", rec.Type())
	}
	typ := EdgeType(rec[0] & 0x0f)
	if !typ.valid() {
		return Edge{}, xerrors.Errorf("tpx3: invalid TDC edge type 0x%x", uint8(typ))
	}

	var (
		b2 = uint64(rec[2])
		b3 = uint64(rec[3])
		b4 = uint64(rec[4])
		b5 = uint64(rec[5])
		b6 = uint64(rec[6])
		b7 = uint64(rec[7])

		coarse = (b2&0x0f)<<31 | b3<<23 | b4<<15 | b5<<7 | b6>>1
		fine   = (b6&0x01)<<3 | (b7&0xe0)>>5
	)
	t := float64(coarse)/tdcClock + float64(fine)*tdcFine

	return Edge{
		Time:  t,
		Phase: math.Mod(t, RearmPeriod),
		Type:  typ,
	}, nil
}

// EncodeEdge creates the TDC record of an edge at time t, in seconds.
// The fine part of t is rounded to the 260 ps TDC step.
func EncodeEdge(typ EdgeType, t float64) (Record, error) {
	var rec Record
	if !typ.valid() {
		return rec, xerrors.Errorf("tpx3: invalid TDC edge type 0x%x", uint8(typ))
	}
	if t < 0 {
		return rec, xerrors.Errorf("tpx3: invalid negative TDC time %v", t)
	}

	coarse := uint64(math.Floor(t*tdcClock + 1e-6))
	rem := t - float64(coarse)/tdcClock
	if rem < 0 {
		rem = 0
	}
	fine := uint64(math.Round(rem / tdcFine))
	if fine > 0x0f {
		fine = 0x0f
	}
	coarse &= 1<<35 - 1

	rec[0] = TypeTDC<<4 | uint8(typ)
	rec[2] = uint8(coarse>>31) & 0x0f
	rec[3] = uint8(coarse >> 23)
	rec[4] = uint8(coarse >> 15)
	rec[5] = uint8(coarse >> 7)
	rec[6] = uint8(coarse&0x7f)<<1 | uint8(fine>>3)&0x01
	rec[7] = uint8(fine&0x07) << 5
	return rec, nil
}
