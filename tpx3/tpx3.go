// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tpx3 decodes raw TimePix3 data: TPX3 chunks, pixel hit
// records and TDC edge records.
//
// On the wire, each 64-bit packet is sent least significant byte first.
// A Record holds the 8 packet bytes most significant byte first,
// followed by the index of the chip that emitted it.
package tpx3 // import "github.com/go-lpc/tp3/tpx3"

const (
	RecordSize = 9 // size of a Record, in bytes
	WordSize   = 8 // size of a wire packet, in bytes

	Width     = 1024 // width of the 4-chip plane, in pixels
	Height    = 256  // height of the 4-chip plane, in pixels
	ChipWidth = 256  // width of a single chip, in pixels
	NumChips  = 4
)

// Packet types, as found in the top nibble of a record.
const (
	TypeHit uint8 = 0xb
	TypeTDC uint8 = 0x6
)

// Record is a byte-reversed 8-byte packet followed by its chip index.
type Record [RecordSize]byte

// Type returns the packet type tag of the record.
func (rec Record) Type() uint8 { return rec[0] >> 4 }

// Chip returns the index of the chip that emitted the record.
func (rec Record) Chip() uint8 { return rec[8] }

// NewRecord creates a record from an 8-byte wire packet and its chip index.
func NewRecord(word []byte, chip uint8) Record {
	_ = word[WordSize-1]
	return Record{
		word[7], word[6], word[5], word[4],
		word[3], word[2], word[1], word[0],
		chip,
	}
}

// AppendWord appends the wire representation of the record packet to dst.
func (rec Record) AppendWord(dst []byte) []byte {
	return append(dst,
		rec[7], rec[6], rec[5], rec[4],
		rec[3], rec[2], rec[1], rec[0],
	)
}
