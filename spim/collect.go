// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package spim

import (
	"context"
	"fmt"

	"github.com/go-lpc/tp3/tpx3"
)

// Block is a contiguous buffer of hit records, all recorded after the
// line trigger of index Line.
// Line is -1 for records preceding the first trigger.
type Block struct {
	Line int
	Data []byte // len(Data)%tpx3.RecordSize == 0
}

// Trigger is a line-trigger edge and its index in the stream.
type Trigger struct {
	Index int
	Edge  tpx3.Edge
}

// Source provides triggers and hit blocks, in stream order.
// All blocks recorded before a trigger are available once that trigger
// has been returned.
type Source interface {
	// Trigger blocks until the next trigger is available.
	Trigger(ctx context.Context) (Trigger, error)
	// Block returns the next available block, without blocking.
	Block() (Block, bool)
}

// Collect reconstructs a spectrum-image of the given shape from the
// next lines+1 triggers of src.
// Blocks recorded before the first trigger are discarded.
func Collect(ctx context.Context, src Source, lines, columns int) (*Cube, error) {
	if lines <= 0 || columns <= 0 {
		return nil, fmt.Errorf("spim: invalid cube shape (lines=%d, columns=%d)", lines, columns)
	}

	var (
		cube = NewCube(lines, columns)
		rec  = New(cube)
	)

	first, err := src.Trigger(ctx)
	if err != nil {
		return nil, fmt.Errorf("spim: could not get first line trigger: %w", err)
	}
	rec.Start(first.Edge)

	var pending *Block
	for i := 0; i < lines; i++ {
		next, err := src.Trigger(ctx)
		if err != nil {
			return cube, fmt.Errorf("spim: could not get trigger of line %d: %w", i, err)
		}

		var (
			cur    = first.Index + i
			blocks [][]byte
		)
		if pending != nil && pending.Line <= cur {
			if pending.Line == cur {
				blocks = append(blocks, pending.Data)
			}
			pending = nil
		}
		for pending == nil {
			blk, ok := src.Block()
			if !ok {
				break
			}
			switch {
			case blk.Line < cur:
				// recorded before this acquisition's first trigger.
			case blk.Line == cur:
				blocks = append(blocks, blk.Data)
			default:
				pending = &blk
			}
		}

		err = rec.Line(next.Edge, blocks...)
		if err != nil {
			return cube, fmt.Errorf("spim: could not bin line %d: %w", i, err)
		}
	}

	return cube, nil
}
