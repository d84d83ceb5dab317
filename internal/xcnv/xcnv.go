// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert raw TPX3 captures to/from LCIO.
//
// A capture is cut into LCIO events at each trigger edge. Each event
// holds the raw records in a GenericObject collection and the decoded
// pixel hits in a RawCalorimeterHit collection.
package xcnv // import "github.com/go-lpc/tp3/internal/xcnv"

const (
	Detector      = "TPX3"
	RawCollection = "TPX3_RAW"  // raw records: 3 int32s per record
	HitCollection = "TPX3_HITS" // decoded pixel hits

	// TimeUnit is the unit of hit timestamps, in seconds.
	TimeUnit = 25e-9
)
