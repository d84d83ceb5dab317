// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tp3 holds code to acquire data from a TimePix3 detector
// driven by a SERVAL server.
//
// The acquisition chain is split in a few packages:
//   - serval: HTTP control of the remote detector,
//   - stream: TCP readout of the image and raw event sinks,
//   - jsonimage: jsonimage frames (header, payload, decoding),
//   - tpx3: raw TPX3 chunks, pixel hits and TDC edges,
//   - spim: spectrum-image reconstruction from hits and line triggers,
//   - acq: the acquisition controller tying all of the above.
package tp3 // import "github.com/go-lpc/tp3"

import (
	"fmt"
	"runtime/debug"
)

const modPath = "github.com/go-lpc/tp3"

// Version returns the version of tp3 and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}

	mod := &b.Main
	if mod.Path != modPath {
		mod = nil
		for _, dep := range b.Deps {
			if dep.Path == modPath {
				mod = dep
				break
			}
		}
	}
	if mod == nil {
		return "", ""
	}

	if r := mod.Replace; r != nil {
		switch {
		case r.Version != "" && r.Path != "":
			return fmt.Sprintf("%s %s", r.Path, r.Version), r.Sum
		case r.Version != "":
			return r.Version, r.Sum
		case r.Path != "":
			return r.Path, r.Sum
		}
		return mod.Version + "*", ""
	}
	return mod.Version, mod.Sum
}
