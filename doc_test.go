// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tp3

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	for _, tc := range []struct {
		name string
		info *debug.BuildInfo
		vers string
		sum  string
	}{
		{
			name: "nil",
		},
		{
			name: "other-module",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.com/foo", Version: "v1.0.0"},
			},
		},
		{
			name: "main",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: modPath, Version: "v0.1.0", Sum: "h1:main"},
			},
			vers: "v0.1.0",
			sum:  "h1:main",
		},
		{
			name: "dep",
			info: &debug.BuildInfo{
				Main: debug.Module{Path: "example.com/foo", Version: "v1.0.0"},
				Deps: []*debug.Module{
					{Path: "example.com/bar", Version: "v0.2.0", Sum: "h1:bar"},
					{Path: modPath, Version: "v0.3.0", Sum: "h1:dep"},
				},
			},
			vers: "v0.3.0",
			sum:  "h1:dep",
		},
		{
			name: "replace-path-version",
			info: &debug.BuildInfo{
				Main: debug.Module{
					Path: modPath, Version: "v0.1.0",
					Replace: &debug.Module{Path: "example.com/fork", Version: "v0.1.1", Sum: "h1:fork"},
				},
			},
			vers: "example.com/fork v0.1.1",
			sum:  "h1:fork",
		},
		{
			name: "replace-version",
			info: &debug.BuildInfo{
				Main: debug.Module{
					Path: modPath, Version: "v0.1.0",
					Replace: &debug.Module{Version: "v0.1.2", Sum: "h1:v2"},
				},
			},
			vers: "v0.1.2",
			sum:  "h1:v2",
		},
		{
			name: "replace-path",
			info: &debug.BuildInfo{
				Main: debug.Module{
					Path: modPath, Version: "v0.1.0",
					Replace: &debug.Module{Path: "../tp3"},
				},
			},
			vers: "../tp3",
		},
		{
			name: "replace-empty",
			info: &debug.BuildInfo{
				Main: debug.Module{
					Path: modPath, Version: "v0.1.0",
					Replace: &debug.Module{},
				},
			},
			vers: "v0.1.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			vers, sum := versionOf(tc.info)
			if vers != tc.vers {
				t.Fatalf("invalid version: got=%q, want=%q", vers, tc.vers)
			}
			if sum != tc.sum {
				t.Fatalf("invalid sum: got=%q, want=%q", sum, tc.sum)
			}
		})
	}
}
