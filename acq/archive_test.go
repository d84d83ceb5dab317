// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"testing"

	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/serval"
	"github.com/go-lpc/tp3/spim"
	"github.com/google/go-cmp/cmp"
)

type fakeScanner struct{}

func (fakeScanner) FieldOfView() float64           { return 64 }
func (fakeScanner) ProbePosition() (x, y float64) { return 0.5, 0.25 }

type fakeArchiver struct {
	arrs []Array
}

func (a *fakeArchiver) Archive(arr Array) (string, error) {
	a.arrs = append(a.arrs, arr)
	return fmt.Sprintf("%s-%d", arr.Name, len(a.arrs)), nil
}

func TestSave(t *testing.T) {
	arch := new(fakeArchiver)
	ctl := New(serval.New("http://127.0.0.1:1"), discard(),
		WithScanner(fakeScanner{}),
		WithArchiver(arch),
	)

	var (
		cube = spim.NewCube(4, 8)
		in   = CubeArray("spim", cube)
		orig = append([]Axis(nil), in.Axes...)
	)
	in.Meta = map[string]string{"sample": "gold"}
	name, err := ctl.Save(in)
	if err != nil {
		t.Fatalf("could not save cube: %+v", err)
	}
	if diff := cmp.Diff(orig, in.Axes); diff != "" {
		t.Fatalf("caller axes modified (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]string{"sample": "gold"}, in.Meta); diff != "" {
		t.Fatalf("caller metadata modified (-want +got):\n%s", diff)
	}
	if name != "spim-1" {
		t.Fatalf("invalid artifact name: %q", name)
	}
	arr := arch.arrs[0]
	for i, want := range []Axis{
		{Scale: 16, Offset: -32, Units: "nm"},
		{Scale: 8, Offset: -32, Units: "nm"},
		{Scale: 1, Units: "ch"},
	} {
		if got := arr.Axes[i]; got != want {
			t.Fatalf("invalid axis %d: got=%+v, want=%+v", i, got, want)
		}
	}
	if got, want := arr.Meta["fov"], "64"; got != want {
		t.Fatalf("invalid fov: got=%q, want=%q", got, want)
	}
	if got, want := arr.Meta["sample"], "gold"; got != want {
		t.Fatalf("invalid sample: got=%q, want=%q", got, want)
	}

	img := &jsonimage.Image{Width: 2, Height: 1, Pix: []uint32{1, 2}}
	_, err = ctl.Save(ImageArray("focus", img))
	if err != nil {
		t.Fatalf("could not save image: %+v", err)
	}
	if got := arch.arrs[1].Axes[0]; got.Units != "px" {
		t.Fatalf("image axes should not be calibrated: %+v", got)
	}

	_, err = ctl.Save(Array{Name: "bad", Shape: []int{1}})
	if err == nil {
		t.Fatalf("expected an error")
	}

	ctl = New(serval.New("http://127.0.0.1:1"), discard())
	_, err = ctl.Save(ImageArray("focus", img))
	if err == nil {
		t.Fatalf("expected an error")
	}
}
