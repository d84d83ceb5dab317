// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/spim"
)

// ImageArray returns the array of a decoded frame.
func ImageArray(name string, img *jsonimage.Image) Array {
	return Array{
		Name:  name,
		Shape: []int{img.Height, img.Width},
		Data:  img.Pix,
		Axes: []Axis{
			{Scale: 1, Units: "px"},
			{Scale: 1, Units: "px"},
		},
		Meta: make(map[string]string),
	}
}

// CubeArray returns the array of a spectrum-image.
func CubeArray(name string, cube *spim.Cube) Array {
	return Array{
		Name:  name,
		Shape: []int{cube.Lines, cube.Columns, cube.Width},
		Data:  cube.Data,
		Axes: []Axis{
			{Scale: 1, Units: "px"},
			{Scale: 1, Units: "px"},
			{Scale: 1, Units: "ch"},
		},
		Meta: map[string]string{
			"clamped": strconv.Itoa(cube.Clamped),
		},
	}
}

// Save calibrates arr and hands it to the archiver.
//
// Scan axes of spectrum-images are calibrated from the field of view of
// the scanner, when one is configured.
func (ctl *Controller) Save(arr Array) (string, error) {
	if ctl.cfg.archiver == nil {
		return "", fmt.Errorf("acq: no archiver configured")
	}
	if len(arr.Axes) != len(arr.Shape) {
		return "", fmt.Errorf("acq: invalid array %q: %d axes for %d dimensions", arr.Name, len(arr.Axes), len(arr.Shape))
	}
	// arr shares its slices and map with the caller.
	arr.Axes = append([]Axis(nil), arr.Axes...)
	meta := make(map[string]string, len(arr.Meta))
	for k, v := range arr.Meta {
		meta[k] = v
	}
	arr.Meta = meta

	if sc := ctl.cfg.scanner; sc != nil && len(arr.Shape) == 3 {
		fov := sc.FieldOfView()
		x, y := sc.ProbePosition()
		for i := 0; i < 2; i++ {
			if arr.Shape[i] <= 0 {
				continue
			}
			arr.Axes[i] = Axis{
				Scale:  fov / float64(arr.Shape[i]),
				Offset: -fov / 2,
				Units:  "nm",
			}
		}
		arr.Meta["fov"] = strconv.FormatFloat(fov, 'g', -1, 64)
		arr.Meta["probe"] = fmt.Sprintf("%g,%g", x, y)
	}

	if sess, ok := ctl.Session(); ok {
		arr.Meta["session"] = sess.ID.String()
		arr.Meta["kind"] = sess.Kind.String()
		arr.Meta["exposure"] = strconv.FormatFloat(sess.Exposure, 'g', -1, 64)
	}
	arr.Meta["date"] = time.Now().UTC().Format(time.RFC3339)

	name, err := ctl.cfg.archiver.Archive(arr)
	if err != nil {
		return "", fmt.Errorf("acq: could not archive %q: %w", arr.Name, err)
	}
	return name, nil
}
