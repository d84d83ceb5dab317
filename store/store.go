// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store persists decoded arrays as FITS files.
//
// Counts are stored as 32-bit signed integers offset by BZERO, the axes
// calibration as CDELTn, CRVALn and CUNITn cards, and the array metadata
// as string cards.
package store // import "github.com/go-lpc/tp3/store"

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/go-lpc/tp3/acq"
)

const (
	bzero   = 1 << 31
	metaTag = "tp3 meta"
)

// Dir archives arrays as FITS files under a directory.
type Dir struct {
	root string
	msg  *log.Logger

	mu  sync.Mutex
	seq int
	now func() time.Time
}

// NewDir returns an archive writing under root, creating it if needed.
func NewDir(root string, msg *log.Logger) (*Dir, error) {
	if msg == nil {
		msg = log.New(os.Stdout, "store: ", 0)
	}
	err := os.MkdirAll(root, 0755)
	if err != nil {
		return nil, fmt.Errorf("store: could not create archive directory: %w", err)
	}
	return &Dir{root: root, msg: msg, now: time.Now}, nil
}

// Root returns the archive directory.
func (dir *Dir) Root() string { return dir.root }

// Archive writes arr to a new FITS file and returns its path.
func (dir *Dir) Archive(arr acq.Array) (string, error) {
	dir.mu.Lock()
	dir.seq++
	seq := dir.seq
	now := dir.now().UTC()
	dir.mu.Unlock()

	name := arr.Name
	if name == "" {
		name = "array"
	}
	fname := filepath.Join(dir.root, fmt.Sprintf(
		"%s-%s-%04d.fits", name, now.Format("20060102-150405"), seq,
	))

	f, err := os.Create(fname)
	if err != nil {
		return "", fmt.Errorf("store: could not create FITS file: %w", err)
	}
	defer f.Close()

	err = Write(f, arr)
	if err != nil {
		return "", fmt.Errorf("store: could not write %q: %w", fname, err)
	}

	err = f.Close()
	if err != nil {
		return "", fmt.Errorf("store: could not close %q: %w", fname, err)
	}

	dir.msg.Printf("saved %q %v to %q", arr.Name, arr.Shape, fname)
	return fname, nil
}

// Write writes arr as the primary image of a FITS stream.
func Write(w io.Writer, arr acq.Array) error {
	n := 1
	for _, v := range arr.Shape {
		n *= v
	}
	if n != len(arr.Data) {
		return fmt.Errorf("store: invalid array %q: shape %v for %d values", arr.Name, arr.Shape, len(arr.Data))
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("store: could not create FITS stream: %w", err)
	}
	defer fits.Close()

	// FITS axes run fastest first.
	dims := make([]int, len(arr.Shape))
	for i, v := range arr.Shape {
		dims[len(dims)-1-i] = v
	}

	img := fitsio.NewImage(32, dims)
	defer img.Close()

	err = img.Header().Append(cards(arr)...)
	if err != nil {
		return fmt.Errorf("store: could not append FITS cards: %w", err)
	}

	data := make([]int32, len(arr.Data))
	for i, v := range arr.Data {
		data[i] = int32(int64(v) - bzero)
	}
	err = img.Write(data)
	if err != nil {
		return fmt.Errorf("store: could not write FITS image: %w", err)
	}

	err = fits.Write(img)
	if err != nil {
		return fmt.Errorf("store: could not write FITS HDU: %w", err)
	}
	return nil
}

func cards(arr acq.Array) []fitsio.Card {
	cs := []fitsio.Card{
		{Name: "BZERO", Value: bzero},
		{Name: "BSCALE", Value: 1.0},
		{Name: "OBJECT", Value: arr.Name},
	}
	for i, ax := range arr.Axes {
		k := len(arr.Axes) - i
		cs = append(cs,
			fitsio.Card{Name: fmt.Sprintf("CRPIX%d", k), Value: 1.0},
			fitsio.Card{Name: fmt.Sprintf("CDELT%d", k), Value: ax.Scale},
			fitsio.Card{Name: fmt.Sprintf("CRVAL%d", k), Value: ax.Offset},
			fitsio.Card{Name: fmt.Sprintf("CUNIT%d", k), Value: ax.Units},
		)
	}

	keys := make([]string, 0, len(arr.Meta))
	for k := range arr.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cs = append(cs, fitsio.Card{
			Name:    keyword(k),
			Value:   arr.Meta[k],
			Comment: metaTag,
		})
	}
	return cs
}

// keyword returns a FITS keyword for a metadata key.
func keyword(k string) string {
	k = strings.ToUpper(k)
	if len(k) > 8 {
		k = k[:8]
	}
	return k
}

// Read reads the array stored as the primary image of a FITS stream.
// Metadata keys are returned lower-cased.
func Read(r io.Reader) (acq.Array, error) {
	var arr acq.Array

	fits, err := fitsio.Open(r)
	if err != nil {
		return arr, fmt.Errorf("store: could not open FITS stream: %w", err)
	}
	defer fits.Close()

	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return arr, fmt.Errorf("store: primary HDU is not an image")
	}
	hdr := img.Header()
	if bitpix := hdr.Bitpix(); bitpix != 32 {
		return arr, fmt.Errorf("store: invalid BITPIX=%d", bitpix)
	}

	dims := hdr.Axes()
	n := 1
	arr.Shape = make([]int, len(dims))
	arr.Axes = make([]acq.Axis, len(dims))
	for i, v := range dims {
		arr.Shape[len(dims)-1-i] = v
		n *= v
	}
	for i := range arr.Axes {
		k := len(dims) - i
		arr.Axes[i] = acq.Axis{
			Scale:  cardFloat(hdr, fmt.Sprintf("CDELT%d", k)),
			Offset: cardFloat(hdr, fmt.Sprintf("CRVAL%d", k)),
			Units:  cardString(hdr, fmt.Sprintf("CUNIT%d", k)),
		}
	}
	arr.Name = cardString(hdr, "OBJECT")

	arr.Meta = make(map[string]string)
	for _, k := range hdr.Keys() {
		c := hdr.Get(k)
		if c == nil || c.Comment != metaTag {
			continue
		}
		arr.Meta[strings.ToLower(k)] = strings.TrimSpace(fmt.Sprint(c.Value))
	}

	data := make([]int32, n)
	err = img.Read(&data)
	if err != nil {
		return arr, fmt.Errorf("store: could not read FITS image: %w", err)
	}
	arr.Data = make([]uint32, len(data))
	for i, v := range data {
		arr.Data[i] = uint32(int64(v) + bzero)
	}

	return arr, nil
}

func cardFloat(hdr *fitsio.Header, name string) float64 {
	c := hdr.Get(name)
	if c == nil {
		return 0
	}
	switch v := c.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func cardString(hdr *fitsio.Header, name string) string {
	c := hdr.Get(name)
	if c == nil {
		return ""
	}
	s, _ := c.Value.(string)
	return strings.TrimSpace(s)
}

var _ acq.Archiver = (*Dir)(nil)
