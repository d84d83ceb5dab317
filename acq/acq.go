// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq drives TimePix3 acquisitions: it controls the remote
// SERVAL server, reads its data sinks and hands decoded data to
// consumers.
package acq // import "github.com/go-lpc/tp3/acq"

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-lpc/tp3/stream"
	"github.com/google/uuid"
)

var (
	// ErrBusy is returned when an acquisition could not be started
	// because the detector is neither idle nor recording.
	ErrBusy = errors.New("acq: detector is busy")

	// ErrStageMoving is returned when a spectrum-image acquisition is
	// requested while the sample stage is moving.
	ErrStageMoving = errors.New("acq: stage is moving")
)

// State is the state of an acquisition controller.
type State int

const (
	Idle State = iota
	Preparing
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Display modes of frame acquisitions.
const (
	Display1D = "1d" // frames are projected along their height
	Display2D = "2d"
)

// Session describes an acquisition session.
type Session struct {
	ID       uuid.UUID
	Kind     stream.Kind
	Addr     string  // address of the data sink
	Exposure float64 // in seconds
	Project  bool    // whether frames are projected
	Cumul    bool    // whether frames are cumulated by the server
	Start    time.Time
	Stop     time.Time
	Err      error // error that terminated the session, if any
}

// Scanner is the probe scanning unit of the microscope.
type Scanner interface {
	// FieldOfView returns the scanned field of view, in nm.
	FieldOfView() float64
	// ProbePosition returns the probe position, in fractional
	// coordinates of the field of view.
	ProbePosition() (x, y float64)
}

// Stage is the sample stage of the microscope.
type Stage interface {
	// Moving returns whether the stage motors are moving.
	Moving() bool
}

// RunLog records acquisition sessions.
type RunLog interface {
	Begin(ctx context.Context, sess Session) error
	End(ctx context.Context, sess Session) error
}

// Axis describes the calibration of an array dimension.
type Axis struct {
	Scale  float64
	Offset float64
	Units  string
}

// Array is a decoded data array and its calibration.
type Array struct {
	Name  string
	Shape []int    // dimensions, slowest varying first
	Data  []uint32 // row-major
	Axes  []Axis   // one per dimension
	Meta  map[string]string
}

// Archiver persists arrays.
type Archiver interface {
	// Archive persists arr and returns a name identifying the artifact.
	Archive(arr Array) (string, error)
}
