// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package serval is a client for the HTTP control API of a SERVAL
// TimePix3 detector server.
package serval // import "github.com/go-lpc/tp3/serval"

import (
	"fmt"
)

// Status is the state of a measurement, as reported by the dashboard.
type Status string

const (
	Idle      Status = "DA_IDLE"
	Preparing Status = "DA_PREPARING"
	Recording Status = "DA_RECORDING"
	Stopping  Status = "DA_STOPPING"
)

// Dashboard is the server dashboard.
type Dashboard struct {
	Server struct {
		SoftwareVersion string `json:"SoftwareVersion,omitempty"`
		DiskSpace       []struct {
			Path      string `json:"Path"`
			FreeSpace int64  `json:"FreeSpace"`
		} `json:"DiskSpace,omitempty"`
	} `json:"Server"`
	Measurement *Measurement `json:"Measurement"`
	Detector    *struct {
		DetectorType string `json:"DetectorType,omitempty"`
	} `json:"Detector,omitempty"`
}

// Measurement describes the current measurement.
type Measurement struct {
	Status      Status  `json:"Status"`
	StartDate   int64   `json:"StartDateTime,omitempty"`
	ElapsedTime float64 `json:"ElapsedTime,omitempty"`
	FrameCount  int64   `json:"FrameCount,omitempty"`
	PixelEvents int64   `json:"PixelEventNumber,omitempty"`
	TDC1Events  int64   `json:"TDC1EventNumber,omitempty"`
	TDC2Events  int64   `json:"TDC2EventNumber,omitempty"`
}

// Status returns the status of the current measurement.
// A server with no measurement is idle.
func (db Dashboard) Status() Status {
	if db.Measurement == nil || db.Measurement.Status == "" {
		return Idle
	}
	return db.Measurement.Status
}

// DetectorConfig is the detector configuration.
// Fields unknown to this package are preserved across a get/set cycle.
type DetectorConfig map[string]any

// Float returns the value of a numerical field.
func (cfg DetectorConfig) Float(key string) (float64, bool) {
	switch v := cfg[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// ExposureTime returns the exposure time, in seconds.
func (cfg DetectorConfig) ExposureTime() float64 {
	v, _ := cfg.Float("ExposureTime")
	return v
}

// Config file formats accepted by Client.LoadConfig.
const (
	PixelConfig = "pixelconfig"
	DACs        = "dacs"
)

// PortMode selects the quantity sent to the image destinations.
type PortMode int

const (
	Count PortMode = iota
	ToT
	ToA
	ToF
)

var portModes = [...]string{"count", "tot", "toa", "tof"}

func (m PortMode) String() string {
	if m < 0 || int(m) >= len(portModes) {
		return fmt.Sprintf("PortMode(%d)", int(m))
	}
	return portModes[m]
}

// ParsePortMode parses the name of a port mode.
func ParsePortMode(name string) (PortMode, error) {
	for i, v := range portModes {
		if v == name {
			return PortMode(i), nil
		}
	}
	return 0, fmt.Errorf("serval: invalid port mode %q", name)
}

// Destination describes where the server sends its data.
type Destination struct {
	Raw   []RawDestination   `json:"Raw,omitempty"`
	Image []ImageDestination `json:"Image,omitempty"`
}

// RawDestination is a sink of raw TPX3 data.
type RawDestination struct {
	Base        string `json:"Base"`
	FilePattern string `json:"FilePattern,omitempty"`
}

// ImageDestination is a sink of images.
type ImageDestination struct {
	Base            string `json:"Base"`
	Format          string `json:"Format"`
	Mode            string `json:"Mode"`
	IntegrationSize int    `json:"IntegrationSize,omitempty"`
	IntegrationMode string `json:"IntegrationMode,omitempty"`
}

// Ports are the TCP ports of the client data sinks.
type Ports struct {
	Focus int `koanf:"focus"` // single frames
	Cumul int `koanf:"cumul"` // cumulated frames
	Raw   int `koanf:"raw"`   // raw TPX3 data
}

// DefaultPorts returns the default data sink ports.
func DefaultPorts() Ports {
	return Ports{Focus: 8088, Cumul: 8089, Raw: 8090}
}

// NewDestination returns the destination routing images of the given
// mode to the focus and cumulative sinks on host, and raw data to the
// raw sink when raw is set.
func NewDestination(host string, ports Ports, mode PortMode, raw bool) Destination {
	dst := Destination{
		Image: []ImageDestination{
			{
				Base:   fmt.Sprintf("tcp://%s:%d", host, ports.Focus),
				Format: "jsonimage",
				Mode:   mode.String(),
			},
			{
				Base:            fmt.Sprintf("tcp://%s:%d", host, ports.Cumul),
				Format:          "jsonimage",
				Mode:            mode.String(),
				IntegrationSize: -1,
				IntegrationMode: "Sum",
			},
		},
	}
	if raw {
		dst.Raw = []RawDestination{{Base: fmt.Sprintf("tcp://%s:%d", host, ports.Raw)}}
	}
	return dst
}

// Error is returned when the server replies with a non-success status code.
type Error struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("serval: %s %s: status code %d: %s", e.Method, e.Path, e.Code, e.Body)
}
