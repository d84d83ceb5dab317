// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package serval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to a SERVAL server.
type Client struct {
	addr string
	hc   *http.Client
	msg  *log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used to issue requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(msg *log.Logger) Option {
	return func(c *Client) {
		if msg != nil {
			c.msg = msg
		}
	}
}

// New returns a client for the server at addr (e.g. "http://localhost:8080").
func New(addr string, opts ...Option) *Client {
	c := &Client{
		addr: strings.TrimRight(addr, "/"),
		hc:   &http.Client{Timeout: 10 * time.Second},
		msg:  log.New(os.Stdout, "serval: ", 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Addr returns the address of the server.
func (c *Client) Addr() string { return c.addr }

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("serval: could not encode request body for %s: %w", path, err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.addr+path, r)
	if err != nil {
		return nil, fmt.Errorf("serval: could not create request %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serval: could not send request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("serval: could not read response to %s %s: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return raw, &Error{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
		}
	}
	return raw, nil
}

// Ping checks the server is reachable and returns the status code of
// its root endpoint.
func (c *Client) Ping(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addr+"/", nil)
	if err != nil {
		return -1, fmt.Errorf("serval: could not create ping request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return -1, fmt.Errorf("serval: could not reach %q: %w", c.addr, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Dashboard returns the server dashboard.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var db Dashboard
	raw, err := c.do(ctx, http.MethodGet, "/dashboard", nil)
	if err != nil {
		return db, err
	}
	err = json.Unmarshal(raw, &db)
	if err != nil {
		return db, fmt.Errorf("serval: could not decode dashboard: %w", err)
	}
	return db, nil
}

// Status returns the status of the current measurement.
func (c *Client) Status(ctx context.Context) (Status, error) {
	db, err := c.Dashboard(ctx)
	if err != nil {
		return "", err
	}
	return db.Status(), nil
}

// DetectorConfig returns the detector configuration.
func (c *Client) DetectorConfig(ctx context.Context) (DetectorConfig, error) {
	raw, err := c.do(ctx, http.MethodGet, "/detector/config", nil)
	if err != nil {
		return nil, err
	}
	cfg := make(DetectorConfig)
	err = json.Unmarshal(raw, &cfg)
	if err != nil {
		return nil, fmt.Errorf("serval: could not decode detector configuration: %w", err)
	}
	return cfg, nil
}

// SetDetectorConfig uploads the detector configuration.
func (c *Client) SetDetectorConfig(ctx context.Context, cfg DetectorConfig) error {
	_, err := c.do(ctx, http.MethodPut, "/detector/config", cfg)
	return err
}

func (c *Client) updateConfig(ctx context.Context, f func(cfg DetectorConfig)) error {
	cfg, err := c.DetectorConfig(ctx)
	if err != nil {
		return fmt.Errorf("serval: could not get detector configuration: %w", err)
	}
	f(cfg)
	err = c.SetDetectorConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("serval: could not set detector configuration: %w", err)
	}
	return nil
}

// SetExposure sets the exposure time, in seconds.
func (c *Client) SetExposure(ctx context.Context, exposure float64) error {
	return c.updateConfig(ctx, func(cfg DetectorConfig) {
		cfg["ExposureTime"] = exposure
	})
}

// AcqInit prepares the detector for a continuous acquisition of ntrig
// triggers.
func (c *Client) AcqInit(ctx context.Context, ntrig int) error {
	return c.updateConfig(ctx, func(cfg DetectorConfig) {
		cfg["nTriggers"] = ntrig
		cfg["TriggerMode"] = "CONTINUOUS"
	})
}

// LoadConfig makes the server load a configuration file of the given
// format (PixelConfig or DACs), and returns the server response.
func (c *Client) LoadConfig(ctx context.Context, format, fname string) (string, error) {
	q := url.Values{}
	q.Set("format", format)
	q.Set("file", fname)
	raw, err := c.do(ctx, http.MethodGet, "/config/load?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp := strings.TrimSpace(string(raw))
	c.msg.Printf("loaded %s file %q: %s", format, fname, resp)
	return resp, nil
}

// Destination returns the current data destination.
func (c *Client) Destination(ctx context.Context) (Destination, error) {
	var dst Destination
	raw, err := c.do(ctx, http.MethodGet, "/server/destination", nil)
	if err != nil {
		return dst, err
	}
	err = json.Unmarshal(raw, &dst)
	if err != nil {
		return dst, fmt.Errorf("serval: could not decode destination: %w", err)
	}
	return dst, nil
}

// SetDestination sets where the server sends its data.
func (c *Client) SetDestination(ctx context.Context, dst Destination) error {
	_, err := c.do(ctx, http.MethodPut, "/server/destination", dst)
	return err
}

// Start starts a measurement.
func (c *Client) Start(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/measurement/start", nil)
	return err
}

// Stop stops the current measurement.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/measurement/stop", nil)
	return err
}
