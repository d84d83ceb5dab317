// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tp3-tdaq starts a TDAQ server exposing a TimePix3 acquisition.
//
// The SERVAL server and the data sinks are configured with the
// TP3_SERVAL, TP3_HOST and TP3_MODE (focus|cumul|spim) environment
// variables.
package main // import "github.com/go-lpc/tp3/cmd/tp3-tdaq"

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/tp3/acq"
	"github.com/go-lpc/tp3/jsonimage"
	"github.com/go-lpc/tp3/serval"
)

func main() {
	cmd := flags.New()

	dev := newDevice(
		cmd.Args[0],
		getenv("TP3_SERVAL", "http://127.0.0.1:8080"),
		getenv("TP3_HOST", "127.0.0.1"),
		getenv("TP3_MODE", "spim"),
	)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/tp3", dev.output)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type device struct {
	name string
	mode string
	addr string
	host string

	ctl  *acq.Controller
	n    int
	data chan []byte
}

func newDevice(name, addr, host, mode string) *device {
	return &device{
		name: name,
		mode: mode,
		addr: addr,
		host: host,
		data: make(chan []byte, 1024),
	}
}

func (dev *device) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	switch dev.mode {
	case "focus", "cumul", "spim":
	default:
		return fmt.Errorf("invalid acquisition mode %q", dev.mode)
	}
	msg := log.New(io.Discard, "", 0)
	dev.ctl = acq.New(
		serval.New(dev.addr, serval.WithLogger(msg)), msg,
		acq.WithHost(dev.host),
	)
	_, err := dev.ctl.Status(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("could not reach SERVAL server %q: %w", dev.addr, err)
	}
	return nil
}

func (dev *device) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *device) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	if dev.ctl != nil {
		err := dev.ctl.Stop(ctx.Ctx)
		if err != nil {
			ctx.Msg.Warnf("could not stop acquisition: %+v", err)
		}
	}
	dev.data = make(chan []byte, 1024)
	dev.n = 0
	return nil
}

func (dev *device) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	if dev.ctl == nil {
		return fmt.Errorf("device not configured")
	}

	var err error
	switch dev.mode {
	case "spim":
		_, err = dev.ctl.StartSpim(ctx.Ctx, 0)
	default:
		_, err = dev.ctl.Start(ctx.Ctx, 0, acq.Display2D, dev.mode == "cumul")
	}
	if err != nil {
		return fmt.Errorf("could not start %s acquisition: %w", dev.mode, err)
	}
	return nil
}

func (dev *device) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := dev.n
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	if dev.ctl == nil {
		return nil
	}
	return dev.ctl.Stop(ctx.Ctx)
}

func (dev *device) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	if dev.ctl == nil {
		return nil
	}
	return dev.ctl.Stop(ctx.Ctx)
}

func (dev *device) output(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-dev.data:
		dst.Body = data
	}
	return nil
}

// run forwards the acquired data to the output port: raw frames in
// frame modes, blocks of hit records in spim mode.
func (dev *device) run(ctx tdaq.Context) error {
	for {
		raw, err := dev.grab(ctx.Ctx)
		if err != nil {
			if ctx.Ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("could not grab %s data: %w", dev.mode, err)
		}
		select {
		case dev.data <- raw:
			dev.n++
		case <-ctx.Ctx.Done():
			return nil
		default:
			ctx.Msg.Debugf("output queue full: dropping %d bytes", len(raw))
		}
	}
}

func (dev *device) grab(ctx context.Context) ([]byte, error) {
	if dev.mode == "spim" {
		blk, err := dev.ctl.GrabEvent(ctx)
		if err != nil {
			return nil, err
		}
		return blk.Data, nil
	}

	frame, err := dev.ctl.GrabFrame(ctx)
	if err != nil {
		return nil, err
	}
	raw := jsonimage.AppendHeader(nil, frame.Header)
	return append(raw, frame.Data...), nil
}
