// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tp3-sim runs a fake SERVAL server, with its HTTP control API
// and its image and raw data sinks.
package main // import "github.com/go-lpc/tp3/cmd/tp3-sim"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/tp3/internal/fakeserval"
	"github.com/go-lpc/tp3/serval"
)

func main() {
	var (
		host   = flag.String("host", "127.0.0.1", "host to listen on")
		ctl    = flag.Int("ctl", 8080, "port of the HTTP control API")
		focus  = flag.Int("focus", 8088, "port of the focus image sink")
		cumul  = flag.Int("cumul", 8089, "port of the cumulative image sink")
		raw    = flag.Int("raw", 8090, "port of the raw data sink")
		period = flag.Duration("period", 100*time.Millisecond, "interval between two frames")
		width  = flag.Int("width", 1024, "frame width")
		height = flag.Int("height", 256, "frame height")
		depth  = flag.Int("depth", 8, "frame bit depth (8|16)")

		lines   = flag.Int("lines", 64, "number of lines of the raw scan")
		columns = flag.Int("columns", 64, "number of columns of the raw scan")
		hits    = flag.Int("hits", 1, "number of hits per scan pixel")
		line    = flag.Duration("line", 10*time.Millisecond, "duration of a scan line")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: tp3-sim [OPTIONS]

ex:
 $> tp3-sim -ctl 8080 -period 50ms -lines 128 -columns 128

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	log.SetPrefix("tp3-sim: ")
	log.SetFlags(0)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err := run(ctx, log.Default(),
		fakeserval.WithHost(*host),
		fakeserval.WithControlPort(*ctl),
		fakeserval.WithPorts(serval.Ports{Focus: *focus, Cumul: *cumul, Raw: *raw}),
		fakeserval.WithPeriod(*period),
		fakeserval.WithFrame(*width, *height, *depth),
		fakeserval.WithScan(*lines, *columns, *hits, *line),
	)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, msg *log.Logger, opts ...fakeserval.Option) error {
	srv, err := fakeserval.New(msg, opts...)
	if err != nil {
		return fmt.Errorf("could not start fake SERVAL: %w", err)
	}

	ports := srv.Ports()
	msg.Printf("control API: %s", srv.URL())
	msg.Printf("sinks: focus=%d, cumul=%d, raw=%d", ports.Focus, ports.Cumul, ports.Raw)

	<-ctx.Done()

	starts, stops := srv.Counts()
	msg.Printf("shutting down (measurements: starts=%d, stops=%d)", starts, stops)

	err = srv.Close()
	if err != nil {
		return fmt.Errorf("could not stop fake SERVAL: %w", err)
	}
	return nil
}
