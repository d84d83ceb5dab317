// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tp3-daq runs TimePix3 acquisitions and archives them as FITS files.
//
// Usage: tp3-daq [OPTIONS]
//
// Example:
//
//	$> tp3-daq -cfg ./tp3-daq.yml -mode focus -n 10 -exposure 0.1
//	$> tp3-daq -cfg ./tp3-daq.yml -mode spim -lines 64 -columns 64 -record
package main // import "github.com/go-lpc/tp3/cmd/tp3-daq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-lpc/tp3/acq"
	"github.com/go-lpc/tp3/internal/metrics"
	"github.com/go-lpc/tp3/rundb"
	"github.com/go-lpc/tp3/serval"
	"github.com/go-lpc/tp3/store"
	"github.com/go-lpc/tp3/stream"
	"github.com/google/uuid"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sbinet/pmon"
)

type config struct {
	Server  string        `koanf:"server"`  // URL of the SERVAL control API
	Host    string        `koanf:"host"`    // host of the data sinks, as seen by SERVAL
	Ports   serval.Ports  `koanf:"ports"`   // ports of the data sinks
	Timeout time.Duration `koanf:"timeout"` // socket read deadline
	Port    string        `koanf:"port"`    // image port mode (count|tot|toa|tof)
	BPC     string        `koanf:"bpc"`     // pixel configuration file
	DACs    string        `koanf:"dacs"`    // DACs file
	Output  string        `koanf:"output"`  // output directory
	MySQL   string        `koanf:"mysql"`   // run log DSN
	Metrics string        `koanf:"metrics"` // metrics listen address
	FoV     float64       `koanf:"fov"`     // scanned field of view, in nm
}

func defaultConfig() config {
	return config{
		Server:  "http://127.0.0.1:8080",
		Host:    "127.0.0.1",
		Ports:   serval.DefaultPorts(),
		Timeout: 5 * time.Millisecond,
		Output:  "./data",
	}
}

// loadConfig loads the configuration from the defaults and the named
// YAML file, if it exists.
func loadConfig(fname string) (config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err != nil {
		return config{}, fmt.Errorf("could not load default config: %w", err)
	}

	if _, err := os.Stat(fname); fname != "" && err == nil {
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil {
			return config{}, fmt.Errorf("could not load config file %q: %w", fname, err)
		}
	}

	var cfg config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return cfg, fmt.Errorf("could not decode config: %w", err)
	}
	return cfg, nil
}

// job describes the acquisition to run.
type job struct {
	mode     string // focus, cumul or spim
	n        int    // number of frames to save
	exposure float64
	display  string
	lines    int
	columns  int
	record   bool
	pmon     bool
	freq     time.Duration
}

func main() {
	log.SetPrefix("tp3-daq: ")
	log.SetFlags(0)

	var (
		fname = flag.String("cfg", "tp3-daq.yml", "path to YAML configuration file")
		show  = flag.Bool("show-cfg", false, "print the configuration and exit")

		job job
	)
	flag.StringVar(&job.mode, "mode", "focus", "acquisition mode (focus|cumul|spim)")
	flag.IntVar(&job.n, "n", 1, "number of frames to save")
	flag.Float64Var(&job.exposure, "exposure", 0, "exposure time in seconds (0: keep current)")
	flag.StringVar(&job.display, "display", acq.Display2D, "frame display (1d|2d)")
	flag.IntVar(&job.lines, "lines", 64, "number of scan lines of spectrum-images")
	flag.IntVar(&job.columns, "columns", 64, "number of scan columns of spectrum-images")
	flag.BoolVar(&job.record, "record", false, "record raw data streams to the output directory")
	flag.BoolVar(&job.pmon, "pmon", false, "enable pmon monitoring")
	flag.DurationVar(&job.freq, "freq", 1*time.Second, "pmon frequency")

	flag.Usage = func() {
		fmt.Printf(`Usage: tp3-daq [OPTIONS]

ex:
 $> tp3-daq -cfg ./tp3-daq.yml -mode focus -n 10 -exposure 0.1
 $> tp3-daq -cfg ./tp3-daq.yml -mode spim -lines 64 -columns 64 -record

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	cfg, err := loadConfig(*fname)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	if *show {
		k := koanf.New(".")
		_ = k.Load(structs.Provider(cfg, "koanf"), nil)
		raw, err := k.Marshal(yaml.Parser())
		if err != nil {
			log.Fatalf("could not encode config: %+v", err)
		}
		_, _ = os.Stdout.Write(raw)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = run(ctx, log.Default(), cfg, job)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, msg *log.Logger, cfg config, job job) error {
	if job.pmon {
		err := monitor(msg, cfg.Output, job.freq)
		if err != nil {
			return err
		}
	}

	cli := serval.New(cfg.Server, serval.WithLogger(msg))
	code, err := cli.Ping(ctx)
	if err != nil {
		return fmt.Errorf("could not reach SERVAL server %q: %w", cfg.Server, err)
	}
	msg.Printf("SERVAL server %q: status code %d", cfg.Server, code)

	dir, err := store.NewDir(cfg.Output, msg)
	if err != nil {
		return fmt.Errorf("could not create output archive: %w", err)
	}

	var (
		reg  = metrics.New()
		opts = []acq.Option{
			acq.WithHost(cfg.Host),
			acq.WithPorts(cfg.Ports),
			acq.WithTimeout(cfg.Timeout),
			acq.WithMetrics(reg),
			acq.WithArchiver(dir),
		}
	)
	if cfg.FoV > 0 {
		opts = append(opts, acq.WithScanner(fixedScanner{fov: cfg.FoV}))
	}

	if cfg.MySQL != "" {
		db, err := rundb.Open(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("could not open run log: %w", err)
		}
		defer db.Close()

		err = db.Init(ctx)
		if err != nil {
			return fmt.Errorf("could not initialize run log: %w", err)
		}
		opts = append(opts, acq.WithRunLog(db))
	}

	if job.record {
		opts = append(opts, acq.WithRecorder(recorder(cfg.Output)))
	}

	if cfg.Metrics != "" {
		srv, err := serveMetrics(msg, cfg.Metrics, reg)
		if err != nil {
			return err
		}
		defer srv.Close()
	}

	ctl := acq.New(cli, msg, opts...)

	if cfg.BPC != "" || cfg.DACs != "" {
		err = ctl.Init(ctx, cfg.BPC, cfg.DACs, 1)
		if err != nil {
			return fmt.Errorf("could not initialize detector: %w", err)
		}
	}

	if cfg.Port != "" {
		mode, err := serval.ParsePortMode(cfg.Port)
		if err != nil {
			return fmt.Errorf("could not parse port mode: %w", err)
		}
		err = ctl.SetPort(ctx, mode)
		if err != nil {
			return fmt.Errorf("could not set port mode: %w", err)
		}
	}

	switch job.mode {
	case "focus", "cumul":
		err = runFrames(ctx, msg, ctl, job)
	case "spim":
		err = runSpim(ctx, msg, ctl, job)
	default:
		return fmt.Errorf("invalid acquisition mode %q", job.mode)
	}

	if e := ctl.Stop(context.Background()); e != nil && err == nil {
		err = fmt.Errorf("could not stop acquisition: %w", e)
	}
	return err
}

func runFrames(ctx context.Context, msg *log.Logger, ctl *acq.Controller, job job) error {
	ok, err := ctl.Start(ctx, job.exposure, job.display, job.mode == "cumul")
	if err != nil || !ok {
		return fmt.Errorf("could not start %s acquisition: %w", job.mode, err)
	}

	for i := 0; i < job.n; i++ {
		img, err := ctl.GrabImage(ctx)
		if err != nil {
			return fmt.Errorf("could not grab frame %d: %w", i, err)
		}
		_, err = ctl.Save(acq.ImageArray(job.mode, img))
		if err != nil {
			return fmt.Errorf("could not save frame %d: %w", i, err)
		}
	}
	msg.Printf("saved %d frames", job.n)
	return nil
}

func runSpim(ctx context.Context, msg *log.Logger, ctl *acq.Controller, job job) error {
	ok, err := ctl.StartSpim(ctx, job.exposure)
	if err != nil || !ok {
		return fmt.Errorf("could not start spim acquisition: %w", err)
	}

	cube, err := ctl.GrabSpim(ctx, job.lines, job.columns)
	if err != nil {
		return fmt.Errorf("could not grab spectrum-image: %w", err)
	}
	_, err = ctl.Save(acq.CubeArray("spim", cube))
	if err != nil {
		return fmt.Errorf("could not save spectrum-image: %w", err)
	}
	msg.Printf("saved %dx%d spectrum-image (%d hits)", job.lines, job.columns, cube.Total())
	return nil
}

// recorder returns a raw capture factory writing under dir.
func recorder(dir string) func(id uuid.UUID, kind stream.Kind) (io.WriteCloser, error) {
	return func(id uuid.UUID, kind stream.Kind) (io.WriteCloser, error) {
		ext := ".jsonimage"
		if kind == stream.KindSpim {
			ext = ".tpx3"
		}
		return os.Create(filepath.Join(dir, kind.String()+"-"+id.String()+ext))
	}
}

func serveMetrics(msg *log.Logger, addr string, reg *metrics.Metrics) (*http.Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on %q: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", reg.Handler())

	srv := &http.Server{Handler: r}
	go func() {
		err := srv.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			msg.Printf("metrics server failed: %+v", err)
		}
	}()
	msg.Printf("serving metrics on http://%s/metrics", l.Addr())
	return srv, nil
}

func monitor(msg *log.Logger, dir string, freq time.Duration) error {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}

	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "tp3-daq-pmon.log"))
	if err != nil {
		return fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		defer f.Close()
		msg.Printf("run pmon (pid=%d)...", pid)
		err := p.Run()
		if err != nil {
			msg.Printf("could not monitor tp3-daq: %+v", err)
		}
	}()
	return nil
}

// fixedScanner is a scanner with a static field of view, probe centered.
type fixedScanner struct {
	fov float64
}

func (sc fixedScanner) FieldOfView() float64           { return sc.fov }
func (sc fixedScanner) ProbePosition() (x, y float64) { return 0.5, 0.5 }
