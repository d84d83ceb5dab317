// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command tp3-ctl is an interactive shell to control a SERVAL server.
package main // import "github.com/go-lpc/tp3/cmd/tp3-ctl"

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/tp3/serval"
	"github.com/peterh/liner"
)

var errQuit = errors.New("quit")

func main() {
	var (
		addr = flag.String("addr", "http://127.0.0.1:8080", "URL of the SERVAL server")
		host = flag.String("host", "127.0.0.1", "host of the data sinks")
		hist = flag.String("history", filepath.Join(os.TempDir(), ".tp3-ctl.history"), "path to the shell history file")
	)

	flag.Parse()

	log.SetPrefix("tp3-ctl: ")
	log.SetFlags(0)

	sh := newShell(serval.New(*addr, serval.WithLogger(log.Default())), *host, serval.DefaultPorts())
	err := sh.run(*hist)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type command struct {
	help string
	fct  func(ctx context.Context, w io.Writer, args []string) error
}

type shell struct {
	cli   *serval.Client
	host  string
	ports serval.Ports
	cmds  map[string]command
}

func newShell(cli *serval.Client, host string, ports serval.Ports) *shell {
	sh := &shell{cli: cli, host: host, ports: ports}
	sh.cmds = map[string]command{
		"ping":     {"ping the server", sh.cmdPing},
		"status":   {"print the measurement status", sh.cmdStatus},
		"config":   {"print the detector configuration", sh.cmdConfig},
		"exposure": {"exposure <seconds>: set the exposure time", sh.cmdExposure},
		"port":     {"port <count|tot|toa|tof>: route images of the given mode", sh.cmdPort},
		"init":     {"init <bpc> <dacs> [ntrig]: load configuration files", sh.cmdInit},
		"start":    {"start the measurement", sh.cmdStart},
		"stop":     {"stop the measurement", sh.cmdStop},
		"help":     {"print this help message", sh.cmdHelp},
		"quit":     {"quit the shell", func(context.Context, io.Writer, []string) error { return errQuit }},
	}
	return sh
}

func (sh *shell) run(hist string) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(sh.complete)

	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			log.Printf("could not save history: %+v", err)
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	fmt.Printf("connected to %s (type \"help\" for help)\n", sh.cli.Addr())
	for {
		line, err := term.Prompt("tp3> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		term.AppendHistory(line)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = sh.exec(ctx, os.Stdout, line)
		cancel()
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Printf("error: %+v\n", err)
		}
	}
}

func (sh *shell) complete(line string) []string {
	var out []string
	for name := range sh.cmds {
		if strings.HasPrefix(name, line) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// exec runs a single command line.
func (sh *shell) exec(ctx context.Context, w io.Writer, line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	cmd, ok := sh.cmds[toks[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", toks[0])
	}
	return cmd.fct(ctx, w, toks[1:])
}

func (sh *shell) cmdPing(ctx context.Context, w io.Writer, args []string) error {
	code, err := sh.cli.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "status code: %d\n", code)
	return nil
}

func (sh *shell) cmdStatus(ctx context.Context, w io.Writer, args []string) error {
	st, err := sh.cli.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s\n", st)
	return nil
}

func (sh *shell) cmdConfig(ctx context.Context, w io.Writer, args []string) error {
	cfg, err := sh.cli.DetectorConfig(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func (sh *shell) cmdExposure(ctx context.Context, w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: exposure <seconds>")
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("could not parse exposure %q: %w", args[0], err)
	}
	return sh.cli.SetExposure(ctx, v)
}

func (sh *shell) cmdPort(ctx context.Context, w io.Writer, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: port <count|tot|toa|tof>")
	}
	mode, err := serval.ParsePortMode(args[0])
	if err != nil {
		return err
	}
	return sh.cli.SetDestination(ctx, serval.NewDestination(sh.host, sh.ports, mode, true))
}

func (sh *shell) cmdInit(ctx context.Context, w io.Writer, args []string) error {
	if len(args) != 2 && len(args) != 3 {
		return fmt.Errorf("usage: init <bpc> <dacs> [ntrig]")
	}
	ntrig := 1
	if len(args) == 3 {
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("could not parse number of triggers %q: %w", args[2], err)
		}
		ntrig = v
	}
	for _, f := range []struct {
		format, fname string
	}{
		{serval.PixelConfig, args[0]},
		{serval.DACs, args[1]},
	} {
		reply, err := sh.cli.LoadConfig(ctx, f.format, f.fname)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, reply)
	}
	return sh.cli.AcqInit(ctx, ntrig)
}

func (sh *shell) cmdStart(ctx context.Context, w io.Writer, args []string) error {
	return sh.cli.Start(ctx)
}

func (sh *shell) cmdStop(ctx context.Context, w io.Writer, args []string) error {
	return sh.cli.Stop(ctx)
}

func (sh *shell) cmdHelp(ctx context.Context, w io.Writer, args []string) error {
	names := make([]string, 0, len(sh.cmds))
	for name := range sh.cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%-10s %s\n", name, sh.cmds[name].help)
	}
	return nil
}
