// Command qrate runs shell commands read from stdin, or scheduled by a
// config file, through a bounded, optionally rate-limited queue.
//
//	qrate -c 4 -r 2 < commands.txt
//	qrate -config qrate.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mattn/go-isatty"

	"github.com/glynnbird/qrate/internal/app"
)

func main() {
	var (
		cfgPath string
		ov      app.Overrides
		noStdin bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml)")
	flag.IntVar(&ov.Concurrency, "c", 0, "number of commands to run at once (default 1)")
	flag.IntVar(&ov.RateLimit, "r", 0, "maximum commands started per rate period (0 = unlimited)")
	flag.StringVar(&ov.RatePeriod, "p", "", "rate period, e.g. 1s or 1m (default 1s)")
	flag.StringVar(&ov.Level, "level", "", "log level: trace, debug, info, warn or error")
	flag.BoolVar(&noStdin, "no-stdin", false, "do not read commands from stdin")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := app.Options{ConfigPath: cfgPath, Overrides: ov}
	if !noStdin {
		if isatty.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(os.Stderr, "qrate: reading commands from the terminal, one per line (Ctrl-D to finish)")
		}
		opts.Stdin = os.Stdin
	}

	a, err := app.New(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	err = a.Run(ctx)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if a.Failed() > 0 {
		os.Exit(1)
	}
}
