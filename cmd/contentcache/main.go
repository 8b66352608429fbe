// Package main provides the contentcache command.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmgilman/go/contentcache/internal/cli"
)

func main() {
	fs := flag.NewFlagSet("contentcache", flag.ContinueOnError)
	cfg, err := cli.ParseConfig(fs, os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		cli.WriteError(os.Stderr, err, false)
		os.Exit(cli.ExitCode(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := cli.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		cli.WriteError(os.Stderr, err, cfg.JSON)
		cancel()
		stop()
		os.Exit(cli.ExitCode(err))
	}
}
