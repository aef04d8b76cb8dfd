// relayclient drives a relay device (or relayserver) over its single-byte
// TCP protocol: alternate OFF/ON on an interval, or send one command.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/relaybench/relaybench/internal/cli"
	"github.com/relaybench/relaybench/internal/client"
	"github.com/relaybench/relaybench/internal/util"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := cli.Parse(args, os.Stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	util.InitConsoleLogger(os.Stderr, opts.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Debug().
		Str("addr", opts.Addr()).
		Dur("interval", opts.Interval).
		Str("command", opts.Command.String()).
		Msg("relay client starting")

	if err := cli.Run(ctx, opts, client.NewDriver(), os.Stdout); err != nil {
		log.Error().Err(err).Str("addr", opts.Addr()).Msg("relay command failed")
		return exitFailure
	}

	if opts.Mode == cli.ModeRepeat {
		log.Info().Msg("stopped")
	}
	return exitOK
}
