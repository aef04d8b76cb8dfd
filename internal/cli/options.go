// Package cli implements the relay client's command-line surface and the
// status tables printed by the relay server.
package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/relaybench/relaybench/internal/protocol"
)

// NoModeMessage is printed when neither repeating nor single-command mode was selected.
const NoModeMessage = "Please specify --interval, --on, --off, or --get."

// ErrUsage marks invalid command-line input.
var ErrUsage = errors.New("usage error")

// Mode selects how the client drives the device.
type Mode int

const (
	ModeNone Mode = iota
	ModeRepeat
	ModeSingle
)

// Options are the parsed client flags.
type Options struct {
	IP       string
	Port     int
	Interval time.Duration
	Command  protocol.Command
	Mode     Mode
	LogLevel string
}

// Addr returns the device address as host:port.
func (o Options) Addr() string {
	return net.JoinHostPort(o.IP, strconv.Itoa(o.Port))
}

// Parse parses the client flags. Help output and flag errors go to output.
// It returns pflag.ErrHelp when --help was requested.
func Parse(args []string, output io.Writer) (Options, error) {
	var (
		opts     Options
		interval float64
		on       bool
		off      bool
		get      bool
	)

	fs := pflag.NewFlagSet("relayclient", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.IP, "ip", "", "The IP address of the relay device (required).")
	fs.IntVar(&opts.Port, "port", 0, "The port number of the relay device (required).")
	fs.Float64Var(&interval, "interval", 0, "Seconds between alternating 0x00 and 0x01 commands; enables repeating mode.")
	fs.BoolVar(&on, "on", false, "Send 0x01 to turn the device on.")
	fs.BoolVar(&off, "off", false, "Send 0x00 to turn the device off.")
	fs.BoolVar(&get, "get", false, "Send 0x03 and print the current state.")
	fs.StringVar(&opts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error).")
	fs.SortFlags = false

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return opts, err
		}
		return opts, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if fs.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}
	if !fs.Changed("ip") || opts.IP == "" {
		return opts, fmt.Errorf("%w: --ip is required", ErrUsage)
	}
	if !fs.Changed("port") {
		return opts, fmt.Errorf("%w: --port is required", ErrUsage)
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return opts, fmt.Errorf("%w: invalid port %d", ErrUsage, opts.Port)
	}

	selected := 0
	for _, set := range []bool{on, off, get} {
		if set {
			selected++
		}
	}
	repeat := fs.Changed("interval")

	switch {
	case repeat && selected > 0:
		return opts, fmt.Errorf("%w: --interval cannot be combined with --on, --off or --get", ErrUsage)
	case selected > 1:
		return opts, fmt.Errorf("%w: --on, --off and --get are mutually exclusive", ErrUsage)
	case repeat:
		if interval < 0 {
			return opts, fmt.Errorf("%w: --interval must not be negative", ErrUsage)
		}
		opts.Mode = ModeRepeat
		opts.Interval = time.Duration(interval * float64(time.Second))
	case on:
		opts.Mode, opts.Command = ModeSingle, protocol.CommandOn
	case off:
		opts.Mode, opts.Command = ModeSingle, protocol.CommandOff
	case get:
		opts.Mode, opts.Command = ModeSingle, protocol.CommandGet
	}

	return opts, nil
}
