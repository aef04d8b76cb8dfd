package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/relaybench/relaybench/internal/client"
	"github.com/relaybench/relaybench/internal/protocol"
)

// Run executes the parsed options against the device and reports each step
// on out. Errors are returned unreported so the caller decides the exit code.
func Run(ctx context.Context, opts Options, driver *client.Driver, out io.Writer) error {
	addr := opts.Addr()

	switch opts.Mode {
	case ModeRepeat:
		fmt.Fprintf(out, "Sending 0x00/0x01 to %s every %s\n", addr, opts.Interval)
		return driver.Repeat(ctx, addr, opts.Interval, func(res client.Result) {
			fmt.Fprintf(out, "Sent: %s\n", protocol.Hex(res.Sent))
		})

	case ModeSingle:
		res, err := driver.Send(ctx, addr, opts.Command)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Connected to %s\n", addr)
		fmt.Fprintf(out, "Sent: %s\n", protocol.Hex(res.Sent))
		if opts.Command == protocol.CommandGet {
			fmt.Fprintf(out, "Received: %s (%s)\n", protocol.Hex(res.Reply), res.State)
		}
		return nil

	default:
		fmt.Fprintln(out, NoModeMessage)
		return nil
	}
}
