// Package network implements the relay endpoints: one TCP listener per
// emulated device port and the one-command-per-connection handler.
package network

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/relaybench/relaybench/internal/protocol"
)

// Cell is the state a connection handler is allowed to read and mutate.
// Each endpoint is handed exactly one cell.
type Cell interface {
	State() protocol.State
	Version() uint64
	// Apply records cmd from remote as one atomic step. ON and OFF store the
	// new state and bump the version; every command bumps its counter.
	// It returns the state before and after, and the resulting version.
	Apply(cmd protocol.Command, remote string) (prev, cur protocol.State, version uint64)
}

// HandlerOptions tune the single read and optional reply of a connection.
type HandlerOptions struct {
	// ReadTimeout bounds the wait for the command byte. Zero blocks until the
	// peer sends or closes.
	ReadTimeout time.Duration
	// WriteTimeout bounds the GET reply. Zero blocks until flushed.
	WriteTimeout time.Duration
	BufferSize   int
}

// Result describes what HandleConn did with one connection.
type Result struct {
	ConnID   string
	Remote   string
	Command  protocol.Command
	Raw      []byte
	State    protocol.State
	Previous protocol.State
	Changed  bool
	Replied  bool
	Version  uint64
	Err      error
}

// HandleConn serves exactly one relay transaction on conn and closes it:
// read one command, apply it to cell, reply to GET with one state byte.
// Unknown bytes and empty reads leave the cell untouched and get no reply.
func HandleConn(conn net.Conn, cell Cell, opts HandlerOptions) Result {
	defer conn.Close()

	res := Result{
		ConnID: uuid.NewString(),
		Remote: conn.RemoteAddr().String(),
	}

	if opts.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	}

	cmd, raw, err := protocol.ReadCommand(conn, opts.BufferSize)
	if err != nil {
		res.Command = protocol.CommandEmpty
		res.Err = err
		res.State = cell.State()
		res.Previous = res.State
		res.Version = cell.Version()
		return res
	}
	res.Command = cmd
	res.Raw = raw

	// GET applies at reply time, not at accept time.
	res.Previous, res.State, res.Version = cell.Apply(cmd, res.Remote)
	res.Changed = cmd.IsMutation() && res.Previous != res.State

	if cmd == protocol.CommandGet {
		if opts.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(opts.WriteTimeout))
		}
		if _, err := conn.Write(protocol.BuildStateReply(res.State)); err != nil {
			res.Err = fmt.Errorf("failed to write state reply: %w", err)
		} else {
			res.Replied = true
		}
	}

	return res
}
