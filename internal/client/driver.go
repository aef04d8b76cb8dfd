// Package client drives a relay device over the single-byte protocol. Every
// command is its own connect, send, close cycle.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/protocol"
)

const (
	// DefaultCloseDelay gives the device time to process the byte before the
	// connection is torn down.
	DefaultCloseDelay  = 100 * time.Millisecond
	DefaultDialTimeout = 10 * time.Second
)

// ErrNoReply is returned when the device closes a GET connection without
// sending a state byte.
var ErrNoReply = errors.New("device closed the connection without a state reply")

// Result is the outcome of one command transaction.
type Result struct {
	Addr    string
	Command protocol.Command
	Sent    byte
	// State and Reply are set for GET only.
	State protocol.State
	Reply byte
}

// Driver sends relay commands. The zero value is usable.
type Driver struct {
	// DialTimeout bounds connection establishment. Zero uses DefaultDialTimeout.
	DialTimeout time.Duration
	// ReplyTimeout bounds the wait for a GET reply. Zero blocks until the
	// device answers or closes.
	ReplyTimeout time.Duration
	// CloseDelay is waited after the exchange before closing. Negative disables it.
	CloseDelay time.Duration
}

// NewDriver returns a Driver with the default close delay.
func NewDriver() *Driver {
	return &Driver{CloseDelay: DefaultCloseDelay}
}

// Send performs one transaction: connect to addr, write the command byte,
// read one reply byte for GET, then close.
func (d *Driver) Send(ctx context.Context, addr string, cmd protocol.Command) (Result, error) {
	res := Result{Addr: addr, Command: cmd}

	payload, err := protocol.BuildCommand(cmd)
	if err != nil {
		return res, err
	}
	res.Sent = payload[0]

	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return res, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	log.Debug().Str("addr", addr).Msg("connected")

	// Unblock a pending read or write when ctx is cancelled mid-transaction.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(payload); err != nil {
		return res, fmt.Errorf("failed to send %s to %s: %w", protocol.Hex(res.Sent), addr, err)
	}

	if cmd == protocol.CommandGet {
		if d.ReplyTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(d.ReplyTimeout))
		}
		reply := make([]byte, 1)
		if _, err := io.ReadFull(conn, reply); err != nil {
			if errors.Is(err, io.EOF) {
				return res, fmt.Errorf("%s: %w", addr, ErrNoReply)
			}
			return res, fmt.Errorf("failed to read state from %s: %w", addr, err)
		}
		res.Reply = reply[0]
		state, err := protocol.ParseState(reply[0])
		if err != nil {
			return res, fmt.Errorf("device at %s replied: %w", addr, err)
		}
		res.State = state
	}

	if d.CloseDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(d.CloseDelay):
		}
	}

	return res, nil
}

// Observer is notified after every successful send in repeating mode.
type Observer func(res Result)

// Repeat alternates OFF and ON at interval until ctx is cancelled, opening a
// new connection for every command. The first failure ends the loop and is
// returned; there is no retry. Cancellation returns nil.
func (d *Driver) Repeat(ctx context.Context, addr string, interval time.Duration, observe Observer) error {
	if interval < 0 {
		return fmt.Errorf("invalid interval %s", interval)
	}

	sequence := [...]protocol.Command{protocol.CommandOff, protocol.CommandOn}
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			return nil
		}

		res, err := d.Send(ctx, addr, sequence[i%len(sequence)])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if observe != nil {
			observe(res)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
