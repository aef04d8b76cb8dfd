// Package protocol implements the single-byte relay command protocol spoken
// between relay clients and switch devices. A client writes exactly one
// command byte per connection; only GET is answered, with one state byte.
package protocol

import (
	"errors"
	"fmt"
)

// Command bytes sent from client to device.
const (
	CmdOff byte = 0x00 // Turn the relay off
	CmdOn  byte = 0x01 // Turn the relay on
	CmdGet byte = 0x03 // Query the relay state
)

// State bytes sent from device to client in reply to CmdGet.
const (
	StateByteOff byte = 0x00
	StateByteOn  byte = 0x01
)

// ReceiveBufferSize is the size of the single read a device performs per
// connection. Only the first byte is meaningful.
const ReceiveBufferSize = 1024

// ErrInvalidState is returned when a state reply byte is neither 0x00 nor 0x01.
var ErrInvalidState = errors.New("invalid state byte")

// Command is a classified command byte.
type Command int

const (
	CommandEmpty Command = iota // connection closed before any byte arrived
	CommandOff
	CommandOn
	CommandGet
	CommandUnknown
)

var commandStrings = map[Command]string{
	CommandEmpty:   "empty",
	CommandOff:     "off",
	CommandOn:      "on",
	CommandGet:     "get",
	CommandUnknown: "unknown",
}

// String returns the lowercase name of the command.
func (c Command) String() string {
	if s, ok := commandStrings[c]; ok {
		return s
	}
	return "unknown"
}

// MarshalJSON serializes Command as a JSON string (e.g. "on").
func (c Command) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// Byte returns the wire byte for OFF, ON and GET. It reports false for
// commands that have no wire representation.
func (c Command) Byte() (byte, bool) {
	switch c {
	case CommandOff:
		return CmdOff, true
	case CommandOn:
		return CmdOn, true
	case CommandGet:
		return CmdGet, true
	default:
		return 0, false
	}
}

// IsMutation reports whether the command changes the relay state.
func (c Command) IsMutation() bool {
	return c == CommandOff || c == CommandOn
}

// State is the binary relay state.
type State bool

const (
	Off State = false
	On  State = true
)

// String returns "on" or "off".
func (s State) String() string {
	if s {
		return "on"
	}
	return "off"
}

// MarshalJSON serializes State as a JSON string.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Byte returns the wire byte of the state.
func (s State) Byte() byte {
	if s {
		return StateByteOn
	}
	return StateByteOff
}

// Hex formats a byte the way operators read it on the console ("0x01").
func Hex(b byte) string {
	return fmt.Sprintf("0x%02x", b)
}
