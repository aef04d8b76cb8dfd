package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ParseCommand classifies a single command byte.
func ParseCommand(b byte) Command {
	switch b {
	case CmdOff:
		return CommandOff
	case CmdOn:
		return CommandOn
	case CmdGet:
		return CommandGet
	default:
		return CommandUnknown
	}
}

// ParseState decodes a state reply byte.
func ParseState(b byte) (State, error) {
	switch b {
	case StateByteOff:
		return Off, nil
	case StateByteOn:
		return On, nil
	default:
		return Off, fmt.Errorf("%w: %s", ErrInvalidState, Hex(b))
	}
}

// StateFromCommand returns the state an ON or OFF command sets.
func StateFromCommand(c Command) (State, bool) {
	switch c {
	case CommandOn:
		return On, true
	case CommandOff:
		return Off, true
	default:
		return Off, false
	}
}

// ReadCommand performs one read of up to bufSize bytes and classifies the
// first byte. A peer that closes without sending yields CommandEmpty and a
// nil error. The raw bytes read are returned for logging.
func ReadCommand(r io.Reader, bufSize int) (Command, []byte, error) {
	if bufSize <= 0 {
		bufSize = ReceiveBufferSize
	}

	buf := make([]byte, bufSize)
	n, err := r.Read(buf)
	if n > 0 {
		return ParseCommand(buf[0]), buf[:n], nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return CommandEmpty, nil, nil
	}
	return CommandEmpty, nil, fmt.Errorf("failed to read command: %w", err)
}
