package protocol

import "fmt"

// BuildCommand returns the one-byte payload for an OFF, ON or GET command.
func BuildCommand(c Command) ([]byte, error) {
	b, ok := c.Byte()
	if !ok {
		return nil, fmt.Errorf("command %s has no wire representation", c)
	}
	return []byte{b}, nil
}

// BuildStateReply returns the one-byte reply to a GET command.
func BuildStateReply(s State) []byte {
	return []byte{s.Byte()}
}
