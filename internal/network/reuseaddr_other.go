//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config on platforms
// without a dedicated implementation.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
