//go:build unix

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// dualStack clears IPV6_V6ONLY on wildcard IPv6 sockets so IPv4 peers
// arrive as v4-mapped addresses on the same socket.
func dualStack(network, _ string, c syscall.RawConn) error {
	if network != "udp6" {
		return nil
	}
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
	}); err != nil {
		return err
	}
	return serr
}
