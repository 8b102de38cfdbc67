package util

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreeUDPPortPair returns a port p such that both p and p+1 were
// bindable on the loopback interface at the time of the call.  AppleMIDI
// needs the data port directly above the control port.
func FindFreeUDPPortPair() (int, error) {
	for i := 0; i < 32; i++ {
		c, err := net.ListenPacket("udp", "127.0.0.1:0")
		if err != nil {
			return 0, fmt.Errorf("finding free port: %w", err)
		}
		port := c.LocalAddr().(*net.UDPAddr).Port
		if port >= 65535 {
			c.Close()
			continue
		}
		d, err := net.ListenPacket("udp", FormatAddr("127.0.0.1", port+1))
		c.Close()
		if err != nil {
			continue
		}
		d.Close()
		return port, nil
	}
	return 0, fmt.Errorf("finding free port pair: no adjacent ports available")
}

// IsTimeout reports whether err is a read/write deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
