// Package transport binds the AppleMIDI socket pair.  The data port is
// always the control port plus one, and both sockets accept IPv4 and
// IPv6 peers.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	rerrors "rtpmidid/internal/errors"
	"rtpmidid/internal/retry"
	"rtpmidid/util"
)

// Pair is a bound control/data socket pair.
type Pair struct {
	Control *net.UDPConn
	Data    *net.UDPConn
}

// ControlPort returns the port the control socket is bound to.
func (p *Pair) ControlPort() int {
	return p.Control.LocalAddr().(*net.UDPAddr).Port
}

// Close closes both sockets.
func (p *Pair) Close() error {
	return rerrors.Join(p.Control.Close(), p.Data.Close())
}

// ListenPair binds host:port and host:port+1.  An empty host means all
// interfaces, dual-stack where the kernel allows it.
func ListenPair(ctx context.Context, host string, port int) (*Pair, error) {
	if port < 1 || port > 65534 {
		return nil, fmt.Errorf("control port %d out of range 1-65534", port)
	}
	control, err := listen(ctx, util.FormatAddr(host, port))
	if err != nil {
		return nil, err
	}
	data, err := listen(ctx, util.FormatAddr(host, port+1))
	if err != nil {
		control.Close()
		return nil, err
	}
	return &Pair{Control: control, Data: data}, nil
}

// ListenPairRetry is ListenPair retried with b while the ports are still
// held, typically by a predecessor that is shutting down.  Any other
// bind failure ends the attempt immediately.
func ListenPairRetry(ctx context.Context, host string, port int, b *retry.Backoff, logger *util.Logger) (*Pair, error) {
	bo := *b
	bo.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Verbose("bind attempt %d: %v (retrying in %v)", attempt, err, wait.Round(time.Millisecond))
	}

	var pair *Pair
	err := bo.Do(ctx, func(_ int) error {
		p, err := ListenPair(ctx, host, port)
		if err != nil {
			if !rerrors.IsRetryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		pair = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

func listen(ctx context.Context, addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: dualStack}
	pc, err := lc.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, rerrors.Wrap("listen", addr, err)
	}
	return pc.(*net.UDPConn), nil
}
