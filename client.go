package sigsock

import (
	"context"
	"net"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// Connect closes any socket from a previous role and dials addr. Transient
// failures (refused, reset, unreachable, timeouts) are retried with the
// configured backoff until the attempts are exhausted; any other failure, such
// as an unknown host, stops immediately. The returned error is a
// *ConnectError. A Close or a new Listen or Connect while dialing stops it
// with ErrConnectionClosed. An empty addr means DefaultAddr.
func (c *Conn) Connect(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.resetLocked()
	c.role = RoleClient
	c.cancelDial = cancel
	gen := c.gen
	c.mu.Unlock()

	var (
		dialer   net.Dialer
		peer     *net.TCPConn
		attempts int
	)

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.connectBackoff), uint64(c.opts.connectRetries-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		attempts++
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !transient(err) {
				c.opts.metrics.connectAttempt("fatal")
				return backoff.Permanent(err)
			}
			c.opts.metrics.connectAttempt("retry")
			c.logger.Info("failed to connect, try again", "addr", addr, "attempt", attempts, "error", err)
			return err
		}
		peer = conn.(*net.TCPConn)
		return nil
	}, policy)
	if err != nil {
		c.mu.Lock()
		superseded := c.gen != gen
		if !superseded {
			c.cancelDial = nil
		}
		c.mu.Unlock()

		if superseded {
			return ErrConnectionClosed
		}
		c.logger.Error("connect failed", "addr", addr, "attempts", attempts, "error", err)
		return &ConnectError{Addr: addr, Attempts: attempts, Err: err}
	}
	c.opts.metrics.connectAttempt("ok")

	c.mu.Lock()
	defer c.mu.Unlock()

	// closed or reopened while dialing
	if c.gen != gen {
		_ = peer.Close()
		return ErrConnectionClosed
	}
	c.cancelDial = nil
	c.attachLocked(peer, RoleClient)

	c.logger.Info("client connected", "addr", addr, "attempts", attempts)
	return nil
}

// transient reports whether a dial error may clear up once the server is up.
func transient(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
