package sigsock

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Listen closes any socket from a previous role, then binds addr and listens.
// It does not accept; call Accept, or use Serve for both steps. An empty addr
// means DefaultAddr.
func (c *Conn) Listen(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "resolve %s", addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()

	listener, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	c.listener = listener
	c.role = RoleServer

	c.logger.Info("server listening", "addr", listener.Addr())
	return nil
}

// ListenAddr returns the bound address of the listening socket, or nil.
func (c *Conn) ListenAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Accept blocks until a single peer connects, or ctx is done. A peer accepted
// earlier on the same listener is closed first: one peer at a time.
func (c *Conn) Accept(ctx context.Context) error {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	if listener == nil {
		return ErrNotOpen
	}

	// clear a deadline left by an earlier cancelled Accept
	_ = listener.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = listener.SetDeadline(time.Now())
	})
	defer stop()

	peer, err := listener.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return ErrConnectionClosed
		}
		c.logger.Error("accept error", "error", err)
		return errors.Wrap(err, "accept")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != listener {
		_ = peer.Close()
		return ErrConnectionClosed
	}
	if c.sess != nil {
		c.sess.end()
		c.logger.Info("closed previous connection", "remote_addr", c.sess.peer.RemoteAddr())
	}
	c.attachLocked(peer, RoleServer)

	c.logger.Info("server connected", "remote_addr", peer.RemoteAddr())
	return nil
}

// Serve listens on addr and accepts exactly one peer. Calling Serve again
// closes the previous listener and peer before rebinding.
func (c *Conn) Serve(ctx context.Context, addr string) error {
	if err := c.Listen(addr); err != nil {
		return err
	}
	return c.Accept(ctx)
}
