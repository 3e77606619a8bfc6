package sigsock

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Run is the receive loop. It reads signals in arrival order and calls the
// handler registered in d, reading the data or image frame the handler
// expects first. Unknown signal names are logged and skipped.
//
// Run returns nil when the termination signal arrives or the Conn is closed
// locally (Close, Terminate, or a new Serve, Listen, Accept or Connect taking
// over the Conn). It returns ctx.Err() when ctx is cancelled, and
// a *ProtocolError for a stream failure, a desynchronized stream or a handler
// error. The peer the loop started on is closed in every case.
func (c *Conn) Run(ctx context.Context, d *Dispatcher) error {
	s := c.current()
	if s == nil || c.State() != StateOpen {
		return ErrNotOpen
	}
	if d == nil {
		d = NewDispatcher()
	}

	c.logger.Info("receive loop started", "role", c.Role(), "remote_addr", c.Addr(), "handlers", d.Len())

	ctx, cancel := context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	// closing the socket is the only way to interrupt a blocked read
	group.Go(func() error {
		<-child.Done()
		return c.closeSession(s)
	})

	group.Go(func() error {
		defer cancel()
		return c.receiveLoop(ctx, s, d)
	})

	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("receive loop stopped with error", "error", err)
	} else {
		c.logger.Info("receive loop stopped")
	}

	return err
}

func (c *Conn) receiveLoop(ctx context.Context, s *session, d *Dispatcher) error {
	for {
		f, err := c.receive(s)
		if err != nil {
			return loopExit(ctx, s, err)
		}

		if f.Kind != KindSignal {
			return c.abort(s, errors.Wrapf(ErrExpectedSignal, "got %s frame", f.Kind))
		}

		if f.Signal == TerminateSignal {
			c.logger.Info("termination signal received")
			c.opts.metrics.dispatch("terminate", 0)
			_ = c.closeSession(s)
			return nil
		}

		h, ok := d.Lookup(f.Signal)
		if !ok {
			c.logger.Warn("no handler for signal", "signal", f.Signal)
			c.opts.metrics.dispatch("unknown", 0)
			continue
		}

		if err := c.dispatch(ctx, s, f.Signal, h); err != nil {
			return err
		}
	}
}

// dispatch reads the frame h expects, if any, and invokes h.
func (c *Conn) dispatch(ctx context.Context, s *session, signal string, h Handler) error {
	var payload Frame
	if want := h.follows(); want != 0 {
		f, err := c.receive(s)
		if err != nil {
			return loopExit(ctx, s, err)
		}
		if f.Kind != want {
			sentinel := ErrExpectedData
			if want == KindImage {
				sentinel = ErrExpectedImage
			}
			return c.abort(s, errors.Wrapf(sentinel, "signal %s followed by %s frame", signal, f.Kind))
		}
		payload = f
	}

	c.logger.Debug("dispatch signal", "signal", signal)

	start := time.Now()
	var err error
	switch fn := h.(type) {
	case SignalHandler:
		err = fn()
	case DataHandler:
		err = fn(payload.Data)
	case ImageHandler:
		err = fn(payload.Image)
	}
	elapsed := time.Since(start)

	if err != nil {
		c.opts.metrics.dispatch("error", elapsed)
		return c.abort(s, &HandlerError{Signal: signal, Err: err})
	}
	c.opts.metrics.dispatch("ok", elapsed)
	return nil
}

// loopExit maps a receive failure to the value Run returns.
func loopExit(ctx context.Context, s *session, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.local.Load() {
		return nil
	}
	return err
}

// abort closes the connection after a protocol violation found by the loop.
func (c *Conn) abort(s *session, err error) error {
	c.fail(s, "dispatch", err)
	return &ProtocolError{Op: "dispatch", Err: err}
}

// Terminate sends the termination signal and closes the connection. A Run
// loop on this side returns nil.
func (c *Conn) Terminate() error {
	err := c.SendSignal(TerminateSignal)
	if cerr := c.Close(); err == nil {
		err = cerr
	}
	return err
}
