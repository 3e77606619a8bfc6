// Package sigsock implements a typed-frame message channel between two
// processes over a single TCP connection. Frames are signals (fixed-width
// names), JSON data values and PNG images; a receive loop dispatches signals to
// registered handlers in arrival order.
package sigsock

import (
	"context"
	"image"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role tells whether a Conn accepted its peer or dialed it.
type Role int

const (
	RoleNone Role = iota
	RoleServer
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "none"
	}
}

// session is one accepted or dialed peer. Failures and the receive loop only
// tear down the session they were started on.
type session struct {
	peer   *net.TCPConn
	reader *ExactReader
	local  atomic.Bool // ended by Close, Terminate or a reopen rather than a failure
}

func (s *session) end() {
	s.local.Store(true)
	_ = s.peer.Close()
}

// Conn is one end of the channel. It owns the peer socket and, in the server
// role, the listening socket. Send methods are safe for concurrent use; frames
// are never interleaved. Only one goroutine may receive, normally Run.
type Conn struct {
	id     string
	logger Logger
	opts   options

	mu       sync.Mutex
	listener *net.TCPListener
	sess     *session
	role     Role
	gen      uint64 // bumped by every reset and Close

	cancelDial context.CancelFunc // set while Connect is dialing

	sendMu sync.Mutex
	state  atomic.Int32
}

// New creates an unopened Conn. Open it with Serve, Listen and Accept, or Connect.
func New(opt ...Option) *Conn {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)

	id := ulid.Make().String()
	return &Conn{
		id:     id,
		logger: connLogger{Logger: opts.logger, id: id},
		opts:   opts,
	}
}

// ID returns the connection id used in log records.
func (c *Conn) ID() string {
	return c.id
}

// State returns the lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.State() == StateClosed
}

// Role returns the role of the most recent Serve, Listen or Connect.
func (c *Conn) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Addr returns the remote address of the peer, or nil when not open.
func (c *Conn) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil
	}
	return c.sess.peer.RemoteAddr()
}

// resetLocked closes any socket left from a previous role.
// A receive loop still running on the old peer returns nil.
func (c *Conn) resetLocked() {
	if c.sess != nil {
		c.sess.end()
		c.logger.Info("closed previous connection", "role", c.role)
	}
	if c.listener != nil {
		_ = c.listener.Close()
		c.logger.Info("closed previous listener", "addr", c.listener.Addr())
	}
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.sess, c.listener = nil, nil
	c.role = RoleNone
	c.gen++
	c.state.Store(int32(StateUnopened))
}

func (c *Conn) attachLocked(peer *net.TCPConn, role Role) {
	_ = peer.SetNoDelay(true)
	c.sess = &session{
		peer:   peer,
		reader: NewExactReader(peer, c.opts.recvBufferSize, c.opts.readTimeout),
	}
	c.role = role
	c.state.Store(int32(StateOpen))
}

// current returns the attached session, or nil.
func (c *Conn) current() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// closeLocked closes both sockets. It reports false when nothing was open.
func (c *Conn) closeLocked() (bool, error) {
	if c.sess == nil && c.listener == nil {
		return false, nil
	}

	var err error
	if c.sess != nil {
		err = c.sess.peer.Close()
	}
	if c.listener != nil {
		if lerr := c.listener.Close(); err == nil {
			err = lerr
		}
	}
	c.sess, c.listener = nil, nil
	c.state.Store(int32(StateClosed))
	return true, err
}

// Close closes the peer socket and, in the server role, the listening socket.
// Closing an already closed Conn is a no-op. A receive blocked on the socket
// fails and Run returns. A Connect still dialing gives up.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.gen++
	if c.sess != nil {
		c.sess.local.Store(true)
	}
	closed, err := c.closeLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
		c.state.Store(int32(StateClosed))
	}
	c.mu.Unlock()

	if closed {
		c.logger.Info("connection closed", "error", err)
	}
	return err
}

// closeSession closes the Conn if s is still its session.
func (c *Conn) closeSession(s *session) error {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return nil
	}
	s.local.Store(true)
	closed, err := c.closeLocked()
	c.mu.Unlock()

	if closed {
		c.logger.Info("connection closed", "error", err)
	}
	return err
}

// fail closes the connection after a receive or send failure on s and logs
// the cause at a level matching its severity. A session already replaced by
// a newer one leaves the Conn alone.
func (c *Conn) fail(s *session, op string, err error) {
	closed := false
	c.mu.Lock()
	if s != nil && c.sess == s {
		closed, _ = c.closeLocked()
	}
	c.mu.Unlock()

	if !closed {
		c.logger.Debug("operation failed on closed connection", "op", op, "error", err)
		return
	}

	reason := failureReason(err)
	c.opts.metrics.protocolError(reason)

	switch reason {
	case "closed":
		c.logger.Info("peer closed connection", "op", op)
	case "closed_mid_frame", "timeout":
		c.logger.Warn("connection failed", "op", op, "reason", reason, "error", err)
	default:
		c.logger.Error("connection failed", "op", op, "reason", reason, "error", err)
	}
}

func failureReason(err error) string {
	var ce *ClosedError
	switch {
	case errors.As(err, &ce):
		if ce.MidFrame() {
			return "closed_mid_frame"
		}
		return "closed"
	case errors.Is(err, ErrReadTimeout), errors.Is(err, ErrWriteTimeout):
		return "timeout"
	case errors.Is(err, ErrUnknownFrameKind),
		errors.Is(err, ErrInvalidLength),
		errors.Is(err, ErrInvalidSignal),
		errors.Is(err, ErrSerialization),
		errors.Is(err, ErrMessageTooLarge),
		errors.Is(err, ErrExpectedSignal),
		errors.Is(err, ErrExpectedData),
		errors.Is(err, ErrExpectedImage):
		return "desync"
	case errors.Is(err, ErrHandler):
		return "handler"
	default:
		return "io"
	}
}

// outFrame is one encoded frame waiting to be written.
type outFrame struct {
	kind  Kind
	bytes []byte
}

// SendSignal writes a signal frame.
func (c *Conn) SendSignal(name string) error {
	b, err := EncodeSignal(name)
	if err != nil {
		return err
	}
	return c.send(outFrame{KindSignal, b})
}

// SendData writes v as a data frame.
func (c *Conn) SendData(v any) error {
	b, err := EncodeData(v)
	if err != nil {
		return err
	}
	return c.send(outFrame{KindData, b})
}

// SendImage writes img as a PNG image frame.
func (c *Conn) SendImage(img image.Image) error {
	b, err := EncodeImage(img)
	if err != nil {
		return err
	}
	return c.send(outFrame{KindImage, b})
}

// SendSignalData writes a signal followed by one data frame per value in a
// single write, so no frame from another sender can land between them.
func (c *Conn) SendSignalData(name string, values ...any) error {
	frames := make([]outFrame, 0, len(values)+1)

	b, err := EncodeSignal(name)
	if err != nil {
		return err
	}
	frames = append(frames, outFrame{KindSignal, b})

	for _, v := range values {
		b, err := EncodeData(v)
		if err != nil {
			return err
		}
		frames = append(frames, outFrame{KindData, b})
	}
	return c.send(frames...)
}

// SendSignalImage writes a signal followed by an image frame in a single write.
func (c *Conn) SendSignalImage(name string, img image.Image) error {
	sig, err := EncodeSignal(name)
	if err != nil {
		return err
	}
	pic, err := EncodeImage(img)
	if err != nil {
		return err
	}
	return c.send(outFrame{KindSignal, sig}, outFrame{KindImage, pic})
}

// send writes frames with one Write call under the send lock.
func (c *Conn) send(frames ...outFrame) error {
	var data []byte
	if len(frames) == 1 {
		data = frames[0].bytes
	} else {
		size := 0
		for _, f := range frames {
			size += len(f.bytes)
		}
		data = make([]byte, 0, size)
		for _, f := range frames {
			data = append(data, f.bytes...)
		}
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	s, state := c.sess, c.State()
	c.mu.Unlock()

	switch {
	case state == StateClosed:
		return ErrConnectionClosed
	case s == nil:
		return ErrNotOpen
	}
	peer := s.peer

	if c.opts.writeTimeout > 0 {
		_ = peer.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))
	}

	if _, err := peer.Write(data); err != nil {
		err = classifyWrite(err)
		c.fail(s, "send", err)
		return err
	}

	for _, f := range frames {
		c.opts.metrics.frameSent(f.kind, len(f.bytes))
	}
	return nil
}

func classifyWrite(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrConnectionClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return errors.Wrap(ErrWriteTimeout, "send")
	}
	return errors.Wrap(err, "send")
}

// ReceiveFrame reads the next frame. Any failure closes the connection and is
// returned as a *ProtocolError. It must not be called concurrently with itself
// or with Run.
func (c *Conn) ReceiveFrame() (Frame, error) {
	c.mu.Lock()
	s, state := c.sess, c.State()
	c.mu.Unlock()

	switch {
	case state == StateClosed:
		return Frame{}, &ProtocolError{Op: "receive", Err: ErrConnectionClosed}
	case s == nil:
		return Frame{}, &ProtocolError{Op: "receive", Err: ErrNotOpen}
	}
	return c.receive(s)
}

// receive reads the next frame from s.
func (c *Conn) receive(s *session) (Frame, error) {
	before := s.reader.Count()
	f, err := ReadFrame(s.reader, c.opts.maxReadLength)
	if err != nil {
		c.fail(s, "receive", err)
		return Frame{}, &ProtocolError{Op: "receive", Err: err}
	}

	c.opts.metrics.frameReceived(f.Kind, s.reader.Count()-before)
	return f, nil
}
