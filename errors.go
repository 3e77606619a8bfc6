package sigsock

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errors caused by local misuse. They are returned to the caller of a Send
// method and leave the connection open.
var (
	// ErrInvalidSignal is returned when a signal name is empty, too long or
	// contains a byte outside printable ASCII (the pad byte included).
	ErrInvalidSignal = errors.New("invalid signal name")
	// ErrReservedSignal is returned when registering a handler for the
	// termination signal.
	ErrReservedSignal = errors.New("reserved signal name")
	// ErrInvalidHandler is returned when registering a nil handler.
	ErrInvalidHandler = errors.New("invalid signal handler")
	// ErrSerialization is returned when a value cannot be encoded as JSON or an
	// image cannot be encoded.
	ErrSerialization = errors.New("serialization error")
)

// Errors caused by a desynchronized stream. They are fatal: the connection is
// closed and the receive loop ends.
var (
	// ErrUnknownFrameKind is returned when a frame tag is not SIG, DAT or IMG.
	ErrUnknownFrameKind = errors.New("unknown frame kind")
	// ErrInvalidLength is returned when a length field is not a positive decimal.
	ErrInvalidLength = errors.New("invalid frame length")
	// ErrExpectedSignal is returned when the receive loop reads a non-signal frame
	// where a signal was required.
	ErrExpectedSignal = errors.New("expected signal frame")
	// ErrExpectedData is returned when a signal registered with a data handler is
	// not followed by a data frame.
	ErrExpectedData = errors.New("expected data frame")
	// ErrExpectedImage is returned when a signal registered with an image
	// handler is not followed by an image frame.
	ErrExpectedImage = errors.New("expected image frame")
	// ErrMessageTooLarge is returned when a declared payload length exceeds the
	// configured maximum.
	ErrMessageTooLarge = errors.New("message too large")
)

// Connection lifecycle errors.
var (
	// ErrConnectionClosed is returned when the stream ends or the connection
	// has been closed.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotOpen is returned when sending or receiving on a connection that was
	// never opened with Serve, Accept or Connect.
	ErrNotOpen = errors.New("connection not open")
	// ErrConnectFailed is returned when a client exhausted its connect attempts.
	ErrConnectFailed = errors.New("connect failed")
	// ErrReadTimeout is returned when a read deadline expires.
	ErrReadTimeout = errors.New("read timeout")
	// ErrWriteTimeout is returned when a write deadline expires.
	ErrWriteTimeout = errors.New("write timeout")
	// ErrHandler wraps an error returned by a signal handler; it ends the
	// receive loop.
	ErrHandler = errors.New("signal handler failed")
)

// ClosedError reports that the stream ended before a read was satisfied.
// Read counts the bytes of the current frame that had already arrived, so a
// zero value means the peer closed cleanly between frames.
type ClosedError struct {
	Read int
	Want int
}

func (e *ClosedError) Error() string {
	if e.Read == 0 {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: mid-frame after %d of %d bytes", ErrConnectionClosed, e.Read, e.Want)
}

// Is makes errors.Is(err, ErrConnectionClosed) hold.
func (e *ClosedError) Is(target error) bool {
	return target == ErrConnectionClosed
}

// MidFrame reports whether part of a frame was read before the stream ended.
func (e *ClosedError) MidFrame() bool {
	return e.Read > 0
}

// ProtocolError wraps every failure of ReceiveFrame and of the receive loop.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return "sigsock: " + e.Op + ": " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ConnectError is returned by Connect when no attempt succeeded.
type ConnectError struct {
	Addr     string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempt(s): %v", ErrConnectFailed, e.Addr, e.Attempts, e.Err)
}

// Is makes errors.Is(err, ErrConnectFailed) hold.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectFailed
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// HandlerError carries the error a signal handler returned.
type HandlerError struct {
	Signal string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrHandler, e.Signal, e.Err)
}

// Is makes errors.Is(err, ErrHandler) hold.
func (e *HandlerError) Is(target error) bool {
	return target == ErrHandler
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// IsCleanClose reports whether err comes from the peer closing the stream
// between frames, as opposed to in the middle of one.
func IsCleanClose(err error) bool {
	var ce *ClosedError
	return errors.As(err, &ce) && !ce.MidFrame()
}
