package sigsock

import (
	"io"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// maxEmptyReads bounds consecutive (0, nil) reads before giving up, as bufio does.
const maxEmptyReads = 100

// deadliner is implemented by net.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// ExactReader delivers exactly the number of bytes requested from a byte
// stream, looping over short reads. It is the only place that deals with
// partial reads; it knows nothing about frames.
type ExactReader struct {
	r       io.Reader
	chunk   int
	timeout time.Duration
	total   int64
}

// NewExactReader wraps r. Each underlying Read asks for at most chunk bytes;
// a non-positive chunk means no limit. When timeout is positive and r has a
// SetReadDeadline method, every ReadExact call is bounded by it.
func NewExactReader(r io.Reader, chunk int, timeout time.Duration) *ExactReader {
	return &ExactReader{r: r, chunk: chunk, timeout: timeout}
}

// ReadExact returns exactly n bytes. When the stream ends first it returns the
// bytes collected so far together with a *ClosedError.
func (e *ExactReader) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}

	if d, ok := e.r.(deadliner); ok && e.timeout > 0 {
		if err := d.SetReadDeadline(time.Now().Add(e.timeout)); err != nil {
			return buf[:0], e.classify(err, 0, n)
		}
	}

	got, empty := 0, 0
	for got < n {
		end := n
		if e.chunk > 0 && got+e.chunk < n {
			end = got + e.chunk
		}

		m, err := e.r.Read(buf[got:end])
		got += m
		e.total += int64(m)
		if err != nil {
			if got == n && err == io.EOF {
				break
			}
			return buf[:got], e.classify(err, got, n)
		}

		if m == 0 {
			empty++
			if empty >= maxEmptyReads {
				return buf[:got], io.ErrNoProgress
			}
			continue
		}
		empty = 0
	}

	return buf, nil
}

// Count returns the number of bytes read so far.
func (e *ExactReader) Count() int64 {
	return e.total
}

func (e *ExactReader) classify(err error, got, want int) error {
	switch {
	case err == io.EOF, errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return &ClosedError{Read: got, Want: want}
	case errors.Is(err, os.ErrDeadlineExceeded):
		return errors.Wrapf(ErrReadTimeout, "after %d of %d bytes", got, want)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(ErrReadTimeout, "after %d of %d bytes", got, want)
	}
	return errors.Wrap(err, "read")
}
