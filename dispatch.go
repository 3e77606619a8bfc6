package sigsock

import (
	"image"
	"sync"

	"github.com/pkg/errors"
)

// Handler is a signal handler. The concrete type decides what the receive
// loop reads after the signal:
//
//   - SignalHandler: nothing
//   - DataHandler:   exactly one data frame
//   - ImageHandler:  exactly one image frame
//
// Handlers run on the receive loop and block it. Long work must be handed to
// another goroutine so later signals are not stalled. A non-nil error ends
// the loop and closes the connection.
type Handler interface {
	follows() Kind
}

// SignalHandler handles a signal that carries no payload.
type SignalHandler func() error

func (SignalHandler) follows() Kind { return 0 }

// DataHandler handles a signal followed by one data frame.
type DataHandler func(Data) error

func (DataHandler) follows() Kind { return KindData }

// ImageHandler handles a signal followed by one image frame.
type ImageHandler func(image.Image) error

func (ImageHandler) follows() Kind { return KindImage }

// ExpectsData reports whether h consumes a data frame after its signal.
func ExpectsData(h Handler) bool {
	return h != nil && h.follows() == KindData
}

// Dispatcher maps signal names to handlers. Registering a name twice replaces
// the earlier handler: the last registration wins. It is safe to register
// while a receive loop is running.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register binds h to name, replacing any previous handler. The termination
// signal cannot be bound.
func (d *Dispatcher) Register(name string, h Handler) error {
	if err := ValidSignal(name); err != nil {
		return err
	}
	if name == TerminateSignal {
		return errors.Wrap(ErrReservedSignal, name)
	}
	if isNilHandler(h) {
		return errors.Wrap(ErrInvalidHandler, name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
	return nil
}

// Handle registers a handler for a signal without payload.
func (d *Dispatcher) Handle(name string, fn func() error) error {
	return d.Register(name, SignalHandler(fn))
}

// HandleData registers a handler for a signal followed by a data frame.
func (d *Dispatcher) HandleData(name string, fn func(Data) error) error {
	return d.Register(name, DataHandler(fn))
}

// HandleImage registers a handler for a signal followed by an image frame.
func (d *Dispatcher) HandleImage(name string, fn func(image.Image) error) error {
	return d.Register(name, ImageHandler(fn))
}

// Unregister removes the handler bound to name, if any.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, name)
}

// Lookup returns the handler bound to name.
func (d *Dispatcher) Lookup(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Len returns the number of registered signals.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

func isNilHandler(h Handler) bool {
	switch fn := h.(type) {
	case nil:
		return true
	case SignalHandler:
		return fn == nil
	case DataHandler:
		return fn == nil
	case ImageHandler:
		return fn == nil
	default:
		return false
	}
}
