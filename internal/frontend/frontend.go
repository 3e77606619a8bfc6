// Package frontend is the user-facing side of the channel without any widget
// toolkit: backend updates are published as Events on a channel and user
// actions are plain method calls.
package frontend

import (
	"context"
	"image"
	"log/slog"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/contract"
)

// EventKind identifies the backend update an Event carries.
type EventKind int

const (
	EventProgress EventKind = iota + 1
	EventParam
	EventError
	EventVideoSelected
	EventRuntimeImage
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventParam:
		return "param"
	case EventError:
		return "error"
	case EventVideoSelected:
		return "video_selected"
	case EventRuntimeImage:
		return "runtime_image"
	default:
		return "unknown"
	}
}

// Event is one update received from the backend. Only the field matching
// Kind is set.
type Event struct {
	Kind     EventKind
	Progress contract.Progress
	Param    contract.Param
	Message  string      // EventError
	Video    string      // EventVideoSelected
	Image    image.Image // EventRuntimeImage
}

const defaultEventBuffer = 64

// Client drives a backend over one Conn.
type Client struct {
	conn   *sigsock.Conn
	logger *slog.Logger
	events chan Event
}

// New creates a Client. The Conn must be connected before Run is called.
func New(conn *sigsock.Conn, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:   conn,
		logger: logger.With("component", "frontend"),
		events: make(chan Event, defaultEventBuffer),
	}
}

// Events returns the update channel. It is closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run receives backend updates until the session ends. Publishing blocks
// while the Events buffer is full, which holds back the receive loop.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	d := sigsock.NewDispatcher()
	if err := c.register(ctx, d); err != nil {
		return err
	}
	return c.conn.Run(ctx, d)
}

func (c *Client) register(ctx context.Context, d *sigsock.Dispatcher) error {
	if err := d.HandleData(contract.UpdateProgress, func(data sigsock.Data) error {
		var p contract.Progress
		if err := data.Decode(&p); err != nil {
			return err
		}
		return c.publish(ctx, Event{Kind: EventProgress, Progress: p})
	}); err != nil {
		return err
	}

	if err := d.HandleData(contract.UpdateParam, func(data sigsock.Data) error {
		var p contract.Param
		if err := data.Decode(&p); err != nil {
			return err
		}
		return c.publish(ctx, Event{Kind: EventParam, Param: p})
	}); err != nil {
		return err
	}

	if err := d.HandleData(contract.ErrorOccurred, func(data sigsock.Data) error {
		var msg string
		if err := data.Decode(&msg); err != nil {
			return err
		}
		c.logger.Warn("backend error", "message", msg)
		return c.publish(ctx, Event{Kind: EventError, Message: msg})
	}); err != nil {
		return err
	}

	if err := d.HandleData(contract.SelectedVideo, func(data sigsock.Data) error {
		var path string
		if err := data.Decode(&path); err != nil {
			return err
		}
		return c.publish(ctx, Event{Kind: EventVideoSelected, Video: path})
	}); err != nil {
		return err
	}

	return d.HandleImage(contract.UpdateRuntimeImg, func(img image.Image) error {
		return c.publish(ctx, Event{Kind: EventRuntimeImage, Image: img})
	})
}

func (c *Client) publish(ctx context.Context, e Event) error {
	select {
	case c.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelectVideo asks the backend to load the video at path.
func (c *Client) SelectVideo(path string) error {
	return c.conn.SendSignalData(contract.SelectedVideo, path)
}

// AlterParam sets a parameter. A nil value resets it to the default.
func (c *Client) AlterParam(name string, value *string) error {
	return c.conn.SendSignalData(contract.AlterParam, []any{name, value})
}

// RequestParams asks for one parameter update per parameter.
func (c *Client) RequestParams() error {
	return c.conn.SendSignal(contract.RequestParams)
}

// RequestProgress asks for the current progress.
func (c *Client) RequestProgress() error {
	return c.conn.SendSignal(contract.RequestProgress)
}

// Start starts a recorded processing run.
func (c *Client) Start() error {
	return c.conn.SendSignal(contract.StartProcess)
}

// TestRun starts a processing run that leaves no record.
func (c *Client) TestRun() error {
	return c.conn.SendSignal(contract.TestRun)
}

// Terminate stops the running job. The session stays open.
func (c *Client) Terminate() error {
	return c.conn.SendSignal(contract.TerminateProcess)
}

// Quit ends the session: the backend receives the termination signal and
// Run returns nil.
func (c *Client) Quit() error {
	return c.conn.Terminate()
}
