package frontend

import (
	"context"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/backend"
	"github.com/Zereker/sigsock/internal/contract"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPair(t *testing.T) (*sigsock.Conn, *sigsock.Conn) {
	t.Helper()

	server := sigsock.New(sigsock.LoggerOption(discardLogger()), sigsock.ReadTimeoutOption(5*time.Second))
	require.NoError(t, server.Listen("127.0.0.1:0"))

	client := sigsock.New(sigsock.LoggerOption(discardLogger()), sigsock.ConnectRetryOption(3, 10*time.Millisecond))

	var g errgroup.Group
	g.Go(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Accept(ctx)
	})
	g.Go(func() error {
		return client.Connect(context.Background(), server.ListenAddr().String())
	})
	require.NoError(t, g.Wait())

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return server, client
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case e, ok := <-events:
		require.True(t, ok, "events channel closed")
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestClient_Events(t *testing.T) {
	server, conn := newPair(t)
	client := New(conn, discardLogger())

	done := make(chan error, 1)
	go func() {
		done <- client.Run(context.Background())
	}()

	require.NoError(t, server.SendSignalData(contract.UpdateProgress, contract.Progress{Task: contract.TaskRunning, Progress: 3, Total: 10}))
	require.NoError(t, server.SendSignalData(contract.UpdateParam, contract.Param{Name: "language", Values: []string{"en", "zh"}}))
	require.NoError(t, server.SendSignalData(contract.ErrorOccurred, "Please select a video."))
	require.NoError(t, server.SendSignalData(contract.SelectedVideo, "/videos/a.mp4"))
	require.NoError(t, server.SendSignalImage(contract.UpdateRuntimeImg, image.NewGray(image.Rect(0, 0, 8, 6))))

	e := nextEvent(t, client.Events())
	assert.Equal(t, EventProgress, e.Kind)
	assert.Equal(t, 3, e.Progress.Progress)
	assert.Equal(t, 10, e.Progress.Total)

	e = nextEvent(t, client.Events())
	assert.Equal(t, EventParam, e.Kind)
	assert.Equal(t, "en", e.Param.Current())

	e = nextEvent(t, client.Events())
	assert.Equal(t, EventError, e.Kind)
	assert.Equal(t, "Please select a video.", e.Message)

	e = nextEvent(t, client.Events())
	assert.Equal(t, EventVideoSelected, e.Kind)
	assert.Equal(t, "/videos/a.mp4", e.Video)

	e = nextEvent(t, client.Events())
	assert.Equal(t, EventRuntimeImage, e.Kind)
	assert.Equal(t, image.Rect(0, 0, 8, 6), e.Image.Bounds())

	require.NoError(t, server.Terminate())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	_, ok := <-client.Events()
	assert.False(t, ok, "events channel is closed after Run")
}

func TestClient_Commands(t *testing.T) {
	server, conn := newPair(t)
	client := New(conn, discardLogger())

	readSignal := func() string {
		f, err := server.ReceiveFrame()
		require.NoError(t, err)
		require.Equal(t, sigsock.KindSignal, f.Kind)
		return f.Signal
	}
	readData := func(v any) {
		f, err := server.ReceiveFrame()
		require.NoError(t, err)
		require.Equal(t, sigsock.KindData, f.Kind)
		require.NoError(t, f.Data.Decode(v))
	}

	require.NoError(t, client.SelectVideo("clip.mp4"))
	assert.Equal(t, contract.SelectedVideo, readSignal())
	var path string
	readData(&path)
	assert.Equal(t, "clip.mp4", path)

	value := "small"
	require.NoError(t, client.AlterParam("whisper_model", &value))
	assert.Equal(t, contract.AlterParam, readSignal())
	var pair []*string
	readData(&pair)
	require.Len(t, pair, 2)
	assert.Equal(t, "whisper_model", *pair[0])
	assert.Equal(t, "small", *pair[1])

	require.NoError(t, client.AlterParam("whisper_model", nil))
	assert.Equal(t, contract.AlterParam, readSignal())
	readData(&pair)
	assert.Nil(t, pair[1])

	require.NoError(t, client.RequestParams())
	assert.Equal(t, contract.RequestParams, readSignal())
	require.NoError(t, client.RequestProgress())
	assert.Equal(t, contract.RequestProgress, readSignal())
	require.NoError(t, client.Start())
	assert.Equal(t, contract.StartProcess, readSignal())
	require.NoError(t, client.TestRun())
	assert.Equal(t, contract.TestRun, readSignal())
	require.NoError(t, client.Terminate())
	assert.Equal(t, contract.TerminateProcess, readSignal())

	require.NoError(t, client.Quit())
	assert.Equal(t, sigsock.TerminateSignal, readSignal())
	assert.True(t, conn.IsClosed())
}

func TestClient_RunCanceled(t *testing.T) {
	_, conn := newPair(t)
	client := New(conn, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

// stillVideo is a video of identical frames.
type stillVideo int

func (v stillVideo) Len() int { return int(v) }

func (v stillVideo) Frame(int) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 16, 9)), nil
}

func TestClient_EndToEnd(t *testing.T) {
	server, conn := newPair(t)

	be := backend.New(server, backend.Config{
		Loader: func(string) (backend.Video, error) { return stillVideo(3), nil },
		Logger: discardLogger(),
	})
	client := New(conn, discardLogger())

	var g errgroup.Group
	g.Go(func() error { return be.Serve(context.Background()) })
	g.Go(func() error { return client.Run(context.Background()) })

	require.NoError(t, client.SelectVideo("clip.mp4"))
	require.NoError(t, client.TestRun())

	var images, selected int
	for {
		e := nextEvent(t, client.Events())
		if e.Kind == EventError {
			t.Fatalf("backend error: %s", e.Message)
		}
		if e.Kind == EventRuntimeImage {
			images++
		}
		if e.Kind == EventVideoSelected {
			selected++
		}
		if e.Kind == EventProgress && e.Progress.Task == contract.TaskDone {
			break
		}
	}
	assert.Equal(t, 3, images)
	assert.Equal(t, 1, selected)

	require.NoError(t, client.Quit())
	require.NoError(t, g.Wait())
}
