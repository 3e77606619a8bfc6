package backend

import (
	"context"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/contract"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVideo yields n small gray frames and fails at index failAt.
type fakeVideo struct {
	n      int
	failAt int
}

func (v fakeVideo) Len() int { return v.n }

func (v fakeVideo) Frame(i int) (image.Image, error) {
	if i == v.failAt {
		return nil, errors.New("corrupt frame")
	}
	img := image.NewGray(image.Rect(0, 0, 4, 3))
	img.Pix[0] = uint8(i)
	return img, nil
}

func fakeLoader(n int) Loader {
	return func(path string) (Video, error) {
		if path == "missing.mp4" {
			return nil, os.ErrNotExist
		}
		return fakeVideo{n: n, failAt: -1}, nil
	}
}

// newPair connects two Conns over loopback.
func newPair(t *testing.T) (*sigsock.Conn, *sigsock.Conn) {
	t.Helper()

	server := sigsock.New(sigsock.LoggerOption(discardLogger()))
	require.NoError(t, server.Listen("127.0.0.1:0"))

	client := sigsock.New(
		sigsock.LoggerOption(discardLogger()),
		sigsock.ReadTimeoutOption(5*time.Second),
		sigsock.ConnectRetryOption(3, 10*time.Millisecond),
	)

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

// harness runs a Backend and exposes the frontend end of the connection.
type harness struct {
	t       *testing.T
	backend *Backend
	client  *sigsock.Conn
	done    chan error
}

func startBackend(t *testing.T, cfg Config) *harness {
	t.Helper()

	server, client := newPair(t)
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}

	h := &harness{t: t, backend: New(server, cfg), client: client, done: make(chan error, 1)}
	go func() {
		h.done <- h.backend.Serve(context.Background())
	}()
	return h
}

// next reads one backend message: a signal and the frame that follows it.
func (h *harness) next() (string, sigsock.Frame) {
	h.t.Helper()

	sig, err := h.client.ReceiveFrame()
	require.NoError(h.t, err)
	require.Equal(h.t, sigsock.KindSignal, sig.Kind)

	follow, err := h.client.ReceiveFrame()
	require.NoError(h.t, err)
	return sig.Signal, follow
}

func (h *harness) expectProgress(task string, progress, total int) {
	h.t.Helper()

	sig, f := h.next()
	require.Equal(h.t, contract.UpdateProgress, sig)

	var p contract.Progress
	require.NoError(h.t, f.Data.Decode(&p))
	assert.Equal(h.t, contract.Progress{Task: task, Progress: progress, Total: total}, p)
}

func (h *harness) expectError(msg string) {
	h.t.Helper()

	sig, f := h.next()
	require.Equal(h.t, contract.ErrorOccurred, sig)

	var got string
	require.NoError(h.t, f.Data.Decode(&got))
	assert.Equal(h.t, msg, got)
}

func (h *harness) expectImage() {
	h.t.Helper()

	sig, f := h.next()
	require.Equal(h.t, contract.UpdateRuntimeImg, sig)
	require.Equal(h.t, sigsock.KindImage, f.Kind)
	assert.Equal(h.t, image.Rect(0, 0, 4, 3), f.Image.Bounds())
}

func (h *harness) params() []contract.Param {
	h.t.Helper()

	require.NoError(h.t, h.client.SendSignal(contract.RequestParams))

	out := make([]contract.Param, 0, len(DefaultParams))
	for range DefaultParams {
		sig, f := h.next()
		require.Equal(h.t, contract.UpdateParam, sig)

		var p contract.Param
		require.NoError(h.t, f.Data.Decode(&p))
		out = append(out, p)
	}
	return out
}

func (h *harness) selectVideo(path string) {
	h.t.Helper()

	require.NoError(h.t, h.client.SendSignalData(contract.SelectedVideo, path))
	h.expectProgress(`Selected video: "`+filepath.Base(path)+`"`, 0, 0)

	sig, f := h.next()
	require.Equal(h.t, contract.SelectedVideo, sig)
	var echoed string
	require.NoError(h.t, f.Data.Decode(&echoed))
	assert.Equal(h.t, path, echoed)
}

func (h *harness) quit() {
	h.t.Helper()

	require.NoError(h.t, h.client.Terminate())
	select {
	case err := <-h.done:
		assert.NoError(h.t, err)
	case <-time.After(5 * time.Second):
		h.t.Fatal("backend did not stop")
	}
}

func TestBackend_RequestParams(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	params := h.params()
	require.Len(t, params, 4)
	assert.Equal(t, contract.Param{Name: "det_size", Values: []string{"640x640"}}, params[0])
	assert.Equal(t, "whisper_model", params[2].Name)
	assert.Equal(t, []string{"base", "tiny", "small", "medium", "large"}, params[2].Values)
}

func TestBackend_AlterParam(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	require.NoError(t, h.client.SendSignalData(contract.AlterParam, []any{"whisper_model", "small"}))
	require.NoError(t, h.client.SendSignalData(contract.AlterParam, []any{"det_size", "320x240"}))

	params := h.params()
	assert.Equal(t, []string{"320x240"}, params[0].Values)
	assert.Equal(t, []string{"small", "base", "tiny", "medium", "large"}, params[2].Values)

	// null resets to the default
	require.NoError(t, h.client.SendSignalData(contract.AlterParam, []any{"whisper_model", nil}))
	params = h.params()
	assert.Equal(t, "base", params[2].Current())
}

func TestBackend_AlterParamRejected(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	require.NoError(t, h.client.SendSignalData(contract.AlterParam, []any{"language", "fr"}))
	sig, f := h.next()
	require.Equal(t, contract.ErrorOccurred, sig)
	assert.Contains(t, f.Data.String(), "language=fr")

	require.NoError(t, h.client.SendSignalData(contract.AlterParam, []any{"nope", "1"}))
	sig, f = h.next()
	require.Equal(t, contract.ErrorOccurred, sig)
	assert.Contains(t, f.Data.String(), "unknown parameter")

	require.NoError(t, h.client.SendSignalData(contract.AlterParam, "not a pair"))
	h.expectError(msgBadParam)

	assert.Equal(t, "zh", h.backend.Params().Get("language"))
}

func TestBackend_SelectVideo(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	h.selectVideo("/videos/meeting.mp4")
}

func TestBackend_SelectVideoFails(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	require.NoError(t, h.client.SendSignalData(contract.SelectedVideo, "missing.mp4"))
	h.expectProgress(`Selected video: "missing.mp4"`, 0, 0)
	h.expectError(msgLoadVideo)
	h.expectProgress(contract.TaskIdle, 0, 0)
}

func TestBackend_RequestProgress(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	require.NoError(t, h.client.SendSignal(contract.RequestProgress))
	h.expectProgress(contract.TaskIdle, 0, 0)
}

func TestBackend_StartWithoutVideo(t *testing.T) {
	h := startBackend(t, Config{Loader: fakeLoader(1)})
	defer h.quit()

	require.NoError(t, h.client.SendSignal(contract.StartProcess))
	h.expectProgress(contract.TaskChecking, 0, 2)
	h.expectError(msgSelectVideo)
}

func TestBackend_InvalidDetSize(t *testing.T) {
	tests := []struct {
		value string
		msg   string
	}{
		{"640", msgDetSizeFormat},
		{"axb", msgDetSizeFormat},
		{"0x480", msgDetSizeSign},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			h := startBackend(t, Config{Loader: fakeLoader(1)})
			defer h.quit()

			h.selectVideo("clip.mp4")
			require.NoError(t, h.client.SendSignalData(contract.AlterParam, []any{"det_size", tt.value}))
			require.NoError(t, h.client.SendSignal(contract.TestRun))

			h.expectProgress(contract.TaskChecking, 0, 2)
			h.expectProgress(contract.TaskChecking, 1, 2)
			h.expectError(tt.msg)
		})
	}
}

func TestBackend_TestRun(t *testing.T) {
	dir := t.TempDir()
	h := startBackend(t, Config{Loader: fakeLoader(2), RecordDir: dir})
	defer h.quit()

	h.selectVideo("clip.mp4")
	require.NoError(t, h.client.SendSignal(contract.TestRun))

	h.expectProgress(contract.TaskChecking, 0, 2)
	h.expectProgress(contract.TaskChecking, 1, 2)
	h.expectProgress(contract.TaskChecking, 2, 2)
	h.expectProgress(contract.TaskRunning, 0, 2)
	h.expectImage()
	h.expectProgress(contract.TaskRunning, 1, 2)
	h.expectImage()
	h.expectProgress(contract.TaskRunning, 2, 2)
	h.expectProgress(contract.TaskDone, 0, 0)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "a test run leaves no record")
}

func TestBackend_StartProcessWritesRecord(t *testing.T) {
	dir := t.TempDir()
	h := startBackend(t, Config{Loader: fakeLoader(1), RecordDir: dir})
	defer h.quit()

	h.selectVideo("/videos/clip.mp4")
	require.NoError(t, h.client.SendSignal(contract.StartProcess))

	h.expectProgress(contract.TaskChecking, 0, 2)
	h.expectProgress(contract.TaskChecking, 1, 2)
	h.expectProgress(contract.TaskChecking, 2, 2)
	h.expectProgress(contract.TaskRunning, 0, 1)
	h.expectImage()
	h.expectProgress(contract.TaskRunning, 1, 1)
	h.expectProgress(contract.TaskDone, 0, 0)

	_, err := os.Stat(filepath.Join(dir, "clip.json"))
	assert.NoError(t, err)
}

func TestBackend_FrameFailure(t *testing.T) {
	loader := func(string) (Video, error) { return fakeVideo{n: 3, failAt: 1}, nil }
	h := startBackend(t, Config{Loader: loader})
	defer h.quit()

	h.selectVideo("clip.mp4")
	require.NoError(t, h.client.SendSignal(contract.TestRun))

	h.expectProgress(contract.TaskChecking, 0, 2)
	h.expectProgress(contract.TaskChecking, 1, 2)
	h.expectProgress(contract.TaskChecking, 2, 2)
	h.expectProgress(contract.TaskRunning, 0, 3)
	h.expectImage()
	h.expectProgress(contract.TaskRunning, 1, 3)
	h.expectError(msgFrameFailed)
	h.expectProgress(contract.TaskDone, 0, 0)
}

// startSlowRun starts a run that stays busy after its first frame.
func startSlowRun(t *testing.T, signal string) *harness {
	h := startBackend(t, Config{Loader: fakeLoader(5), StepDelay: time.Hour})

	h.selectVideo("clip.mp4")
	require.NoError(t, h.client.SendSignal(signal))
	h.expectProgress(contract.TaskChecking, 0, 2)
	h.expectProgress(contract.TaskChecking, 1, 2)
	h.expectProgress(contract.TaskChecking, 2, 2)
	h.expectProgress(contract.TaskRunning, 0, 5)
	h.expectImage()
	return h
}

func TestBackend_RejectsConcurrentRun(t *testing.T) {
	h := startSlowRun(t, contract.StartProcess)
	defer h.quit()

	require.NoError(t, h.client.SendSignal(contract.TestRun))
	h.expectError(msgAlreadyRunning)
}

func TestBackend_RejectsRunDuringTestRun(t *testing.T) {
	h := startSlowRun(t, contract.TestRun)
	defer h.quit()

	require.NoError(t, h.client.SendSignal(contract.StartProcess))
	h.expectError(msgTestAlreadyRunning)
}

func TestBackend_TerminateProcess(t *testing.T) {
	h := startSlowRun(t, contract.StartProcess)
	defer h.quit()

	require.NoError(t, h.client.SendSignal(contract.TerminateProcess))
	h.expectProgress(contract.TaskTerminating, 0, 0)
	h.expectProgress(contract.TaskIdle, 0, 0)

	// a new run may start once the old one is gone
	require.NoError(t, h.client.SendSignal(contract.RequestProgress))
	h.expectProgress(contract.TaskIdle, 0, 0)
	assert.Equal(t, contract.TaskIdle, h.backend.Progress().Task)
}

func TestBackend_QuitStopsJob(t *testing.T) {
	h := startSlowRun(t, contract.TestRun)
	h.quit()

	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	assert.Nil(t, h.backend.job)
}
