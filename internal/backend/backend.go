// Package backend is the processing side of the channel. It serves one
// frontend, keeps the processing parameters and runs the frame-by-frame job
// on a background goroutine while the receive loop keeps answering signals.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/contract"
)

// Messages reported to the frontend with contract.ErrorOccurred.
const (
	msgAlreadyRunning     = "Running process is already running."
	msgTestAlreadyRunning = "Test running process is already running."
	msgSelectVideo        = "Please select a video."
	msgLoadVideo          = "Failed to load video."
	msgDetSizeFormat      = "Please set the detection size in correct format (format: 123x456)."
	msgDetSizeSign        = "Both value in det_size must be positive integer."
	msgFrameFailed        = "Failed to get frame"
	msgBadParam           = "Invalid parameter update."
)

// Config configures a Backend.
type Config struct {
	Loader    Loader      // default OpenImageSequence
	Params    []ParamSpec // default DefaultParams
	RecordDir string      // records of completed runs; empty disables them
	StepDelay time.Duration
	Logger    *slog.Logger
}

// job is one processing run.
type job struct {
	test   bool
	cancel context.CancelFunc
	group  *errgroup.Group
}

// Backend answers the frontend signals on one Conn.
type Backend struct {
	conn   *sigsock.Conn
	cfg    Config
	logger *slog.Logger
	params *Params

	mu        sync.Mutex
	videoPath string
	video     Video
	progress  contract.Progress
	quiet     bool // progress updates are held back while terminating
	job       *job
}

// New creates a Backend that talks over conn.
func New(conn *sigsock.Conn, cfg Config) *Backend {
	if cfg.Loader == nil {
		cfg.Loader = OpenImageSequence
	}
	if cfg.Params == nil {
		cfg.Params = DefaultParams
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Backend{
		conn:     conn,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "backend"),
		params:   NewParams(cfg.Params),
		progress: contract.Progress{Task: contract.TaskIdle},
	}
}

// Params returns the parameter store.
func (b *Backend) Params() *Params {
	return b.params
}

// Progress returns the last progress state.
func (b *Backend) Progress() contract.Progress {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.progress
}

// Register binds the backend signals on d.
func (b *Backend) Register(d *sigsock.Dispatcher) error {
	if err := d.HandleData(contract.SelectedVideo, b.selectVideo); err != nil {
		return err
	}
	if err := d.HandleData(contract.AlterParam, b.alterParam); err != nil {
		return err
	}
	if err := d.Handle(contract.RequestParams, b.sendParams); err != nil {
		return err
	}
	if err := d.Handle(contract.RequestProgress, b.sendProgress); err != nil {
		return err
	}
	if err := d.Handle(contract.TestRun, func() error { return b.run(true) }); err != nil {
		return err
	}
	if err := d.Handle(contract.StartProcess, func() error { return b.run(false) }); err != nil {
		return err
	}
	return d.Handle(contract.TerminateProcess, b.terminate)
}

// Serve runs the receive loop until the frontend terminates the session and
// then stops any running job.
func (b *Backend) Serve(ctx context.Context) error {
	d := sigsock.NewDispatcher()
	if err := b.Register(d); err != nil {
		return err
	}

	err := b.conn.Run(ctx, d)

	b.mu.Lock()
	j := b.job
	b.job = nil
	b.mu.Unlock()
	b.stop(j)

	return err
}

func (b *Backend) selectVideo(data sigsock.Data) error {
	var path string
	if err := data.Decode(&path); err != nil {
		b.logger.Warn("bad video path", "data", data, "error", err)
		return b.raise(msgLoadVideo)
	}

	b.logger.Info("set video path", "path", path)
	if err := b.setProgress(fmt.Sprintf("Selected video: %q", filepath.Base(path)), 0, 0); err != nil {
		return err
	}

	video, err := b.cfg.Loader(path)
	if err != nil {
		b.logger.Warn("failed to load video", "path", path, "error", err)
		if err := b.raise(msgLoadVideo); err != nil {
			return err
		}
		return b.setProgress(contract.TaskIdle, 0, 0)
	}

	b.mu.Lock()
	b.video, b.videoPath = video, path
	b.mu.Unlock()

	// echo back so the frontend shows the accepted path
	return b.conn.SendSignalData(contract.SelectedVideo, path)
}

func (b *Backend) alterParam(data sigsock.Data) error {
	var pair []any
	if err := data.Decode(&pair); err != nil || len(pair) != 2 {
		b.logger.Warn("bad parameter update", "data", data)
		return b.raise(msgBadParam)
	}
	name, ok := pair[0].(string)
	if !ok {
		return b.raise(msgBadParam)
	}

	var value *string
	if pair[1] != nil {
		v := paramString(pair[1])
		value = &v
	}

	if err := b.params.Set(name, value); err != nil {
		b.logger.Warn("parameter rejected", "name", name, "error", err)
		return b.raise(err.Error())
	}
	b.logger.Info("set parameter", "name", name, "value", b.params.Get(name))
	return nil
}

// paramString renders a decoded JSON scalar as a parameter value.
func paramString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func (b *Backend) sendParams() error {
	b.logger.Debug("request parameters")
	for _, p := range b.params.List() {
		if err := b.conn.SendSignalData(contract.UpdateParam, p); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) sendProgress() error {
	b.mu.Lock()
	p := b.progress
	b.mu.Unlock()
	return b.conn.SendSignalData(contract.UpdateProgress, p)
}

// setProgress records the progress and reports it unless a termination is
// in progress.
func (b *Backend) setProgress(task string, progress, total int) error {
	p := contract.Progress{Task: task, Progress: progress, Total: total}

	b.mu.Lock()
	b.progress = p
	quiet := b.quiet
	b.mu.Unlock()

	if quiet {
		return nil
	}
	b.logger.Debug("update progress", "task", task, "progress", progress, "total", total)
	return b.conn.SendSignalData(contract.UpdateProgress, p)
}

func (b *Backend) raise(msg string) error {
	b.logger.Warn("report error", "message", msg)
	return b.conn.SendSignalData(contract.ErrorOccurred, msg)
}

// run validates the parameters and starts a processing job.
func (b *Backend) run(test bool) error {
	b.mu.Lock()
	running := b.job
	video, path := b.video, b.videoPath
	b.mu.Unlock()

	if running != nil {
		if running.test {
			return b.raise(msgTestAlreadyRunning)
		}
		return b.raise(msgAlreadyRunning)
	}

	const checks = 2
	if err := b.setProgress(contract.TaskChecking, 0, checks); err != nil {
		return err
	}
	if video == nil {
		return b.raise(msgSelectVideo)
	}
	if err := b.setProgress(contract.TaskChecking, 1, checks); err != nil {
		return err
	}
	if _, _, err := b.params.DetSize(); err != nil {
		if errors.Is(err, errDetSizeSign) {
			return b.raise(msgDetSizeSign)
		}
		return b.raise(msgDetSizeFormat)
	}
	if err := b.setProgress(contract.TaskChecking, checks, checks); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	j := &job{test: test, cancel: cancel, group: group}

	b.mu.Lock()
	b.job = j
	b.mu.Unlock()

	b.logger.Info("processing started", "video", path, "test", test, "frames", video.Len())
	group.Go(func() error {
		defer b.finish(j)
		return b.process(ctx, j, video, path)
	})
	return nil
}

// process walks the video, sending a preview image and progress per frame.
func (b *Backend) process(ctx context.Context, j *job, video Video, path string) error {
	started := time.Now()
	total := video.Len()
	if err := b.setProgress(contract.TaskRunning, 0, total); err != nil {
		return err
	}

	frames := 0
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			return nil
		}

		img, err := video.Frame(i)
		if err != nil {
			b.logger.Warn("failed to get frame", "index", i, "error", err)
			if err := b.raise(msgFrameFailed); err != nil {
				return err
			}
			break
		}
		if err := b.conn.SendSignalImage(contract.UpdateRuntimeImg, img); err != nil {
			return err
		}
		frames++

		if b.cfg.StepDelay > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(b.cfg.StepDelay):
			}
		}
		if err := b.setProgress(contract.TaskRunning, frames, total); err != nil {
			return err
		}
	}

	if !j.test && b.cfg.RecordDir != "" {
		rec := Record{
			Video:    path,
			Params:   b.params.Snapshot(),
			Frames:   frames,
			Started:  started,
			Finished: time.Now(),
		}
		if file, err := saveRecord(b.cfg.RecordDir, rec); err != nil {
			b.logger.Error("failed to save record", "error", err)
		} else {
			b.logger.Info("record saved", "path", file)
		}
	}

	b.logger.Info("processing done", "frames", frames, "elapsed", time.Since(started))
	return b.setProgress(contract.TaskDone, 0, 0)
}

// finish releases a job that ended on its own.
func (b *Backend) finish(j *job) {
	j.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.job == j {
		b.job = nil
	}
}

// stop cancels j and waits for it.
func (b *Backend) stop(j *job) {
	if j == nil {
		return
	}
	j.cancel()
	if err := j.group.Wait(); err != nil {
		b.logger.Warn("processing job failed", "error", err)
	}
}

// terminate cancels the running job, if any, and reports Idle.
func (b *Backend) terminate() error {
	if err := b.setProgress(contract.TaskTerminating, 0, 0); err != nil {
		return err
	}

	b.mu.Lock()
	b.quiet = true
	j := b.job
	b.job = nil
	b.mu.Unlock()

	b.stop(j)

	b.mu.Lock()
	b.quiet = false
	b.mu.Unlock()

	return b.setProgress(contract.TaskIdle, 0, 0)
}
