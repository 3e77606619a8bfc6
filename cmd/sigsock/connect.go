package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/contract"
	"github.com/Zereker/sigsock/internal/frontend"
)

type connectOptions struct {
	video   string
	test    bool
	params  []string
	preview string
}

func connectCmd(flags *globalFlags) *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Drive a backend from the command line",
		Long: `Connect to a running backend, select a video, start processing and
print progress until the run is done. The session then ends with END_PROGRAM.

Examples:
  sigsock connect --video ./frames
  sigsock connect --video ./frames --test --param language=en
  sigsock connect --video clip.png --preview last.png`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags, "frontend")
			if err != nil {
				return err
			}
			defer a.close()

			return runConnect(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.video, "video", "", "video to process (directory of frames or image file)")
	cmd.Flags().BoolVar(&opts.test, "test", false, "test run: process without writing a record")
	cmd.Flags().StringArrayVarP(&opts.params, "param", "p", nil, "set a parameter before the run (name=value, repeatable)")
	cmd.Flags().StringVar(&opts.preview, "preview", "", "write the last runtime image to this PNG file")
	_ = cmd.MarkFlagRequired("video")

	return cmd
}

func runConnect(cmd *cobra.Command, a *app, opts connectOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := sigsock.New(a.connOptions()...)
	if err := conn.Connect(ctx, a.cfg.Addr); err != nil {
		return err
	}
	defer conn.Close()

	client := frontend.New(conn, a.logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return client.Run(gctx)
	})

	if err := startRun(client, opts); err != nil {
		_ = client.Quit()
		_ = group.Wait()
		return err
	}

	var (
		last   image.Image
		runErr error
	)
	for e := range client.Events() {
		switch e.Kind {
		case frontend.EventProgress:
			printProgress(cmd, e.Progress)
		case frontend.EventVideoSelected:
			fmt.Fprintf(cmd.OutOrStdout(), "video: %s\n", e.Video)
		case frontend.EventRuntimeImage:
			last = e.Image
		case frontend.EventError:
			runErr = errors.New(e.Message)
		}

		if runErr != nil || (e.Kind == frontend.EventProgress && e.Progress.Task == contract.TaskDone) {
			break
		}
	}

	// keep the receive loop from blocking on a full Events buffer
	go func() {
		for range client.Events() {
		}
	}()

	_ = client.Quit()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if runErr != nil {
		return errors.Wrap(runErr, "backend")
	}

	if opts.preview != "" && last != nil {
		if err := writePNG(opts.preview, last); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "preview written to %s\n", opts.preview)
	}
	return ctx.Err()
}

func startRun(client *frontend.Client, opts connectOptions) error {
	for _, p := range opts.params {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return errors.Errorf("invalid --param %q, want name=value", p)
		}
		if err := client.AlterParam(name, &value); err != nil {
			return err
		}
	}

	if err := client.SelectVideo(opts.video); err != nil {
		return err
	}
	if opts.test {
		return client.TestRun()
	}
	return client.Start()
}

func printProgress(cmd *cobra.Command, p contract.Progress) {
	if p.Total > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d/%d\n", p.Task, p.Progress, p.Total)
		return
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.Task)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create preview")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrap(err, "encode preview")
	}
	return f.Close()
}
