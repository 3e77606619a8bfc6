package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/backend"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var recordDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the processing backend",
		Long: `Listen for one frontend and answer its signals until it sends
END_PROGRAM or the process is interrupted.

Examples:
  sigsock serve
  sigsock serve --addr 127.0.0.1:9000 --record-dir ./records`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags, "backend")
			if err != nil {
				return err
			}
			defer a.close()

			if recordDir != "" {
				a.cfg.Backend.RecordDir = recordDir
			}
			return runServe(cmd, a)
		},
	}

	cmd.Flags().StringVar(&recordDir, "record-dir", "", "write a record of every completed run to this directory")

	return cmd
}

func runServe(cmd *cobra.Command, a *app) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := sigsock.New(a.connOptions()...)
	defer conn.Close()

	a.logger.Info("waiting for frontend", "addr", a.cfg.Addr)
	if err := conn.Serve(ctx, a.cfg.Addr); err != nil {
		return err
	}

	be := backend.New(conn, backend.Config{
		RecordDir: a.cfg.Backend.RecordDir,
		StepDelay: a.cfg.Backend.StepDelay,
		Logger:    a.logger,
	})

	err := be.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		a.logger.Info("interrupted")
		return nil
	}
	return err
}
