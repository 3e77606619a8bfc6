package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/sigsock"
)

const addr = "127.0.0.1:12345"

// serve echoes every "echo" data value back to the peer as "echoed".
func serve(ctx context.Context) error {
	conn := sigsock.New()
	defer conn.Close()

	if err := conn.Serve(ctx, addr); err != nil {
		return err
	}
	slog.Info("peer connected", "addr", conn.Addr())

	d := sigsock.NewDispatcher()
	err := d.HandleData("echo", func(data sigsock.Data) error {
		var v any
		if err := data.Decode(&v); err != nil {
			return err
		}
		slog.Info("echo", "value", v)
		return conn.SendSignalData("echoed", v)
	})
	if err != nil {
		return err
	}

	return conn.Run(ctx, d)
}

// ping sends a few values and prints what comes back.
func ping(ctx context.Context) error {
	conn := sigsock.New(sigsock.ConnectRetryOption(20, 100*time.Millisecond))
	if err := conn.Connect(ctx, addr); err != nil {
		return err
	}

	got := make(chan string, 1)
	d := sigsock.NewDispatcher()
	_ = d.HandleData("echoed", func(data sigsock.Data) error {
		got <- data.String()
		return nil
	})

	done := make(chan error, 1)
	go func() {
		done <- conn.Run(ctx, d)
	}()

	for _, v := range []any{"hello", 42, []any{"det_size", "640x480"}} {
		if err := conn.SendSignalData("echo", v); err != nil {
			return err
		}
		select {
		case s := <-got:
			slog.Info("reply", "data", s)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := conn.Terminate(); err != nil {
		return err
	}
	return <-done
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() {
		served <- serve(ctx)
	}()

	if err := ping(ctx); err != nil {
		slog.Error("client error", "error", err)
	}
	if err := <-served; err != nil {
		slog.Error("server error", "error", err)
	}
}
