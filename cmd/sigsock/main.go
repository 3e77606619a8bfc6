package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Zereker/sigsock"
	"github.com/Zereker/sigsock/internal/config"
	"github.com/Zereker/sigsock/internal/logger"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath  string
	addr        string
	metricsAddr string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "sigsock",
		Short: "Signal/data/image channel between two processes",
		Long: `sigsock connects a processing backend and a frontend over a single
TCP connection carrying signal, JSON data and PNG image frames.

Run "sigsock serve" in the processing process and "sigsock connect"
(or "sigsock send" for a single signal) on the other side.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&flags.addr, "addr", "a", "", "host:port to serve on or connect to")
	rootCmd.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")

	rootCmd.AddCommand(
		serveCmd(&flags),
		connectCmd(&flags),
		sendCmd(&flags),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// app is the process wiring built from config and flags.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *sigsock.Metrics

	closeLog   func() error
	httpServer *http.Server
}

// setup loads the configuration and builds the logger and metrics for role.
func setup(flags *globalFlags, role string) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.addr != "" {
		cfg.Addr = flags.addr
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Addr = flags.metricsAddr
	}

	log, closeLog, err := logger.New(cfg.Logger, role)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, closeLog: closeLog}
	if cfg.Metrics.Addr != "" {
		a.serveMetrics()
	}
	return a, nil
}

// serveMetrics exposes the connection metrics together with the Go runtime
// collectors on a private registry.
func (a *app) serveMetrics() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = sigsock.NewMetrics(sigsock.MetricsConfig{
		Namespace: a.cfg.Metrics.Namespace,
		Registry:  reg,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	a.httpServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("metrics endpoint listening", "addr", a.cfg.Metrics.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
}

// connOptions maps the configuration to connection options.
func (a *app) connOptions() []sigsock.Option {
	opts := []sigsock.Option{
		sigsock.LoggerOption(a.logger),
		sigsock.ConnectRetryOption(a.cfg.Connect.Retries, a.cfg.Connect.Backoff),
		sigsock.RecvBufferSizeOption(a.cfg.RecvBufferSize),
		sigsock.MessageMaxSize(a.cfg.MaxMessageSize),
		sigsock.ReadTimeoutOption(a.cfg.ReadTimeout),
		sigsock.WriteTimeoutOption(a.cfg.WriteTimeout),
	}
	if a.metrics != nil {
		opts = append(opts, sigsock.MetricsOption(a.metrics))
	}
	return opts
}

func (a *app) close() {
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.httpServer.Shutdown(ctx)
	}
	_ = a.closeLog()
}
