package sigsock

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	// DefaultAddr is used by Serve, Listen and Connect when addr is empty.
	DefaultAddr = "localhost:8080"
	// defaultRecvBufferSize caps each underlying socket read.
	defaultRecvBufferSize = 1024
	// defaultConnectRetries is the number of connect attempts.
	defaultConnectRetries = 10
	// defaultConnectBackoff is the pause between connect attempts.
	defaultConnectBackoff = 500 * time.Millisecond
	// defaultMaxPackageLength is the default maximum payload of a single frame (64MB).
	defaultMaxPackageLength = 64 * 1024 * 1024
)

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	metrics *Metrics

	connectRetries int
	connectBackoff time.Duration

	readTimeout    time.Duration // per frame-field read, 0 disables
	writeTimeout   time.Duration // per frame write, 0 disables
	recvBufferSize int           // upper bound of a single socket read
	maxReadLength  int           // maximum payload of a data or image frame
}

// Option is a function that configures connection options.
type Option func(*options)

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	// a nil *slog.Logger inside the interface is not nil
	if l, ok := opts.logger.(*slog.Logger); opts.logger == nil || ok && l == nil {
		opts.logger = defaultLogger()
	}

	if opts.connectRetries <= 0 {
		opts.connectRetries = defaultConnectRetries
		opts.connectBackoff = defaultConnectBackoff
	}

	if opts.connectBackoff < 0 {
		opts.connectBackoff = 0
	}

	if opts.recvBufferSize <= 0 {
		opts.recvBufferSize = defaultRecvBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// MetricsOption returns an Option that records frame and dispatch metrics.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ConnectRetryOption returns an Option that sets how many times Connect tries
// to reach the server and how long it waits between attempts.
func ConnectRetryOption(retries int, backoff time.Duration) Option {
	return func(o *options) {
		o.connectRetries = retries
		o.connectBackoff = backoff
	}
}

// ReadTimeoutOption returns an Option that bounds every read of a frame field.
// An expired deadline fails the receive with ErrReadTimeout.
func ReadTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.readTimeout = timeout
	}
}

// WriteTimeoutOption returns an Option that bounds every frame write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// RecvBufferSizeOption returns an Option that caps the size of a single
// socket read. It only affects performance.
func RecvBufferSizeOption(size int) Option {
	return func(o *options) {
		o.recvBufferSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum payload size of a
// received data or image frame. Larger frames fail with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}
