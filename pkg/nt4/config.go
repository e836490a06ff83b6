package nt4

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
)

// Defaults for Config fields left unset.
const (
	// DefaultPort is the server's WebSocket port.
	DefaultPort = 5810

	// DefaultDialTimeout bounds the WebSocket handshake.
	DefaultDialTimeout = 10 * time.Second

	// DefaultSyncInterval is the period between clock-sync exchanges while
	// the connection is open.
	DefaultSyncInterval = 3 * time.Second
)

// Config holds client configuration. Construct it through New and Options
// rather than directly.
type Config struct {
	// Host is the server address, without port.
	Host string

	// Port is the server's WebSocket port. Default: DefaultPort.
	Port int

	// Name is the application name the client identifies itself with; it
	// becomes part of the endpoint path (/nt/<name>).
	Name string

	// DialTimeout bounds the WebSocket handshake. Default: DefaultDialTimeout.
	DialTimeout time.Duration

	// SyncInterval is the period between clock-sync exchanges.
	// Default: DefaultSyncInterval.
	SyncInterval time.Duration

	// Logger receives diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Clock is the time source for timestamps and the sync ticker.
	// Default: the real clock. Tests inject a mock.
	Clock clock.Clock

	// IDs generates pubuid/subuid values. Default: an atomic counter.
	IDs IDSource

	// Metrics, when set, receives Prometheus instrumentation.
	Metrics *Metrics

	// Tracing enables OpenTelemetry spans around connection establishment
	// and inbound control handling, using the global tracer provider.
	Tracing bool

	// Dial opens the transport connection. Default: a gorilla/websocket
	// dialer. Tests inject an in-memory transport.
	Dial DialFunc
}

// Option configures a Client at construction time.
type Option func(*Config)

// WithPort sets the server port.
func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithDialTimeout sets the WebSocket handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) { c.DialTimeout = d }
}

// WithSyncInterval sets the period between clock-sync exchanges.
func WithSyncInterval(d time.Duration) Option {
	return func(c *Config) { c.SyncInterval = d }
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithIDSource sets the pubuid/subuid generator.
func WithIDSource(ids IDSource) Option {
	return func(c *Config) { c.IDs = ids }
}

// WithMetrics attaches a Prometheus metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithTracing enables OpenTelemetry tracing.
func WithTracing() Option {
	return func(c *Config) { c.Tracing = true }
}

// WithDialer replaces the transport dialer.
func WithDialer(dial DialFunc) Option {
	return func(c *Config) { c.Dial = dial }
}

func defaultConfig(host, name string) Config {
	return Config{
		Host:         host,
		Port:         DefaultPort,
		Name:         name,
		DialTimeout:  DefaultDialTimeout,
		SyncInterval: DefaultSyncInterval,
		Logger:       slog.Default(),
		Clock:        clock.New(),
		IDs:          NewCounterIDSource(),
	}
}
