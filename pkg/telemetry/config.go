package telemetry

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	logLevels     = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats    = []string{"console", "json"}
	spanExporters = []string{"otlp", "stdout", "none"}
)

// Config is the telemetry setup of one yodler process.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Environment is recorded on every span, e.g. "staging".
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig selects where and how log lines are written.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error or fatal.
	Level string

	// Format is console or json.
	Format string

	// Output is stderr, stdout or a file path opened for append.
	Output string

	EnableCaller bool
	NoColor      bool

	// TimeFormat is unix (time.UnixDate), kitchen or rfc3339. Console
	// output only.
	TimeFormat string
}

// TracingConfig selects the span exporter for runs and actions.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none. With none, spans are sampled but
	// dropped.
	Exporter string

	// Endpoint is the OTLP gRPC collector, e.g. "localhost:4317".
	Endpoint string
	Insecure bool
	Headers  map[string]string

	SamplingRate       float64
	MaxExportBatchSize int
	ExportTimeout      time.Duration
}

// MetricsConfig configures the Prometheus run and action metrics.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path over HTTP. Empty collects without serving.
	ListenAddress string
	Path          string
	Namespace     string

	// DefaultHistogramBuckets are the duration buckets in seconds. Action
	// durations range from a quick probe to a long package upgrade.
	DefaultHistogramBuckets []float64
}

// DefaultConfig returns console logging at info to stderr with tracing and
// metrics off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "yodler",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "kitchen",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			Insecure:           true,
			Headers:            map[string]string{},
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			Path:                    "/metrics",
			Namespace:               "yodler",
			DefaultHistogramBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1200},
		},
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service version is required"))
	}
	if !slices.Contains(logLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid log level: %s", c.Logging.Level))
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format))
	}
	if t := c.Tracing; t.Enabled {
		if !slices.Contains(spanExporters, t.Exporter) {
			errs = append(errs, fmt.Errorf("invalid trace exporter: %s", t.Exporter))
		}
		if t.Exporter == "otlp" && t.Endpoint == "" {
			errs = append(errs, errors.New("otlp exporter requires an endpoint"))
		}
	}
	if r := c.Tracing.SamplingRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("trace sampling rate must be between 0 and 1, got: %g", r))
	}
	return errors.Join(errs...)
}
