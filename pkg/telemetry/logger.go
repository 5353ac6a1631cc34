package telemetry

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a zerolog logger that may own its output file.
type Logger struct {
	zlog   zerolog.Logger
	config LoggingConfig
	closer io.Closer
}

type loggerContextKey struct{}

// NewLogger opens cfg.Output and returns a logger writing to it. Close
// releases the file.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	switch cfg.Output {
	case "", "stderr":
		return NewLoggerWithWriter(cfg, os.Stderr), nil
	case "stdout":
		return NewLoggerWithWriter(cfg, os.Stdout), nil
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	l := NewLoggerWithWriter(cfg, f)
	l.closer = f
	return l, nil
}

// NewLoggerWithWriter returns a logger writing to w. Unknown levels log at
// info.
func NewLoggerWithWriter(cfg LoggingConfig, w io.Writer) *Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat(cfg.TimeFormat), NoColor: cfg.NoColor}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if cfg.EnableCaller {
		zctx = zctx.Caller()
	}
	return &Logger{zlog: zctx.Logger(), config: cfg}
}

func consoleTimeFormat(format string) string {
	switch format {
	case "unix":
		return time.UnixDate
	case "kitchen":
		return time.Kitchen
	}
	return time.RFC3339
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// Close releases the log file opened by NewLogger.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Logger) with(key, val string) *Logger {
	return &Logger{zlog: l.zlog.With().Str(key, val).Logger(), config: l.config}
}

// NewComponentLogger tags every line with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return l.with("component", component)
}

// WithRunID tags every line with the run identifier.
func (l *Logger) WithRunID(runID string) *Logger {
	return l.with("run_id", runID)
}

// WithHost tags every line with the target host.
func (l *Logger) WithHost(host string) *Logger {
	return l.with("host", host)
}

// WithContext stores l in ctx for FromContext and for zerolog.Ctx.
func (l *Logger) WithContext(ctx context.Context) context.Context {
	ctx = l.zlog.WithContext(ctx)
	return context.WithValue(ctx, loggerContextKey{}, l)
}

// FromContext returns the logger stored by WithContext, or one built on
// the global zerolog logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerContextKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zlog: log.Logger}
}
