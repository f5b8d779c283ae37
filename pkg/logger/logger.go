package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const LoggerKey contextKey = "logger"

type Logger struct {
	*zerolog.Logger
}

// New creates a new logger instance with service context
func New(service string) *Logger {
	return NewWithWriter(os.Stdout, service)
}

// NewWithWriter creates a service logger that writes JSON lines to w
func NewWithWriter(w io.Writer, service string) *Logger {
	hostname, _ := os.Hostname()

	// Configure zerolog
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "@timestamp" // ELK compatible

	logger := zerolog.New(w).
		With().
		Timestamp().
		Str("service", service).
		Str("hostname", hostname).
		Str("environment", getEnv("ENVIRONMENT", "development")).
		Str("version", getEnv("SERVICE_VERSION", "unknown")).
		Logger()

	return &Logger{&logger}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	logger := zerolog.Nop()
	return &Logger{&logger}
}

// WithContext returns a logger from context or creates a new one
func WithContext(ctx context.Context, service string) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return New(service)
}

// FromContext returns the logger stored in ctx, or fallback when there is none
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if logger, ok := ctx.Value(LoggerKey).(*Logger); ok {
		return logger
	}
	return fallback
}

// ToContext adds logger to context
func (l *Logger) ToContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, LoggerKey, l)
}

// WithRequestID adds request/correlation ID for tracing
func (l *Logger) WithRequestID(requestID string) *Logger {
	logger := l.Logger.With().Str("request_id", requestID).Logger()
	return &Logger{&logger}
}

// WithScheduler adds the identity of the scheduler instance
func (l *Logger) WithScheduler(id uuid.UUID, name string) *Logger {
	logger := l.Logger.With().
		Str("scheduler_id", id.String()).
		Str("scheduler_name", name).
		Logger()
	return &Logger{&logger}
}

// WithJob adds job context
func (l *Logger) WithJob(jobName, jobKey string) *Logger {
	logger := l.Logger.With().
		Str("job_name", jobName).
		Str("job_key", jobKey).
		Logger()
	return &Logger{&logger}
}

// LogJobStart logs job execution start
func (l *Logger) LogJobStart(jobName string, fireTime time.Time) {
	l.Info().
		Str("action", "job_start").
		Str("job_name", jobName).
		Time("fire_time_utc", fireTime).
		Msg("Starting job execution")
}

// LogJobComplete logs job completion with its outcome
func (l *Logger) LogJobComplete(jobName string, duration time.Duration, succeeded bool, status string) {
	event := l.Info()
	if !succeeded {
		event = l.Warn()
	}

	event.
		Str("action", "job_complete").
		Str("job_name", jobName).
		Dur("duration", duration).
		Bool("succeeded", succeeded).
		Str("status", status).
		Msg("Job execution completed")
}

// LogStateTransition logs a job moving between scheduler states
func (l *Logger) LogStateTransition(jobName, from, to string) {
	l.Debug().
		Str("action", "job_transition").
		Str("job_name", jobName).
		Str("from_state", from).
		Str("to_state", to).
		Msg("Job state changed")
}

// LogDatabaseOperation logs database operations
func (l *Logger) LogDatabaseOperation(operation string, table string, affectedRows int, duration time.Duration, err error) {
	event := l.Debug()
	if err != nil {
		event = l.Error().Err(err)
	}

	event.
		Str("action", "db_operation").
		Str("operation", operation).
		Str("table", table).
		Int("affected_rows", affectedRows).
		Dur("duration", duration).
		Bool("success", err == nil).
		Msg("Database operation")
}

// Fatalf logs a fatal error and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.Fatal().Msgf(format, args...)
}

// SetupLogger configures global log level based on environment
func SetupLogger() {
	level := os.Getenv("LOG_LEVEL")
	zerolog.SetGlobalLevel(ParseLevel(level))

	// Pretty logging for development
	if getEnv("ENVIRONMENT", "development") == "development" {
		if level == "" {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		logger := zerolog.New(output).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &logger
	}
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
