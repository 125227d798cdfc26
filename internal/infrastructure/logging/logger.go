package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"

	"github.com/nerrad567/forum-core/internal/infrastructure/config"
)

// Rotation defaults used when the file section leaves them unset.
const (
	defaultRotationTime = 24 * time.Hour
	defaultMaxAgeDays   = 7
	hoursPerDay         = 24
)

// Logger wraps slog.Logger with forum-specific functionality.
//
// It provides structured logging with default fields and level-based filtering.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (JSON for production, text for development)
//   - Log level filtering
//   - Default fields (service name, version)
//   - Output destination (stdout, stderr, or a rotating file)
//
// If the rotating file cannot be opened the logger falls back to stdout and
// records a warning as its first entry.
//
// Parameters:
//   - cfg: Logging configuration from config.yaml
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	output, outputErr := openOutput(cfg)

	// Parse log level
	level := parseLevel(cfg.Level)

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewJSONHandler(output, opts)
	}

	// Add default fields
	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "forum-core"),
		slog.String("version", version),
	})

	logger := &Logger{
		Logger: slog.New(handler),
	}
	if outputErr != nil {
		logger.Warn("log file unavailable, using stdout", "path", cfg.File.Path, "error", outputErr)
	}
	return logger
}

// openOutput resolves the configured destination. A file path with output
// "file" writes only to the rotating file; a file path with any other output
// tees to both.
func openOutput(cfg config.LoggingConfig) (io.Writer, error) {
	var console io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		console = os.Stderr
	}

	if cfg.File.Path == "" {
		return console, nil
	}

	file, err := newRotatingFile(cfg.File)
	if err != nil {
		return os.Stdout, err
	}

	if strings.ToLower(cfg.Output) == "file" {
		return file, nil
	}
	return io.MultiWriter(console, file), nil
}

// newRotatingFile opens a time-rotated log file. The active file is always
// reachable through cfg.Path, which is maintained as a symlink.
func newRotatingFile(cfg config.FileLoggingConfig) (*rotatelogs.RotateLogs, error) {
	rotation := time.Duration(cfg.RotationHours) * time.Hour
	if rotation <= 0 {
		rotation = defaultRotationTime
	}
	maxAgeDays := cfg.MaxAge
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}

	rl, err := rotatelogs.New(
		cfg.Path+".%Y%m%d%H%M",
		rotatelogs.WithLinkName(cfg.Path),
		rotatelogs.WithRotationTime(rotation),
		rotatelogs.WithMaxAge(time.Duration(maxAgeDays)*hoursPerDay*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("opening rotating log file: %w", err)
	}
	return rl, nil
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a new Logger with additional default attributes.
//
// Parameters:
//   - args: Key-value pairs to add as default attributes
//
// Returns:
//   - *Logger: New logger with added attributes
//
// Example:
//
//	authLogger := logger.With("component", "auth")
//	authLogger.Info("session swept") // Includes component=auth
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
// It should only be used during early startup before config is available.
//
// Returns:
//   - *Logger: Default logger
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}

// Discard returns a logger that drops every entry. Intended for tests and
// one-shot CLI commands that should stay quiet.
func Discard() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
