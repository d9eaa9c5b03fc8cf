package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wipecert/internal/config"
)

// EnterpriseLogger is the audit logger shared by every package. It keeps a
// leveled Log(level, message, key, value, ...) facade over zerolog.
type EnterpriseLogger struct {
	zl   zerolog.Logger
	file *os.File
}

// NewEnterpriseLogger writes JSON lines to cfg.Logging.File and, when
// verbose or console output is enabled, a human-readable stream to stderr.
func NewEnterpriseLogger(cfg *config.Config, verbose bool) (*EnterpriseLogger, error) {
	l := &EnterpriseLogger{}
	var writers []io.Writer

	if cfg.Logging.File != "" {
		logDir := filepath.Dir(cfg.Logging.File)
		f, err := openLogFile(logDir, cfg.Logging.File)
		if err != nil {
			// keep going on stderr
			fmt.Fprintf(os.Stderr, "[WARN] cannot open log file %s: %v, logging to stderr\n", cfg.Logging.File, err)
			writers = append(writers, os.Stderr)
		} else {
			l.file = f
			writers = append(writers, f)
		}
	}
	if verbose || cfg.Logging.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	}

	level := parseLevel(cfg.Logging.Level)
	if verbose && level > zerolog.DebugLevel {
		level = zerolog.DebugLevel
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()
	return l, nil
}

func openLogFile(dir, path string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// New wraps an existing zerolog logger.
func New(zl zerolog.Logger) *EnterpriseLogger {
	return &EnterpriseLogger{zl: zl}
}

// Nop returns a logger that discards everything.
func Nop() *EnterpriseLogger {
	return &EnterpriseLogger{zl: zerolog.Nop()}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *EnterpriseLogger) *EnterpriseLogger {
	if l == nil {
		return Nop()
	}
	return l
}

// Zerolog exposes the underlying logger for packages that log natively.
func (l *EnterpriseLogger) Zerolog() *zerolog.Logger {
	return &l.zl
}

// Log writes message at level with alternating key/value fields. An odd
// trailing value is logged under "extra".
func (l *EnterpriseLogger) Log(level, message string, fields ...interface{}) {
	var ev *zerolog.Event
	switch strings.ToUpper(level) {
	case "DEBUG":
		ev = l.zl.Debug()
	case "WARN", "WARNING":
		ev = l.zl.Warn()
	case "ERROR":
		ev = l.zl.Error()
	case "FATAL":
		// WithLevel does not exit; the caller decides
		ev = l.zl.WithLevel(zerolog.FatalLevel)
	default:
		ev = l.zl.Info()
	}
	if ev == nil {
		return
	}

	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			ev = ev.Interface("extra", fields[i])
			break
		}
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		switch v := fields[i+1].(type) {
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(message)
}

// With returns a child logger carrying the given key/value fields.
func (l *EnterpriseLogger) With(fields ...interface{}) *EnterpriseLogger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		ctx = ctx.Interface(key, fields[i+1])
	}
	return &EnterpriseLogger{zl: ctx.Logger(), file: l.file}
}

func (l *EnterpriseLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
