package rencontre

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

const loggerNameKey = "logger"

var (
	defaultLogWriter io.Writer = os.Stdout
)

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// newLogHandler returns the tint handler used by every component logger
func newLogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(
		w, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// newComponentLogger returns a logger tagged with the given component name
func newComponentLogger(level slog.Leveler, name string) *slog.Logger {
	return slog.New(newLogHandler(defaultLogWriter, level)).With(loggerNameKey, name)
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// gormStructuredLogger implements gorm's logger.Interface on top of slog
type gormStructuredLogger struct {
	logger        *slog.Logger
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		SlowThreshold: slowThreshold,
	}
}

// LogMode is a no-op, levels are controlled by the slog handler
func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g gormStructuredLogger) Info(ctx context.Context, s string, i ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(ctx context.Context, s string, i ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(ctx context.Context, s string, i ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	var rows any = rowsAffected
	if rowsAffected == -1 {
		rows = "-"
	}

	// not-found lookups are expected (ex: a user without a profile)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		g.logger.ErrorContext(
			ctx,
			"sql error",
			"elapsed", elapsed,
			"rows", rows,
			"sql", s,
			tint.Err(err),
		)
		return
	}

	if g.SlowThreshold != 0 && elapsed > g.SlowThreshold {
		g.logger.WarnContext(
			ctx,
			"slow sql",
			"elapsed", elapsed,
			"threshold", g.SlowThreshold,
			"rows", rows,
			"sql", s,
		)
		return
	}
	g.logger.DebugContext(
		ctx,
		"sql completed",
		"elapsed", elapsed,
		"rows", rows,
		"sql", s,
	)
}

// handleRecover logs a recovered panic with its stack trace, using the
// context logger if one is set
func handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(v)),
			"stack_trace", stackTrace,
		)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
