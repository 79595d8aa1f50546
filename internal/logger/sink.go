package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// activityTimeLayout matches the timestamps the cores write into the shared log.
const activityTimeLayout = "2006/01/02 15:04:05.000000"

// FileSink is the append-only activity log shared with the managed cores.
type FileSink struct {
	zapcore.Core

	// file is the underlying append-mode handle.
	file *os.File
}

// NewFileCore opens path in append mode and returns a core writing
// "<timestamp> [LEVEL] message" lines to it.
func NewFileCore(path string, level zapcore.LevelEnabler) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}

	//nolint:exhaustruct // Caller and stacktrace are not useful in the shared log.
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout(activityTimeLayout),
		EncodeLevel:      bracketLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})

	return &FileSink{
		Core: &coreWithLevel{
			Core:  zapcore.NewCore(encoder, zapcore.Lock(file), level),
			level: level,
		},
		file: file,
	}, nil
}

// Close flushes and closes the log file.
func (s *FileSink) Close() error {
	_ = s.Sync()

	return s.file.Close()
}

func bracketLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// coreWithLevel wraps a zapcore.Core with its own level enabler
// so the file sink keeps filtering after With() calls.
type coreWithLevel struct {
	zapcore.Core

	// level is the minimum log level for this core to process messages.
	level zapcore.LevelEnabler
}

// Enabled reports whether the wrapped level allows l.
func (c *coreWithLevel) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

// Check adds the core to a checked entry if the log entry level is enabled for logging.
//
//nolint:gocritic // AddCore requires ent to be passed by value.
func (c *coreWithLevel) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// With returns a new core with added fields to the wrapped core.
//
//nolint:ireturn,nolintlint // Returning zapcore.Core is intended for zap integration.
func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{
		Core:  c.Core.With(fields),
		level: c.level,
	}
}
