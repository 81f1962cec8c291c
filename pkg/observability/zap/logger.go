package zap

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ubzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theory-cloud/cleanserverless/pkg/observability"
	"github.com/theory-cloud/cleanserverless/pkg/sanitization"
)

const (
	levelDebug = "debug"
	levelInfo  = "info"
	levelWarn  = "warn"
	levelError = "error"
)

type Option func(*loggerOptions)

type loggerOptions struct {
	zapLogger *ubzap.Logger
	sanitizer observability.SanitizerFunc
	output    io.Writer
}

func WithZapLogger(logger *ubzap.Logger) Option {
	return func(opts *loggerOptions) {
		opts.zapLogger = logger
	}
}

func WithSanitizer(fn observability.SanitizerFunc) Option {
	return func(opts *loggerOptions) {
		opts.sanitizer = fn
	}
}

// WithOutput directs encoded entries to w instead of stderr. Ignored when
// WithZapLogger is also given.
func WithOutput(w io.Writer) Option {
	return func(opts *loggerOptions) {
		opts.output = w
	}
}

type zapCore struct {
	logger    *ubzap.Logger
	sanitizer observability.SanitizerFunc

	closeOnce sync.Once
	closed    atomic.Bool

	entriesLogged   atomic.Int64
	flushCount      atomic.Int64
	errorCount      atomic.Int64
	lastFlushNanos  atomic.Int64
	totalFlushNanos atomic.Int64
	lastError       atomic.Value
}

type Logger struct {
	core *zapCore
	log  *ubzap.Logger

	fields map[string]any

	runID string
	route string
	step  string
}

var _ observability.StructuredLogger = (*Logger)(nil)

func NewZapLogger(config observability.LoggerConfig, options ...Option) (observability.StructuredLogger, error) {
	cfg := normalizeLoggerConfig(config)

	opts := &loggerOptions{
		sanitizer: sanitization.SanitizeFieldValue,
		output:    os.Stderr,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(opts)
	}

	base := opts.zapLogger
	if base == nil {
		level, err := parseZapLevel(cfg.Level)
		if err != nil {
			return nil, err
		}

		enc := zapEncoderConfig(cfg.EnableCaller)
		var encoder zapcore.Encoder
		switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
		case "console":
			encoder = zapcore.NewConsoleEncoder(enc)
		case "json":
			encoder = zapcore.NewJSONEncoder(enc)
		default:
			return nil, errors.New("observability/zap: unsupported log format")
		}

		core := zapcore.NewCore(encoder, zapcore.AddSync(opts.output), level)
		base = ubzap.New(core)
		if cfg.EnableCaller {
			base = base.WithOptions(ubzap.AddCaller())
		}
		if cfg.EnableStack {
			base = base.WithOptions(ubzap.AddStacktrace(zapcore.ErrorLevel))
		}
	}

	zcore := &zapCore{
		logger:    base,
		sanitizer: opts.sanitizer,
	}
	zcore.lastError.Store("")

	return &Logger{
		core:   zcore,
		log:    base,
		fields: map[string]any{},
	}, nil
}

func normalizeLoggerConfig(config observability.LoggerConfig) observability.LoggerConfig {
	cfg := config
	if strings.TrimSpace(cfg.Format) == "" {
		cfg.Format = "console"
	}
	if strings.TrimSpace(cfg.Level) == "" {
		cfg.Level = levelInfo
	}
	return cfg
}

func parseZapLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case levelDebug:
		return zapcore.DebugLevel, nil
	case levelInfo, "":
		return zapcore.InfoLevel, nil
	case levelWarn, "warning":
		return zapcore.WarnLevel, nil
	case levelError:
		return zapcore.ErrorLevel, nil
	default:
		return 0, errors.New("observability/zap: unsupported log level")
	}
}

func zapEncoderConfig(enableCaller bool) zapcore.EncoderConfig {
	enc := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if enableCaller {
		enc.CallerKey = "caller"
		enc.EncodeCaller = zapcore.ShortCallerEncoder
	}
	return enc
}

func (l *Logger) Debug(message string, fields ...map[string]any) {
	l.logEntry(levelDebug, message, fields...)
}
func (l *Logger) Info(message string, fields ...map[string]any) {
	l.logEntry(levelInfo, message, fields...)
}
func (l *Logger) Warn(message string, fields ...map[string]any) {
	l.logEntry(levelWarn, message, fields...)
}
func (l *Logger) Error(message string, fields ...map[string]any) {
	l.logEntry(levelError, message, fields...)
}

func (l *Logger) WithField(key string, value any) observability.StructuredLogger {
	return l.WithFields(map[string]any{key: value})
}

func (l *Logger) WithFields(fields map[string]any) observability.StructuredLogger {
	next := l.clone()
	for k, v := range fields {
		next.fields[k] = v
	}
	next.log = next.log.With(anyFields(fields, l.core.sanitizer)...)
	return next
}

func (l *Logger) WithRunID(runID string) observability.StructuredLogger {
	next := l.clone()
	next.runID = runID
	next.log = next.log.With(ubzap.String("run_id", sanitization.SanitizeLogString(runID)))
	return next
}

func (l *Logger) WithRoute(route string) observability.StructuredLogger {
	next := l.clone()
	next.route = route
	next.log = next.log.With(ubzap.String("route", sanitization.SanitizeLogString(route)))
	return next
}

func (l *Logger) WithStep(step string) observability.StructuredLogger {
	next := l.clone()
	next.step = step
	next.log = next.log.With(ubzap.String("step", sanitization.SanitizeLogString(step)))
	return next
}

func (l *Logger) Flush(_ context.Context) error {
	if l == nil || l.core == nil {
		return nil
	}

	start := time.Now()
	l.core.flushCount.Add(1)
	err := l.core.sync()

	dur := time.Since(start)
	l.core.lastFlushNanos.Store(time.Now().UnixNano())
	l.core.totalFlushNanos.Add(dur.Nanoseconds())

	return err
}

func (l *Logger) Close() error {
	if l == nil || l.core == nil {
		return nil
	}
	return l.core.close()
}

func (l *Logger) IsHealthy() bool {
	if l == nil || l.core == nil {
		return false
	}
	if l.core.closed.Load() {
		return false
	}
	return l.core.lastErrorString() == ""
}

func (l *Logger) GetStats() observability.LoggerStats {
	if l == nil || l.core == nil {
		return observability.LoggerStats{}
	}

	flushCount := l.core.flushCount.Load()
	totalFlush := l.core.totalFlushNanos.Load()

	avg := time.Duration(0)
	if flushCount > 0 && totalFlush > 0 {
		avg = time.Duration(totalFlush / flushCount)
	}

	return observability.LoggerStats{
		LastFlush:     time.Unix(0, l.core.lastFlushNanos.Load()),
		LastError:     l.core.lastErrorString(),
		EntriesLogged: l.core.entriesLogged.Load(),
		FlushCount:    flushCount,
		ErrorCount:    l.core.errorCount.Load(),
		AverageFlush:  avg,
	}
}

func (l *Logger) clone() *Logger {
	if l == nil {
		return &Logger{}
	}
	nextFields := make(map[string]any, len(l.fields))
	for k, v := range l.fields {
		nextFields[k] = v
	}
	return &Logger{
		core:   l.core,
		log:    l.log,
		fields: nextFields,
		runID:  l.runID,
		route:  l.route,
		step:   l.step,
	}
}

func (l *Logger) logEntry(level string, message string, fields ...map[string]any) {
	if !l.canLog() {
		return
	}

	message = sanitization.SanitizeLogString(message)
	l.write(level, message, anyFields(mergeFieldSets(fields...), l.core.sanitizer))
	l.core.entriesLogged.Add(1)
}

func anyFields(fields map[string]any, sanitizerFn observability.SanitizerFunc) []ubzap.Field {
	if len(fields) == 0 {
		return nil
	}

	out := make([]ubzap.Field, 0, len(fields))
	for k, v := range fields {
		if sanitizerFn != nil {
			v = sanitizerFn(k, v)
		} else {
			v = sanitization.SanitizeFieldValue(k, v)
		}
		out = append(out, ubzap.Any(k, v))
	}
	return out
}

func (l *Logger) canLog() bool {
	if l == nil || l.core == nil || l.log == nil {
		return false
	}
	return !l.core.closed.Load()
}

func mergeFieldSets(fieldSets ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, set := range fieldSets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}

func (l *Logger) write(level string, message string, fields []ubzap.Field) {
	switch level {
	case levelDebug:
		l.log.Debug(message, fields...)
	case levelWarn:
		l.log.Warn(message, fields...)
	case levelError:
		l.log.Error(message, fields...)
	default:
		l.log.Info(message, fields...)
	}
}

// sync flushes the underlying core. Syncing a terminal or pipe reports
// EINVAL/ENOTTY on some platforms; those are not treated as failures.
func (c *zapCore) sync() error {
	err := c.logger.Sync()
	if err == nil || isIgnorableSyncError(err) {
		return nil
	}
	c.errorCount.Add(1)
	c.lastError.Store(err.Error())
	return err
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

func (c *zapCore) close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.sync()
	})
	return err
}

func (c *zapCore) lastErrorString() string {
	if c == nil {
		return ""
	}
	lastError, ok := c.lastError.Load().(string)
	if !ok {
		return ""
	}
	return lastError
}
