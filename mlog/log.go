// Package mlog provides leveled logging with key/value fields, wrapping
// log/slog.
//
// Log strings should be constant, with variable data in fields, for easier
// log processing. The *x variants log an error value in the "err" field.
package mlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Level is the minimum level for all Log instances. Changed atomically,
// safe for concurrent use.
var level slog.LevelVar

var handler atomic.Value // slog.Handler

func init() {
	level.Set(slog.LevelInfo)
	handler.Store(slog.Handler(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))
}

// SetLevel parses s as a log level (debug, info, warn, error) and makes it
// the minimum level for all loggers. Unknown values leave the level
// unchanged and return false.
func SetLevel(s string) bool {
	switch strings.ToLower(s) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info", "":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		return false
	}
	return true
}

// SetOutput directs all future log output to w. Used by tests.
func SetOutput(w io.Writer) {
	handler.Store(slog.Handler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level})))
}

// Log logs with a "pkg" field identifying the originating package.
type Log struct {
	logger *slog.Logger
}

// New returns a logger that adds field "pkg" to each line.
func New(pkg string) Log {
	return Log{logger: slog.New(handler.Load().(slog.Handler)).With("pkg", pkg)}
}

// With returns a logger that adds the attributes to each line.
func (l Log) With(attrs ...slog.Attr) Log {
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	return Log{logger: l.logger.With(args...)}
}

func (l Log) Debug(msg string, attrs ...slog.Attr) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (l Log) Debugx(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (l Log) Info(msg string, attrs ...slog.Attr) {
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (l Log) Infox(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (l Log) Error(msg string, attrs ...slog.Attr) {
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func (l Log) Errorx(msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append([]slog.Attr{slog.Any("err", err)}, attrs...)
	}
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Check logs an error with msg if err is non-nil. Convenient for error
// paths that should not interrupt control flow.
func (l Log) Check(err error, msg string, attrs ...slog.Attr) {
	if err != nil {
		l.Errorx(msg, err, attrs...)
	}
}
