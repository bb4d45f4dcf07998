// Package logging builds the go-kit loggers used across prazo.
package logging

import (
	"io"
	"strings"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// New returns a logger writing to w. Format is "json" or "logfmt" (the
// default). Level is one of "debug", "info", "warn", "error" or "none";
// anything else means "info".
func New(format, lvl string, w io.Writer) log.Logger {
	var logger log.Logger
	if strings.ToLower(format) == "json" {
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	return level.NewFilter(logger, Allow(lvl))
}

// Allow maps a level name to a go-kit filter option.
func Allow(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none", "off":
		return level.AllowNone()
	default:
		return level.AllowInfo()
	}
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger log.Logger) log.Logger {
	if logger == nil {
		return log.NewNopLogger()
	}
	return logger
}
