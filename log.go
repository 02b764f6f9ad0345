package flightsim

import (
	"io"

	kitlog "github.com/go-kit/kit/log"
)

// NewLogger returns a timestamped logfmt or JSON logger writing to w.
// Debug lines are dropped unless verbose is set.
func NewLogger(w io.Writer, format string, verbose bool) kitlog.Logger {
	w = kitlog.NewSyncWriter(w)
	var logger kitlog.Logger
	if format == "json" {
		logger = kitlog.NewJSONLogger(w)
	} else {
		logger = kitlog.NewLogfmtLogger(w)
	}
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
	if verbose {
		return logger
	}
	return kitlog.LoggerFunc(func(keyvals ...interface{}) error {
		for i := 0; i+1 < len(keyvals); i += 2 {
			if keyvals[i] == "level" && keyvals[i+1] == "debug" {
				return nil
			}
		}
		return logger.Log(keyvals...)
	})
}
