// Package log owns the process-wide structured logger.
package log

import (
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is the global structured logger. It is safe for concurrent use and
// is assigned once by InitLogger before any request is served.
var Logger = log.NewNopLogger()

// InitLogger builds the global Logger from the given level string
// ("debug", "info", "warn", "error"; unrecognised values fall back to info)
// and installs timestamp/caller annotations in logfmt.
func InitLogger(logLevel string) {
	l := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	l = log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.Caller(5))

	var lvl level.Option
	switch strings.ToLower(logLevel) {
	case "debug":
		lvl = level.AllowDebug()
	case "warn":
		lvl = level.AllowWarn()
	case "error":
		lvl = level.AllowError()
	default:
		lvl = level.AllowInfo()
	}
	Logger = level.NewFilter(l, lvl)
}
