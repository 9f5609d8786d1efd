package proxy

import (
	"strings"
	"time"

	"github.com/go-kit/log/level"

	"github.com/uktrade/ip-filter/pkg/util/log"
)

// warnLogger forwards to the package-level log.Logger at call time, rather
// than capturing its value at package-init, so it still reflects whatever
// level InitLogger configures at start-up.
type warnLogger struct{}

func (warnLogger) Log(keyvals ...interface{}) error {
	return level.Warn(log.Logger).Log(keyvals...)
}

// malformedXFFLogger absorbs a flood of malformed X-Forwarded-For denials
// (a misconfigured upstream proxy can produce one per request) without
// drowning out everything else at WARN.
var malformedXFFLogger = log.NewRateLimitedLogger(5, warnLogger{})

// accessLogEntry is the structured per-request record described by the
// logging design: enough to reconstruct what happened to a request without
// disclosing which auth check failed in the response itself.
type accessLogEntry struct {
	clientIP      string
	method        string
	path          string
	decision      string
	upstreamCode  int
	bytes         int64
	elapsed       time.Duration
	version       uint64
	correlationID string
}

// logAccess emits one access-log line per request at INFO, matching the
// default level for both allows and denials; Refresher emits its own
// WARN/DEBUG lines for fetch and merge outcomes.
func logAccess(e accessLogEntry) {
	kvs := []any{
		"msg", "request",
		"client_ip", e.clientIP,
		"method", e.method,
		"path", e.path,
		"decision", e.decision,
		"elapsed_ms", e.elapsed.Milliseconds(),
		"snapshot_version", e.version,
	}
	if e.upstreamCode != 0 {
		kvs = append(kvs, "upstream_status", e.upstreamCode, "bytes", e.bytes)
	}
	if e.correlationID != "" {
		kvs = append(kvs, "correlation_id", e.correlationID)
	}
	level.Info(log.Logger).Log(kvs...)

	if strings.Contains(e.decision, "MalformedXForwardedFor") {
		_ = malformedXFFLogger.Log("msg", "malformed X-Forwarded-For", "path", e.path, "correlation_id", e.correlationID)
	}
}
