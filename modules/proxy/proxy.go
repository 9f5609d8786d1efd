// Package proxy is the HTTP data plane: it classifies the request path,
// evaluates the authorisation decision against the current snapshot, and
// either renders a denial page or streams the request through to the
// origin and the response back to the client.
package proxy

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/uktrade/ip-filter/modules/authengine"
	"github.com/uktrade/ip-filter/modules/pathclassifier"
	"github.com/uktrade/ip-filter/modules/ruleset"
	"github.com/uktrade/ip-filter/pkg/util/log"
)

// SnapshotStore is the subset of refresher.Store the Proxy depends on.
type SnapshotStore interface {
	Load() *ruleset.Snapshot
}

// Config configures the origin dispatch and timeout model. Captured once
// at start-up; later environment changes have no effect on a running
// Proxy.
type Config struct {
	// OriginScheme is SERVER_PROTO, e.g. "http".
	OriginScheme string
	// OriginHost is SERVER: the origin authority, host[:port].
	OriginHost string
	// ConnectTimeout bounds dialing the origin.
	ConnectTimeout time.Duration
	// ResponseHeaderTimeout bounds waiting for the origin's response
	// headers once the request has been sent; this is the "upstream read
	// timeout" of the design, default 30s.
	ResponseHeaderTimeout time.Duration
}

// Proxy is the HTTP handler wired as the single route of the server:
// PathClassifier decides whether AuthEngine applies, AuthEngine decides
// Allow/Deny, and on Allow the request is streamed to the origin.
type Proxy struct {
	classifier *pathclassifier.Classifier
	engine     *authengine.Engine
	store      SnapshotStore
	denial     *DenialRenderer
	rp         *httputil.ReverseProxy
}

// New builds a Proxy. classifier and engine implement the two decision
// steps; store exposes the currently-published Snapshot; denial renders
// the 403 page.
func New(cfg Config, classifier *pathclassifier.Classifier, engine *authengine.Engine, store SnapshotStore, denial *DenialRenderer) *Proxy {
	p := &Proxy{
		classifier: classifier,
		engine:     engine,
		store:      store,
		denial:     denial,
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			// Deliberately do not call r.SetXForwarded: the fronting load
			// balancer's X-Forwarded-For is authoritative and must reach
			// the origin unchanged.
			r.Out.URL.Scheme = cfg.OriginScheme
			r.Out.URL.Host = cfg.OriginHost
			r.Out.Host = cfg.OriginHost
		},
		Transport:    transport,
		ErrorHandler: proxyErrorHandler,
	}

	return p
}

// ServeHTTP implements the per-request control flow: classify, authorise,
// dispatch, log.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	snap := p.store.Load()
	correlationID := correlationID(r)

	// Path lists are matched against the path as sent, before percent-decoding.
	if p.classifier.Classify(r.URL.EscapedPath()) == pathclassifier.Bypass {
		rw := &recordingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		p.rp.ServeHTTP(rw, r)
		logAccess(accessLogEntry{
			clientIP:      r.Header.Get("X-Forwarded-For"),
			method:        r.Method,
			path:          r.URL.Path,
			decision:      "Bypass",
			upstreamCode:  rw.status,
			bytes:         rw.bytes,
			elapsed:       time.Since(start),
			version:       snap.Version,
			correlationID: correlationID,
		})
		return
	}

	decision := p.engine.Authorise(r.Context(), r, snap)
	clientIP := ""
	if decision.ClientIP != nil {
		clientIP = decision.ClientIP.String()
	} else {
		clientIP = r.Header.Get("X-Forwarded-For")
	}

	if !decision.Allowed {
		p.denial.Render(w)
		logAccess(accessLogEntry{
			clientIP:      clientIP,
			method:        r.Method,
			path:          r.URL.Path,
			decision:      "Deny(" + decision.Reason.String() + ")",
			elapsed:       time.Since(start),
			version:       snap.Version,
			correlationID: correlationID,
		})
		return
	}

	rw := &recordingResponseWriter{ResponseWriter: w, status: http.StatusOK}
	p.rp.ServeHTTP(rw, r)

	decisionLabel := "Allow"
	if r.Context().Err() != nil {
		decisionLabel = "client_abort"
	}
	logAccess(accessLogEntry{
		clientIP:      clientIP,
		method:        r.Method,
		path:          r.URL.Path,
		decision:      decisionLabel,
		upstreamCode:  rw.status,
		bytes:         rw.bytes,
		elapsed:       time.Since(start),
		version:       snap.Version,
		correlationID: correlationID,
	})
}

// proxyErrorHandler distinguishes a connect/network failure (502) from a
// dial or response-header timeout (504); a client disconnect produces no
// response body at all, since the client is no longer reading.
//
// Neither ConnectTimeout (net.Dialer.Timeout) nor ResponseHeaderTimeout
// (http.Transport.ResponseHeaderTimeout) surfaces as context.DeadlineExceeded:
// both report through net.Error.Timeout() instead, since no outbound
// request context here ever carries its own deadline.
func proxyErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(r.Context().Err(), context.Canceled) {
		level.Info(log.Logger).Log("msg", "client disconnected while proxying", "path", r.URL.Path)
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		level.Warn(log.Logger).Log("msg", "origin timed out", "path", r.URL.Path, "err", err)
		w.WriteHeader(http.StatusGatewayTimeout)
		_, _ = w.Write([]byte("upstream timeout\n"))
		return
	}

	level.Warn(log.Logger).Log("msg", "origin connection failed", "path", r.URL.Path, "err", err)
	w.WriteHeader(http.StatusBadGateway)
	_, _ = w.Write([]byte("upstream error\n"))
}

// correlationID looks for a correlation identifier on common header names;
// when none is present it mints one, so every access-log line can still be
// correlated with whatever the origin logs for the same request.
func correlationID(r *http.Request) string {
	for _, name := range []string{"X-Correlation-Id", "X-Request-Id", "X-Amzn-Trace-Id"} {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// recordingResponseWriter captures the status code and byte count written
// to the client without buffering the body, so streaming responses are
// still logged accurately.
type recordingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rw *recordingResponseWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *recordingResponseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += int64(n)
	return n, err
}

// Flush lets the streamed response cross http.Flusher through to the
// underlying ResponseWriter, matching net/http/httputil's own expectations
// of a flushable writer for long-lived responses.
func (rw *recordingResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
