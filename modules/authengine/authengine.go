// Package authengine implements the authorisation predicate evaluated per
// request against the current ruleset.Snapshot.
package authengine

import (
	"context"
	"encoding/base64"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/uktrade/ip-filter/modules/ruleset"
)

// Reason explains why a request was denied. The zero value is never used
// on its own; it only appears inside a Decision for which Allowed is true.
type Reason int

const (
	reasonNone Reason = iota
	// NoMatchingRule means no check matched and none is a partial candidate.
	NoMatchingRule
	// BasicAuthFailed means basic-auth entries applied to the path but the
	// presented credentials (or their absence) didn't match any of them.
	BasicAuthFailed
	// MissingSharedToken means shared-token entries exist but no header on
	// the request matched one.
	MissingSharedToken
	// MalformedXForwardedFor means the client IP could not be extracted
	// per the configured index rule and the Snapshot holds at least one rule.
	MalformedXForwardedFor
)

func (r Reason) String() string {
	switch r {
	case NoMatchingRule:
		return "NoMatchingRule"
	case BasicAuthFailed:
		return "BasicAuthFailed"
	case MissingSharedToken:
		return "MissingSharedToken"
	case MalformedXForwardedFor:
		return "MalformedXForwardedFor"
	default:
		return "None"
	}
}

// reasonPriority ranks reasons for the final Deny report: the most
// specific, most actionable reason is logged.
var reasonPriority = map[Reason]int{
	BasicAuthFailed:        4,
	MissingSharedToken:     3,
	MalformedXForwardedFor: 2,
	NoMatchingRule:         1,
	reasonNone:             0,
}

// Decision is the result of AuthEngine.Authorise.
type Decision struct {
	Allowed bool
	Reason  Reason
	// ClientIP is the IP extracted via the XFF index rule, for logging,
	// even when extraction failed (in which case it is nil).
	ClientIP net.IP
}

// Engine evaluates the disjunctive IP/basic-auth/shared-token predicate.
type Engine struct {
	// XFFIndex selects which comma-separated X-Forwarded-For entry is "the
	// client". Python-style negative indices: -1 is last, -2 is
	// second-last. The default of -2 assumes exactly one trusted hop (the
	// fronting load balancer) appends its own address to XFF.
	XFFIndex int
}

// New builds an Engine with the given XFF index.
func New(xffIndex int) *Engine {
	return &Engine{XFFIndex: xffIndex}
}

// Authorise evaluates the request against snap. Checks short-circuit on
// the first Allow; when none allow, the reported Reason is the
// highest-priority candidate collected along the way.
func (e *Engine) Authorise(_ context.Context, r *http.Request, snap *ruleset.Snapshot) Decision {
	clientIP, ipErr := e.extractClientIP(r.Header.Get("X-Forwarded-For"))

	best := reasonNone

	// 1. IP check.
	if ipErr == nil && snap.IPAllowed(clientIP) {
		return Decision{Allowed: true, ClientIP: clientIP}
	}
	// A Snapshot with no rules at all denies with NoMatchingRule whatever
	// the request carries, so a failed extraction only counts as a reason
	// when there is some rule to evaluate.
	if ipErr != nil && (len(snap.IPRanges) > 0 || len(snap.BasicAuth) > 0 || len(snap.SharedTokens) > 0) {
		best = higherPriority(best, MalformedXForwardedFor)
	}

	// 2. Basic-auth check.
	if entries := snap.MatchingBasicAuth(r.URL.Path); len(entries) > 0 {
		user, pass, ok := basicAuthCredentials(r)
		if ok && snap.BasicAuthAllows(r.URL.Path, user, pass) {
			return Decision{Allowed: true, ClientIP: clientIP}
		}
		best = higherPriority(best, BasicAuthFailed)
	}

	// 3. Shared-token check.
	if len(snap.SharedTokens) > 0 {
		if e.sharedTokenAllows(r, snap) {
			return Decision{Allowed: true, ClientIP: clientIP}
		}
		best = higherPriority(best, MissingSharedToken)
	}

	if best == reasonNone {
		best = NoMatchingRule
	}
	return Decision{Allowed: false, Reason: best, ClientIP: clientIP}
}

func higherPriority(current, candidate Reason) Reason {
	if reasonPriority[candidate] > reasonPriority[current] {
		return candidate
	}
	return current
}

// sharedTokenAllows reports whether any header on the request matches a
// configured shared-token entry.
func (e *Engine) sharedTokenAllows(r *http.Request, snap *ruleset.Snapshot) bool {
	for name, values := range r.Header {
		for _, v := range values {
			if snap.SharedTokenAllows(name, v) {
				return true
			}
		}
	}
	return false
}

func basicAuthCredentials(r *http.Request) (user, pass string, ok bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Basic "
	if !strings.HasPrefix(auth, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, prefix))
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}

// extractClientIP selects the XFF entry at e.XFFIndex and parses it as an
// IP. A missing header, an out-of-range index, or an unparsable element
// all produce an error.
func (e *Engine) extractClientIP(xff string) (net.IP, error) {
	if xff == "" {
		return nil, errMalformedXFF
	}
	parts := strings.Split(xff, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	idx := e.XFFIndex
	if idx < 0 {
		idx += len(parts)
	}
	if idx < 0 || idx >= len(parts) {
		return nil, errMalformedXFF
	}

	ip := net.ParseIP(parts[idx])
	if ip == nil {
		return nil, errMalformedXFF
	}
	return ip, nil
}

var errMalformedXFF = xffError("malformed or missing X-Forwarded-For")

type xffError string

func (e xffError) Error() string { return string(e) }

// ParseXFFIndex is a small helper for config loading: it accepts the
// textual default and any integer, positive or negative.
func ParseXFFIndex(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
