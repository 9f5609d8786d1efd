// Package ruleset holds the in-memory authorisation rules and the immutable
// Snapshot that AuthEngine evaluates every request against.
package ruleset

import (
	"fmt"
	"net"
	"strings"
)

// IpRange is a parsed CIDR block, IPv4 or IPv6.
type IpRange struct {
	text string
	net  *net.IPNet
}

// ParseIPRange parses a textual CIDR. Malformed input is returned as an
// error so the caller (the profile parser in profilefetcher) can drop the
// entry and log a warning rather than fail the whole fetch.
func ParseIPRange(cidr string) (IpRange, error) {
	_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
	if err != nil {
		return IpRange{}, fmt.Errorf("parse cidr %q: %w", cidr, err)
	}
	return IpRange{text: cidr, net: ipNet}, nil
}

// Contains reports whether ip lies within the range.
func (r IpRange) Contains(ip net.IP) bool {
	return r.net != nil && r.net.Contains(ip)
}

// String returns the original CIDR text, for diagnostics.
func (r IpRange) String() string {
	return r.text
}

// key is used to collapse duplicate ranges during a merge.
func (r IpRange) key() string {
	return r.net.String()
}

// BasicAuthEntry scopes a username/password pair to a path prefix.
type BasicAuthEntry struct {
	PathPrefix string
	Username   string
	Password   string
}

// Matches reports whether the entry's path prefix applies to path. "/"
// matches every path.
func (e BasicAuthEntry) Matches(path string) bool {
	return e.PathPrefix == "/" || strings.HasPrefix(path, e.PathPrefix)
}

// credentials reports whether user/pass match this entry exactly.
func (e BasicAuthEntry) credentials(user, pass string) bool {
	return e.Username == user && e.Password == pass
}

// SharedTokenEntry is a header name (matched case-insensitively) and the
// secret value it must carry.
type SharedTokenEntry struct {
	HeaderName string
	Value      string
}

// Snapshot is an immutable, published view of the authorisation rules.
// Once constructed it is never mutated; a refresh produces a brand new
// Snapshot that replaces the prior one via a single atomic pointer swap
// (see modules/refresher). Readers load one reference per request and use
// it for every check, so a request never observes a mix of two versions.
type Snapshot struct {
	Version      uint64
	IPRanges     []IpRange
	BasicAuth    []BasicAuthEntry
	SharedTokens []SharedTokenEntry
}

// Empty is the zero-rule Snapshot served before the first successful
// refresh completes; every request against it denies with NoMatchingRule.
var Empty = &Snapshot{}

// Builder accumulates fragments from one or more profiles before Build
// freezes them into a Snapshot. Builder is not safe for concurrent use;
// the refresher owns one per refresh cycle.
type Builder struct {
	version      uint64
	ipRanges     map[string]IpRange
	basicAuth    []BasicAuthEntry
	sharedTokens []SharedTokenEntry
}

// NewBuilder starts a merge that will produce the given Snapshot version.
func NewBuilder(version uint64) *Builder {
	return &Builder{
		version:  version,
		ipRanges: map[string]IpRange{},
	}
}

// AddFragment merges a single profile's parsed rules into the builder.
// IP ranges are de-duplicated; basic-auth and shared-token entries are
// appended in encounter order, which matters only for diagnostics.
func (b *Builder) AddFragment(f Fragment) {
	for _, r := range f.IPRanges {
		b.ipRanges[r.key()] = r
	}
	b.basicAuth = append(b.basicAuth, f.BasicAuth...)
	b.sharedTokens = append(b.sharedTokens, f.SharedTokens...)
}

// Build freezes the accumulated fragments into an immutable Snapshot.
func (b *Builder) Build() *Snapshot {
	ranges := make([]IpRange, 0, len(b.ipRanges))
	for _, r := range b.ipRanges {
		ranges = append(ranges, r)
	}
	return &Snapshot{
		Version:      b.version,
		IPRanges:     ranges,
		BasicAuth:    append([]BasicAuthEntry(nil), b.basicAuth...),
		SharedTokens: append([]SharedTokenEntry(nil), b.sharedTokens...),
	}
}

// Fragment is what a single profile fetch contributes to a merge; it is
// the typed counterpart of the profile's parsed YAML body.
type Fragment struct {
	IPRanges     []IpRange
	BasicAuth    []BasicAuthEntry
	SharedTokens []SharedTokenEntry
}

// MatchingBasicAuth returns every BasicAuthEntry in the Snapshot whose path
// prefix applies to path, in encounter order.
func (s *Snapshot) MatchingBasicAuth(path string) []BasicAuthEntry {
	var out []BasicAuthEntry
	for _, e := range s.BasicAuth {
		if e.Matches(path) {
			out = append(out, e)
		}
	}
	return out
}

// BasicAuthAllows reports whether user/pass satisfies any entry scoped to
// path.
func (s *Snapshot) BasicAuthAllows(path, user, pass string) bool {
	for _, e := range s.MatchingBasicAuth(path) {
		if e.credentials(user, pass) {
			return true
		}
	}
	return false
}

// SharedTokenAllows reports whether headerName (case-insensitive) carries
// value equal to any configured shared-token entry.
func (s *Snapshot) SharedTokenAllows(headerName, value string) bool {
	for _, e := range s.SharedTokens {
		if strings.EqualFold(e.HeaderName, headerName) && e.Value == value {
			return true
		}
	}
	return false
}

// IPAllowed reports whether ip lies within any configured range.
func (s *Snapshot) IPAllowed(ip net.IP) bool {
	for _, r := range s.IPRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}
