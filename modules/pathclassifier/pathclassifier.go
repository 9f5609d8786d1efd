// Package pathclassifier decides whether a request path is subject to
// authorisation at all.
package pathclassifier

import (
	"strings"
	"sync"

	"github.com/go-kit/log/level"

	"github.com/uktrade/ip-filter/pkg/util/log"
)

// Decision is the classifier's verdict for a request path.
type Decision int

const (
	// Apply means the path is subject to authorisation.
	Apply Decision = iota
	// Bypass means the path is exempt; the request is forwarded unchecked.
	Bypass
)

// Classifier decides Apply/Bypass for a request path given PUBLIC_PATHS,
// PROTECTED_PATHS and the global enable flag.
type Classifier struct {
	enabled        bool
	publicPaths    []string
	protectedPaths []string

	warnOnce sync.Once
}

// New builds a Classifier. When both publicPaths and protectedPaths are
// non-empty, protectedPaths is ignored (after a one-shot warning) and
// publicPaths governs.
func New(enabled bool, publicPaths, protectedPaths []string) *Classifier {
	return &Classifier{
		enabled:        enabled,
		publicPaths:    publicPaths,
		protectedPaths: protectedPaths,
	}
}

// Classify matches path against PUBLIC_PATHS/PROTECTED_PATHS. Matching is
// byte-exact and case-sensitive against path as given (the proxy passes the
// raw, pre-decoding form): no normalisation is performed, so a
// percent-encoded spelling of a listed prefix does not match that prefix.
func (c *Classifier) Classify(path string) Decision {
	if !c.enabled {
		return Bypass
	}

	if len(c.publicPaths) > 0 && len(c.protectedPaths) > 0 {
		c.warnOnce.Do(func() {
			level.Warn(log.Logger).Log("msg", "both PUBLIC_PATHS and PROTECTED_PATHS are set, ignoring PROTECTED_PATHS")
		})
		return c.classifyPublic(path)
	}

	if len(c.publicPaths) > 0 {
		return c.classifyPublic(path)
	}

	if len(c.protectedPaths) > 0 {
		for _, p := range c.protectedPaths {
			if strings.HasPrefix(path, p) {
				return Apply
			}
		}
		return Bypass
	}

	return Apply
}

func (c *Classifier) classifyPublic(path string) Decision {
	for _, p := range c.publicPaths {
		if strings.HasPrefix(path, p) {
			return Bypass
		}
	}
	return Apply
}
