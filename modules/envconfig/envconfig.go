// Package envconfig resolves per-environment settings from the process
// environment: a global variable overridden by an "<ENV>_"-prefixed
// variant, where <ENV> is the upper-cased current environment name.
//
// This is a pure function over a snapshot of os.Environ(), not
// spf13/viper: viper's AutomaticEnv cannot express "the <ENV>_ variant, if
// set, wins even when set to the empty string". An explicit-unset
// override is meaningfully different from an absent one, and that
// distinction is exactly what this package exists to preserve.
package envconfig

import (
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Source resolves values by name, honouring the <ENV>_ override.
type Source struct {
	env       map[string]string
	envPrefix string // upper-cased environment name plus trailing "_"
}

// New builds a Source from the process environment, using environmentName
// (commonly COPILOT_ENVIRONMENT_NAME) as the override prefix.
func New(environmentName string) *Source {
	return NewFromEnviron(os.Environ(), environmentName)
}

// NewFromEnviron builds a Source from an explicit "KEY=VALUE" list, for
// testing without mutating the real process environment.
func NewFromEnviron(environ []string, environmentName string) *Source {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return &Source{
		env:       m,
		envPrefix: strings.ToUpper(environmentName) + "_",
	}
}

// Get resolves name: the <ENV>_<NAME> variant wins if present (even as an
// empty string), else <NAME>, else ok is false.
func (s *Source) Get(name string) (value string, ok bool) {
	if v, present := s.env[s.envPrefix+name]; present {
		return v, true
	}
	if v, present := s.env[name]; present {
		return v, true
	}
	return "", false
}

// GetString returns the resolved value or def if absent.
func (s *Source) GetString(name, def string) string {
	if v, ok := s.Get(name); ok {
		return v
	}
	return def
}

// GetInt parses the resolved value as an integer, falling back to def if
// absent or unparsable.
func (s *Source) GetInt(name string, def int) int {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetBool treats "True"/"true"/"1" as true and every other present value
// as false; an absent variable yields def.
func (s *Source) GetBool(name string, def bool) bool {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	switch v {
	case "True", "true", "1":
		return true
	default:
		return false
	}
}

// GetList splits a comma-separated value into its elements; an absent or
// empty value yields an empty (non-nil) list.
func (s *Source) GetList(name string) []string {
	v, ok := s.Get(name)
	if !ok || v == "" {
		return []string{}
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// GetURL parses the resolved value as a URL, returning nil if absent or
// malformed.
func (s *Source) GetURL(name string) *url.URL {
	v, ok := s.Get(name)
	if !ok {
		return nil
	}
	u, err := url.Parse(v)
	if err != nil {
		return nil
	}
	return u
}
