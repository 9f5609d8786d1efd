package app

import (
	"fmt"
	"net/url"
	"time"

	"github.com/uktrade/ip-filter/modules/authengine"
	"github.com/uktrade/ip-filter/modules/envconfig"
)

// ConfigError is returned from LoadConfig when a required variable is
// absent or a present one fails to parse; main treats it as fatal.
type ConfigError struct {
	Var    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Var, e.Reason)
}

// EffectiveConfig is the full set of settings resolved from the process
// environment at start-up. It is immutable thereafter: nothing in the
// running process re-reads os.Environ.
type EffectiveConfig struct {
	EnvironmentName string

	OriginHost   string
	OriginScheme string
	ListenPort   int

	LogLevel string

	AgentURL            *url.URL
	Profiles            []string
	RefreshInterval     time.Duration
	ProfileFetchTimeout time.Duration

	FilterEnabled  bool
	XFFIndex       int
	PublicPaths    []string
	ProtectedPaths []string

	ContactEmail string
	ContactName  string

	MetricsPath string

	ConnectTimeout        time.Duration
	ResponseHeaderTimeout time.Duration
	MaxConcurrentRequests int
}

// LoadConfig resolves EffectiveConfig from environ (os.Environ() in
// production, an explicit slice in tests). COPILOT_ENVIRONMENT_NAME must
// be set first since every other variable may be shadowed by its
// "<ENV>_"-prefixed variant.
func LoadConfig(environ []string) (*EffectiveConfig, error) {
	bootstrap := envconfig.NewFromEnviron(environ, "")
	envName, ok := bootstrap.Get("COPILOT_ENVIRONMENT_NAME")
	if !ok || envName == "" {
		return nil, &ConfigError{Var: "COPILOT_ENVIRONMENT_NAME", Reason: "required"}
	}

	src := envconfig.NewFromEnviron(environ, envName)

	server, ok := src.Get("SERVER")
	if !ok || server == "" {
		return nil, &ConfigError{Var: "SERVER", Reason: "required"}
	}

	profiles := src.GetList("APPCONFIG_PROFILES")
	if len(profiles) == 0 {
		return nil, &ConfigError{Var: "APPCONFIG_PROFILES", Reason: "required"}
	}

	agentURLStr := src.GetString("APPCONFIG_URL", "http://localhost:2772")
	agentURL, err := url.Parse(agentURLStr)
	if err != nil {
		return nil, &ConfigError{Var: "APPCONFIG_URL", Reason: err.Error()}
	}

	refreshInterval, err := parseDuration(src, "REFRESH_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, &ConfigError{Var: "REFRESH_INTERVAL", Reason: err.Error()}
	}
	profileFetchTimeout, err := parseDuration(src, "PROFILE_FETCH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, &ConfigError{Var: "PROFILE_FETCH_TIMEOUT", Reason: err.Error()}
	}

	cfg := &EffectiveConfig{
		EnvironmentName: envName,

		OriginHost:   server,
		OriginScheme: src.GetString("SERVER_PROTO", "http"),
		ListenPort:   src.GetInt("PORT", 8080),

		LogLevel: src.GetString("LOG_LEVEL", "INFO"),

		AgentURL:            agentURL,
		Profiles:            profiles,
		RefreshInterval:     refreshInterval,
		ProfileFetchTimeout: profileFetchTimeout,

		FilterEnabled:  src.GetBool("IPFILTER_ENABLED", true),
		XFFIndex:       authengine.ParseXFFIndex(src.GetString("IP_DETERMINED_BY_X_FORWARDED_FOR_INDEX", "-2"), -2),
		PublicPaths:    src.GetList("PUBLIC_PATHS"),
		ProtectedPaths: src.GetList("PROTECTED_PATHS"),

		ContactEmail: src.GetString("EMAIL", ""),
		ContactName:  src.GetString("EMAIL_NAME", ""),

		MetricsPath: src.GetString("METRICS_PATH", "/__ipfilter/metrics"),

		ConnectTimeout:        10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxConcurrentRequests: src.GetInt("MAX_CONCURRENT_REQUESTS", 256),
	}

	return cfg, nil
}

// parseDuration resolves name as a Go duration string (e.g. "30s"),
// falling back to def when the variable is absent.
func parseDuration(src *envconfig.Source, name string, def time.Duration) (time.Duration, error) {
	v, ok := src.Get(name)
	if !ok || v == "" {
		return def, nil
	}
	return time.ParseDuration(v)
}

// Dump returns a redacted summary of the effective configuration, safe to
// log at start-up: basic-auth and shared-token secrets never flow through
// EffectiveConfig in the first place, so there is nothing here that needs
// withholding beyond the usual operational detail.
func (c *EffectiveConfig) Dump() map[string]any {
	return map[string]any{
		"environment":      c.EnvironmentName,
		"origin":           c.OriginScheme + "://" + c.OriginHost,
		"listen_port":      c.ListenPort,
		"log_level":        c.LogLevel,
		"agent_url":        c.AgentURL.String(),
		"profiles":         c.Profiles,
		"refresh_interval": c.RefreshInterval.String(),
		"filter_enabled":   c.FilterEnabled,
		"xff_index":        c.XFFIndex,
		"public_paths":     c.PublicPaths,
		"protected_paths":  c.ProtectedPaths,
		"metrics_path":     c.MetricsPath,
	}
}
