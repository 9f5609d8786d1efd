// Package profilefetcher retrieves named configuration profiles from the
// local config agent and parses them into ruleset fragments.
package profilefetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"gopkg.in/yaml.v3"

	"github.com/uktrade/ip-filter/modules/ruleset"
	"github.com/uktrade/ip-filter/pkg/util/log"
)

// FetchError wraps the profile name and underlying cause of a failed fetch.
type FetchError struct {
	Profile string
	Cause   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch profile %q: %v", e.Profile, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// wireProfile is the YAML shape served by the config agent. Unknown
// top-level keys are ignored by yaml.Unmarshal by default; missing keys
// simply leave the corresponding slice nil, which contributes nothing to
// a merge.
type wireProfile struct {
	IpRanges    []string          `yaml:"IpRanges"`
	BasicAuth   []wireBasicAuth   `yaml:"BasicAuth"`
	SharedToken []wireSharedToken `yaml:"SharedToken"`
}

type wireBasicAuth struct {
	Path     string `yaml:"Path"`
	Username string `yaml:"Username"`
	Password string `yaml:"Password"`
}

type wireSharedToken struct {
	HeaderName string `yaml:"HeaderName"`
	Value      string `yaml:"Value"`
}

// Fetcher retrieves and parses profiles from a local config agent.
type Fetcher struct {
	agentURL *url.URL
	client   *http.Client
	retry    backoff.Config
}

// New builds a Fetcher against agentURL, applying timeout to every HTTP
// round trip it makes.
func New(agentURL *url.URL, timeout time.Duration) *Fetcher {
	return &Fetcher{
		agentURL: agentURL,
		client:   &http.Client{Timeout: timeout},
		retry: backoff.Config{
			MinBackoff: 50 * time.Millisecond,
			MaxBackoff: 250 * time.Millisecond,
			MaxRetries: 2,
		},
	}
}

// Fetch retrieves and parses the named profile. profileName splits on ":"
// into application:environment:configuration, which are joined into the
// agent's REST path. A failed attempt (connection error or non-2xx status)
// is retried once within the fetch's own timeout before the whole
// operation is reported as a FetchError.
func (f *Fetcher) Fetch(ctx context.Context, profileName string) (ruleset.Fragment, error) {
	reqURL, err := f.profileURL(profileName)
	if err != nil {
		return ruleset.Fragment{}, &FetchError{Profile: profileName, Cause: err}
	}

	var body []byte
	b := backoff.New(ctx, f.retry)
	for b.Ongoing() {
		body, err = f.fetchOnce(ctx, reqURL)
		if err == nil {
			break
		}
		b.Wait()
	}
	if err == nil {
		err = b.Err()
	}
	if body == nil {
		return ruleset.Fragment{}, &FetchError{Profile: profileName, Cause: err}
	}

	return parseFragment(profileName, body), nil
}

func (f *Fetcher) profileURL(profileName string) (string, error) {
	parts := strings.SplitN(profileName, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("profile name %q must be application:environment:configuration", profileName)
	}
	return fmt.Sprintf("%s/applications/%s/environments/%s/configurations/%s",
		strings.TrimRight(f.agentURL.String(), "/"), parts[0], parts[1], parts[2]), nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent returned %d", resp.StatusCode)
	}
	return body, nil
}

// parseFragment parses the YAML body into a ruleset.Fragment. Malformed
// individual entries are dropped with a warning; they never fail the
// whole fetch.
func parseFragment(profileName string, body []byte) ruleset.Fragment {
	var wire wireProfile
	if err := yaml.Unmarshal(body, &wire); err != nil {
		level.Warn(log.Logger).Log("msg", "profile body is not valid yaml, skipping entirely", "profile", profileName, "err", err)
		return ruleset.Fragment{}
	}

	var frag ruleset.Fragment

	for i, cidr := range wire.IpRanges {
		r, err := ruleset.ParseIPRange(cidr)
		if err != nil {
			level.Warn(log.Logger).Log("msg", "dropping malformed ip range", "profile", profileName, "index", i, "err", err)
			continue
		}
		frag.IPRanges = append(frag.IPRanges, r)
	}

	for i, ba := range wire.BasicAuth {
		if ba.Path == "" || ba.Username == "" {
			level.Warn(log.Logger).Log("msg", "dropping malformed basic auth entry", "profile", profileName, "index", i)
			continue
		}
		frag.BasicAuth = append(frag.BasicAuth, ruleset.BasicAuthEntry{
			PathPrefix: ba.Path,
			Username:   ba.Username,
			Password:   ba.Password,
		})
	}

	for i, st := range wire.SharedToken {
		if st.HeaderName == "" || st.Value == "" {
			level.Warn(log.Logger).Log("msg", "dropping malformed shared token entry", "profile", profileName, "index", i)
			continue
		}
		frag.SharedTokens = append(frag.SharedTokens, ruleset.SharedTokenEntry{
			HeaderName: st.HeaderName,
			Value:      st.Value,
		})
	}

	return frag
}
