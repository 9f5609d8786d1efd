package refresher

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uktrade/ip-filter/modules/ruleset"
)

type fakeFetcher struct {
	byProfile map[string]ruleset.Fragment
	fail      map[string]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, profile string) (ruleset.Fragment, error) {
	if f.fail[profile] {
		return ruleset.Fragment{}, errors.New("boom")
	}
	return f.byProfile[profile], nil
}

func mustRange(t *testing.T, cidr string) ruleset.IpRange {
	t.Helper()
	r, err := ruleset.ParseIPRange(cidr)
	require.NoError(t, err)
	return r
}

func TestRefreshOnceAllSucceedPublishes(t *testing.T) {
	store := NewStore()
	fetcher := &fakeFetcher{byProfile: map[string]ruleset.Fragment{
		"a": {IPRanges: []ruleset.IpRange{mustRange(t, "10.0.0.0/8")}},
		"b": {BasicAuth: []ruleset.BasicAuthEntry{{PathPrefix: "/admin/", Username: "u", Password: "p"}}},
	}}

	r := New(fetcher, store, []string{"a", "b"}, time.Second, time.Second)
	require.NoError(t, r.RefreshOnce(context.Background()))

	snap := store.Load()
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.IPAllowed(net.ParseIP("10.1.2.3")))
	assert.True(t, snap.BasicAuthAllows("/admin/x", "u", "p"))
}

func TestRefreshOnceBootstrapPartialFailureStillPublishes(t *testing.T) {
	store := NewStore()
	fetcher := &fakeFetcher{
		byProfile: map[string]ruleset.Fragment{
			"a": {IPRanges: []ruleset.IpRange{mustRange(t, "10.0.0.0/8")}},
		},
		fail: map[string]bool{"b": true},
	}

	r := New(fetcher, store, []string{"a", "b"}, time.Second, time.Second)
	require.NoError(t, r.RefreshOnce(context.Background()))

	snap := store.Load()
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.IPAllowed(net.ParseIP("10.1.2.3")))
}

func TestRefreshOncePostBootstrapPartialFailureRetainsPriorSnapshot(t *testing.T) {
	store := NewStore()
	fetcher := &fakeFetcher{
		byProfile: map[string]ruleset.Fragment{
			"a": {IPRanges: []ruleset.IpRange{mustRange(t, "10.0.0.0/8")}},
			"b": {BasicAuth: []ruleset.BasicAuthEntry{{PathPrefix: "/admin/", Username: "u", Password: "p"}}},
		},
	}

	r := New(fetcher, store, []string{"a", "b"}, time.Second, time.Second)
	require.NoError(t, r.RefreshOnce(context.Background()))
	firstSnap := store.Load()
	require.Equal(t, uint64(1), firstSnap.Version)

	fetcher.fail = map[string]bool{"b": true}
	require.NoError(t, r.RefreshOnce(context.Background()))

	snap := store.Load()
	assert.Same(t, firstSnap, snap)
	assert.Equal(t, uint64(1), snap.Version)
	assert.True(t, snap.IPAllowed(net.ParseIP("10.1.2.3")))
	assert.True(t, snap.BasicAuthAllows("/admin/x", "u", "p"))

	fetcher.fail = map[string]bool{}
	require.NoError(t, r.RefreshOnce(context.Background()))
	assert.Equal(t, uint64(2), store.Load().Version)
}

func TestRefreshOnceAllFailRetainsPriorSnapshot(t *testing.T) {
	store := NewStore()
	fetcher := &fakeFetcher{
		byProfile: map[string]ruleset.Fragment{
			"a": {IPRanges: []ruleset.IpRange{mustRange(t, "10.0.0.0/8")}},
		},
	}
	r := New(fetcher, store, []string{"a"}, time.Second, time.Second)
	require.NoError(t, r.RefreshOnce(context.Background()))
	firstSnap := store.Load()

	fetcher.fail = map[string]bool{"a": true}
	err := r.RefreshOnce(context.Background())
	require.Error(t, err)

	assert.Same(t, firstSnap, store.Load())
}

func TestRefreshOnceNoProfilesConfiguredPublishesEmpty(t *testing.T) {
	store := NewStore()
	fetcher := &fakeFetcher{byProfile: map[string]ruleset.Fragment{}}
	r := New(fetcher, store, nil, time.Second, time.Second)

	require.NoError(t, r.RefreshOnce(context.Background()))
	snap := store.Load()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Empty(t, snap.IPRanges)
}
