package ruleset

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIPRange(t *testing.T) {
	r, err := ParseIPRange("10.0.0.0/8")
	require.NoError(t, err)
	assert.True(t, r.Contains(net.ParseIP("10.1.2.3")))
	assert.False(t, r.Contains(net.ParseIP("11.1.2.3")))

	_, err = ParseIPRange("not-a-cidr")
	assert.Error(t, err)
}

func TestBasicAuthEntryMatches(t *testing.T) {
	root := BasicAuthEntry{PathPrefix: "/", Username: "u", Password: "p"}
	scoped := BasicAuthEntry{PathPrefix: "/admin/", Username: "u", Password: "p"}

	assert.True(t, root.Matches("/anything"))
	assert.True(t, scoped.Matches("/admin/foo"))
	assert.False(t, scoped.Matches("/other"))
}

func TestSnapshotBasicAuthAllows(t *testing.T) {
	s := &Snapshot{BasicAuth: []BasicAuthEntry{
		{PathPrefix: "/admin/", Username: "u", Password: "p"},
	}}

	assert.True(t, s.BasicAuthAllows("/admin/foo", "u", "p"))
	assert.False(t, s.BasicAuthAllows("/admin/foo", "u", "wrong"))
	assert.False(t, s.BasicAuthAllows("/other", "u", "p"))
}

func TestSnapshotSharedTokenAllows(t *testing.T) {
	s := &Snapshot{SharedTokens: []SharedTokenEntry{
		{HeaderName: "x-cdn", Value: "s"},
	}}

	assert.True(t, s.SharedTokenAllows("X-CDN", "s"))
	assert.False(t, s.SharedTokenAllows("X-CDN", "other"))
	assert.False(t, s.SharedTokenAllows("x-other", "s"))
}

func TestSnapshotIPAllowed(t *testing.T) {
	r, _ := ParseIPRange("10.0.0.0/8")
	s := &Snapshot{IPRanges: []IpRange{r}}

	assert.True(t, s.IPAllowed(net.ParseIP("10.1.2.3")))
	assert.False(t, s.IPAllowed(net.ParseIP("9.1.2.3")))
}

func TestBuilderDeduplicatesIPRangesAndPreservesOrder(t *testing.T) {
	b := NewBuilder(2)
	r1, _ := ParseIPRange("10.0.0.0/8")
	r2, _ := ParseIPRange("10.0.0.0/8")
	r3, _ := ParseIPRange("192.168.0.0/16")

	b.AddFragment(Fragment{
		IPRanges:  []IpRange{r1},
		BasicAuth: []BasicAuthEntry{{PathPrefix: "/a/", Username: "u1"}},
	})
	b.AddFragment(Fragment{
		IPRanges:  []IpRange{r2, r3},
		BasicAuth: []BasicAuthEntry{{PathPrefix: "/b/", Username: "u2"}},
	})

	snap := b.Build()
	assert.Equal(t, uint64(2), snap.Version)
	assert.Len(t, snap.IPRanges, 2)
	require.Len(t, snap.BasicAuth, 2)
	assert.Equal(t, "u1", snap.BasicAuth[0].Username)
	assert.Equal(t, "u2", snap.BasicAuth[1].Username)
}

func TestEmptySnapshotDeniesEverything(t *testing.T) {
	assert.False(t, Empty.IPAllowed(net.ParseIP("1.2.3.4")))
	assert.False(t, Empty.BasicAuthAllows("/", "u", "p"))
	assert.False(t, Empty.SharedTokenAllows("x", "y"))
}
