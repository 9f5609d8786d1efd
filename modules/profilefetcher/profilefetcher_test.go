package profilefetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchParsesFragment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/applications/myapp/environments/prod/configurations/ipfilter", r.URL.Path)
		_, _ = w.Write([]byte(`
IpRanges:
  - 10.0.0.0/8
  - not-a-cidr
BasicAuth:
  - Path: /admin/
    Username: u
    Password: p
SharedToken:
  - HeaderName: x-cdn
    Value: s
`))
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	f := New(u, time.Second)
	frag, err := f.Fetch(context.Background(), "myapp:prod:ipfilter")
	require.NoError(t, err)

	require.Len(t, frag.IPRanges, 1)
	require.Len(t, frag.BasicAuth, 1)
	require.Len(t, frag.SharedTokens, 1)
	assert.Equal(t, "u", frag.BasicAuth[0].Username)
	assert.Equal(t, "x-cdn", frag.SharedTokens[0].HeaderName)
}

func TestFetchNon2xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	f := New(u, time.Second)
	_, err := f.Fetch(context.Background(), "myapp:prod:ipfilter")

	require.Error(t, err)
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}

func TestFetchInvalidProfileName(t *testing.T) {
	u, _ := url.Parse("http://localhost:2772")
	f := New(u, time.Second)
	_, err := f.Fetch(context.Background(), "not-enough-parts")
	require.Error(t, err)
}

func TestFetchEmptyProfileContributesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	f := New(u, time.Second)
	frag, err := f.Fetch(context.Background(), "a:b:c")
	require.NoError(t, err)
	assert.Empty(t, frag.IPRanges)
	assert.Empty(t, frag.BasicAuth)
	assert.Empty(t, frag.SharedTokens)
}
