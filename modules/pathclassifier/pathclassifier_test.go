package pathclassifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisabledAlwaysBypasses(t *testing.T) {
	c := New(false, []string{"/admin"}, nil)
	assert.Equal(t, Bypass, c.Classify("/anything"))
}

func TestDefaultIsApply(t *testing.T) {
	c := New(true, nil, nil)
	assert.Equal(t, Apply, c.Classify("/"))
	assert.Equal(t, Apply, c.Classify("/anything"))
}

func TestPublicPathsBypassMatchingPrefix(t *testing.T) {
	c := New(true, []string{"/healthcheck"}, nil)
	assert.Equal(t, Bypass, c.Classify("/healthcheck"))
	assert.Equal(t, Bypass, c.Classify("/healthcheck/deep"))
	assert.Equal(t, Apply, c.Classify("/other"))
}

func TestProtectedPathsApplyMatchingPrefix(t *testing.T) {
	c := New(true, nil, []string{"/admin"})
	assert.Equal(t, Apply, c.Classify("/admin"))
	assert.Equal(t, Apply, c.Classify("/admin/foo"))
	assert.Equal(t, Bypass, c.Classify("/other"))
}

func TestBothSetIgnoresProtectedPaths(t *testing.T) {
	c := New(true, []string{"/healthcheck"}, []string{"/admin"})
	// PUBLIC_PATHS governs: /admin is not public, so it's Apply, not
	// exempted by PROTECTED_PATHS semantics.
	assert.Equal(t, Apply, c.Classify("/admin"))
	assert.Equal(t, Bypass, c.Classify("/healthcheck"))
}

func TestMatchIsByteExactCaseSensitive(t *testing.T) {
	c := New(true, []string{"/Healthcheck"}, nil)
	assert.Equal(t, Apply, c.Classify("/healthcheck"))
	assert.Equal(t, Bypass, c.Classify("/Healthcheck"))
}
