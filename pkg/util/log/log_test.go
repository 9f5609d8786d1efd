package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitLoggerIsCaseInsensitive(t *testing.T) {
	InitLogger("INFO")
	assert.NotNil(t, Logger)

	InitLogger("Debug")
	assert.NotNil(t, Logger)
}

func TestInitLoggerUnrecognisedFallsBackToInfo(t *testing.T) {
	InitLogger("nonsense")
	assert.NotNil(t, Logger)
}
