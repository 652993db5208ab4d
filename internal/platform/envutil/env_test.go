package envutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationAcceptsSecondsAndGoSyntax(t *testing.T) {
	t.Setenv("PIPELINE_BUDGET", "180")
	assert.Equal(t, 180*time.Second, Duration("PIPELINE_BUDGET", time.Minute, nil))

	t.Setenv("PIPELINE_BUDGET", "2m30s")
	assert.Equal(t, 150*time.Second, Duration("PIPELINE_BUDGET", time.Minute, nil))

	t.Setenv("PIPELINE_BUDGET", "soon")
	assert.Equal(t, time.Minute, Duration("PIPELINE_BUDGET", time.Minute, nil))
}

func TestIntAndBoolFallBackOnGarbage(t *testing.T) {
	t.Setenv("MAX_COMPETITORS", "five")
	assert.Equal(t, 5, Int("MAX_COMPETITORS", 5, nil))

	t.Setenv("STRICT_SUMMARIES", "maybe")
	assert.False(t, Bool("STRICT_SUMMARIES", false, nil))

	t.Setenv("STRICT_SUMMARIES", "on")
	assert.True(t, Bool("STRICT_SUMMARIES", false, nil))
}

func TestListDropsBlanks(t *testing.T) {
	t.Setenv("CORS_ORIGINS", " http://a , ,http://b")
	assert.Equal(t, []string{"http://a", "http://b"}, List("CORS_ORIGINS", nil, nil))
}
