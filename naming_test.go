package cuteshm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateProject(t *testing.T) {
	require.NoError(t, validateProject("demo"))
	require.NoError(t, validateProject("demo-1.2_x"))

	require.Error(t, validateProject(""))
	require.Error(t, validateProject("has space"))
	require.Error(t, validateProject("has/slash"))
	require.Error(t, validateProject(strings.Repeat("a", 300)))
}

func TestNewSegmentName(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		name := newSegmentName("demo")
		assert.True(t, strings.HasPrefix(name, "cute-shm.demo."))
		assert.False(t, seen[name], "segment name %s repeated", name)
		seen[name] = true
	}
}

func TestSegmentNamesDifferAcrossProjects(t *testing.T) {
	a := newSegmentName("alpha")
	b := newSegmentName("beta")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "cute-shm.alpha."))
	assert.True(t, strings.HasPrefix(b, "cute-shm.beta."))
}
