package cli

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestFeed_Table(t *testing.T) {
	env := newTestEnv(t, "")

	stdout, _, err := env.run("feed")
	require.NoError(t, err)

	newGoldie(t).Assert(t, "feed_table", []byte(stdout))
}

func TestFeed_JSON(t *testing.T) {
	env := newTestEnv(t, "")

	stdout, _, err := env.run("--format", "json", "feed", "--pages", "3")
	require.NoError(t, err)

	newGoldie(t).Assert(t, "feed_json", []byte(stdout))
}

func TestFeed_RejectsZeroPages(t *testing.T) {
	env := newTestEnv(t, "")

	_, _, err := env.run("feed", "--pages", "0")

	require.Error(t, err)
	assert.Equal(t, ExitUsage, GetExitCode(err))
}

func TestFeed_CategoryIsNormalized(t *testing.T) {
	env := newTestEnv(t, "")

	stdout, _, err := env.run("--format", "json", "feed", "--category", " Nature ")
	require.NoError(t, err)

	assert.Contains(t, stdout, `"category": "nature"`)
}
