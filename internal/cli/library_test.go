package cli

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/backdrop/internal/unsplash"
)

func TestFavorites_ToggleAndList(t *testing.T) {
	env := newTestEnv(t, "u1")

	stdout, _, err := env.run("favorites", "toggle", "w1")
	require.NoError(t, err)
	assert.Equal(t, "w1 added to favorites\n", stdout)

	stdout, _, err = env.run("favorites", "list")
	require.NoError(t, err)
	assert.Equal(t, "w1\n", stdout)

	stdout, _, err = env.run("--format", "json", "favorites", "toggle", "w1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"w1","favorite":false}`, stdout)

	stdout, _, err = env.run("favorites", "list")
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestFavorites_ListKeepsInsertionOrder(t *testing.T) {
	env := newTestEnv(t, "u1")

	for _, id := range []string{"w2", "w1", "w3"} {
		_, _, err := env.run("favorites", "toggle", id)
		require.NoError(t, err)
	}

	stdout, _, err := env.run("favorites", "list")
	require.NoError(t, err)
	assert.Equal(t, "w2\nw1\nw3\n", stdout)

	cmd := NewFavoriteCommand(&RootOptions{})
	list, _, err := cmd.Find([]string{"list"})
	require.NoError(t, err)
	assert.Contains(t, list.Short, "order they were added")
}

func TestFavorites_RequiresUser(t *testing.T) {
	env := newTestEnv(t, "")

	_, _, err := env.run("favorites", "toggle", "w1")

	require.Error(t, err)
	assert.Equal(t, ExitAuth, GetExitCode(err))
}

func TestDownload_SavesAndReportsFailures(t *testing.T) {
	var body bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	require.NoError(t, png.Encode(&body, img))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body.Bytes())
	}))
	defer srv.Close()

	env := newTestEnv(t, "u1")
	env.opts.Source = catalog{items: []unsplash.Wallpaper{
		{ID: "d1", URLs: unsplash.URLs{Full: srv.URL + "/d1"}},
	}}
	dir := filepath.Join(env.dir, "out")

	stdout, stderr, err := env.run("download", "--dir", dir, "d1", "nope")

	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 2 downloads failed")
	assert.Contains(t, stderr, "nope:")

	path := strings.TrimSpace(stdout)
	assert.Equal(t, filepath.Join(dir, "d1.png"), path)
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body.Bytes(), saved)
}

func TestLogs_FiltersByLevel(t *testing.T) {
	env := newTestEnv(t, "")
	lines := strings.Join([]string{
		`{"level":"debug","msg":"page applied","component":"feed"}`,
		`{"level":"info","msg":"session started","component":"app","user_id":"u1"}`,
		`{"level":"warning","msg":"page fetch failed","component":"feed","page":2}`,
		`not json at all`,
		``,
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "backdrop.log"), []byte(lines), 0o644))

	stdout, _, err := env.run("logs", "--level", "warning")
	require.NoError(t, err)
	assert.Equal(t, "WARNING [feed] page fetch failed page=2\n", stdout)

	stdout, _, err = env.run("logs")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"INFO [app] session started user_id=u1",
		"WARNING [feed] page fetch failed page=2",
		"not json at all",
	}, "\n")+"\n", stdout)

	stdout, _, err = env.run("logs", "-n", "1", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"msg": "not json at all"`)
}

func TestLogs_RejectsUnknownLevel(t *testing.T) {
	env := newTestEnv(t, "")

	_, _, err := env.run("logs", "--level", "loud")

	require.Error(t, err)
	assert.Equal(t, ExitUsage, GetExitCode(err))
}
