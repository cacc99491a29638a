package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/five82/backdrop/internal/config"
	"github.com/five82/backdrop/internal/docstore"
	"github.com/five82/backdrop/internal/unsplash"
)

// catalog serves one fixed page and looks photos up by id.
type catalog struct {
	items []unsplash.Wallpaper
}

func (c catalog) FetchPage(_ context.Context, q unsplash.Query) ([]unsplash.Wallpaper, error) {
	if q.Page > 1 {
		return nil, nil
	}
	return c.items, nil
}

func (c catalog) Photo(_ context.Context, id string) (unsplash.Wallpaper, error) {
	for _, w := range c.items {
		if w.ID == id {
			return w, nil
		}
	}
	return unsplash.Wallpaper{}, &unsplash.APIError{Status: 404, Message: "Couldn't find Photo"}
}

func sampleCatalog() catalog {
	return catalog{items: []unsplash.Wallpaper{
		{ID: "a1", Author: unsplash.Author{Name: "Ansel Adams"}, Likes: 120, Width: 6000, Height: 4000, Description: "Half Dome",
			URLs: unsplash.URLs{Regular: "https://images.example.com/a1.jpg"}},
		{ID: "b22", Author: unsplash.Author{Name: "Bo"}, Likes: 7, Width: 1920, Height: 1080, Description: "Fog",
			URLs: unsplash.URLs{Regular: "https://images.example.com/b22.jpg"}},
		{ID: "c333", Author: unsplash.Author{Name: "Cy Twombly"}, Likes: 0, Width: 800, Height: 1200, Description: "Untitled",
			URLs: unsplash.URLs{Regular: "https://images.example.com/c333.jpg"}},
	}}
}

type testEnv struct {
	opts       *RootOptions
	configPath string
	dir        string
}

// newTestEnv isolates HOME and the BACKDROP_* variables and writes a config
// that keeps every path inside a temp dir.
func newTestEnv(t *testing.T, userID string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, key := range []string{config.EnvAccessKey, config.EnvUserID, config.EnvStoreURL} {
		t.Setenv(key, "")
	}

	body := fmt.Sprintf(`store_path = %q
log_path = %q
download_dir = %q
user_id = %q
`, filepath.Join(dir, "library.db"), filepath.Join(dir, "backdrop.log"), filepath.Join(dir, "downloads"), userID)
	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	return &testEnv{
		opts:       &RootOptions{Source: sampleCatalog()},
		configPath: configPath,
		dir:        dir,
	}
}

// sharedStore makes every command in the test use one open store.
func (e *testEnv) sharedStore(t *testing.T) *docstore.SQLite {
	t.Helper()
	docs, err := docstore.OpenSQLite(filepath.Join(e.dir, "shared.db"), docstore.SQLiteOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })
	e.opts.Docs = docs
	return docs
}

func (e *testEnv) run(args ...string) (string, string, error) {
	cmd := newRootCommand(e.opts)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
