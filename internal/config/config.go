package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/five82/backdrop/internal/unsplash"
)

// Config holds everything Backdrop reads at startup.
type Config struct {
	APIBase         string
	AccessKey       string
	PerPage         int
	OrderBy         string
	RatePerHour     int
	StorePath       string
	StoreURL        string
	ServeBind       string
	UserID          string
	ToastTTL        time.Duration
	FavoriteTimeout time.Duration
	LogPath         string
	DownloadDir     string
	MaxWidth        uint
	// Categories maps a category id to its catalog collection id.
	Categories map[string]string
}

// Environment overrides applied after the file.
const (
	EnvAccessKey = "BACKDROP_ACCESS_KEY"
	EnvUserID    = "BACKDROP_USER_ID"
	EnvStoreURL  = "BACKDROP_STORE_URL"
)

const (
	defaultConfigPath      = "~/.config/backdrop/config.toml"
	defaultStorePath       = "~/.local/share/backdrop/library.db"
	defaultLogPath         = "~/.local/state/backdrop/backdrop.log"
	defaultDownloadDir     = "~/Pictures/backdrop"
	defaultAPIBase         = "https://api.unsplash.com"
	defaultServeBind       = "127.0.0.1:7490"
	defaultPerPage         = 12
	defaultOrderBy         = "latest"
	defaultRatePerHour     = 50
	defaultToastTTL        = 3 * time.Second
	defaultFavoriteTimeout = 8 * time.Second
)

type rawConfig struct {
	APIBase         string            `toml:"api_base"`
	AccessKey       string            `toml:"access_key"`
	PerPage         int               `toml:"per_page"`
	OrderBy         string            `toml:"order_by"`
	RatePerHour     int               `toml:"rate_per_hour"`
	StorePath       string            `toml:"store_path"`
	StoreURL        string            `toml:"store_url"`
	ServeBind       string            `toml:"serve_bind"`
	UserID          string            `toml:"user_id"`
	ToastTTL        string            `toml:"toast_ttl"`
	FavoriteTimeout string            `toml:"favorite_timeout"`
	LogPath         string            `toml:"log_path"`
	DownloadDir     string            `toml:"download_dir"`
	MaxWidth        int               `toml:"max_width"`
	Categories      map[string]string `toml:"categories"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		APIBase:         defaultAPIBase,
		PerPage:         defaultPerPage,
		OrderBy:         defaultOrderBy,
		RatePerHour:     defaultRatePerHour,
		StorePath:       mustExpand(defaultStorePath),
		ServeBind:       defaultServeBind,
		ToastTTL:        defaultToastTTL,
		FavoriteTimeout: defaultFavoriteTimeout,
		LogPath:         mustExpand(defaultLogPath),
		DownloadDir:     mustExpand(defaultDownloadDir),
		Categories:      defaultCategories(),
	}
}

// Load locates and parses the config, falling back to defaults when missing.
// A .env file beside the config and the process environment override the
// access key, user id and store url.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	raw, err := readFile(resolved)
	if err != nil {
		return Config{}, err
	}
	if raw != nil {
		if err := cfg.merge(*raw); err != nil {
			return Config{}, err
		}
	}

	env, err := readEnv(filepath.Join(filepath.Dir(resolved), ".env"))
	if err != nil {
		return Config{}, err
	}
	cfg.applyEnv(env)
	return cfg, nil
}

func readFile(path string) (*rawConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(bytes, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &raw, nil
}

// readEnv returns the .env values (if any) overlaid with the process
// environment.
func readEnv(path string) (map[string]string, error) {
	values := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		parsed, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("parse env file: %w", err)
		}
		values = parsed
	}
	for _, key := range []string{EnvAccessKey, EnvUserID, EnvStoreURL} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			values[key] = v
		}
	}
	return values, nil
}

func (c *Config) merge(raw rawConfig) error {
	if v := strings.TrimSpace(raw.APIBase); v != "" {
		c.APIBase = v
	}
	c.AccessKey = strings.TrimSpace(raw.AccessKey)
	if raw.PerPage > 0 {
		c.PerPage = raw.PerPage
	}
	if v := strings.TrimSpace(raw.OrderBy); v != "" {
		c.OrderBy = v
	}
	if raw.RatePerHour > 0 {
		c.RatePerHour = raw.RatePerHour
	}
	if v := strings.TrimSpace(raw.StorePath); v != "" {
		c.StorePath = mustExpand(v)
	}
	c.StoreURL = strings.TrimSpace(raw.StoreURL)
	if v := strings.TrimSpace(raw.ServeBind); v != "" {
		c.ServeBind = v
	}
	c.UserID = strings.TrimSpace(raw.UserID)
	if v := strings.TrimSpace(raw.LogPath); v != "" {
		c.LogPath = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.DownloadDir); v != "" {
		c.DownloadDir = mustExpand(v)
	}
	if raw.MaxWidth > 0 {
		c.MaxWidth = uint(raw.MaxWidth)
	}

	var err error
	if c.ToastTTL, err = parseDuration("toast_ttl", raw.ToastTTL, c.ToastTTL); err != nil {
		return err
	}
	if c.FavoriteTimeout, err = parseDuration("favorite_timeout", raw.FavoriteTimeout, c.FavoriteTimeout); err != nil {
		return err
	}

	for id, collection := range raw.Categories {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || id == unsplash.AllCategory {
			continue
		}
		c.Categories[id] = strings.TrimSpace(collection)
	}
	return nil
}

func (c *Config) applyEnv(env map[string]string) {
	if v := strings.TrimSpace(env[EnvAccessKey]); v != "" {
		c.AccessKey = v
	}
	if v := strings.TrimSpace(env[EnvUserID]); v != "" {
		c.UserID = v
	}
	if v := strings.TrimSpace(env[EnvStoreURL]); v != "" {
		c.StoreURL = v
	}
}

// UnsplashConfig returns the catalog client settings.
func (c Config) UnsplashConfig() unsplash.Config {
	return unsplash.Config{
		BaseURL:     c.APIBase,
		AccessKey:   c.AccessKey,
		PerPage:     c.PerPage,
		OrderBy:     c.OrderBy,
		RatePerHour: c.RatePerHour,
	}
}

// LogDir returns the directory holding the log file.
func (c Config) LogDir() string {
	if strings.TrimSpace(c.LogPath) == "" {
		return filepath.Dir(mustExpand(defaultLogPath))
	}
	return filepath.Dir(c.LogPath)
}

func defaultCategories() map[string]string {
	out := make(map[string]string, len(unsplash.DefaultCategories))
	for _, cat := range unsplash.DefaultCategories {
		if cat.CollectionID != "" {
			out[cat.ID] = cat.CollectionID
		}
	}
	return out
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse config: %s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("parse config: %s must be positive", field)
	}
	return d, nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

// DefaultDir returns the directory holding the default config file.
func DefaultDir() string {
	return filepath.Dir(mustExpand(defaultConfigPath))
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
