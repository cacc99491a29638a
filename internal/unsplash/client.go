package unsplash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Source fetches catalog pages. Implemented by *Client; tests substitute fakes.
type Source interface {
	FetchPage(ctx context.Context, q Query) ([]Wallpaper, error)
}

var _ Source = (*Client)(nil)

// Query selects one page. An empty Search browses; CollectionID narrows
// either mode to one catalog collection.
type Query struct {
	Search       string
	CollectionID string
	Page         int
	PerPage      int
	OrderBy      string
}

// Config configures NewClient.
type Config struct {
	BaseURL     string
	AccessKey   string
	PerPage     int
	OrderBy     string
	RatePerHour int
	HTTPClient  *http.Client
}

// APIError is a non-2xx catalog response.
type APIError struct {
	Status  int
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s returned status %d: %s", e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("api %s returned status %d", e.Path, e.Status)
}

// ErrMissingAccessKey is returned by NewClient without credentials.
var ErrMissingAccessKey = errors.New("unsplash access key is not configured")

// Client talks to the Unsplash HTTP API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	limiter   *rate.Limiter
	accessKey string
	perPage   int
	orderBy   string
	userAgent string
}

const (
	defaultBaseURL     = "https://api.unsplash.com"
	defaultUserAgent   = "backdrop/0.1"
	defaultPerPage     = 12
	defaultOrderBy     = "latest"
	defaultRatePerHour = 50
	limiterBurst       = 5
	requestTimeout     = 10 * time.Second
)

// NewClient builds a Client from cfg, applying defaults.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, ErrMissingAccessKey
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	orderBy := strings.TrimSpace(cfg.OrderBy)
	if orderBy == "" {
		orderBy = defaultOrderBy
	}
	perHour := cfg.RatePerHour
	if perHour <= 0 {
		perHour = defaultRatePerHour
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		limiter:   rate.NewLimiter(rate.Every(time.Hour/time.Duration(perHour)), limiterBurst),
		accessKey: strings.TrimSpace(cfg.AccessKey),
		perPage:   perPage,
		orderBy:   orderBy,
		userAgent: defaultUserAgent,
	}, nil
}

// FetchPage returns one page of wallpapers for q.
func (c *Client) FetchPage(ctx context.Context, q Query) ([]Wallpaper, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if q.Page < 1 {
		return nil, fmt.Errorf("page %d out of range", q.Page)
	}
	perPage := q.PerPage
	if perPage <= 0 {
		perPage = c.perPage
	}
	values := url.Values{}
	values.Set("page", strconv.Itoa(q.Page))
	values.Set("per_page", strconv.Itoa(perPage))

	search := strings.TrimSpace(q.Search)
	collection := strings.TrimSpace(q.CollectionID)
	switch {
	case search != "":
		values.Set("query", search)
		if collection != "" {
			values.Set("collections", collection)
		}
		var payload searchResponse
		if err := c.get(ctx, &url.URL{Path: "/search/photos", RawQuery: values.Encode()}, &payload); err != nil {
			return nil, err
		}
		return mapPhotos(payload.Results), nil
	case collection != "":
		var payload []photo
		rel := &url.URL{Path: "/collections/" + url.PathEscape(collection) + "/photos", RawQuery: values.Encode()}
		if err := c.get(ctx, rel, &payload); err != nil {
			return nil, err
		}
		return mapPhotos(payload), nil
	default:
		orderBy := q.OrderBy
		if orderBy == "" {
			orderBy = c.orderBy
		}
		values.Set("order_by", orderBy)
		var payload []photo
		if err := c.get(ctx, &url.URL{Path: "/photos", RawQuery: values.Encode()}, &payload); err != nil {
			return nil, err
		}
		return mapPhotos(payload), nil
	}
}

// Photo fetches a single wallpaper by id.
func (c *Client) Photo(ctx context.Context, id string) (Wallpaper, error) {
	if strings.TrimSpace(id) == "" {
		return Wallpaper{}, fmt.Errorf("photo id required")
	}
	var payload photo
	if err := c.get(ctx, &url.URL{Path: "/photos/" + url.PathEscape(id)}, &payload); err != nil {
		return Wallpaper{}, err
	}
	return payload.wallpaper(), nil
}

func (c *Client) get(ctx context.Context, rel *url.URL, dest any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	reqURL := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", "v1")
	req.Header.Set("Authorization", "Client-ID "+c.accessKey)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Path: rel.Path}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload errorResponse
		if json.Unmarshal(body, &payload) == nil && len(payload.Errors) > 0 {
			apiErr.Message = strings.Join(payload.Errors, "; ")
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_base %q: %w", raw, err)
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
