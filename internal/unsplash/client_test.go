package unsplash

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const photosJSON = `[
  {"id":"a","description":"Dunes","alt_description":"sand","likes":3,"color":"#aa0000","width":10,"height":20,
   "urls":{"raw":"r","full":"f","regular":"g","small":"s","thumb":"t"},
   "user":{"name":"Ann","username":"ann","profile_image":{"small":"ps","medium":"pm"}}},
  {"id":"b","description":null,"alt_description":"a quiet lake","likes":0,
   "urls":{"full":"f2","regular":"g2"},"user":{"name":"Bo","username":"bo","profile_image":{"small":"bs"}}},
  {"id":"c","description":"  ","alt_description":null,"urls":{"regular":"g3"},"user":{}},
  {"description":"no id"}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewClient(Config{BaseURL: server.URL, AccessKey: "key-123", RatePerHour: 1_000_000})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	u, err := parseBaseURL("")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.String() != defaultBaseURL {
		t.Fatalf("url = %q, want %q", u.String(), defaultBaseURL)
	}

	u, err = parseBaseURL("http://example.com:1234/path?x=1#frag")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}
}

func TestNewClient_RequiresAccessKey(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrMissingAccessKey) {
		t.Fatalf("NewClient error = %v, want ErrMissingAccessKey", err)
	}
}

func TestClient_BrowseMapsPhotos(t *testing.T) {
	var gotPath string
	var gotQuery url.Values
	var gotAuth, gotVersion string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Accept-Version")
		_, _ = w.Write([]byte(photosJSON))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	items, err := c.FetchPage(ctx, Query{Page: 2})
	if err != nil {
		t.Fatalf("FetchPage returned error: %v", err)
	}
	if gotPath != "/photos" {
		t.Fatalf("path = %q, want /photos", gotPath)
	}
	if gotQuery.Get("page") != "2" || gotQuery.Get("per_page") != "12" || gotQuery.Get("order_by") != "latest" {
		t.Fatalf("query = %v", gotQuery)
	}
	if gotAuth != "Client-ID key-123" || gotVersion != "v1" {
		t.Fatalf("headers = %q / %q", gotAuth, gotVersion)
	}

	if len(items) != 3 {
		t.Fatalf("len(items) = %d, want 3 (id-less entry dropped)", len(items))
	}
	a := items[0]
	if a.Description != "Dunes" || a.Author.ProfileImage != "pm" || a.URLs.Raw != "r" || a.Likes != 3 {
		t.Fatalf("items[0] = %#v", a)
	}
	if items[1].Description != "a quiet lake" || items[1].URLs.Raw != "" || items[1].Author.ProfileImage != "bs" {
		t.Fatalf("items[1] = %#v", items[1])
	}
	if items[2].Description != "Untitled" {
		t.Fatalf("items[2].Description = %q, want Untitled", items[2].Description)
	}
}

func TestClient_SearchAndCollectionEndpoints(t *testing.T) {
	var paths []string
	var queries []url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		queries = append(queries, r.URL.Query())
		if r.URL.Path == "/search/photos" {
			_, _ = w.Write([]byte(`{"total":1,"total_pages":1,"results":[{"id":"s1","urls":{"regular":"x"}}]}`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":"c1","urls":{"regular":"y"}}]`))
	})
	ctx := context.Background()

	got, err := c.FetchPage(ctx, Query{Search: "mountains", CollectionID: "3330448", Page: 1, PerPage: 30})
	if err != nil {
		t.Fatalf("search returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("search items = %#v", got)
	}
	if _, err := c.FetchPage(ctx, Query{CollectionID: "317099", Page: 1}); err != nil {
		t.Fatalf("collection browse returned error: %v", err)
	}

	if paths[0] != "/search/photos" || queries[0].Get("query") != "mountains" ||
		queries[0].Get("collections") != "3330448" || queries[0].Get("per_page") != "30" {
		t.Fatalf("search request = %s %v", paths[0], queries[0])
	}
	if queries[0].Has("order_by") {
		t.Fatalf("search request carries order_by: %v", queries[0])
	}
	if paths[1] != "/collections/317099/photos" {
		t.Fatalf("collection path = %q", paths[1])
	}
}

func TestClient_ReportsAPIErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":["OAuth error: The access token is invalid"]}`))
	})
	_, err := c.FetchPage(context.Background(), Query{Page: 1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message == "" {
		t.Fatalf("APIError = %#v", apiErr)
	}
}

func TestClient_RejectsBadPageAndMalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	if _, err := c.FetchPage(context.Background(), Query{Page: 0}); err == nil {
		t.Fatalf("FetchPage(page 0) returned nil error")
	}
	if _, err := c.FetchPage(context.Background(), Query{Page: 1}); err == nil {
		t.Fatalf("FetchPage(malformed) returned nil error")
	}
}

func TestClient_Photo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/photos/abc" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"id":"abc","urls":{"full":"F","regular":"R"}}`))
	})
	p, err := c.Photo(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Photo returned error: %v", err)
	}
	if p.ID != "abc" || p.URLs.Best() != "F" {
		t.Fatalf("Photo = %#v", p)
	}
}
