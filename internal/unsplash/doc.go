// Package unsplash provides an HTTP client for the Unsplash photo catalog.
//
// # Overview
//
// The client is a stateless, read-only adapter. It issues one request per
// page and maps catalog photo objects into the Wallpaper shape the rest of
// the application uses. Pagination state, deduplication and stale response
// handling live in the feed package.
//
// # Endpoints
//
//   - GET /photos?page&per_page&order_by: browse mode
//   - GET /collections/{id}/photos?page&per_page: browse one category
//   - GET /search/photos?query&page&per_page[&collections=id]: search mode
//   - GET /photos/{id}: single photo (downloads)
//
// # Request Handling
//
// All requests:
//   - Wait on a token bucket limiter (golang.org/x/time/rate) sized from
//     rate_per_hour, which defaults to the demo tier quota of 50
//   - Send Authorization: Client-ID <access key> and Accept-Version: v1
//   - Use context for cancellation and a 10-second transport timeout
//
// Non-2xx responses are returned as *APIError carrying the catalog's error
// messages when present.
//
// # Mapping
//
// Description falls back to alt_description, then to "Untitled". Photos
// without an id are dropped. URLs.Raw is always present in the struct and
// left empty when the catalog omits it.
package unsplash
