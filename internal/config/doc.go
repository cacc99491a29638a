// Package config loads Backdrop's configuration file.
//
// # Configuration Discovery
//
// Load follows this resolution order:
//
//  1. If a path is explicitly provided, use it
//  2. Otherwise, use ~/.config/backdrop/config.toml (default)
//  3. If the config file doesn't exist, fall back to defaults
//  4. If the file exists but fields are missing or empty, use defaults
//  5. A .env file next to the config, then the process environment, override
//     the access key, user id and store url
//
// # Default Values
//
//   - Catalog API: https://api.unsplash.com, 12 per page, "latest" order,
//     50 requests per hour
//   - Document store: ~/.local/share/backdrop/library.db (embedded SQLite)
//   - Log file: ~/.local/state/backdrop/backdrop.log
//   - Downloads: ~/Pictures/backdrop
//   - Toast lifetime 3s, favorite write timeout 8s
//   - The six shipped categories and their catalog collection ids
//
// # TOML Format
//
//	access_key = "..."
//	user_id = "alice"
//	store_url = "ws://127.0.0.1:7490/ws"   # empty uses store_path
//	favorite_timeout = "8s"
//	max_width = 2560
//
//	[categories]
//	nature = "3330448"
//
// Entries in [categories] extend or replace the shipped mapping. The "all"
// category is never mapped.
//
// # Environment
//
//   - BACKDROP_ACCESS_KEY: catalog access key
//   - BACKDROP_USER_ID: signed-in user
//   - BACKDROP_STORE_URL: remote document store
//
// Missing config files are not an error. Parse errors, including malformed
// durations, are reported with a "parse config" prefix.
package config
