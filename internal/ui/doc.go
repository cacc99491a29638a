// Package ui is the interactive wallpaper browser, built on Bubble Tea.
//
// The Model never talks to the store or catalog directly from View. Work
// that can block runs in tea.Cmds:
//
//   - requestPage calls feed.Paginator.RequestPage and returns a pageMsg
//     tagged with the request sequence. Changing category, search or
//     pressing refresh bumps the sequence, so late pages are ignored.
//   - waitForChange blocks on app.Session.Changes and returns changedMsg.
//     Update re-reads toasts and the library snapshot, then re-arms it.
//   - download and loadLogs run the fetcher and logtail off the UI loop.
//
// Favorite toggles call favorites.Mutator.Toggle inline because it returns
// at once with the optimistic value; rows show a pending marker until the
// write settles.
//
// Keys:
//
//	tab      cycle Feed / Library / Logs      esc  back to feed
//	/        search                           [ ]  previous / next category
//	j k g G  move                             n    load more
//	f        toggle favorite                  d    download
//	r        refresh                          x    dismiss newest toast
//	T        cycle theme                      ?    help
//	q        quit
package ui
