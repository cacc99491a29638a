// Package app is Backdrop's composition root.
//
// # Overview
//
// Open builds a Session from a config.Config: the document store, the
// catalog client, and every engine component wired to a shared toast queue.
// Start bootstraps the user's profile and keeps the session in sync with the
// store. The UI and CLI commands only talk to the Session's fields.
//
// # Components
//
//   - app.go: Options, Session, Open, Start, Close
//   - sync.go: the loop that feeds library snapshots into the session
//
// # Data Flow
//
//	┌──────────────┐
//	│   Open()     │ Build components
//	└──────┬───────┘
//	       ├─────> OpenStore()          SQLite file or websocket store
//	       ├─────> unsplash.NewClient() Catalog client (rate limited)
//	       ├─────> notify.New()         Shared toast queue
//	       ├─────> state.New()          Snapshot subscriptions
//	       ├─────> favorites.New()      Optimistic toggles
//	       ├─────> collections.New()    Two-step collection writes
//	       └─────> download.New()       Image downloads
//
//	Start():
//	┌─────────────────────────────────────────┐
//	│ Profiles.Ensure / Touch                 │
//	│ States.Subscribe(user)                  │
//	│ runSync goroutine                       │
//	│  ├─> Favorites.Reconcile(snapshot)      │
//	│  ├─> remember snapshot                  │
//	│  └─> signal Changes()                   │
//	└─────────────────────────────────────────┘
//
// # Change Notification
//
// Changes returns a channel with a one-slot buffer. Toast changes, favorite
// events and library snapshots each try to send; a full buffer means a
// signal is already pending, so bursts collapse into one wake-up. Receivers
// re-read Notes.Messages, Favorites and Library.
//
// # Anonymous Sessions
//
// Without a user id Start does nothing: the feed works, while favorite and
// collection calls return library.ErrAuthRequired and raise an info toast.
//
// # Error Handling
//
// Open and Start return wrapped errors for startup failures (store or
// catalog unavailable, profile bootstrap failed). Everything after that is
// reported per operation by the component that failed.
package app
