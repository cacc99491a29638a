// Package state publishes live snapshots of a user's library.
//
// # Overview
//
// A Store turns document store watches into per-user subscriptions. Each
// Subscription watches users/{id} and every collections/{cid} the user
// document references, and republishes a complete Snapshot whenever any of
// those documents change:
//
//	users/u1 ──┐
//	           ├──> Subscription ──> Snapshots() ──> favorites.Mutator, UI
//	collections/c1 ─┘
//
// Collection watches follow the user document: ids that appear are watched,
// ids that disappear are released. Referenced collections whose document is
// missing are left out of the snapshot.
//
// # Delivery
//
// Snapshots() is a one-slot channel. A new snapshot replaces an unread one,
// so a slow consumer skips intermediate states but always sees the newest.
// Snapshots are full replacements, never deltas, and are copied before
// delivery so consumers may keep them.
//
// # Lifetime
//
// Subscribe returns a scoped handle. Cancel (or Store.Unsubscribe, or the
// context passed to Subscribe ending) stops every underlying watch and closes
// the channel. Cancel is idempotent and nothing is delivered after it
// returns. Store.Active counts live subscriptions so callers and tests can
// check for leaks.
package state
