package app

import (
	"context"

	"github.com/five82/backdrop/internal/state"
)

// runSync forwards every snapshot of sub to apply until ctx is done or the
// subscription ends.
func runSync(ctx context.Context, sub *state.Subscription, apply func(state.Snapshot)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case snap, ok := <-sub.Snapshots():
			if !ok {
				return
			}
			apply(snap)
		}
	}
}
