// Package peers supplies the last-known locations of tracked devices to
// the proximity engine.
package peers

import (
	"context"
	"sort"

	"github.com/hanibalsk/trackd/internal/model"
)

// Feed returns the current set of tracked peers. A peer whose location is
// unknown has a nil Location.
type Feed interface {
	Peers(ctx context.Context) ([]model.Peer, error)
}

// Static is a fixed peer list.
type Static []model.Peer

// Peers returns a copy of the list.
func (s Static) Peers(context.Context) ([]model.Peer, error) {
	out := make([]model.Peer, len(s))
	copy(out, s)
	return out, nil
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context) ([]model.Peer, error)

// Peers calls f.
func (f FeedFunc) Peers(ctx context.Context) ([]model.Peer, error) { return f(ctx) }

func sortPeers(ps []model.Peer) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].DeviceID < ps[j].DeviceID })
}
