// Package changes delivers change notifications for the stash tree.
package changes

import (
	"context"
	"encoding/json"
	"fmt"
)

// Channel is both the postgres NOTIFY channel and the redis pub/sub channel.
const Channel = "stash_nodes_changed"

type Kind string

const (
	KindCreated Kind = "created"
	KindRemoved Kind = "removed"
	KindChanged Kind = "changed"
	KindMoved   Kind = "moved"
)

// Event is a single tree notification. NodeID is informational only; it is
// not reported for nodes removed as part of a subtree.
type Event struct {
	Kind   Kind   `json:"kind"`
	NodeID string `json:"nodeId,omitempty"`
}

// Relevant reports whether the event can invalidate the set of stashed URLs.
func (e Event) Relevant() bool {
	switch e.Kind {
	case KindRemoved, KindChanged, KindMoved:
		return true
	default:
		return false
	}
}

// Handler receives events in delivery order.
type Handler func(Event)

// Feed streams events until ctx is done.
type Feed interface {
	Run(ctx context.Context, handle Handler) error
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Kind == "" {
		return Event{}, fmt.Errorf("decode event: missing kind")
	}
	return ev, nil
}
