package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tundrachat/tundra/pkg/chat"
	"github.com/tundrachat/tundra/pkg/nodeapi"
)

// AccessGroupRegistry caches the owner's access-group set. The set changes
// only when the user joins or leaves a group, so it is fetched once per
// session and refreshed on demand when a decryption pass reports a missing
// key.
type AccessGroupRegistry struct {
	node *nodeapi.Client

	mu      sync.RWMutex
	entries []chat.AccessGroupEntry
	fetched bool
}

func NewAccessGroupRegistry(node *nodeapi.Client) *AccessGroupRegistry {
	return &AccessGroupRegistry{node: node}
}

// Current returns a copy of the cached set. ok is false until the first
// successful fetch; an empty set after a fetch is a valid answer.
func (r *AccessGroupRegistry) Current() (entries []chat.AccessGroupEntry, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.fetched {
		return nil, false
	}
	return append([]chat.AccessGroupEntry(nil), r.entries...), true
}

// FetchAll replaces the cached set with the node's current view and returns
// it. A fetch cancelled mid-flight leaves the cache untouched so later reads
// never see a half-applied refresh.
func (r *AccessGroupRegistry) FetchAll(ctx context.Context, ownerPublicKey string) ([]chat.AccessGroupEntry, error) {
	resp, err := r.node.GetAllUserAccessGroups(ctx, ownerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("fetch access groups: %w", err)
	}
	entries := nodeapi.NormalizeAccessGroups(resp)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries = entries
	r.fetched = true
	r.mu.Unlock()
	return append([]chat.AccessGroupEntry(nil), entries...), nil
}

// Ensure returns the cached set, fetching it first when the cache is cold.
func (r *AccessGroupRegistry) Ensure(ctx context.Context, ownerPublicKey string) ([]chat.AccessGroupEntry, error) {
	if entries, ok := r.Current(); ok {
		return entries, nil
	}
	return r.FetchAll(ctx, ownerPublicKey)
}
