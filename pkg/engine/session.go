// Package engine drives encrypted-conversation sync for one account: it
// fetches thread pages from whichever backend is healthy, decrypts them
// through a pluggable decryptor, and folds the results into conversation
// state that survives backend switches mid-thread.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tundrachat/tundra/pkg/chat"
	"github.com/tundrachat/tundra/pkg/indexer"
	"github.com/tundrachat/tundra/pkg/nodeapi"
)

// Decryptor turns one encrypted record into plaintext using the supplied
// access-group set. Implementations signal an unusable group set with
// chat.ErrMissingAccessGroupKey; every other failure is terminal for the
// record but not for the batch.
type Decryptor interface {
	Decrypt(ctx context.Context, msg chat.Message, groups []chat.AccessGroupEntry) (string, error)
}

// GroupSource fetches the freshest access-group set for an owner.
type GroupSource interface {
	FetchAll(ctx context.Context, ownerPublicKey string) ([]chat.AccessGroupEntry, error)
}

// Session is the top-level handle for one logged-in account.
type Session struct {
	owner     string
	log       zerolog.Logger
	registry  *AccessGroupRegistry
	decryptor Decryptor
	fetcher   *ThreadFetcher
	store     *Store
	pageSize  int
	workers   int

	convsMu  sync.RWMutex
	convs    map[string]*chat.Conversation
	profiles map[string]chat.ProfileHint

	loadingMu sync.Mutex
	loading   map[string]struct{}
}

// SessionParams collects the dependencies for NewSession. Node and Decryptor
// are required; Indexer and Store are optional and their absence degrades
// the session to node-only fetching and no local cache.
type SessionParams struct {
	OwnerPublicKey string
	Node           *nodeapi.Client
	Indexer        *indexer.Client
	Decryptor      Decryptor
	Store          *Store
	Logger         zerolog.Logger
	PageSize       int
	DecryptWorkers int
}

func NewSession(params SessionParams) (*Session, error) {
	if params.OwnerPublicKey == "" {
		return nil, errors.New("owner public key is required")
	}
	if params.Node == nil {
		return nil, errors.New("node client is required")
	}
	if params.Decryptor == nil {
		return nil, errors.New("decryptor is required")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	workers := params.DecryptWorkers
	if workers <= 0 {
		workers = defaultDecryptWorkers
	}
	logger := params.Logger.With().Str("component", "engine").Str("owner", params.OwnerPublicKey).Logger()
	return &Session{
		owner:     params.OwnerPublicKey,
		log:       logger,
		registry:  NewAccessGroupRegistry(params.Node),
		decryptor: params.Decryptor,
		fetcher:   NewThreadFetcher(params.Indexer, params.Node, pageSize),
		store:     params.Store,
		pageSize:  pageSize,
		workers:   workers,
		convs:     make(map[string]*chat.Conversation),
		profiles:  make(map[string]chat.ProfileHint),
		loading:   make(map[string]struct{}),
	}, nil
}

// beginThreadLoad try-acquires the per-thread load slot. The load pipeline
// (fetch, decrypt, refresh, re-decrypt, merge) runs strictly sequentially per
// selector, so a second load while one is outstanding is refused instead of
// queued.
func (s *Session) beginThreadLoad(key string) bool {
	s.loadingMu.Lock()
	defer s.loadingMu.Unlock()
	if _, busy := s.loading[key]; busy {
		return false
	}
	s.loading[key] = struct{}{}
	return true
}

func (s *Session) endThreadLoad(key string) {
	s.loadingMu.Lock()
	delete(s.loading, key)
	s.loadingMu.Unlock()
}

// Owner returns the session's owner public key.
func (s *Session) Owner() string {
	return s.owner
}

// Close drops the in-memory conversation state. The cache database, if any,
// belongs to the caller and stays open.
func (s *Session) Close() {
	s.convsMu.Lock()
	s.convs = make(map[string]*chat.Conversation)
	s.profiles = make(map[string]chat.ProfileHint)
	s.convsMu.Unlock()
}

// AccessGroups returns the cached access-group set, fetching it on first
// use.
func (s *Session) AccessGroups(ctx context.Context) ([]chat.AccessGroupEntry, error) {
	return s.registry.Ensure(ctx, s.owner)
}

// RefreshAccessGroups forces a re-fetch of the access-group set.
func (s *Session) RefreshAccessGroups(ctx context.Context) ([]chat.AccessGroupEntry, error) {
	return s.registry.FetchAll(ctx, s.owner)
}

// ProfileFor returns the best known display profile for a public key:
// in-memory hints first, then the cache, then a bare key.
func (s *Session) ProfileFor(ctx context.Context, publicKey string) chat.ProfileHint {
	s.convsMu.RLock()
	hint, ok := s.profiles[publicKey]
	s.convsMu.RUnlock()
	if ok {
		return hint
	}
	if s.store != nil {
		if cached, err := s.store.GetProfile(ctx, publicKey); err == nil && cached != nil {
			return *cached
		}
	}
	return chat.ProfileHint{PublicKey: publicKey}
}

// rememberProfiles must be called with convsMu held.
func (s *Session) rememberProfiles(hints []chat.ProfileHint) {
	for _, h := range hints {
		if h.PublicKey == "" {
			continue
		}
		s.profiles[h.PublicKey] = h
	}
}
