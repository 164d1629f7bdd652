package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tundrachat/tundra/pkg/chat"
)

const (
	defaultPageSize       = 50
	maxPageSize           = 100
	defaultDecryptWorkers = 8
	defaultWatchInterval  = 5 * time.Second
)

// ErrThreadBusy is returned by LoadThread when a load for the same selector
// is already outstanding. The caller retries after the running load finishes;
// queueing the second request would let two pipelines interleave their merges.
var ErrThreadBusy = errors.New("a load for this thread is already in flight")

var errNoStore = errors.New("no cache database configured")

type syncCounters struct {
	Fetched    int
	Decrypted  int
	Failed     int
	MissingKey int
}

func tally(msgs []chat.Message) syncCounters {
	counters := syncCounters{Fetched: len(msgs)}
	for _, msg := range msgs {
		if msg.DecryptionError == "" {
			counters.Decrypted++
			continue
		}
		counters.Failed++
		if msg.DecryptionError == chat.ErrMissingAccessGroupKey.Error() {
			counters.MissingKey++
		}
	}
	return counters
}

// SyncConversations fetches the newest message of every thread the owner
// participates in, decrypts them, and folds them into the session's
// conversation state. The returned slice is a snapshot sorted newest first.
func (s *Session) SyncConversations(ctx context.Context) ([]*chat.Conversation, error) {
	ctx = s.log.WithContext(ctx)
	start := time.Now()

	heads, profiles, err := s.fetcher.FetchThreadHeads(ctx, s.owner)
	if err != nil {
		return nil, err
	}

	decorated, err := s.decryptWithGroups(ctx, heads)
	if err != nil {
		return nil, err
	}
	// The caller may have gone away during the fetch; drop the results instead
	// of folding them into state nobody is watching.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.convsMu.Lock()
	s.convs = chat.BucketMessages(s.convs, decorated)
	s.rememberProfiles(profiles)
	snapshot := s.sortedConversationsLocked()
	s.convsMu.Unlock()

	s.persistHeads(ctx, decorated, profiles)

	counters := tally(decorated)
	s.log.Info().
		Int("threads", len(snapshot)).
		Int("fetched", counters.Fetched).
		Int("decrypted", counters.Decrypted).
		Int("failed", counters.Failed).
		Int("missing_key", counters.MissingKey).
		Dur("elapsed", time.Since(start)).
		Msg("Conversation sync complete")
	return snapshot, nil
}

// LoadThread fetches one page of a thread's history, decrypts it, and merges
// it into the session state. It returns a snapshot of the conversation, the
// request for the next page, and whether another page is likely to exist.
// A second call for the same selector while one is outstanding fails with
// ErrThreadBusy.
func (s *Session) LoadThread(ctx context.Context, sel chat.ThreadSelector, req chat.PageRequest) (*chat.Conversation, chat.PageRequest, bool, error) {
	ctx = s.log.WithContext(ctx)
	if req.Size < 1 {
		req.Size = s.pageSize
	}
	selKey := sel.Key()
	if !s.beginThreadLoad(selKey) {
		return nil, req, false, ErrThreadBusy
	}
	defer s.endThreadLoad(selKey)
	threadKey := chat.ConversationKey(sel.Party)

	page, err := s.fetcher.FetchPage(ctx, sel, req)
	if err != nil {
		if s.store != nil {
			if storeErr := s.store.SetSyncStateError(ctx, threadKey, err.Error()); storeErr != nil {
				s.log.Warn().Err(storeErr).Str("thread", threadKey).Msg("Failed to record sync error")
			}
		}
		return nil, req, false, err
	}

	decorated, err := s.decryptWithGroups(ctx, page.Messages)
	if err != nil {
		return nil, req, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, req, false, err
	}

	s.convsMu.Lock()
	conv, ok := s.convs[threadKey]
	if !ok {
		conv = &chat.Conversation{
			Key:          threadKey,
			Counterparty: sel.Party,
			ChatType:     sel.ChatType,
		}
		s.convs[threadKey] = conv
	}
	conv.Messages = chat.MergeMessages(conv.Messages, decorated)
	s.rememberProfiles(page.Profiles)
	snapshot := &chat.Conversation{
		Key:          conv.Key,
		Counterparty: conv.Counterparty,
		ChatType:     conv.ChatType,
		Messages:     conv.Messages,
	}
	s.convsMu.Unlock()

	s.persistPage(ctx, threadKey, page)

	counters := tally(decorated)
	s.log.Debug().
		Str("thread", threadKey).
		Int("fetched", counters.Fetched).
		Int("decrypted", counters.Decrypted).
		Int("failed", counters.Failed).
		Int("missing_key", counters.MissingKey).
		Bool("fallback", page.Fallback).
		Msg("Thread page loaded")

	return snapshot, page.Next, LikelyHasMore(page, req.Size), nil
}

// ResumePosition returns the persisted pagination position for a thread so a
// caller can pick up where the previous run stopped instead of starting from
// the newest page. Threads never loaded before get a fresh request.
func (s *Session) ResumePosition(ctx context.Context, sel chat.ThreadSelector) chat.PageRequest {
	req := chat.PageRequest{Size: s.pageSize}
	if s.store == nil {
		return req
	}
	state, err := s.store.GetSyncState(ctx, chat.ConversationKey(sel.Party))
	if err != nil {
		s.log.Warn().Err(err).Str("thread", sel.Key()).Msg("Failed to read resume position")
		return req
	}
	if state == nil {
		return req
	}
	req.Cursor = state.Cursor
	req.Before = state.BeforeNanos
	return req
}

// CachedThread rebuilds one conversation from locally cached ciphertext,
// newest first, without touching either backend. limit <= 0 returns
// everything cached. It takes the same per-thread slot as LoadThread so a
// cache read never interleaves with a live load's merge.
func (s *Session) CachedThread(ctx context.Context, sel chat.ThreadSelector, limit int) (*chat.Conversation, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	ctx = s.log.WithContext(ctx)
	selKey := sel.Key()
	if !s.beginThreadLoad(selKey) {
		return nil, ErrThreadBusy
	}
	defer s.endThreadLoad(selKey)
	threadKey := chat.ConversationKey(sel.Party)

	cached, err := s.store.ListMessages(ctx, threadKey, limit)
	if err != nil {
		return nil, err
	}

	decorated, err := s.decryptWithGroups(ctx, cached)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.convsMu.Lock()
	conv, ok := s.convs[threadKey]
	if !ok {
		conv = &chat.Conversation{
			Key:          threadKey,
			Counterparty: sel.Party,
			ChatType:     sel.ChatType,
		}
		s.convs[threadKey] = conv
	}
	conv.Messages = chat.MergeMessages(conv.Messages, decorated)
	snapshot := &chat.Conversation{
		Key:          conv.Key,
		Counterparty: conv.Counterparty,
		ChatType:     conv.ChatType,
		Messages:     conv.Messages,
	}
	s.convsMu.Unlock()

	s.log.Debug().Str("thread", threadKey).Int("cached", len(decorated)).Msg("Thread served from cache")
	return snapshot, nil
}

// CachedConversations rebuilds the conversation list from the newest cached
// record of every known thread. It is the offline complement of
// SyncConversations: no fetching, the same decryption and bucketing.
func (s *Session) CachedConversations(ctx context.Context) ([]*chat.Conversation, error) {
	if s.store == nil {
		return nil, errNoStore
	}
	ctx = s.log.WithContext(ctx)

	keys, err := s.store.ListThreadKeys(ctx)
	if err != nil {
		return nil, err
	}
	heads := make([]chat.Message, 0, len(keys))
	for _, key := range keys {
		msgs, err := s.store.ListMessages(ctx, key, 1)
		if err != nil {
			return nil, err
		}
		heads = append(heads, msgs...)
	}
	if len(heads) == 0 {
		return nil, nil
	}

	decorated, err := s.decryptWithGroups(ctx, heads)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.convsMu.Lock()
	s.convs = chat.BucketMessages(s.convs, decorated)
	snapshot := s.sortedConversationsLocked()
	s.convsMu.Unlock()

	s.log.Info().Int("threads", len(snapshot)).Msg("Conversations listed from cache")
	return snapshot, nil
}

// decryptWithGroups ensures the owner's access group set and runs msgs
// through the decrypt pipeline. A failed group fetch degrades to an empty set
// rather than failing the batch: DM records still decrypt locally, group
// records come back tagged, and DecryptBatch's refresh gives the fetch a
// second chance on missing keys.
func (s *Session) decryptWithGroups(ctx context.Context, msgs []chat.Message) ([]chat.Message, error) {
	groups, err := s.registry.Ensure(ctx, s.owner)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.log.Warn().Err(err).Msg("Access group fetch failed, decrypting with empty set")
		groups = nil
	}
	decorated, _, err := DecryptBatch(ctx, s.decryptor, s.registry, s.owner, groups, msgs, s.workers)
	return decorated, err
}

// Conversations returns snapshots of every known conversation, newest first.
func (s *Session) Conversations() []*chat.Conversation {
	s.convsMu.RLock()
	defer s.convsMu.RUnlock()
	return s.sortedConversationsLocked()
}

// GroupMembers resolves member public keys for the referenced group chats,
// keyed by conversation key.
func (s *Session) GroupMembers(ctx context.Context, refs []chat.PartyInfo) (map[string][]string, error) {
	return s.fetcher.FetchGroupMembers(s.log.WithContext(ctx), refs, s.workers)
}

// WatchThread polls one thread and invokes fn for every newly observed
// message, oldest first. The first poll only establishes the watermark so a
// fresh watch does not replay existing history. Returns when ctx is done.
func (s *Session) WatchThread(ctx context.Context, sel chat.ThreadSelector, interval time.Duration, fn func(chat.Message)) error {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	var watermark uint64
	primed := false

	poll := func() error {
		conv, _, _, err := s.LoadThread(ctx, sel, chat.PageRequest{Size: s.pageSize})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrThreadBusy) {
				s.log.Debug().Str("thread", sel.Key()).Msg("Previous load still running, skipping poll")
				return nil
			}
			s.log.Warn().Err(err).Str("thread", sel.Key()).Msg("Thread poll failed")
			return nil
		}
		if !primed {
			if latest := conv.Latest(); latest != nil {
				watermark = latest.MessageInfo.TimestampNanos
			}
			primed = true
			return nil
		}
		// Messages are sorted newest first; untimestamped records never pass
		// the watermark and are not delivered.
		var fresh []chat.Message
		for _, msg := range conv.Messages {
			if msg.MessageInfo.TimestampNanos <= watermark {
				break
			}
			fresh = append(fresh, msg)
		}
		for i := len(fresh) - 1; i >= 0; i-- {
			fn(fresh[i])
		}
		if len(fresh) > 0 {
			watermark = fresh[0].MessageInfo.TimestampNanos
		}
		return nil
	}

	if err := poll(); err != nil {
		return err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}

// sortedConversationsLocked snapshots the conversation map sorted by newest
// activity. Callers must hold convsMu.
func (s *Session) sortedConversationsLocked() []*chat.Conversation {
	out := make([]*chat.Conversation, 0, len(s.convs))
	for _, conv := range s.convs {
		out = append(out, &chat.Conversation{
			Key:          conv.Key,
			Counterparty: conv.Counterparty,
			ChatType:     conv.ChatType,
			Messages:     conv.Messages,
		})
	}
	sortConversationsDesc(out)
	return out
}

func sortConversationsDesc(convs []*chat.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return latestNanos(convs[i]) > latestNanos(convs[j])
	})
}

func latestNanos(c *chat.Conversation) uint64 {
	if latest := c.Latest(); latest != nil {
		return latest.MessageInfo.TimestampNanos
	}
	return 0
}

// persistHeads caches thread-head ciphertext and profiles. Failures are
// logged and never fail the sync.
func (s *Session) persistHeads(ctx context.Context, msgs []chat.Message, profiles []chat.ProfileHint) {
	if s.store == nil {
		return
	}
	byThread := make(map[string][]chat.Message)
	for _, msg := range msgs {
		key := chat.ConversationKey(msg.Counterparty())
		byThread[key] = append(byThread[key], msg)
	}
	for key, batch := range byThread {
		if err := s.store.UpsertMessages(ctx, key, batch); err != nil {
			s.log.Warn().Err(err).Str("thread", key).Msg("Failed to cache thread heads")
		}
	}
	if err := s.store.UpsertProfiles(ctx, profiles); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache profiles")
	}
}

// persistPage caches one page's ciphertext, profiles, and resume position.
// Failures are logged and never fail the load.
func (s *Session) persistPage(ctx context.Context, threadKey string, page *chat.Page) {
	if s.store == nil {
		return
	}
	if err := s.store.UpsertMessages(ctx, threadKey, page.Messages); err != nil {
		s.log.Warn().Err(err).Str("thread", threadKey).Msg("Failed to cache thread page")
	}
	if err := s.store.UpsertProfiles(ctx, page.Profiles); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache profiles")
	}
	if err := s.store.SetSyncStateSuccess(ctx, threadKey, page.Next.Cursor, page.Next.Before); err != nil {
		s.log.Warn().Err(err).Str("thread", threadKey).Msg("Failed to record sync position")
	}
}
