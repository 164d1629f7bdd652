package engine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tundrachat/tundra/pkg/chat"
	"github.com/tundrachat/tundra/pkg/indexer"
	"github.com/tundrachat/tundra/pkg/nodeapi"
)

// ThreadFetcher pages through a thread's history, preferring the indexer and
// falling back to the node when the indexer is missing or unhealthy. Both
// backends produce the same canonical page shape, so callers never branch on
// which one served a request.
type ThreadFetcher struct {
	indexer  *indexer.Client // nil means node-only
	node     *nodeapi.Client
	pageSize int
	flight   singleflight.Group
}

func NewThreadFetcher(ix *indexer.Client, node *nodeapi.Client, pageSize int) *ThreadFetcher {
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return &ThreadFetcher{indexer: ix, node: node, pageSize: pageSize}
}

// FetchPage returns one page of thread history. Concurrent requests for the
// same selector and position share a single upstream call.
func (f *ThreadFetcher) FetchPage(ctx context.Context, sel chat.ThreadSelector, req chat.PageRequest) (*chat.Page, error) {
	if req.Size < 1 {
		req.Size = f.pageSize
	}
	key := strings.Join([]string{
		sel.Key(),
		req.Cursor,
		strconv.FormatUint(req.Before, 10),
		strconv.Itoa(req.Size),
	}, "|")
	result, err, shared := f.flight.Do(key, func() (any, error) {
		return f.fetchPage(ctx, sel, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zerolog.Ctx(ctx).Trace().Str("thread", sel.Key()).Msg("Coalesced concurrent page fetch")
	}
	return result.(*chat.Page), nil
}

func (f *ThreadFetcher) fetchPage(ctx context.Context, sel chat.ThreadSelector, req chat.PageRequest) (*chat.Page, error) {
	if f.indexer != nil {
		page, err := f.fetchPrimary(ctx, sel, req)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		zerolog.Ctx(ctx).Warn().Err(err).
			Str("thread", sel.Key()).
			Msg("Indexer page fetch failed, falling back to node")
	}
	return f.fetchFallback(ctx, sel, req)
}

func (f *ThreadFetcher) fetchPrimary(ctx context.Context, sel chat.ThreadSelector, req chat.PageRequest) (*chat.Page, error) {
	params := indexer.MessagesParams{First: req.Size}
	if sel.ChatType == chat.ChatTypeGroup {
		params.Filter = indexer.GroupThreadFilter(sel.Party.OwnerPublicKey, sel.Party.GroupKeyName, req.Before)
	} else {
		params.Filter = indexer.DMThreadFilter(sel.User.OwnerPublicKey, sel.Party.OwnerPublicKey)
		params.After = req.Cursor
	}

	result, err := f.indexer.Messages(ctx, params)
	if err != nil {
		return nil, err
	}
	msgs := indexer.NormalizeMessages(result.Nodes)
	page := &chat.Page{
		Messages: msgs,
		Profiles: indexer.ProfileHints(result.Nodes),
		HasNext:  result.HasNextPage,
		Next:     chat.PageRequest{Size: req.Size},
	}
	// Both positions advance on every page: DM paging consumes the cursor,
	// but the window bound must track it so a mid-thread fallback resumes
	// where this page ended instead of at time.Now().
	page.Next.Before = oldestTimestamp(msgs, req.Before)
	if sel.ChatType != chat.ChatTypeGroup {
		page.Next.Cursor = result.EndCursor
	}
	return page, nil
}

func (f *ThreadFetcher) fetchFallback(ctx context.Context, sel chat.ThreadSelector, req chat.PageRequest) (*chat.Page, error) {
	before := req.Before
	if before == 0 {
		before = uint64(time.Now().UnixNano())
	}

	var (
		msgs     []chat.Message
		profiles []chat.ProfileHint
	)
	if sel.ChatType == chat.ChatTypeGroup {
		resp, err := f.node.GetPaginatedMessagesForGroupChatThread(ctx, &nodeapi.GetPaginatedMessagesForGroupChatThreadRequest{
			UserPublicKeyBase58Check: sel.Party.OwnerPublicKey,
			AccessGroupKeyName:       sel.Party.GroupKeyName,
			StartTimeStamp:           strconv.FormatUint(before, 10),
			MaxMessagesToFetch:       req.Size,
		})
		if err != nil {
			return nil, err
		}
		msgs = nodeapi.NormalizeMessages(resp.GroupChatMessages)
		profiles = nodeapi.NormalizeProfiles(resp.PublicKeyToProfileEntryResponse)
	} else {
		resp, err := f.node.GetPaginatedMessagesForDMThread(ctx, &nodeapi.GetPaginatedMessagesForDMThreadRequest{
			UserGroupOwnerPublicKeyBase58Check:  sel.User.OwnerPublicKey,
			UserGroupKeyName:                    keyNameOrDefault(sel.User.GroupKeyName),
			PartyGroupOwnerPublicKeyBase58Check: sel.Party.OwnerPublicKey,
			PartyGroupKeyName:                   keyNameOrDefault(sel.Party.GroupKeyName),
			StartTimeStamp:                      strconv.FormatUint(before, 10),
			MaxMessagesToFetch:                  req.Size,
		})
		if err != nil {
			return nil, err
		}
		msgs = nodeapi.NormalizeMessages(resp.ThreadMessages)
		profiles = nodeapi.NormalizeProfiles(resp.PublicKeyToProfileEntryResponse)
	}

	// The node has no continuation signal, so HasNext stays false and callers
	// judge continuation from the page being full. The cursor rides along
	// untouched so a recovered indexer resumes from its last confirmed
	// position rather than from the top of the thread.
	return &chat.Page{
		Messages: msgs,
		Profiles: profiles,
		Next: chat.PageRequest{
			Cursor: req.Cursor,
			Before: oldestTimestamp(msgs, before),
			Size:   req.Size,
		},
		Fallback: true,
	}, nil
}

// FetchThreadHeads returns the newest message of every thread the owner
// participates in, plus profile hints for the involved parties. Only the node
// exposes a thread-heads view.
func (f *ThreadFetcher) FetchThreadHeads(ctx context.Context, owner string) ([]chat.Message, []chat.ProfileHint, error) {
	resp, err := f.node.GetAllUserMessageThreads(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	return nodeapi.NormalizeMessages(resp.MessageThreads), nodeapi.NormalizeProfiles(resp.PublicKeyToProfileEntryResponse), nil
}

// FetchGroupMembers resolves the member public keys of each referenced group
// chat, keyed by conversation key. Membership only lives in the indexer; with
// no indexer configured the result is empty rather than an error. A single
// group's lookup failure is logged and leaves a nil entry so one bad group
// cannot sink the batch.
func (f *ThreadFetcher) FetchGroupMembers(ctx context.Context, refs []chat.PartyInfo, workers int) (map[string][]string, error) {
	members := make(map[string][]string, len(refs))
	if f.indexer == nil || len(refs) == 0 {
		return members, nil
	}
	if workers < 1 {
		workers = 1
	}

	log := zerolog.Ctx(ctx)
	results := make([][]string, len(refs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, ref := range refs {
		i, ref := i, ref
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			page, err := f.indexer.AccessGroups(egCtx, indexer.AccessGroupsParams{
				Filter: indexer.GroupMembersFilter(ref.OwnerPublicKey, ref.GroupKeyName),
				First:  1,
			})
			if err != nil {
				log.Warn().Err(err).
					Str("group_owner", ref.OwnerPublicKey).
					Str("key_name", ref.GroupKeyName).
					Msg("Group member lookup failed")
				return nil
			}
			if len(page.Nodes) == 0 {
				return nil
			}
			keys := make([]string, 0, len(page.Nodes[0].AccessGroupMembers.Nodes))
			for _, member := range page.Nodes[0].AccessGroupMembers.Nodes {
				keys = append(keys, member.AccessGroupMemberPublicKey)
			}
			results[i] = keys
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	for i, ref := range refs {
		members[chat.ConversationKey(ref)] = results[i]
	}
	return members, nil
}

// LikelyHasMore reports whether another page is worth requesting. The indexer
// says so explicitly; a fallback page can only offer the full-page heuristic.
func LikelyHasMore(page *chat.Page, requested int) bool {
	if page.HasNext {
		return true
	}
	return page.Fallback && requested > 0 && len(page.Messages) >= requested
}

func oldestTimestamp(msgs []chat.Message, fallback uint64) uint64 {
	oldest := fallback
	for _, msg := range msgs {
		if ts := msg.MessageInfo.TimestampNanos; ts > 0 && (oldest == 0 || ts < oldest) {
			oldest = ts
		}
	}
	return oldest
}

func keyNameOrDefault(name string) string {
	if name == "" {
		return chat.DefaultKeyName
	}
	return name
}
