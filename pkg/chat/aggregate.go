package chat

import (
	"sort"

	"github.com/google/uuid"
)

// BucketMessages folds decorated records into conversations keyed by
// ConversationKey, keeping each bucket sorted newest first. conversations may
// be nil; the (possibly newly allocated) map is returned for chaining.
// Feeding the same records twice leaves the map unchanged.
func BucketMessages(conversations map[string]*Conversation, msgs []Message) map[string]*Conversation {
	if conversations == nil {
		conversations = make(map[string]*Conversation, len(msgs))
	}
	pending := make(map[string][]Message, len(msgs))
	for _, msg := range msgs {
		party := msg.Counterparty()
		key := ConversationKey(party)
		if _, ok := conversations[key]; !ok {
			conversations[key] = &Conversation{
				Key:          key,
				Counterparty: party,
				ChatType:     msg.ChatType,
			}
		}
		pending[key] = append(pending[key], msg)
	}
	for key, batch := range pending {
		conv := conversations[key]
		conv.Messages = MergeMessages(conv.Messages, batch)
	}
	return conversations
}

// MergeMessages deduplicates incoming against existing by the nanosecond
// timestamp string and returns the union, newest first. The incoming copy
// wins a collision wholesale, so a record that failed to decrypt on an
// earlier pass is healed by a successful re-fetch. Merging the same batch
// twice yields the same result.
func MergeMessages(existing, incoming []Message) []Message {
	merged := make([]Message, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing))
	for _, msg := range existing {
		index[mergeKey(msg)] = len(merged)
		merged = append(merged, msg)
	}
	for _, msg := range incoming {
		key := mergeKey(msg)
		if at, ok := index[key]; ok {
			merged[at] = msg
			continue
		}
		index[key] = len(merged)
		merged = append(merged, msg)
	}
	SortMessagesDesc(merged)
	return merged
}

func mergeKey(msg Message) string {
	if key := msg.MessageInfo.TimestampNanosString; key != "" {
		return key
	}
	// A record with no string timestamp cannot be deduplicated; give it a
	// unique key so it is at least never dropped.
	return uuid.NewString()
}

// SortMessagesDesc orders newest first, preserving arrival order among
// records with identical timestamps.
func SortMessagesDesc(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].MessageInfo.TimestampNanos > msgs[j].MessageInfo.TimestampNanos
	})
}
