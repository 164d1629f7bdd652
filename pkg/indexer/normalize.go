package indexer

import "github.com/tundrachat/tundra/pkg/chat"

// Normalize maps an indexer row into the canonical record shape. The indexer
// reports ISO timestamps; the codec converts them to nanoseconds plus the
// matching decimal string.
func (n MessageNode) Normalize() chat.Message {
	nanos, nanosStr := chat.NormalizeTimestamp(n.Timestamp)
	chatType := chat.ChatTypeDM
	if n.IsGroupChatMessage {
		chatType = chat.ChatTypeGroup
	}
	return chat.Message{
		ChatType: chatType,
		SenderInfo: chat.PartyInfo{
			OwnerPublicKey: n.SenderAccessGroupOwnerPublicKey,
			GroupPublicKey: n.SenderAccessGroupPublicKey,
			GroupKeyName:   n.SenderAccessGroupKeyName,
		},
		RecipientInfo: chat.PartyInfo{
			OwnerPublicKey: n.RecipientAccessGroupOwnerPublicKey,
			GroupPublicKey: n.RecipientAccessGroupPublicKey,
			GroupKeyName:   n.RecipientAccessGroupKeyName,
		},
		MessageInfo: chat.MessageInfo{
			EncryptedText:        n.EncryptedText,
			TimestampNanos:       nanos,
			TimestampNanosString: nanosStr,
			ExtraData:            n.ExtraData,
		},
	}
}

// NormalizeMessages maps a page of indexer rows.
func NormalizeMessages(nodes []MessageNode) []chat.Message {
	msgs := make([]chat.Message, len(nodes))
	for i, n := range nodes {
		msgs[i] = n.Normalize()
	}
	return msgs
}

// ProfileHints collects the embedded sender and receiver profiles from a
// page, deduplicated by public key.
func ProfileHints(nodes []MessageNode) []chat.ProfileHint {
	seen := make(map[string]bool)
	var hints []chat.ProfileHint
	for _, n := range nodes {
		for _, p := range [2]*ProfileNode{n.Sender, n.Receiver} {
			if p == nil || p.PublicKey == "" || seen[p.PublicKey] {
				continue
			}
			seen[p.PublicKey] = true
			hints = append(hints, chat.ProfileHint{
				PublicKey:  p.PublicKey,
				Username:   p.Username,
				ProfilePic: p.ProfilePic,
			})
		}
	}
	return hints
}
