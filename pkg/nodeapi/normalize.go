package nodeapi

import "github.com/tundrachat/tundra/pkg/chat"

// Normalize maps the wire record into the canonical shape. Timestamps run
// through the codec so the string and integer forms always agree; the string
// form wins when both are present since the number may have lost precision
// upstream.
func (m MessageEntry) Normalize() chat.Message {
	var nanos uint64
	var nanosStr string
	if m.MessageInfo.TimestampNanosString != "" {
		nanos, nanosStr = chat.NormalizeTimestamp(m.MessageInfo.TimestampNanosString)
	} else {
		nanos, nanosStr = chat.NormalizeTimestamp(m.MessageInfo.TimestampNanos)
	}
	return chat.Message{
		ChatType:      chat.ChatType(m.ChatType),
		SenderInfo:    m.SenderInfo.normalize(),
		RecipientInfo: m.RecipientInfo.normalize(),
		MessageInfo: chat.MessageInfo{
			EncryptedText:        m.MessageInfo.EncryptedText,
			TimestampNanos:       nanos,
			TimestampNanosString: nanosStr,
			ExtraData:            m.MessageInfo.ExtraData,
		},
	}
}

func (p PartyEntry) normalize() chat.PartyInfo {
	return chat.PartyInfo{
		OwnerPublicKey: p.OwnerPublicKeyBase58Check,
		GroupPublicKey: p.AccessGroupPublicKeyBase58Check,
		GroupKeyName:   p.AccessGroupKeyName,
	}
}

// NormalizeMessages maps a page of wire records.
func NormalizeMessages(entries []MessageEntry) []chat.Message {
	msgs := make([]chat.Message, len(entries))
	for i, e := range entries {
		msgs[i] = e.Normalize()
	}
	return msgs
}

// NormalizeProfiles flattens the key-to-profile map into hints. The map key
// is authoritative for the public key; some nodes omit it in the entry body.
func NormalizeProfiles(profiles map[string]ProfileEntry) []chat.ProfileHint {
	hints := make([]chat.ProfileHint, 0, len(profiles))
	for pk, p := range profiles {
		hints = append(hints, chat.ProfileHint{
			PublicKey:  pk,
			Username:   p.Username,
			ProfilePic: p.ProfilePic,
		})
	}
	return hints
}

// Normalize maps a wire access-group entry into the canonical shape.
func (e AccessGroupEntry) Normalize() chat.AccessGroupEntry {
	out := chat.AccessGroupEntry{
		OwnerPublicKey: e.AccessGroupOwnerPublicKeyBase58Check,
		KeyName:        e.AccessGroupKeyName,
		GroupPublicKey: e.AccessGroupPublicKeyBase58Check,
	}
	if m := e.AccessGroupMemberEntryResponse; m != nil {
		out.Member = &chat.AccessGroupMember{
			MemberPublicKey: m.AccessGroupMemberPublicKeyBase58Check,
			MemberKeyName:   m.AccessGroupMemberKeyName,
			EncryptedKey:    m.EncryptedKey,
		}
	}
	return out
}

// NormalizeAccessGroups flattens owned and member groups into one set, owned
// first.
func NormalizeAccessGroups(resp *GetAllUserAccessGroupsResponse) []chat.AccessGroupEntry {
	out := make([]chat.AccessGroupEntry, 0, len(resp.AccessGroupsOwned)+len(resp.AccessGroupsMember))
	for _, e := range resp.AccessGroupsOwned {
		out = append(out, e.Normalize())
	}
	for _, e := range resp.AccessGroupsMember {
		out = append(out, e.Normalize())
	}
	return out
}
