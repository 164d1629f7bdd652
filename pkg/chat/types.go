// Package chat holds the canonical record shapes shared by every backend:
// messages, access groups, conversations and the pagination state used to
// walk threads. Wire-specific types normalize into these before anything
// downstream touches them.
package chat

import "strings"

// ChatType distinguishes one-to-one threads from group chats.
type ChatType string

const (
	ChatTypeDM    ChatType = "DM"
	ChatTypeGroup ChatType = "GroupChat"
)

// DefaultKeyName is the access-group key name every account owns implicitly.
// DM records addressed to the owner key itself omit the key name on the wire;
// they collapse into this bucket.
const DefaultKeyName = "default-key"

// PartyInfo identifies one side of a message: the owner key plus the
// access-group identity the ciphertext was addressed to or sent from.
type PartyInfo struct {
	OwnerPublicKey string `json:"ownerPublicKey"`
	GroupPublicKey string `json:"accessGroupPublicKey,omitempty"`
	GroupKeyName   string `json:"accessGroupKeyName,omitempty"`
}

// MessageInfo carries the opaque payload and its timestamps. EncryptedText is
// hex ciphertext; TimestampNanosString is the lossless form of the nanosecond
// timestamp and is the deduplication identity of a record.
type MessageInfo struct {
	EncryptedText        string            `json:"encryptedText"`
	TimestampNanos       uint64            `json:"timestampNanos"`
	TimestampNanosString string            `json:"timestampNanosString"`
	ExtraData            map[string]string `json:"extraData,omitempty"`
}

// Message is the canonical record shape both backends normalize into.
type Message struct {
	ChatType      ChatType    `json:"chatType"`
	SenderInfo    PartyInfo   `json:"senderInfo"`
	RecipientInfo PartyInfo   `json:"recipientInfo"`
	MessageInfo   MessageInfo `json:"messageInfo"`

	// Decoration set by the decryption pipeline. Exactly one of Plaintext
	// and DecryptionError is non-empty once a record has been through it.
	Plaintext       string `json:"plaintext,omitempty"`
	DecryptionError string `json:"decryptionError,omitempty"`
	IsSender        bool   `json:"isSender"`
}

// Counterparty returns the party a record is bucketed under: the other
// participant for DMs, the destination group for group chats.
func (m Message) Counterparty() PartyInfo {
	if m.ChatType == ChatTypeGroup {
		return m.RecipientInfo
	}
	if m.IsSender {
		return m.RecipientInfo
	}
	return m.SenderInfo
}

// AccessGroupMember is the calling user's membership entry in a group. It
// carries the group's shared private key encrypted to the member's own
// messaging key.
type AccessGroupMember struct {
	MemberPublicKey string `json:"memberPublicKey"`
	MemberKeyName   string `json:"memberKeyName,omitempty"`
	EncryptedKey    string `json:"encryptedKey,omitempty"`
}

// AccessGroupEntry is one access group visible to the calling user, either
// owned or joined. Member is nil for groups the user merely knows about.
type AccessGroupEntry struct {
	OwnerPublicKey string             `json:"ownerPublicKey"`
	KeyName        string             `json:"keyName"`
	GroupPublicKey string             `json:"groupPublicKey,omitempty"`
	Member         *AccessGroupMember `json:"member,omitempty"`
}

// FindMemberEntry returns the first entry for (owner, keyName) carrying a
// usable member key, or nil when the set has none. Entries without an
// encrypted member key cannot unlock anything and are skipped.
func FindMemberEntry(entries []AccessGroupEntry, owner, keyName string) *AccessGroupEntry {
	for i := range entries {
		e := &entries[i]
		if e.OwnerPublicKey != owner || e.KeyName != keyName {
			continue
		}
		if e.Member == nil || e.Member.EncryptedKey == "" {
			continue
		}
		return e
	}
	return nil
}

// ProfileHint is a best-effort display profile attached to fetch results.
type ProfileHint struct {
	PublicKey  string `json:"publicKey"`
	Username   string `json:"username,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

// ThreadSelector identifies a single thread from the calling user's
// perspective. DM selectors carry both participants' access-group
// identities; group selectors carry only the group identity in Party.
type ThreadSelector struct {
	ChatType ChatType
	User     PartyInfo
	Party    PartyInfo
}

// Key returns a stable identifier for cache rows and request coalescing.
func (s ThreadSelector) Key() string {
	return strings.Join([]string{
		string(s.ChatType),
		s.User.OwnerPublicKey, s.User.GroupKeyName,
		s.Party.OwnerPublicKey, s.Party.GroupKeyName,
	}, "|")
}

// PageRequest positions one page fetch. Cursor is the opaque indexer cursor
// (DM threads only). Before is the exclusive upper timestamp bound used by
// windowed paging; zero means "start from now".
type PageRequest struct {
	Cursor string
	Before uint64
	Size   int
}

// Page is one fetched page plus the state needed to request the next one.
type Page struct {
	Messages []Message
	Profiles []ProfileHint
	Next     PageRequest

	// HasNext reports the backend's own continuation signal. The snapshot
	// backend has none; for pages with Fallback set, callers infer likely
	// continuation from a full page instead.
	HasNext  bool
	Fallback bool
}

// Conversation is one rendered thread: every fetched message exchanged with
// a single counterparty or group, newest first.
type Conversation struct {
	Key          string    `json:"key"`
	Counterparty PartyInfo `json:"counterparty"`
	ChatType     ChatType  `json:"chatType"`
	Messages     []Message `json:"messages"`
}

// Latest returns the newest message in the conversation, or nil when empty.
func (c *Conversation) Latest() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[0]
}

// ConversationKey buckets records by counterparty owner key plus key name,
// substituting DefaultKeyName when the wire omitted the key name. Both
// backends land records for the same thread under the same key.
func ConversationKey(counterparty PartyInfo) string {
	keyName := counterparty.GroupKeyName
	if keyName == "" {
		keyName = DefaultKeyName
	}
	return counterparty.OwnerPublicKey + keyName
}
