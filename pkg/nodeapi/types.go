package nodeapi

// Wire shapes mirror the node's JSON API field for field; Go field names
// double as the JSON keys.

type GetUserMessageThreadsRequest struct {
	UserPublicKeyBase58Check string
}

type GetUserMessageThreadsResponse struct {
	MessageThreads                  []MessageEntry
	PublicKeyToProfileEntryResponse map[string]ProfileEntry
}

type GetPaginatedMessagesForDMThreadRequest struct {
	UserGroupOwnerPublicKeyBase58Check  string
	UserGroupKeyName                    string
	PartyGroupOwnerPublicKeyBase58Check string
	PartyGroupKeyName                   string
	// Nanosecond watermark as a decimal string; the node rejects JSON numbers
	// here because they lose precision past 2^53.
	StartTimeStamp     string
	MaxMessagesToFetch int
}

type GetPaginatedMessagesForDMThreadResponse struct {
	ThreadMessages                  []MessageEntry
	PublicKeyToProfileEntryResponse map[string]ProfileEntry
}

type GetPaginatedMessagesForGroupChatThreadRequest struct {
	UserPublicKeyBase58Check string
	AccessGroupKeyName       string
	StartTimeStamp           string
	MaxMessagesToFetch       int
}

type GetPaginatedMessagesForGroupChatThreadResponse struct {
	GroupChatMessages               []MessageEntry
	PublicKeyToProfileEntryResponse map[string]ProfileEntry
}

type GetAllUserAccessGroupsRequest struct {
	PublicKeyBase58Check string
}

type GetAllUserAccessGroupsResponse struct {
	AccessGroupsOwned  []AccessGroupEntry
	AccessGroupsMember []AccessGroupEntry
}

type PartyEntry struct {
	OwnerPublicKeyBase58Check       string
	AccessGroupPublicKeyBase58Check string
	AccessGroupKeyName              string
}

type MessageInfoEntry struct {
	EncryptedText        string
	TimestampNanos       uint64
	TimestampNanosString string
	ExtraData            map[string]string
}

type MessageEntry struct {
	ChatType      string
	SenderInfo    PartyEntry
	RecipientInfo PartyEntry
	MessageInfo   MessageInfoEntry
}

type ProfileEntry struct {
	PublicKeyBase58Check string
	Username             string
	ProfilePic           string
	ExtraData            map[string]string
}

type AccessGroupMemberEntry struct {
	AccessGroupMemberPublicKeyBase58Check string
	AccessGroupMemberKeyName              string
	EncryptedKey                          string
}

type AccessGroupEntry struct {
	AccessGroupOwnerPublicKeyBase58Check string
	AccessGroupKeyName                   string
	AccessGroupPublicKeyBase58Check      string
	AccessGroupMemberEntryResponse       *AccessGroupMemberEntry
}
