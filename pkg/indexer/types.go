package indexer

// MessageNode is one row of the messages query.
type MessageNode struct {
	SenderAccessGroupOwnerPublicKey    string            `json:"senderAccessGroupOwnerPublicKey"`
	SenderAccessGroupPublicKey         string            `json:"senderAccessGroupPublicKey"`
	SenderAccessGroupKeyName           string            `json:"senderAccessGroupKeyName"`
	RecipientAccessGroupOwnerPublicKey string            `json:"recipientAccessGroupOwnerPublicKey"`
	RecipientAccessGroupPublicKey      string            `json:"recipientAccessGroupPublicKey"`
	RecipientAccessGroupKeyName        string            `json:"recipientAccessGroupKeyName"`
	EncryptedText                      string            `json:"encryptedText"`
	Timestamp                          string            `json:"timestamp"`
	IsGroupChatMessage                 bool              `json:"isGroupChatMessage"`
	ExtraData                          map[string]string `json:"extraData"`
	Sender                             *ProfileNode      `json:"sender"`
	Receiver                           *ProfileNode      `json:"receiver"`
}

// ProfileNode is the display profile embedded in message rows.
type ProfileNode struct {
	PublicKey  string `json:"publicKey"`
	Username   string `json:"username"`
	ProfilePic string `json:"profilePic"`
}

// AccessGroupNode is one row of the accessGroups query.
type AccessGroupNode struct {
	AccessGroupOwnerPublicKey string `json:"accessGroupOwnerPublicKey"`
	AccessGroupKeyName        string `json:"accessGroupKeyName"`
	AccessGroupPublicKey      string `json:"accessGroupPublicKey"`
	AccessGroupMembers        struct {
		Nodes []AccessGroupMemberNode `json:"nodes"`
	} `json:"accessGroupMembers"`
}

type AccessGroupMemberNode struct {
	AccessGroupMemberPublicKey string `json:"accessGroupMemberPublicKey"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}
