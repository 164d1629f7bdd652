package indexer

import (
	"context"
	"math"
	"time"
)

const messagesQuery = `
query Messages($filter: MessageFilter, $first: Int, $after: Cursor) {
  messages(filter: $filter, orderBy: [TIMESTAMP_DESC], first: $first, after: $after) {
    nodes {
      senderAccessGroupOwnerPublicKey
      senderAccessGroupPublicKey
      senderAccessGroupKeyName
      recipientAccessGroupOwnerPublicKey
      recipientAccessGroupPublicKey
      recipientAccessGroupKeyName
      encryptedText
      timestamp
      isGroupChatMessage
      extraData
      sender { publicKey username profilePic }
      receiver { publicKey username profilePic }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const accessGroupsQuery = `
query AccessGroups($filter: AccessGroupFilter, $first: Int, $after: Cursor) {
  accessGroups(filter: $filter, first: $first, after: $after) {
    nodes {
      accessGroupOwnerPublicKey
      accessGroupKeyName
      accessGroupPublicKey
      accessGroupMembers { nodes { accessGroupMemberPublicKey } }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// MessagesParams positions one messages query. After is the opaque cursor
// from the previous page's pageInfo.
type MessagesParams struct {
	Filter map[string]any
	First  int
	After  string
}

// MessagesPage is the raw result of one messages query.
type MessagesPage struct {
	Nodes       []MessageNode
	HasNextPage bool
	EndCursor   string
}

func (c *Client) Messages(ctx context.Context, params MessagesParams) (*MessagesPage, error) {
	variables := map[string]any{
		"filter": params.Filter,
		"first":  params.First,
	}
	if params.After != "" {
		variables["after"] = params.After
	}
	var data struct {
		Messages struct {
			Nodes    []MessageNode `json:"nodes"`
			PageInfo pageInfo      `json:"pageInfo"`
		} `json:"messages"`
	}
	if err := c.execute(ctx, messagesQuery, variables, &data); err != nil {
		return nil, err
	}
	return &MessagesPage{
		Nodes:       data.Messages.Nodes,
		HasNextPage: data.Messages.PageInfo.HasNextPage,
		EndCursor:   data.Messages.PageInfo.EndCursor,
	}, nil
}

// AccessGroupsParams positions one accessGroups query.
type AccessGroupsParams struct {
	Filter map[string]any
	First  int
	After  string
}

// AccessGroupsPage is the raw result of one accessGroups query.
type AccessGroupsPage struct {
	Nodes       []AccessGroupNode
	HasNextPage bool
	EndCursor   string
}

func (c *Client) AccessGroups(ctx context.Context, params AccessGroupsParams) (*AccessGroupsPage, error) {
	variables := map[string]any{
		"filter": params.Filter,
		"first":  params.First,
	}
	if params.After != "" {
		variables["after"] = params.After
	}
	var data struct {
		AccessGroups struct {
			Nodes    []AccessGroupNode `json:"nodes"`
			PageInfo pageInfo          `json:"pageInfo"`
		} `json:"accessGroups"`
	}
	if err := c.execute(ctx, accessGroupsQuery, variables, &data); err != nil {
		return nil, err
	}
	return &AccessGroupsPage{
		Nodes:       data.AccessGroups.Nodes,
		HasNextPage: data.AccessGroups.PageInfo.HasNextPage,
		EndCursor:   data.AccessGroups.PageInfo.EndCursor,
	}, nil
}

// DMThreadFilter matches both directions of a DM thread between two owner
// keys.
func DMThreadFilter(ownerA, ownerB string) map[string]any {
	return map[string]any{
		"isGroupChatMessage": map[string]any{"equalTo": false},
		"or": []map[string]any{
			{
				"senderAccessGroupOwnerPublicKey":    map[string]any{"equalTo": ownerA},
				"recipientAccessGroupOwnerPublicKey": map[string]any{"equalTo": ownerB},
			},
			{
				"senderAccessGroupOwnerPublicKey":    map[string]any{"equalTo": ownerB},
				"recipientAccessGroupOwnerPublicKey": map[string]any{"equalTo": ownerA},
			},
		},
	}
}

// GroupThreadFilter matches a group thread, optionally bounded from above.
// Group pages advance by shrinking the window instead of by cursor: cursors
// over group threads go stale when other members post mid-pagination.
// before is in nanoseconds; zero means unbounded.
func GroupThreadFilter(groupOwner, keyName string, before uint64) map[string]any {
	filter := map[string]any{
		"isGroupChatMessage":                 map[string]any{"equalTo": true},
		"recipientAccessGroupOwnerPublicKey": map[string]any{"equalTo": groupOwner},
		"recipientAccessGroupKeyName":        map[string]any{"equalTo": keyName},
	}
	if before > 0 {
		filter["timestamp"] = map[string]any{"lessThan": isoNanos(before)}
	}
	return filter
}

// GroupMembersFilter matches a single group by identity.
func GroupMembersFilter(groupOwner, keyName string) map[string]any {
	return map[string]any{
		"accessGroupOwnerPublicKey": map[string]any{"equalTo": groupOwner},
		"accessGroupKeyName":        map[string]any{"equalTo": keyName},
	}
}

func isoNanos(nanos uint64) string {
	// Unix nanos top out in 2262. Larger values wrap negative on conversion
	// and would turn the upper bound into a pre-epoch cutoff.
	if nanos > math.MaxInt64 {
		nanos = math.MaxInt64
	}
	return time.Unix(0, int64(nanos)).UTC().Format(time.RFC3339Nano)
}
