package nodeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tundrachat/tundra/pkg/chat"
)

func TestGetPaginatedMessagesForDMThread(t *testing.T) {
	var gotPath string
	var gotReq GetPaginatedMessagesForDMThreadRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(GetPaginatedMessagesForDMThreadResponse{
			ThreadMessages: []MessageEntry{{
				ChatType:      "DM",
				SenderInfo:    PartyEntry{OwnerPublicKeyBase58Check: "BC1sender"},
				RecipientInfo: PartyEntry{OwnerPublicKeyBase58Check: "BC1recipient"},
				MessageInfo: MessageInfoEntry{
					EncryptedText:        "0a0b",
					TimestampNanos:       1700000000000000000,
					TimestampNanosString: "1700000000000000001",
				},
			}},
			PublicKeyToProfileEntryResponse: map[string]ProfileEntry{
				"BC1sender": {Username: "alice"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.GetPaginatedMessagesForDMThread(context.Background(), &GetPaginatedMessagesForDMThreadRequest{
		UserGroupOwnerPublicKeyBase58Check:  "BC1me",
		UserGroupKeyName:                    chat.DefaultKeyName,
		PartyGroupOwnerPublicKeyBase58Check: "BC1them",
		PartyGroupKeyName:                   chat.DefaultKeyName,
		StartTimeStamp:                      "1700000001000000000",
		MaxMessagesToFetch:                  25,
	})
	if err != nil {
		t.Fatalf("GetPaginatedMessagesForDMThread: %v", err)
	}
	if gotPath != "/api/v0/get-paginated-messages-for-dm-thread" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReq.PartyGroupOwnerPublicKeyBase58Check != "BC1them" || gotReq.MaxMessagesToFetch != 25 {
		t.Errorf("request not forwarded: %+v", gotReq)
	}
	if gotReq.StartTimeStamp != "1700000001000000000" {
		t.Errorf("StartTimeStamp = %q, want decimal string", gotReq.StartTimeStamp)
	}
	if len(resp.ThreadMessages) != 1 {
		t.Fatalf("messages = %d, want 1", len(resp.ThreadMessages))
	}

	// String timestamp wins over the (possibly lossy) numeric field.
	msg := resp.ThreadMessages[0].Normalize()
	if msg.MessageInfo.TimestampNanos != 1700000000000000001 {
		t.Errorf("normalized nanos = %d", msg.MessageInfo.TimestampNanos)
	}
	if msg.SenderInfo.OwnerPublicKey != "BC1sender" {
		t.Errorf("normalized sender = %q", msg.SenderInfo.OwnerPublicKey)
	}

	hints := NormalizeProfiles(resp.PublicKeyToProfileEntryResponse)
	if len(hints) != 1 || hints[0].PublicKey != "BC1sender" || hints[0].Username != "alice" {
		t.Errorf("profile hints = %+v", hints)
	}
}

func TestGetAllUserAccessGroupsMergesOwnedAndMember(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/get-all-user-access-groups" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(GetAllUserAccessGroupsResponse{
			AccessGroupsOwned: []AccessGroupEntry{{
				AccessGroupOwnerPublicKeyBase58Check: "BC1me",
				AccessGroupKeyName:                   chat.DefaultKeyName,
			}},
			AccessGroupsMember: []AccessGroupEntry{{
				AccessGroupOwnerPublicKeyBase58Check: "BC1friend",
				AccessGroupKeyName:                   "book-club",
				AccessGroupMemberEntryResponse: &AccessGroupMemberEntry{
					AccessGroupMemberPublicKeyBase58Check: "BC1me",
					EncryptedKey:                          "beef",
				},
			}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.GetAllUserAccessGroups(context.Background(), "BC1me")
	if err != nil {
		t.Fatalf("GetAllUserAccessGroups: %v", err)
	}
	groups := NormalizeAccessGroups(resp)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].OwnerPublicKey != "BC1me" {
		t.Errorf("owned group should come first: %+v", groups[0])
	}
	if groups[1].Member == nil || groups[1].Member.EncryptedKey != "beef" {
		t.Errorf("member entry lost in normalization: %+v", groups[1])
	}
}

func TestClientReportsNodeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "bad public key"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GetAllUserMessageThreads(context.Background(), "nonsense")
	if err == nil {
		t.Fatal("expected error from HTTP 400")
	}
	var nodeErr *Error
	if !errors.As(err, &nodeErr) {
		t.Fatalf("error type = %T, want *Error", err)
	}
	if nodeErr.StatusCode != http.StatusBadRequest || nodeErr.Message != "bad public key" {
		t.Fatalf("error = %+v", nodeErr)
	}
}
