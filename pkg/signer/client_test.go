package signer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tundrachat/tundra/pkg/chat"
)

func testMessage() chat.Message {
	return chat.Message{
		ChatType:      chat.ChatTypeGroup,
		SenderInfo:    chat.PartyInfo{OwnerPublicKey: "BC1sender", GroupKeyName: chat.DefaultKeyName},
		RecipientInfo: chat.PartyInfo{OwnerPublicKey: "BC1owner", GroupKeyName: "crew"},
		MessageInfo:   chat.MessageInfo{EncryptedText: "feed"},
	}
}

func TestDecryptForwardsRecordAndGroups(t *testing.T) {
	var gotReq decryptRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/decrypt" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(decryptResponse{DecryptedText: "hello"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "BC1me")
	groups := []chat.AccessGroupEntry{{
		OwnerPublicKey: "BC1owner",
		KeyName:        "crew",
		Member:         &chat.AccessGroupMember{MemberPublicKey: "BC1me", EncryptedKey: "dead"},
	}}
	plaintext, err := client.Decrypt(context.Background(), testMessage(), groups)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "hello" {
		t.Fatalf("plaintext = %q", plaintext)
	}
	if gotReq.OwnerPublicKeyBase58Check != "BC1me" {
		t.Errorf("owner = %q", gotReq.OwnerPublicKeyBase58Check)
	}
	if gotReq.EncryptedText != "feed" || gotReq.ChatType != "GroupChat" {
		t.Errorf("record not forwarded: %+v", gotReq)
	}
	if len(gotReq.AccessGroups) != 1 || gotReq.AccessGroups[0].EncryptedKey != "dead" {
		t.Errorf("groups not forwarded: %+v", gotReq.AccessGroups)
	}
}

func TestDecryptMapsMissingKeyToSentinel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(decryptResponse{
			ErrorKind: "MissingAccessGroupKey",
			Error:     "no member entry for crew",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "BC1me")
	_, err := client.Decrypt(context.Background(), testMessage(), nil)
	if !errors.Is(err, chat.ErrMissingAccessGroupKey) {
		t.Fatalf("error = %v, want ErrMissingAccessGroupKey", err)
	}
}

func TestDecryptReportsOtherFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(decryptResponse{Error: "corrupt ciphertext"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "BC1me")
	_, err := client.Decrypt(context.Background(), testMessage(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, chat.ErrMissingAccessGroupKey) {
		t.Fatal("generic failure must not map to the missing-key sentinel")
	}
}

func TestDecryptReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, "BC1me")
	if _, err := client.Decrypt(context.Background(), testMessage(), nil); err == nil {
		t.Fatal("expected error from HTTP 502")
	}
}
