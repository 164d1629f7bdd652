package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"testing"
)

func dmMessage(ts uint64, plaintext string) Message {
	return Message{
		ChatType: ChatTypeDM,
		MessageInfo: MessageInfo{
			EncryptedText:        "abcd",
			TimestampNanos:       ts,
			TimestampNanosString: strconv.FormatUint(ts, 10),
		},
		Plaintext: plaintext,
	}
}

func TestMergeMessagesDescendingUnion(t *testing.T) {
	existing := []Message{dmMessage(30, "c"), dmMessage(10, "a")}
	incoming := []Message{dmMessage(20, "b"), dmMessage(40, "d")}

	merged := MergeMessages(existing, incoming)
	if len(merged) != 4 {
		t.Fatalf("merged length = %d, want 4", len(merged))
	}
	for i := 1; i < len(merged); i++ {
		if merged[i-1].MessageInfo.TimestampNanos < merged[i].MessageInfo.TimestampNanos {
			t.Fatalf("merged not descending at %d: %d < %d",
				i, merged[i-1].MessageInfo.TimestampNanos, merged[i].MessageInfo.TimestampNanos)
		}
	}
}

func TestMergeMessagesIdempotent(t *testing.T) {
	existing := []Message{dmMessage(30, "c"), dmMessage(10, "a")}
	incoming := []Message{dmMessage(30, "c"), dmMessage(20, "b")}

	once := MergeMessages(existing, incoming)
	twice := MergeMessages(once, incoming)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
	if len(once) != 3 {
		t.Fatalf("merged length = %d, want 3", len(once))
	}
}

func TestMergeMessagesIncomingCopyWins(t *testing.T) {
	failed := dmMessage(50, "")
	failed.DecryptionError = "Decryption failed: bad key"
	healed := dmMessage(50, "hello again")

	merged := MergeMessages([]Message{failed}, []Message{healed})
	if len(merged) != 1 {
		t.Fatalf("merged length = %d, want 1", len(merged))
	}
	if merged[0].Plaintext != "hello again" || merged[0].DecryptionError != "" {
		t.Fatalf("re-fetched copy did not replace failed copy: %+v", merged[0])
	}
}

func TestMergeMessagesKeepsRecordsWithoutTimestampString(t *testing.T) {
	blank1 := Message{ChatType: ChatTypeDM, Plaintext: "one"}
	blank2 := Message{ChatType: ChatTypeDM, Plaintext: "two"}

	merged := MergeMessages(nil, []Message{blank1, blank2})
	if len(merged) != 2 {
		t.Fatalf("records without timestamps were collapsed: got %d, want 2", len(merged))
	}
}

func TestSortMessagesDescStableTies(t *testing.T) {
	first := dmMessage(10, "first")
	second := dmMessage(10, "second")
	second.MessageInfo.TimestampNanosString = "10b" // distinct identity, same instant

	msgs := []Message{first, second}
	SortMessagesDesc(msgs)
	if msgs[0].Plaintext != "first" || msgs[1].Plaintext != "second" {
		t.Fatalf("tie order not preserved: %q, %q", msgs[0].Plaintext, msgs[1].Plaintext)
	}
}

func TestBucketMessagesDMBothDirections(t *testing.T) {
	const owner = "BC1owner"
	const other = "BC1other"

	inbound := dmMessage(10, "hi")
	inbound.SenderInfo = PartyInfo{OwnerPublicKey: other, GroupKeyName: DefaultKeyName}
	inbound.RecipientInfo = PartyInfo{OwnerPublicKey: owner}

	outbound := dmMessage(20, "hello")
	outbound.IsSender = true
	outbound.SenderInfo = PartyInfo{OwnerPublicKey: owner, GroupKeyName: DefaultKeyName}
	outbound.RecipientInfo = PartyInfo{OwnerPublicKey: other}

	convs := BucketMessages(nil, []Message{inbound, outbound})
	if len(convs) != 1 {
		t.Fatalf("conversation count = %d, want 1 (keys: %v)", len(convs), keysOf(convs))
	}
	conv, ok := convs[other+DefaultKeyName]
	if !ok {
		t.Fatalf("conversation missing default-key bucket, got keys %v", keysOf(convs))
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("bucket holds %d messages, want 2", len(conv.Messages))
	}
	if conv.Messages[0].Plaintext != "hello" {
		t.Fatalf("bucket not newest first: %q", conv.Messages[0].Plaintext)
	}
	if conv.Counterparty.OwnerPublicKey != other {
		t.Fatalf("counterparty = %q, want %q", conv.Counterparty.OwnerPublicKey, other)
	}
}

func TestBucketMessagesSplitsVariantKeyNames(t *testing.T) {
	const owner = "BC1owner"
	const other = "BC1other"

	// Two directions of the same variant-key thread share a bucket; the same
	// pair under a different key name is a different thread.
	inboundK1 := dmMessage(10, "hi")
	inboundK1.SenderInfo = PartyInfo{OwnerPublicKey: other, GroupKeyName: "k1"}
	inboundK1.RecipientInfo = PartyInfo{OwnerPublicKey: owner, GroupKeyName: "k1"}

	outboundK1 := dmMessage(20, "hello")
	outboundK1.IsSender = true
	outboundK1.SenderInfo = PartyInfo{OwnerPublicKey: owner, GroupKeyName: "k1"}
	outboundK1.RecipientInfo = PartyInfo{OwnerPublicKey: other, GroupKeyName: "k1"}

	inboundK2 := dmMessage(30, "psst")
	inboundK2.SenderInfo = PartyInfo{OwnerPublicKey: other, GroupKeyName: "k2"}
	inboundK2.RecipientInfo = PartyInfo{OwnerPublicKey: owner, GroupKeyName: "k2"}

	convs := BucketMessages(nil, []Message{inboundK1, outboundK1, inboundK2})
	if len(convs) != 2 {
		t.Fatalf("conversation count = %d, want 2 (keys: %v)", len(convs), keysOf(convs))
	}
	k1, ok := convs[other+"k1"]
	if !ok || len(k1.Messages) != 2 {
		t.Fatalf("k1 thread did not gather both directions: %v", keysOf(convs))
	}
	k2, ok := convs[other+"k2"]
	if !ok || len(k2.Messages) != 1 {
		t.Fatalf("k2 record did not bucket separately: %v", keysOf(convs))
	}
}

func TestBucketMessagesGroupByRecipient(t *testing.T) {
	msg := dmMessage(10, "yo")
	msg.ChatType = ChatTypeGroup
	msg.SenderInfo = PartyInfo{OwnerPublicKey: "BC1member", GroupKeyName: DefaultKeyName}
	msg.RecipientInfo = PartyInfo{OwnerPublicKey: "BC1groupowner", GroupKeyName: "weekend-plans"}

	convs := BucketMessages(nil, []Message{msg})
	conv, ok := convs["BC1groupowner"+"weekend-plans"]
	if !ok {
		t.Fatalf("group bucketed under wrong key: %v", keysOf(convs))
	}
	if conv.ChatType != ChatTypeGroup {
		t.Fatalf("conversation chat type = %q, want group", conv.ChatType)
	}
}

func TestBucketMessagesIdempotent(t *testing.T) {
	inbound := dmMessage(10, "hi")
	inbound.SenderInfo = PartyInfo{OwnerPublicKey: "BC1other"}

	convs := BucketMessages(nil, []Message{inbound})
	convs = BucketMessages(convs, []Message{inbound})
	conv := convs["BC1other"+DefaultKeyName]
	if conv == nil || len(conv.Messages) != 1 {
		t.Fatalf("re-bucketing duplicated records: %+v", convs)
	}
}

func TestFindMemberEntry(t *testing.T) {
	entries := []AccessGroupEntry{
		{OwnerPublicKey: "BC1a", KeyName: "g", Member: nil},
		{OwnerPublicKey: "BC1a", KeyName: "g", Member: &AccessGroupMember{MemberPublicKey: "BC1me"}},
		{OwnerPublicKey: "BC1a", KeyName: "g", Member: &AccessGroupMember{MemberPublicKey: "BC1me", EncryptedKey: "aabb"}},
		{OwnerPublicKey: "BC1b", KeyName: "h", Member: &AccessGroupMember{MemberPublicKey: "BC1me", EncryptedKey: "ccdd"}},
	}

	if got := FindMemberEntry(entries, "BC1a", "g"); got == nil || got.Member.EncryptedKey != "aabb" {
		t.Fatalf("FindMemberEntry skipped to wrong entry: %+v", got)
	}
	if got := FindMemberEntry(entries, "BC1a", "other"); got != nil {
		t.Fatalf("FindMemberEntry matched wrong key name: %+v", got)
	}
	if got := FindMemberEntry(entries, "BC1c", "g"); got != nil {
		t.Fatalf("FindMemberEntry matched wrong owner: %+v", got)
	}
}

func TestConversationKeyDefaultsKeyName(t *testing.T) {
	got := ConversationKey(PartyInfo{OwnerPublicKey: "BC1x"})
	if got != "BC1x"+DefaultKeyName {
		t.Fatalf("ConversationKey = %q, want default-key suffix", got)
	}
	got = ConversationKey(PartyInfo{OwnerPublicKey: "BC1x", GroupKeyName: "crew"})
	if got != "BC1xcrew" {
		t.Fatalf("ConversationKey = %q, want %q", got, "BC1xcrew")
	}
}

func TestDecryptionErrorTag(t *testing.T) {
	if got := DecryptionErrorTag(ErrMissingAccessGroupKey); got != "MissingAccessGroupKeyError" {
		t.Fatalf("sentinel tag = %q", got)
	}
	wrapped := fmt.Errorf("signer said no: %w", ErrMissingAccessGroupKey)
	if got := DecryptionErrorTag(wrapped); got != "MissingAccessGroupKeyError" {
		t.Fatalf("wrapped sentinel tag = %q", got)
	}
	if got := DecryptionErrorTag(errors.New("boom")); got != "Decryption failed: boom" {
		t.Fatalf("generic tag = %q", got)
	}
}

func keysOf(convs map[string]*Conversation) []string {
	keys := make([]string, 0, len(convs))
	for k := range convs {
		keys = append(keys, k)
	}
	return keys
}
