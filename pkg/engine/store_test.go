package engine

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/util/dbutil"

	"github.com/tundrachat/tundra/pkg/chat"
)

func newTestDB(t *testing.T) *dbutil.Database {
	t.Helper()
	db, err := dbutil.NewWithDialect(filepath.Join(t.TempDir(), "cache.db"), "sqlite3")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(newTestDB(t), testOwner)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}
	return store
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("second schema pass failed: %v", err)
	}
}

func TestMessageCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	threadKey := chat.ConversationKey(chat.PartyInfo{OwnerPublicKey: testBob})

	withExtra := dmRecord(testBob, testOwner, "c2", 20)
	withExtra.MessageInfo.ExtraData = map[string]string{"app": "tundra"}
	decrypted := dmRecord(testOwner, testBob, "c3", 30)
	decrypted.Plaintext = "must never hit disk"
	noIdentity := dmRecord(testBob, testOwner, "c0", 0)
	noIdentity.MessageInfo.TimestampNanosString = ""

	err := store.UpsertMessages(ctx, threadKey, []chat.Message{withExtra, decrypted, noIdentity})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, threadKey, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d cached records, want 2", len(msgs))
	}
	if msgs[0].MessageInfo.TimestampNanos != 30 || msgs[1].MessageInfo.TimestampNanos != 20 {
		t.Errorf("records not newest first: %d, %d", msgs[0].MessageInfo.TimestampNanos, msgs[1].MessageInfo.TimestampNanos)
	}
	if msgs[0].Plaintext != "" {
		t.Errorf("plaintext leaked into the cache: %q", msgs[0].Plaintext)
	}
	if msgs[1].MessageInfo.ExtraData["app"] != "tundra" {
		t.Errorf("extra data lost: %v", msgs[1].MessageInfo.ExtraData)
	}
	if msgs[0].ChatType != chat.ChatTypeDM || msgs[0].SenderInfo.OwnerPublicKey != testOwner {
		t.Errorf("record fields mangled: %+v", msgs[0])
	}
}

func TestMessageUpsertReplacesCiphertext(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := dmRecord(testBob, testOwner, "old", 10)
	if err := store.UpsertMessages(ctx, "thread", []chat.Message{first}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	second := dmRecord(testBob, testOwner, "new", 10)
	if err := store.UpsertMessages(ctx, "thread", []chat.Message{second}); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "thread", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d records, want 1", len(msgs))
	}
	if msgs[0].MessageInfo.EncryptedText != "new" {
		t.Errorf("ciphertext = %q, want new", msgs[0].MessageInfo.EncryptedText)
	}
}

func TestListMessagesLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	batch := []chat.Message{
		dmRecord(testBob, testOwner, "c1", 10),
		dmRecord(testBob, testOwner, "c2", 20),
		dmRecord(testBob, testOwner, "c3", 30),
	}
	if err := store.UpsertMessages(ctx, "thread", batch); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	msgs, err := store.ListMessages(ctx, "thread", 1)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageInfo.TimestampNanos != 30 {
		t.Fatalf("expected only the newest record, got %+v", msgs)
	}
}

func TestMessageCacheTimestampPastInt64Horizon(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// A timestamp past math.MaxInt64 must not wrap negative in the sort
	// column and sink the newest record to the bottom of the thread.
	batch := []chat.Message{
		dmRecord(testBob, testOwner, "normal", 10),
		dmRecord(testBob, testOwner, "huge", math.MaxUint64),
	}
	if err := store.UpsertMessages(ctx, "thread", batch); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, "thread", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].MessageInfo.EncryptedText != "huge" {
		t.Fatalf("huge timestamp must sort newest, got %+v", msgs)
	}
	if got := msgs[0].MessageInfo.TimestampNanos; got != math.MaxUint64 {
		t.Errorf("timestamp read back as %d, want the exact stored value", got)
	}
}

func TestListThreadKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	keys, err := store.ListThreadKeys(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("empty cache listed threads: %v", keys)
	}

	if err := store.UpsertMessages(ctx, "quiet", []chat.Message{dmRecord(testBob, testOwner, "c1", 10)}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.UpsertMessages(ctx, "busy", []chat.Message{
		dmRecord(testCarol, testOwner, "c2", 5),
		dmRecord(testCarol, testOwner, "c3", 20),
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	keys, err = store.ListThreadKeys(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "busy" || keys[1] != "quiet" {
		t.Fatalf("expected threads by latest activity, got %v", keys)
	}
}

func TestSyncStateLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	state, err := store.GetSyncState(ctx, "thread")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state != nil {
		t.Fatalf("expected no state, got %+v", state)
	}

	if err := store.SetSyncStateSuccess(ctx, "thread", "cur-5", 123); err != nil {
		t.Fatalf("set success failed: %v", err)
	}
	state, err = store.GetSyncState(ctx, "thread")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state == nil || state.Cursor != "cur-5" || state.BeforeNanos != 123 {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.LastError != "" {
		t.Errorf("fresh success carries error %q", state.LastError)
	}

	if err := store.SetSyncStateError(ctx, "thread", "indexer down"); err != nil {
		t.Fatalf("set error failed: %v", err)
	}
	state, err = store.GetSyncState(ctx, "thread")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.LastError != "indexer down" {
		t.Errorf("error not recorded: %+v", state)
	}
	if state.Cursor != "cur-5" {
		t.Errorf("error overwrote resume position: %+v", state)
	}

	if err := store.SetSyncStateSuccess(ctx, "thread", "cur-6", 456); err != nil {
		t.Fatalf("set success failed: %v", err)
	}
	state, _ = store.GetSyncState(ctx, "thread")
	if state.LastError != "" {
		t.Errorf("success did not clear error: %+v", state)
	}
}

func TestProfileCache(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	hints := []chat.ProfileHint{
		{PublicKey: testBob, Username: "bob", ProfilePic: "https://img/bob"},
		{PublicKey: ""}, // no identity, skipped
	}
	if err := store.UpsertProfiles(ctx, hints); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	hint, err := store.GetProfile(ctx, testBob)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if hint == nil || hint.Username != "bob" || hint.ProfilePic != "https://img/bob" {
		t.Fatalf("unexpected hint %+v", hint)
	}

	missing, err := store.GetProfile(ctx, testCarol)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown key, got %+v", missing)
	}
}

func TestWipeIsolatesOwners(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	mine := NewStore(db, testOwner)
	theirs := NewStore(db, testBob)
	if err := mine.EnsureSchema(ctx); err != nil {
		t.Fatalf("failed to ensure schema: %v", err)
	}

	if err := mine.UpsertMessages(ctx, "thread", []chat.Message{dmRecord(testBob, testOwner, "c1", 10)}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := theirs.UpsertMessages(ctx, "thread", []chat.Message{dmRecord(testOwner, testBob, "c2", 20)}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := mine.Wipe(ctx); err != nil {
		t.Fatalf("wipe failed: %v", err)
	}
	msgs, err := mine.ListMessages(ctx, "thread", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("wipe left %d records behind", len(msgs))
	}
	kept, err := theirs.ListMessages(ctx, "thread", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("wipe crossed owner boundary, other owner has %d records", len(kept))
	}
}
