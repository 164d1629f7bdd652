package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.mau.fi/util/dbutil"

	"github.com/tundrachat/tundra/pkg/chat"
)

// Store caches thread history and sync positions in SQLite so a restart can
// render conversations before the first network round trip completes. Only
// ciphertext is persisted; plaintext and decryption tags stay in memory.
type Store struct {
	db    *dbutil.Database
	owner string
}

func NewStore(db *dbutil.Database, owner string) *Store {
	return &Store{db: db, owner: owner}
}

// SyncState is the stored resume position of one thread.
type SyncState struct {
	Cursor      string
	BeforeNanos uint64
	LastSuccess int64
	LastError   string
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS thread_sync_state (
			owner_pk        TEXT NOT NULL,
			thread_key      TEXT NOT NULL,
			cursor          TEXT,
			before_nanos    BIGINT NOT NULL DEFAULT 0,
			last_success_ts BIGINT,
			last_error      TEXT,
			updated_ts      BIGINT NOT NULL,
			PRIMARY KEY (owner_pk, thread_key)
		)`,
		`CREATE TABLE IF NOT EXISTS message_cache (
			owner_pk           TEXT NOT NULL,
			thread_key         TEXT NOT NULL,
			ts_nanos_str       TEXT NOT NULL,
			ts_nanos           BIGINT NOT NULL DEFAULT 0,
			chat_type          TEXT NOT NULL,
			sender_owner       TEXT NOT NULL,
			sender_group_pk    TEXT NOT NULL DEFAULT '',
			sender_key_name    TEXT NOT NULL DEFAULT '',
			recipient_owner    TEXT NOT NULL,
			recipient_group_pk TEXT NOT NULL DEFAULT '',
			recipient_key_name TEXT NOT NULL DEFAULT '',
			encrypted_text     TEXT NOT NULL,
			extra_data_json    TEXT,
			created_ts         BIGINT NOT NULL,
			updated_ts         BIGINT NOT NULL,
			PRIMARY KEY (owner_pk, thread_key, ts_nanos_str)
		)`,
		`CREATE TABLE IF NOT EXISTS profile_cache (
			owner_pk    TEXT NOT NULL,
			public_key  TEXT NOT NULL,
			username    TEXT NOT NULL DEFAULT '',
			profile_pic TEXT NOT NULL DEFAULT '',
			updated_ts  BIGINT NOT NULL,
			PRIMARY KEY (owner_pk, public_key)
		)`,
		`CREATE INDEX IF NOT EXISTS message_cache_thread_ts_idx
			ON message_cache (owner_pk, thread_key, ts_nanos DESC)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure cache schema: %w", err)
		}
	}

	// Migration: add last_error column if missing (SQLite doesn't support IF NOT EXISTS on ALTER)
	var hasLastError int
	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM pragma_table_info('thread_sync_state') WHERE name='last_error'`).Scan(&hasLastError)
	if hasLastError == 0 {
		if _, err := s.db.Exec(ctx, `ALTER TABLE thread_sync_state ADD COLUMN last_error TEXT`); err != nil {
			return fmt.Errorf("failed to add last_error column: %w", err)
		}
	}

	return nil
}

func (s *Store) GetSyncState(ctx context.Context, threadKey string) (*SyncState, error) {
	var (
		cursor      sql.NullString
		before      int64
		lastSuccess sql.NullInt64
		lastError   sql.NullString
	)
	err := s.db.QueryRow(ctx,
		`SELECT cursor, before_nanos, last_success_ts, last_error FROM thread_sync_state WHERE owner_pk=$1 AND thread_key=$2`,
		s.owner, threadKey,
	).Scan(&cursor, &before, &lastSuccess, &lastError)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	state := &SyncState{BeforeNanos: uint64(before)}
	if cursor.Valid {
		state.Cursor = cursor.String
	}
	if lastSuccess.Valid {
		state.LastSuccess = lastSuccess.Int64
	}
	if lastError.Valid {
		state.LastError = lastError.String
	}
	return state, nil
}

func (s *Store) SetSyncStateSuccess(ctx context.Context, threadKey, cursor string, beforeNanos uint64) error {
	nowMS := time.Now().UnixMilli()
	_, err := s.db.Exec(ctx, `
		INSERT INTO thread_sync_state (owner_pk, thread_key, cursor, before_nanos, last_success_ts, last_error, updated_ts)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
		ON CONFLICT (owner_pk, thread_key) DO UPDATE SET
			cursor=excluded.cursor,
			before_nanos=excluded.before_nanos,
			last_success_ts=excluded.last_success_ts,
			last_error=NULL,
			updated_ts=excluded.updated_ts
	`, s.owner, threadKey, nullableString(cursor), int64(beforeNanos), nowMS, nowMS)
	return err
}

func (s *Store) SetSyncStateError(ctx context.Context, threadKey, errMsg string) error {
	nowMS := time.Now().UnixMilli()
	_, err := s.db.Exec(ctx, `
		INSERT INTO thread_sync_state (owner_pk, thread_key, cursor, before_nanos, last_error, updated_ts)
		VALUES ($1, $2, NULL, 0, $3, $4)
		ON CONFLICT (owner_pk, thread_key) DO UPDATE SET
			last_error=excluded.last_error,
			updated_ts=excluded.updated_ts
	`, s.owner, threadKey, errMsg, nowMS)
	return err
}

// UpsertMessages stores one page of ciphertext records in a single
// transaction. Records without a timestamp string have no stable identity and
// are skipped.
func (s *Store) UpsertMessages(ctx context.Context, threadKey string, msgs []chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.RawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_cache (
			owner_pk, thread_key, ts_nanos_str, ts_nanos, chat_type,
			sender_owner, sender_group_pk, sender_key_name,
			recipient_owner, recipient_group_pk, recipient_key_name,
			encrypted_text, extra_data_json, created_ts, updated_ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_pk, thread_key, ts_nanos_str) DO UPDATE SET
			ts_nanos=excluded.ts_nanos,
			chat_type=excluded.chat_type,
			sender_owner=excluded.sender_owner,
			sender_group_pk=excluded.sender_group_pk,
			sender_key_name=excluded.sender_key_name,
			recipient_owner=excluded.recipient_owner,
			recipient_group_pk=excluded.recipient_group_pk,
			recipient_key_name=excluded.recipient_key_name,
			encrypted_text=excluded.encrypted_text,
			extra_data_json=excluded.extra_data_json,
			updated_ts=excluded.updated_ts
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare message upsert: %w", err)
	}
	defer stmt.Close()

	nowMS := time.Now().UnixMilli()
	for _, msg := range msgs {
		if msg.MessageInfo.TimestampNanosString == "" {
			continue
		}
		var extraJSON any
		if len(msg.MessageInfo.ExtraData) > 0 {
			encoded, err := json.Marshal(msg.MessageInfo.ExtraData)
			if err != nil {
				return fmt.Errorf("failed to encode extra data: %w", err)
			}
			extraJSON = string(encoded)
		}
		// The BIGINT sort key saturates above the int64 horizon; a wrapped
		// negative value would sort the newest record to the bottom.
		// ts_nanos_str keeps the exact value.
		tsSort := msg.MessageInfo.TimestampNanos
		if tsSort > math.MaxInt64 {
			tsSort = math.MaxInt64
		}
		_, err = stmt.ExecContext(ctx,
			s.owner, threadKey,
			msg.MessageInfo.TimestampNanosString, int64(tsSort), string(msg.ChatType),
			msg.SenderInfo.OwnerPublicKey, msg.SenderInfo.GroupPublicKey, msg.SenderInfo.GroupKeyName,
			msg.RecipientInfo.OwnerPublicKey, msg.RecipientInfo.GroupPublicKey, msg.RecipientInfo.GroupKeyName,
			msg.MessageInfo.EncryptedText, extraJSON, nowMS, nowMS,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert message: %w", err)
		}
	}
	return tx.Commit()
}

// ListMessages returns up to limit cached records for a thread, newest first.
// limit <= 0 means no limit.
func (s *Store) ListMessages(ctx context.Context, threadKey string, limit int) ([]chat.Message, error) {
	query := `
		SELECT ts_nanos_str, chat_type,
			sender_owner, sender_group_pk, sender_key_name,
			recipient_owner, recipient_group_pk, recipient_key_name,
			encrypted_text, extra_data_json
		FROM message_cache
		WHERE owner_pk=$1 AND thread_key=$2
		ORDER BY ts_nanos DESC`
	args := []any{s.owner, threadKey}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			chatType  string
			extraJSON sql.NullString
		)
		err = rows.Scan(
			&msg.MessageInfo.TimestampNanosString, &chatType,
			&msg.SenderInfo.OwnerPublicKey, &msg.SenderInfo.GroupPublicKey, &msg.SenderInfo.GroupKeyName,
			&msg.RecipientInfo.OwnerPublicKey, &msg.RecipientInfo.GroupPublicKey, &msg.RecipientInfo.GroupKeyName,
			&msg.MessageInfo.EncryptedText, &extraJSON,
		)
		if err != nil {
			return nil, err
		}
		msg.ChatType = chat.ChatType(chatType)
		// The string column is the identity and holds the exact timestamp;
		// ts_nanos is only the (saturating) sort key.
		msg.MessageInfo.TimestampNanos, _ = chat.NormalizeTimestamp(msg.MessageInfo.TimestampNanosString)
		if extraJSON.Valid && extraJSON.String != "" {
			if err := json.Unmarshal([]byte(extraJSON.String), &msg.MessageInfo.ExtraData); err != nil {
				return nil, fmt.Errorf("failed to decode extra data: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ListThreadKeys returns every thread with cached records, most recent
// activity first.
func (s *Store) ListThreadKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT thread_key FROM message_cache WHERE owner_pk=$1 GROUP BY thread_key ORDER BY MAX(ts_nanos) DESC`,
		s.owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *Store) UpsertProfiles(ctx context.Context, profiles []chat.ProfileHint) error {
	if len(profiles) == 0 {
		return nil
	}
	tx, err := s.db.RawDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profile_cache (owner_pk, public_key, username, profile_pic, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_pk, public_key) DO UPDATE SET
			username=excluded.username,
			profile_pic=excluded.profile_pic,
			updated_ts=excluded.updated_ts
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare profile upsert: %w", err)
	}
	defer stmt.Close()

	nowMS := time.Now().UnixMilli()
	for _, hint := range profiles {
		if hint.PublicKey == "" {
			continue
		}
		if _, err = stmt.ExecContext(ctx, s.owner, hint.PublicKey, hint.Username, hint.ProfilePic, nowMS); err != nil {
			return fmt.Errorf("failed to upsert profile: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetProfile(ctx context.Context, publicKey string) (*chat.ProfileHint, error) {
	var hint chat.ProfileHint
	err := s.db.QueryRow(ctx,
		`SELECT public_key, username, profile_pic FROM profile_cache WHERE owner_pk=$1 AND public_key=$2`,
		s.owner, publicKey,
	).Scan(&hint.PublicKey, &hint.Username, &hint.ProfilePic)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &hint, nil
}

// Wipe deletes everything cached for this owner. Other owners sharing the
// database file are untouched.
func (s *Store) Wipe(ctx context.Context) error {
	for _, table := range []string{"thread_sync_state", "message_cache", "profile_cache"} {
		if _, err := s.db.Exec(ctx, `DELETE FROM `+table+` WHERE owner_pk=$1`, s.owner); err != nil {
			return fmt.Errorf("failed to wipe %s: %w", table, err)
		}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
