package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/0k-sync/relay-core/syncerr"
	"github.com/0k-sync/relay-core/wire"
)

// InMemoryPath is the special database_path value selecting a private,
// non-persistent database (spec.md §6 config option "database_path").
const InMemoryPath = ":memory:"

// DefaultMaxPullLimit is the server-side ceiling Pull clamps every
// client-requested limit to, regardless of what the client asked for
// (spec.md §4.4).
const DefaultMaxPullLimit = 1000

// Store is the relay's durable blob store. It owns the sole mutator path
// for group_cursors, blobs, and deliveries; all access goes through its
// methods, with internal concurrency delegated to the embedded SQL engine
// (spec.md §5: "internal concurrency delegated to the SQL engine with
// WAL-style concurrent reads and serialized writes").
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the blob store at path. InMemoryPath
// selects a private, non-persistent database useful for tests and
// exercising the relay without a filesystem.
func Open(path string) (*Store, error) {
	dsn := path
	if path == InMemoryPath {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// A single shared connection keeps writes serialized through one
	// SQLite connection, letting the engine's own locking provide the
	// cursor-assignment serialization point spec.md §4.4/§9 rely on.
	db.SetMaxOpenConns(1)

	if path != InMemoryPath {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func toMillis(t time.Time) int64 { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

// Push performs the relay's single critical algorithm: atomic per-group
// monotonic cursor assignment, followed by quota-checked persistence of
// the blob (spec.md §4.4). Both quota checks — per-blob size and
// per-group aggregate storage — precede the insert.
func (s *Store) Push(ctx context.Context, groupID wire.GroupId, blobID wire.BlobId, senderID wire.DeviceId, payload []byte, maxBlobSize, maxGroupStorage uint64, ttl time.Duration) (wire.Cursor, error) {
	logger := logrus.WithFields(logrus.Fields{
		"package":  "store",
		"function": "Push",
		"group_id": groupID.Prefix(),
	})

	if uint64(len(payload)) > maxBlobSize {
		return 0, syncerr.New(syncerr.KindBlobTooLarge, fmt.Sprintf("payload %d bytes exceeds max_blob_size %d", len(payload), maxBlobSize))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "begin push transaction", err)
	}
	defer tx.Rollback()

	var used uint64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(payload)), 0) FROM blobs WHERE group_id = ?`, groupID[:])
	if err := row.Scan(&used); err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "query group storage usage", err)
	}
	if used+uint64(len(payload)) > maxGroupStorage {
		return 0, syncerr.New(syncerr.KindQuotaExceeded, fmt.Sprintf("group storage %d + %d would exceed max_group_storage %d", used, len(payload), maxGroupStorage))
	}

	var assigned int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO group_cursors(group_id, next_cursor) VALUES (?, 2)
		ON CONFLICT(group_id) DO UPDATE SET next_cursor = next_cursor + 1
		RETURNING next_cursor - 1
	`, groupID[:]).Scan(&assigned)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "assign cursor", err)
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO blobs(blob_id, group_id, cursor, sender_id, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, blobID[:], groupID[:], assigned, senderID[:], payload, toMillis(now), toMillis(expiresAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return 0, syncerr.New(syncerr.KindInvalidMessage, "blob_id already used; clients must pick a fresh blob_id per push")
		}
		return 0, syncerr.Wrap(syncerr.KindInternal, "insert blob", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "commit push transaction", err)
	}

	logger.WithFields(logrus.Fields{
		"cursor": assigned,
		"size":   len(payload),
	}).Debug("blob pushed")

	return wire.Cursor(assigned), nil
}

// Pull returns up to limit blobs for groupID strictly after afterCursor,
// ordered by cursor ascending. limit is clamped to maxLimit regardless of
// what the caller requested (spec.md §4.4). next_cursor is the cursor of
// the last returned blob (or afterCursor if none matched), and more
// reports whether additional rows remain beyond this batch.
func (s *Store) Pull(ctx context.Context, groupID wire.GroupId, afterCursor wire.Cursor, limit int, maxLimit int) ([]Blob, wire.Cursor, bool, error) {
	if maxLimit <= 0 {
		maxLimit = DefaultMaxPullLimit
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT blob_id, group_id, cursor, sender_id, payload, created_at, expires_at
		FROM blobs
		WHERE group_id = ? AND cursor > ?
		ORDER BY cursor ASC
		LIMIT ?
	`, groupID[:], int64(afterCursor), limit+1)
	if err != nil {
		return nil, afterCursor, false, syncerr.Wrap(syncerr.KindInternal, "query pull batch", err)
	}
	defer rows.Close()

	var blobs []Blob
	for rows.Next() {
		var b Blob
		var blobIDRaw, groupIDRaw, senderIDRaw []byte
		var cursor, createdAt, expiresAt int64
		if err := rows.Scan(&blobIDRaw, &groupIDRaw, &cursor, &senderIDRaw, &b.Payload, &createdAt, &expiresAt); err != nil {
			return nil, afterCursor, false, syncerr.Wrap(syncerr.KindInternal, "scan pull row", err)
		}
		b.BlobId, _ = wire.BlobIdFromBytes(blobIDRaw)
		b.GroupId, _ = wire.GroupIdFromBytes(groupIDRaw)
		b.SenderId, _ = wire.DeviceIdFromBytes(senderIDRaw)
		b.Cursor = wire.Cursor(cursor)
		b.CreatedAt = fromMillis(createdAt)
		b.ExpiresAt = fromMillis(expiresAt)
		blobs = append(blobs, b)
	}
	if err := rows.Err(); err != nil {
		return nil, afterCursor, false, syncerr.Wrap(syncerr.KindInternal, "iterate pull rows", err)
	}

	more := len(blobs) > limit
	if more {
		blobs = blobs[:limit]
	}

	next := afterCursor
	if len(blobs) > 0 {
		next = blobs[len(blobs)-1].Cursor
	}

	return blobs, next, more, nil
}

// RecordDeliveries marks a batch of blobs as delivered to device in a
// single transaction, avoiding per-blob round trips (spec.md §4.4:
// "single batched INSERT wrapped in a transaction covering the whole
// pull batch").
func (s *Store) RecordDeliveries(ctx context.Context, deviceID wire.DeviceId, blobIDs []wire.BlobId) error {
	if len(blobIDs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return syncerr.Wrap(syncerr.KindInternal, "begin delivery transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO deliveries(blob_id, device_id, delivered_at) VALUES (?, ?, ?)`)
	if err != nil {
		return syncerr.Wrap(syncerr.KindInternal, "prepare delivery insert", err)
	}
	defer stmt.Close()

	now := toMillis(time.Now())
	for _, blobID := range blobIDs {
		if _, err := stmt.ExecContext(ctx, blobID[:], deviceID[:], now); err != nil {
			return syncerr.Wrap(syncerr.KindInternal, "insert delivery", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return syncerr.Wrap(syncerr.KindInternal, "commit delivery transaction", err)
	}
	return nil
}

// Cleanup deletes expired blobs and their delivery rows in exactly two
// statements — no per-row loop — and returns the number of blobs removed
// (spec.md §4.4).
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	now := toMillis(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "begin cleanup transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM deliveries WHERE blob_id IN (SELECT blob_id FROM blobs WHERE expires_at <= ?)
	`, now); err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "delete expired deliveries", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "delete expired blobs", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "count removed blobs", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "commit cleanup transaction", err)
	}

	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"package": "store",
			"removed": removed,
		}).Info("cleanup removed expired blobs")
	}

	return removed, nil
}

// LastAssignedCursor returns the most recently assigned cursor for
// groupID, or wire.NoCursor if the group has never had a successful push.
// Used to populate Welcome.AssignedCursor on handshake.
func (s *Store) LastAssignedCursor(ctx context.Context, groupID wire.GroupId) (wire.Cursor, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `SELECT next_cursor FROM group_cursors WHERE group_id = ?`, groupID[:]).Scan(&next)
	if err == sql.ErrNoRows {
		return wire.NoCursor, nil
	}
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindInternal, "query last assigned cursor", err)
	}
	return wire.Cursor(next - 1), nil
}
