package store

const schema = `
CREATE TABLE IF NOT EXISTS group_cursors (
	group_id    BLOB PRIMARY KEY,
	next_cursor INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS blobs (
	blob_id    BLOB PRIMARY KEY,
	group_id   BLOB NOT NULL,
	cursor     INTEGER NOT NULL,
	sender_id  BLOB NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	UNIQUE(group_id, cursor)
);

CREATE TABLE IF NOT EXISTS deliveries (
	blob_id      BLOB NOT NULL,
	device_id    BLOB NOT NULL,
	delivered_at INTEGER NOT NULL,
	PRIMARY KEY (blob_id, device_id)
);

CREATE INDEX IF NOT EXISTS idx_blobs_group_cursor ON blobs(group_id, cursor);
CREATE INDEX IF NOT EXISTS idx_blobs_expires_at ON blobs(expires_at);
CREATE INDEX IF NOT EXISTS idx_blobs_group_id ON blobs(group_id);
`
