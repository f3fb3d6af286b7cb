package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record is not found.
var ErrNotFound = errors.New("not found")

// Card is a delivered feed card.
type Card struct {
	ID         string
	Generation string
	Target     string
	Slot       int
	Type       string
	Query      string
	Content    string
	CreatedAt  time.Time
	MessageID  *int64
}

// TypeCount is the number of cards delivered for one content type.
type TypeCount struct {
	Type  string
	Count int
}

// DB wraps the SQLite database connection and provides storage operations.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blobs (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		generation TEXT NOT NULL,
		target TEXT NOT NULL,
		slot INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		query TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		telegram_msg_id INTEGER
	);

	DROP INDEX IF EXISTS idx_cards_telegram_msg_id;
	CREATE INDEX IF NOT EXISTS idx_cards_target_msg_id ON cards(target, telegram_msg_id);
	CREATE INDEX IF NOT EXISTS idx_cards_created_at ON cards(created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// GetBlob returns the value stored under key.
func (db *DB) GetBlob(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT value FROM blobs WHERE key = ?`
	var value []byte
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return value, err
}

// PutBlob stores or replaces the value under key.
func (db *DB) PutBlob(ctx context.Context, key string, value []byte) error {
	query := `
	INSERT INTO blobs (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	_, err := db.conn.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// SaveCard inserts or updates a card.
func (db *DB) SaveCard(ctx context.Context, card *Card) error {
	query := `
	INSERT INTO cards (id, generation, target, slot, content_type, query, content, created_at, telegram_msg_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		generation = excluded.generation,
		target = excluded.target,
		slot = excluded.slot,
		content_type = excluded.content_type,
		query = excluded.query,
		content = excluded.content,
		telegram_msg_id = excluded.telegram_msg_id
	`

	createdAt := card.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx, query,
		card.ID,
		card.Generation,
		card.Target,
		card.Slot,
		card.Type,
		card.Query,
		card.Content,
		createdAt,
		card.MessageID,
	)
	return err
}

// GetCard retrieves a card by ID.
func (db *DB) GetCard(ctx context.Context, id string) (*Card, error) {
	return db.scanCard(db.conn.QueryRowContext(ctx, selectCard+` WHERE id = ?`, id))
}

// GetCardByMessageID retrieves a card by the Telegram message it was sent as.
// Message IDs are only unique within a chat, so the lookup is scoped to target.
func (db *DB) GetCardByMessageID(ctx context.Context, target string, msgID int64) (*Card, error) {
	query := selectCard + ` WHERE target = ? AND telegram_msg_id = ?`
	return db.scanCard(db.conn.QueryRowContext(ctx, query, target, msgID))
}

// MarkCardSent records the Telegram message ID a card was delivered as.
func (db *DB) MarkCardSent(ctx context.Context, id string, msgID int64) error {
	query := `UPDATE cards SET telegram_msg_id = ? WHERE id = ?`
	res, err := db.conn.ExecContext(ctx, query, msgID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountCardsByType returns how many cards were delivered per content type,
// most frequent first.
func (db *DB) CountCardsByType(ctx context.Context) ([]TypeCount, error) {
	query := `SELECT content_type, COUNT(*) AS n FROM cards GROUP BY content_type ORDER BY n DESC, content_type`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

// PruneCards deletes cards created before cutoff and returns how many went.
func (db *DB) PruneCards(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectCard = `
	SELECT id, generation, target, slot, content_type, query, content, created_at, telegram_msg_id
	FROM cards`

func (db *DB) scanCard(row *sql.Row) (*Card, error) {
	card := &Card{}
	var msgID sql.NullInt64

	err := row.Scan(
		&card.ID,
		&card.Generation,
		&card.Target,
		&card.Slot,
		&card.Type,
		&card.Query,
		&card.Content,
		&card.CreatedAt,
		&msgID,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if msgID.Valid {
		card.MessageID = &msgID.Int64
	}
	return card, nil
}

// GetSetting retrieves a setting value by key.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM settings WHERE key = ?`
	var value string
	err := db.conn.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetSetting stores or updates a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO settings (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := db.conn.ExecContext(ctx, query, key, value)
	return err
}
