package pubsched

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the pending queue in a SQLite database. Row order is
// kept in the position column.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the SQLite database at path, ensures
// the data directory exists, and creates the schema.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the HTTP readers list the queue while the worker writes;
	// busy_timeout makes a second writer wait instead of failing.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	b := &SQLiteBackend{db: db}
	if err := b.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) ensureSchema() error {
	_, err := b.db.Exec(`
CREATE TABLE IF NOT EXISTS scheduled_posts (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    url_slug TEXT NOT NULL,
    category TEXT NOT NULL,
    tags TEXT NOT NULL,
    meta_description TEXT NOT NULL,
    seo_keywords TEXT NOT NULL,
    scheduled_for TEXT NOT NULL,
    send_newsletter INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS queue_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]ScheduledPost, bool, error) {
	var saved string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM queue_meta WHERE key = 'saved_at'`).Scan(&saved)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	rows, err := b.db.QueryContext(ctx, `SELECT id, title, content, url_slug, category, tags, meta_description, seo_keywords, scheduled_for, send_newsletter, created_at FROM scheduled_posts ORDER BY position`)
	if err != nil {
		return nil, true, err
	}
	defer rows.Close()

	var posts []ScheduledPost
	for rows.Next() {
		var p ScheduledPost
		var tags, keywords, scheduledFor, createdAt string
		var newsletter int
		if err := rows.Scan(&p.ID, &p.Title, &p.Content, &p.URLSlug, &p.Category, &tags, &p.MetaDescription, &keywords, &scheduledFor, &newsletter, &createdAt); err != nil {
			return nil, true, err
		}
		if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
			return nil, true, fmt.Errorf("decode tags of %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(keywords), &p.SEOKeywords); err != nil {
			return nil, true, fmt.Errorf("decode keywords of %s: %w", p.ID, err)
		}
		if p.ScheduledFor, err = time.Parse(time.RFC3339Nano, scheduledFor); err != nil {
			return nil, true, fmt.Errorf("parse scheduled_for of %s: %w", p.ID, err)
		}
		if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, true, fmt.Errorf("parse created_at of %s: %w", p.ID, err)
		}
		p.SendNewsletter = newsletter == 1
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, true, err
	}
	return posts, true, nil
}

// Save replaces every row inside one transaction.
func (b *SQLiteBackend) Save(ctx context.Context, posts []ScheduledPost) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM scheduled_posts`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO scheduled_posts (id, position, title, content, url_slug, category, tags, meta_description, seo_keywords, scheduled_for, send_newsletter, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range posts {
		tags, err := marshalList(p.Tags)
		if err != nil {
			return err
		}
		keywords, err := marshalList(p.SEOKeywords)
		if err != nil {
			return err
		}
		newsletter := 0
		if p.SendNewsletter {
			newsletter = 1
		}
		if _, err := stmt.ExecContext(ctx, p.ID, i, p.Title, p.Content, p.URLSlug, p.Category, tags, p.MetaDescription, keywords,
			p.ScheduledFor.UTC().Format(time.RFC3339Nano), newsletter, p.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("insert %s: %w", p.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO queue_meta (key, value) VALUES ('saved_at', ?)`,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

func marshalList(vals []string) (string, error) {
	if vals == nil {
		vals = []string{}
	}
	data, err := json.Marshal(vals)
	return string(data), err
}
