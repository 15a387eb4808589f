package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"liveboard.dev/internal/protocol"
)

// SQLite is the durable post store. Dates are stored as unix
// nanoseconds so ORDER BY is exact regardless of timezone formatting.
type SQLite struct {
	db *sql.DB
}

func Open(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			"desc" TEXT NOT NULL,
			date INTEGER NOT NULL,
			author_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_posts_date ON posts(date DESC, seq DESC);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertPost appends a post and returns the canonical stored record,
// including the server-assigned id.
func (s *SQLite) InsertPost(ctx context.Context, username, desc string, date time.Time, authorID string) (protocol.Post, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(username, "desc", date, author_id, created_at) VALUES(?, ?, ?, ?, ?)`,
		username, desc, date.UnixNano(), authorID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return protocol.Post{}, err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return protocol.Post{}, err
	}
	return s.getBySeq(ctx, seq)
}

func (s *SQLite) getBySeq(ctx context.Context, seq int64) (protocol.Post, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, username, "desc", date, author_id FROM posts WHERE seq = ?`, seq)
	return scanPost(row)
}

// ListPosts returns all posts ordered by date descending; insertion
// order breaks ties (newest insert first).
func (s *SQLite) ListPosts(ctx context.Context) ([]protocol.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, username, "desc", date, author_id FROM posts ORDER BY date DESC, seq DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []protocol.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (protocol.Post, error) {
	var (
		seq      int64
		username string
		desc     string
		dateNS   int64
		authorID string
	)
	if err := row.Scan(&seq, &username, &desc, &dateNS, &authorID); err != nil {
		return protocol.Post{}, err
	}
	return protocol.Post{
		ID:       protocol.PostID(seq),
		Username: username,
		Desc:     desc,
		Date:     time.Unix(0, dateNS).UTC(),
		AuthorID: authorID,
	}, nil
}
