package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/codeGROOVE-dev/cherries/internal/github"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS replied (
    org      TEXT NOT NULL,
    repo     TEXT NOT NULL,
    number   INTEGER NOT NULL,
    reviewer TEXT NOT NULL,
    PRIMARY KEY (org, repo, number, reviewer)
);
CREATE TABLE IF NOT EXISTS pending (
    org       TEXT NOT NULL,
    repo      TEXT NOT NULL,
    number    INTEGER NOT NULL,
    reviewer  TEXT NOT NULL,
    review_id INTEGER NOT NULL,
    PRIMARY KEY (org, repo, number, reviewer)
);
CREATE TABLE IF NOT EXISTS members (
    login TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    name  TEXT NOT NULL
);
`

// Keys in the meta table.
const (
	metaCutoff           = "cutoff"
	metaDirectoryRefresh = "last_directory_refresh"
	metaDirectoryUsers   = "directory_users"
	metaHashtags         = "hashtags"
)

// SQLiteStore keeps state in a SQLite database, one row per reward and pending review.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLiteStore opens or creates the database at path and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; SQLite serializes anyway.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(schema); err != nil {
		conn.Close() //nolint:errcheck,gosec // already failing
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &SQLiteStore{conn: conn, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Load reads the saved state. A database that was never saved to yields ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	meta, err := s.meta(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := meta[metaCutoff]; !ok {
		return nil, ErrNotFound
	}

	var snap Snapshot
	if snap.Cutoff, err = parseTime(meta[metaCutoff]); err != nil {
		return nil, fmt.Errorf("parse cutoff: %w", err)
	}
	if snap.LastDirectoryRefresh, err = parseTime(meta[metaDirectoryRefresh]); err != nil {
		return nil, fmt.Errorf("parse directory refresh: %w", err)
	}
	if v := meta[metaDirectoryUsers]; v != "" {
		if err := json.Unmarshal([]byte(v), &snap.DirectoryUsers); err != nil {
			return nil, fmt.Errorf("parse directory users: %w", err)
		}
	}
	if v := meta[metaHashtags]; v != "" {
		if err := json.Unmarshal([]byte(v), &snap.Hashtags); err != nil {
			return nil, fmt.Errorf("parse hashtags: %w", err)
		}
	}

	if snap.Replied, err = s.replied(ctx); err != nil {
		return nil, err
	}
	if snap.Pending, err = s.pending(ctx); err != nil {
		return nil, err
	}
	if snap.MemberCache, err = s.members(ctx); err != nil {
		return nil, err
	}
	return FromSnapshot(snap), nil
}

func (s *SQLiteStore) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta row: %w", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meta rows: %w", err)
	}
	return meta, nil
}

func (s *SQLiteStore) replied(ctx context.Context) ([]ReplyRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT org, repo, number, reviewer FROM replied`)
	if err != nil {
		return nil, fmt.Errorf("query replied: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []ReplyRecord
	for rows.Next() {
		var r ReplyRecord
		if err := rows.Scan(&r.PR.Org, &r.PR.Repo, &r.PR.Number, &r.Reviewer); err != nil {
			return nil, fmt.Errorf("scan replied row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate replied rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) pending(ctx context.Context) ([]PendingReview, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT org, repo, number, reviewer, review_id FROM pending`)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []PendingReview
	for rows.Next() {
		var p PendingReview
		if err := rows.Scan(&p.PR.Org, &p.PR.Repo, &p.PR.Number, &p.Reviewer, &p.ReviewID); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) members(ctx context.Context) (map[string]github.Member, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT login, email, name FROM members`)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	out := make(map[string]github.Member)
	for rows.Next() {
		var m github.Member
		if err := rows.Scan(&m.Login, &m.Email, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member row: %w", err)
		}
		out[m.Login] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member rows: %w", err)
	}
	return out, nil
}

// Save replaces the stored state with st in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, st *State) (err error) {
	snap := st.Snapshot()

	users, err := json.Marshal(snap.DirectoryUsers)
	if err != nil {
		return fmt.Errorf("encode directory users: %w", err)
	}
	hashtags, err := json.Marshal(snap.Hashtags)
	if err != nil {
		return fmt.Errorf("encode hashtags: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	for _, table := range []string{"meta", "replied", "pending", "members"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil { //nolint:gosec // fixed table names
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	meta := map[string]string{
		metaCutoff:           formatTime(snap.Cutoff),
		metaDirectoryRefresh: formatTime(snap.LastDirectoryRefresh),
		metaDirectoryUsers:   string(users),
		metaHashtags:         string(hashtags),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("write %s: %w", k, err)
		}
	}
	for _, r := range snap.Replied {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO replied (org, repo, number, reviewer) VALUES (?, ?, ?, ?)`,
			r.PR.Org, r.PR.Repo, r.PR.Number, r.Reviewer); err != nil {
			return fmt.Errorf("write reply %s/%s: %w", r.PR, r.Reviewer, err)
		}
	}
	for _, p := range snap.Pending {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending (org, repo, number, reviewer, review_id) VALUES (?, ?, ?, ?, ?)`,
			p.PR.Org, p.PR.Repo, p.PR.Number, p.Reviewer, p.ReviewID); err != nil {
			return fmt.Errorf("write pending %s/%s: %w", p.PR, p.Reviewer, err)
		}
	}
	for _, m := range snap.MemberCache {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO members (login, email, name) VALUES (?, ?, ?)`,
			m.Login, m.Email, m.Name); err != nil {
			return fmt.Errorf("write member %s: %w", m.Login, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
