package vecindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// docEntry is what the docstore keeps for each indexed record.
type docEntry struct {
	ID       string
	Seq      int
	Content  string
	Metadata model.ChangeMetadata
}

// docStore is the SQLite companion of the structure file.
type docStore struct {
	db *sql.DB
}

func openDocStore(path string) (*docStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=synchronous(full)")
	if err != nil {
		return nil, fmt.Errorf("open docstore: %w", err)
	}
	db.SetMaxOpenConns(1)

	d := &docStore{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate docstore: %w", err)
	}
	return d, nil
}

func (d *docStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		id       TEXT PRIMARY KEY,
		seq      INTEGER NOT NULL,
		content  TEXT NOT NULL,
		metadata TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_seq ON entries(seq);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := d.db.Exec(schema)
	return err
}

func (d *docStore) Close() error { return d.db.Close() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// setMeta upserts one meta value through db or an open transaction.
func setMeta(ctx context.Context, ex execer, key, value string) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	return err
}

func (d *docStore) meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (d *docStore) put(ctx context.Context, e docEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO entries (id, seq, content, metadata) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, metadata = excluded.metadata`,
		e.ID, e.Seq, e.Content, string(meta))
	return err
}

// replaceAll swaps every entry and the meta values in one transaction.
func (d *docStore) replaceAll(ctx context.Context, entries []docEntry, meta map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries (id, seq, content, metadata) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		m, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Seq, e.Content, string(m)); err != nil {
			return fmt.Errorf("insert %s: %w", e.ID, err)
		}
	}
	for k, v := range meta {
		if err := setMeta(ctx, tx, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// all returns every entry keyed by id.
func (d *docStore) all(ctx context.Context) (map[string]docEntry, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, seq, content, metadata FROM entries ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]docEntry)
	for rows.Next() {
		var e docEntry
		var meta string
		if err := rows.Scan(&e.ID, &e.Seq, &e.Content, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", e.ID, err)
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}
