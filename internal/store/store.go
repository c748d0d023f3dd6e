// Package store provides the persistent document store backing the
// sync engine.
//
// The store is a single embedded SQLite database (ncruces/go-sqlite3,
// WAL mode) partitioned into logical tables: every document row
// carries the name of the table it belongs to, and each (table,
// file_path) pair holds at most one document. One store instance is
// shared by every scan config; SQLite's own locking plus the busy
// timeout serialize concurrent writers from the watcher and manual
// sync calls.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/resyncd/resyncd/internal/record"
)

// Store wraps the SQLite connection with document-table semantics.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates or opens the store database at path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads and a 5s busy timeout so competing writers queue instead of
// failing. The caller must Close() the store when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Pragmas go in the DSN so the driver applies them to every pooled
	// connection, not just the one that happens to run an Exec.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// initSchema creates the documents table. Idempotent.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		tbl           TEXT NOT NULL,
		file_path     TEXT NOT NULL,
		file_name     TEXT NOT NULL DEFAULT '',
		file_hash     TEXT NOT NULL DEFAULT '',
		file_size     INTEGER NOT NULL DEFAULT 0,
		last_modified NUMERIC NOT NULL DEFAULT 0,
		scan_time     INTEGER NOT NULL DEFAULT 0,
		config_name   TEXT NOT NULL DEFAULT '',
		content       TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (tbl, file_path)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_config ON documents(tbl, config_name);
	CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents(tbl, file_hash);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertRecord inserts or replaces the record keyed by its FilePath in
// the named table.
func (s *Store) UpsertRecord(ctx context.Context, table string, rec *record.FileRecord) error {
	contentJSON, err := json.Marshal(rec.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal content: %w", err)
	}

	query := `
	INSERT INTO documents (
		tbl, file_path, file_name, file_hash, file_size,
		last_modified, scan_time, config_name, content
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tbl, file_path) DO UPDATE SET
		file_name = excluded.file_name,
		file_hash = excluded.file_hash,
		file_size = excluded.file_size,
		last_modified = excluded.last_modified,
		scan_time = excluded.scan_time,
		config_name = excluded.config_name,
		content = excluded.content
	`

	_, err = s.conn.ExecContext(ctx, query,
		table,
		rec.FilePath,
		rec.FileName,
		rec.FileHash,
		rec.FileSize,
		rec.LastModified,
		rec.ScanTime,
		rec.ConfigName,
		string(contentJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.FilePath, err)
	}
	return nil
}

// DeleteRecord removes the record keyed by filePath from the named
// table. Deleting an absent record is a no-op.
func (s *Store) DeleteRecord(ctx context.Context, table, filePath string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE tbl = ? AND file_path = ?`, table, filePath)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", filePath, err)
	}
	return nil
}

// DeleteRecordsUnder removes every record whose file_path lies below
// dirPath, treating dirPath as a directory. Returns the number of
// records removed.
func (s *Store) DeleteRecordsUnder(ctx context.Context, table, dirPath string) (int64, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(dirPath)
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE tbl = ? AND file_path LIKE ? ESCAPE '\'`,
		table, escaped+"/%")
	if err != nil {
		return 0, fmt.Errorf("failed to delete records under %s: %w", dirPath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// GetRecord returns the record keyed by filePath, or nil if absent.
func (s *Store) GetRecord(ctx context.Context, table, filePath string) (*record.FileRecord, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT file_path, file_name, file_hash, file_size,
	       CAST(last_modified AS INTEGER), scan_time, config_name, content
	FROM documents
	WHERE tbl = ? AND file_path = ?
	`, table, filePath)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", filePath, err)
	}
	return rec, nil
}

// ListRecords returns every record in the named table, ordered by
// file_path.
func (s *Store) ListRecords(ctx context.Context, table string) ([]*record.FileRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT file_path, file_name, file_hash, file_size,
	       CAST(last_modified AS INTEGER), scan_time, config_name, content
	FROM documents
	WHERE tbl = ?
	ORDER BY file_path ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// SyncState is the slice of a stored record the sync engine diffs
// against a fresh scan.
type SyncState struct {
	// FileHash is the stored content hash.
	FileHash string
	// NeedsRepair is set when the stored row shows schema drift: a
	// string-typed last_modified from an older layout, or missing
	// required metadata. Drifted rows are rewritten even when the
	// hash is unchanged.
	NeedsRepair bool
}

// ListSyncStates returns the diffable state of every record in the
// named table, keyed by file_path. The drift check runs in SQL so the
// engine never materializes full documents for a diff pass.
func (s *Store) ListSyncStates(ctx context.Context, table string) (map[string]SyncState, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT file_path, file_hash,
	       (typeof(last_modified) != 'integer'
	        OR file_name = '' OR config_name = '' OR scan_time = 0)
	FROM documents
	WHERE tbl = ?
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]SyncState)
	for rows.Next() {
		var path, hash string
		var repair bool
		if err := rows.Scan(&path, &hash, &repair); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states[path] = SyncState{FileHash: hash, NeedsRepair: repair}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}
	return states, nil
}

// UpsertDocument stores a free-form document under key in the named
// table. This is the raw, config-independent path; the row carries no
// file metadata.
func (s *Store) UpsertDocument(ctx context.Context, table, key string, doc map[string]any) error {
	contentJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	query := `
	INSERT INTO documents (tbl, file_path, content)
	VALUES (?, ?, ?)
	ON CONFLICT(tbl, file_path) DO UPDATE SET
		content = excluded.content
	`
	if _, err := s.conn.ExecContext(ctx, query, table, key, string(contentJSON)); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", key, err)
	}
	return nil
}

// ListDocuments returns the content documents of every row in the
// named table, ordered by key.
func (s *Store) ListDocuments(ctx context.Context, table string) ([]map[string]any, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT content FROM documents WHERE tbl = ? ORDER BY file_path ASC
	`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []map[string]any
	for rows.Next() {
		var contentJSON string
		if err := rows.Scan(&contentJSON); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc := map[string]any{}
		if err := json.Unmarshal([]byte(contentJSON), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

// CountRecords returns the number of documents in the named table.
func (s *Store) CountRecords(ctx context.Context, table string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE tbl = ?`, table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Tables returns the distinct table names present in the store.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT DISTINCT tbl FROM documents ORDER BY tbl ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.FileRecord, error) {
	var rec record.FileRecord
	var contentJSON string

	err := row.Scan(
		&rec.FilePath,
		&rec.FileName,
		&rec.FileHash,
		&rec.FileSize,
		&rec.LastModified,
		&rec.ScanTime,
		&rec.ConfigName,
		&contentJSON,
	)
	if err != nil {
		return nil, err
	}

	rec.Content = map[string]any{}
	if contentJSON != "" && contentJSON != "null" {
		if err := json.Unmarshal([]byte(contentJSON), &rec.Content); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content: %w", err)
		}
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*record.FileRecord, error) {
	var records []*record.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
