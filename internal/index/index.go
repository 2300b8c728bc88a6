// Package index keeps a SQLite catalogue of files with FTS5 over names and
// paths, fuzzy re-ranking, and optional embedding-backed hybrid search.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-enry/go-enry/v2"
	_ "modernc.org/sqlite"

	"github.com/littlehelper/littlehelper/internal/embed"
)

// Limits for query bounds
const (
	MaxLimit     = 1000
	DefaultLimit = 100
	// BatchSize is the number of files upserted per transaction during a scan.
	BatchSize = 512
	// DefaultAlpha weights fuzzy against semantic similarity in hybrid search.
	DefaultAlpha = 0.5
)

type File struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Ext        string    `json:"ext,omitempty"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	DriveID    string    `json:"drive_id"`
	Language   string    `json:"language,omitempty"`
	IndexedAt  time.Time `json:"indexed_at"`
}

type Result struct {
	File
	Score         float64 `json:"score"`
	FuzzyScore    float64 `json:"fuzzy_score"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// Index owns the database. Writers take mu exclusively; readers share it.
type Index struct {
	db *sql.DB
	mu sync.RWMutex

	embedMu  sync.RWMutex
	embedder embed.Embedder
	alpha    float64
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ix := &Index{db: db, alpha: DefaultAlpha}
	if err := ix.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return ix, nil
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		ext TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		modified_at INTEGER NOT NULL,
		drive_id TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT '',
		indexed_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_files_drive ON files(drive_id);
	CREATE INDEX IF NOT EXISTS idx_files_ext ON files(ext);
	CREATE INDEX IF NOT EXISTS idx_files_modified ON files(modified_at);

	CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(name, path, content=files, content_rowid=id);

	CREATE TABLE IF NOT EXISTS file_embeddings (
		file_id INTEGER PRIMARY KEY,
		model TEXT NOT NULL,
		dims INTEGER NOT NULL,
		vector BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TRIGGER IF NOT EXISTS files_ai AFTER INSERT ON files BEGIN
		INSERT INTO files_fts(rowid, name, path) VALUES (new.id, new.name, new.path);
	END;

	CREATE TRIGGER IF NOT EXISTS files_ad AFTER DELETE ON files BEGIN
		INSERT INTO files_fts(files_fts, rowid, name, path) VALUES('delete', old.id, old.name, old.path);
		DELETE FROM file_embeddings WHERE file_id = old.id;
	END;

	CREATE TRIGGER IF NOT EXISTS files_au AFTER UPDATE ON files BEGIN
		INSERT INTO files_fts(files_fts, rowid, name, path) VALUES('delete', old.id, old.name, old.path);
		INSERT INTO files_fts(rowid, name, path) VALUES (new.id, new.name, new.path);
	END;

	CREATE TRIGGER IF NOT EXISTS files_embedding_stale AFTER UPDATE ON files
	WHEN old.size != new.size OR old.modified_at != new.modified_at OR old.name != new.name BEGIN
		DELETE FROM file_embeddings WHERE file_id = old.id;
	END;
	`

	_, err := ix.db.Exec(schema)
	return err
}

func (ix *Index) Close() error {
	return ix.db.Close()
}

// SetEmbedder enables hybrid search. nil disables it.
func (ix *Index) SetEmbedder(e embed.Embedder) {
	ix.embedMu.Lock()
	defer ix.embedMu.Unlock()
	ix.embedder = e
}

// SetAlpha sets the fuzzy weight for hybrid search, clamped to [0, 1].
func (ix *Index) SetAlpha(a float64) {
	if a < 0 {
		a = 0
	}
	if a > 1 {
		a = 1
	}
	ix.embedMu.Lock()
	defer ix.embedMu.Unlock()
	ix.alpha = a
}

func (ix *Index) embedderAndAlpha() (embed.Embedder, float64) {
	ix.embedMu.RLock()
	defer ix.embedMu.RUnlock()
	return ix.embedder, ix.alpha
}

// newFile builds a record from a path and its stat info.
func newFile(path string, info os.FileInfo, driveID string, now time.Time) File {
	name := info.Name()
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	lang, _ := enry.GetLanguageByExtension(name)
	return File{
		Path:       path,
		Name:       name,
		Ext:        ext,
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC().Truncate(time.Second),
		DriveID:    driveID,
		Language:   lang,
		IndexedAt:  now.UTC().Truncate(time.Second),
	}
}

const upsertSQL = `
	INSERT INTO files (path, name, ext, size, modified_at, drive_id, language, indexed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		name = excluded.name,
		ext = excluded.ext,
		size = excluded.size,
		modified_at = excluded.modified_at,
		drive_id = excluded.drive_id,
		language = excluded.language,
		indexed_at = excluded.indexed_at`

// upsertBatch writes files in one transaction. The caller holds mu.
func (ix *Index) upsertBatch(files []File) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(upsertSQL)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range files {
		if _, err := stmt.Exec(f.Path, f.Name, f.Ext, f.Size, f.ModifiedAt.Unix(), f.DriveID, f.Language, f.IndexedAt.Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

// Upsert adds or refreshes a single file record.
func (ix *Index) Upsert(path, driveID string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.upsertBatch([]File{newFile(abs, info, driveID, time.Now())})
}

const fileColumns = `f.id, f.path, f.name, f.ext, f.size, f.modified_at, f.drive_id, f.language, f.indexed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (File, error) {
	var f File
	var modified, indexed int64
	if err := row.Scan(&f.ID, &f.Path, &f.Name, &f.Ext, &f.Size, &modified, &f.DriveID, &f.Language, &indexed); err != nil {
		return File{}, err
	}
	f.ModifiedAt = time.Unix(modified, 0).UTC()
	f.IndexedAt = time.Unix(indexed, 0).UTC()
	return f, nil
}

// Get returns the record for path, or nil when it is not indexed.
func (ix *Index) Get(path string) (*File, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	row := ix.db.QueryRow("SELECT "+fileColumns+" FROM files f WHERE f.path = ?", path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (ix *Index) FileCount() (int64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var n int64
	err := ix.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&n)
	return n, err
}

// ClearDrive removes every record of driveID, returning how many went.
func (ix *Index) ClearDrive(driveID string) (int64, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	res, err := ix.db.Exec("DELETE FROM files WHERE drive_id = ?", driveID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (ix *Index) ClearAll() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.Exec("DELETE FROM files")
	return err
}

type DriveSummary struct {
	DriveID     string    `json:"drive_id"`
	Files       int64     `json:"files"`
	LastIndexed time.Time `json:"last_indexed"`
}

func (ix *Index) Drives() ([]DriveSummary, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.Query("SELECT drive_id, COUNT(*), MAX(indexed_at) FROM files GROUP BY drive_id ORDER BY drive_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DriveSummary
	for rows.Next() {
		var d DriveSummary
		var last int64
		if err := rows.Scan(&d.DriveID, &d.Files, &last); err != nil {
			return nil, err
		}
		d.LastIndexed = time.Unix(last, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}
