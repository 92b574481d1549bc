package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Lllllllleong/ocrdocumentflow/internal/models"
	"github.com/Lllllllleong/ocrdocumentflow/internal/records/migrations"
)

// Fixed width keeps lexical order equal to chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is a record store in a local SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("starting migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}
	return nil
}

// Save inserts or replaces the record.
func (s *SQLite) Save(ctx context.Context, doc *models.DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, filename, filesize, filetype, object_key, upload_date, ocr_job_done, ocr_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			filename = excluded.filename,
			filesize = excluded.filesize,
			filetype = excluded.filetype,
			object_key = excluded.object_key,
			upload_date = excluded.upload_date,
			ocr_job_done = excluded.ocr_job_done,
			ocr_text = excluded.ocr_text
	`, doc.ID, doc.Filename, doc.Filesize, doc.MimeType, doc.ObjectKey,
		doc.UploadDate.UTC().Format(timeLayout), doc.OCRDone, doc.OCRText)
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

const selectColumns = `SELECT doc_id, filename, filesize, filetype, object_key, upload_date, ocr_job_done, ocr_text FROM documents`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.DocumentRecord, error) {
	var (
		doc        models.DocumentRecord
		uploadDate string
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.Filesize, &doc.MimeType, &doc.ObjectKey,
		&uploadDate, &doc.OCRDone, &doc.OCRText); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, uploadDate)
	if err != nil {
		return nil, fmt.Errorf("parsing upload date of %s: %w", doc.ID, err)
	}
	doc.UploadDate = t
	return &doc, nil
}

// FindByID returns models.ErrNotFound for an unknown id.
func (s *SQLite) FindByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	doc, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE doc_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return doc, nil
}

// FindAll returns every record, oldest upload first.
func (s *SQLite) FindAll(ctx context.Context) ([]models.DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY upload_date, doc_id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []models.DocumentRecord{}
	for rows.Next() {
		doc, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// Delete removes the record. An unknown id is not an error.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}
