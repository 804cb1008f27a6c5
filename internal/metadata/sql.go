package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/Caia-Tech/caia-harvest/pkg/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id                TEXT PRIMARY KEY,
	source_url        TEXT,
	crawl_id          TEXT,
	original_filename TEXT,
	file_size_bytes   BIGINT,
	status            TEXT NOT NULL DEFAULT 'pending',
	error_message     TEXT,
	is_valid_docx     BOOLEAN,
	discovered_at     TIMESTAMP,
	downloaded_at     TIMESTAMP,
	uploaded_at       TIMESTAMP,
	extracted_at      TIMESTAMP,
	word_count        BIGINT,
	char_count        BIGINT,
	table_count       BIGINT,
	image_count       BIGINT,
	extraction_error  TEXT
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);
CREATE INDEX IF NOT EXISTS idx_documents_source_url ON documents (source_url);
`

// SQLStore implements Store over database/sql. The same statements serve
// Postgres (pgx) and SQLite (modernc); queries are written with ?
// placeholders and rebound to $N for Postgres.
type SQLStore struct {
	db       *sql.DB
	postgres bool
}

// OpenSQL opens a metadata store from a DSN. postgres:// and
// postgresql:// URLs use pgx; anything else is treated as a SQLite path
// (sqlite:// prefixes are stripped). The schema is created if missing.
func OpenSQL(ctx context.Context, dsn string) (*SQLStore, error) {
	var (
		db  *sql.DB
		pg  bool
		err error
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err = sql.Open("pgx", dsn)
		pg = true
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		db, err = sql.Open("sqlite", path)
		// SQLite allows one writer; serialize access instead of failing
		// with SQLITE_BUSY under worker concurrency.
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping metadata store: %w", err)
	}

	store := &SQLStore{db: db, postgres: pg}
	if _, err := db.ExecContext(ctx, store.rebind(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	backend := "sqlite"
	if pg {
		backend = "postgres"
	}
	logger := logging.GetStorageLogger("open", backend)
	logger.Info().Msg("Metadata store ready")
	return store, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind converts ? placeholders to $1..$N for Postgres.
func (s *SQLStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

// Upsert inserts the row, or updates only the columns the caller supplied:
// non-nil pointers and non-empty strings.
func (s *SQLStore) Upsert(ctx context.Context, row *DocumentRow) error {
	if row.ID == "" {
		return errors.New("upsert: row id required")
	}

	cols := []string{"id"}
	args := []any{row.ID}
	add := func(col string, val any) {
		cols = append(cols, col)
		args = append(args, val)
	}

	if row.SourceURL != "" {
		add("source_url", row.SourceURL)
	}
	if row.CrawlID != "" {
		add("crawl_id", row.CrawlID)
	}
	if row.OriginalFilename != "" {
		add("original_filename", row.OriginalFilename)
	}
	if row.FileSizeBytes != nil {
		add("file_size_bytes", *row.FileSizeBytes)
	}
	if row.Status != "" {
		add("status", row.Status)
	}
	if row.ErrorMessage != nil {
		add("error_message", *row.ErrorMessage)
	}
	if row.IsValidDocx != nil {
		add("is_valid_docx", *row.IsValidDocx)
	}
	if row.DiscoveredAt != nil {
		add("discovered_at", *row.DiscoveredAt)
	}
	if row.DownloadedAt != nil {
		add("downloaded_at", *row.DownloadedAt)
	}
	if row.UploadedAt != nil {
		add("uploaded_at", *row.UploadedAt)
	}
	if row.ExtractedAt != nil {
		add("extracted_at", *row.ExtractedAt)
	}
	if row.WordCount != nil {
		add("word_count", *row.WordCount)
	}
	if row.CharCount != nil {
		add("char_count", *row.CharCount)
	}
	if row.TableCount != nil {
		add("table_count", *row.TableCount)
	}
	if row.ImageCount != nil {
		add("image_count", *row.ImageCount)
	}
	if row.ExtractionError != nil {
		add("extraction_error", *row.ExtractionError)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	var updates []string
	for _, col := range cols[1:] {
		updates = append(updates, col+" = excluded."+col)
	}
	query := "INSERT INTO documents (" + strings.Join(cols, ",") + ") VALUES (" + placeholders + ")"
	if len(updates) > 0 {
		query += " ON CONFLICT (id) DO UPDATE SET " + strings.Join(updates, ", ")
	} else {
		query += " ON CONFLICT (id) DO NOTHING"
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", row.ID, err)
	}
	return nil
}

const selectColumns = `id, source_url, crawl_id, original_filename, file_size_bytes,
	status, error_message, is_valid_docx, discovered_at, downloaded_at, uploaded_at,
	extracted_at, word_count, char_count, table_count, image_count, extraction_error`

func (s *SQLStore) scanRow(scanner interface{ Scan(...any) error }) (*DocumentRow, error) {
	var (
		row       DocumentRow
		sourceURL sql.NullString
		crawlID   sql.NullString
		filename  sql.NullString
	)
	err := scanner.Scan(
		&row.ID, &sourceURL, &crawlID, &filename, &row.FileSizeBytes,
		&row.Status, &row.ErrorMessage, &row.IsValidDocx,
		&row.DiscoveredAt, &row.DownloadedAt, &row.UploadedAt,
		&row.ExtractedAt, &row.WordCount, &row.CharCount,
		&row.TableCount, &row.ImageCount, &row.ExtractionError,
	)
	if err != nil {
		return nil, err
	}
	row.SourceURL = sourceURL.String
	row.CrawlID = crawlID.String
	row.OriginalFilename = filename.String
	return &row, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*DocumentRow, error) {
	query := s.rebind("SELECT " + selectColumns + " FROM documents WHERE id = ?")
	row, err := s.scanRow(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

func (s *SQLStore) GetByURL(ctx context.Context, url string) (*DocumentRow, error) {
	query := s.rebind("SELECT " + selectColumns + " FROM documents WHERE source_url = ? LIMIT 1")
	row, err := s.scanRow(s.db.QueryRowContext(ctx, query, url))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return row, err
}

func (s *SQLStore) UploadedURLSet(ctx context.Context) (map[string]struct{}, error) {
	query := s.rebind("SELECT source_url FROM documents WHERE status = ? AND source_url IS NOT NULL")
	rows, err := s.db.QueryContext(ctx, query, StatusUploaded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		set[url] = struct{}{}
	}
	return set, rows.Err()
}

func (s *SQLStore) UploadedIDs(ctx context.Context) ([]string, error) {
	query := s.rebind("SELECT id FROM documents WHERE status = ? ORDER BY id")
	rows, err := s.db.QueryContext(ctx, query, StatusUploaded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) StatsByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM documents GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (s *SQLStore) UpdateExtraction(ctx context.Context, id string, res ExtractionResult, at time.Time) error {
	query := s.rebind(`UPDATE documents SET
		extracted_at = ?, word_count = ?, char_count = ?, table_count = ?,
		image_count = ?, extraction_error = NULL
		WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, at, res.WordCount, res.CharCount, res.TableCount, res.ImageCount, id)
	return err
}

func (s *SQLStore) UpdateExtractionError(ctx context.Context, id string, message string) error {
	query := s.rebind(`UPDATE documents SET extraction_error = ?, extracted_at = NULL WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, message, id)
	return err
}

func (s *SQLStore) GetUnextracted(ctx context.Context, limit int) ([]*DocumentRow, error) {
	query := s.rebind("SELECT " + selectColumns + ` FROM documents
		WHERE status = ? AND extracted_at IS NULL AND extraction_error IS NULL
		ORDER BY uploaded_at ASC LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, StatusUploaded, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*DocumentRow
	for rows.Next() {
		row, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *SQLStore) ExtractionStats(ctx context.Context) (*ExtractionStats, error) {
	query := s.rebind(`SELECT
		COUNT(*),
		COUNT(extracted_at),
		COUNT(extraction_error)
		FROM documents WHERE status = ?`)
	var stats ExtractionStats
	err := s.db.QueryRowContext(ctx, query, StatusUploaded).
		Scan(&stats.Uploaded, &stats.Extracted, &stats.Errored)
	if err != nil {
		return nil, err
	}
	stats.Remaining = stats.Uploaded - stats.Extracted - stats.Errored
	return &stats, nil
}
