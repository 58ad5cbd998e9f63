package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/tablechat/tablechat/internal/store"
)

// TableName is the fixed name datasets are loaded under. Prompts and
// generated SQL always target this table.
const TableName = "data"

type Store struct {
	db      *sql.DB
	columns []string
}

// Open creates a store backed by a fresh in-memory DuckDB database.
// Each session gets its own handle; nothing is shared across sessions.
func Open() (*Store, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Load(ctx context.Context, src store.Source) (store.Schema, error) {
	if src.Reader == nil {
		return store.Schema{}, fmt.Errorf("dataset reader is required")
	}

	var readFunc string
	var suffix string
	switch src.Format {
	case store.FormatCSV:
		readFunc, suffix = "read_csv_auto", ".csv"
	case store.FormatParquet:
		readFunc, suffix = "read_parquet", ".parquet"
	default:
		return store.Schema{}, fmt.Errorf("unsupported dataset format %q", src.Format)
	}

	localPath, err := spoolToTempFile(src.Reader, suffix)
	if err != nil {
		return store.Schema{}, err
	}
	defer func() { _ = os.Remove(localPath) }()

	createSQL := fmt.Sprintf(
		`CREATE OR REPLACE TABLE %s AS SELECT * FROM %s(%s)`,
		quoteIdent(TableName), readFunc, quoteString(localPath),
	)
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return store.Schema{}, fmt.Errorf("load dataset %q: %w", src.Name, err)
	}

	columns, err := s.describeColumns(ctx)
	if err != nil {
		return store.Schema{}, err
	}

	var rowCount int64
	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(TableName))
	if err := s.db.QueryRowContext(ctx, countSQL).Scan(&rowCount); err != nil {
		return store.Schema{}, fmt.Errorf("count dataset rows: %w", err)
	}

	s.columns = columns
	return store.Schema{Columns: columns, RowCount: rowCount}, nil
}

func (s *Store) Columns() []string {
	return s.columns
}

func (s *Store) Execute(ctx context.Context, sqlText string, rowLimit int) (store.Result, error) {
	if len(s.columns) == 0 {
		return store.Result{}, fmt.Errorf("no dataset loaded")
	}
	trimmed := stripTrailingSemicolons(sqlText)
	if trimmed == "" {
		return store.Result{}, fmt.Errorf("sql is required")
	}
	if rowLimit > 0 {
		trimmed = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", trimmed, rowLimit)
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return store.Result{}, &store.ExecutionError{SQL: sqlText, Message: err.Error()}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return store.Result{}, &store.ExecutionError{SQL: sqlText, Message: err.Error()}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return store.Result{}, &store.ExecutionError{SQL: sqlText, Message: err.Error()}
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return store.Result{}, &store.ExecutionError{SQL: sqlText, Message: err.Error()}
	}

	return store.Result{
		Columns:  columns,
		Rows:     resultRows,
		Duration: time.Since(start),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) describeColumns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT * FROM %s WHERE 1=0`, quoteIdent(TableName)))
	if err != nil {
		return nil, fmt.Errorf("describe dataset: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("dataset columns: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe dataset: %w", err)
	}
	return columns, nil
}

func spoolToTempFile(reader io.Reader, suffix string) (string, error) {
	file, err := os.CreateTemp("", "tablechat-dataset-*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create dataset temp file: %w", err)
	}
	path := file.Name()
	if _, err := io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write dataset temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close dataset temp file: %w", err)
	}
	return filepath.Clean(path), nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
