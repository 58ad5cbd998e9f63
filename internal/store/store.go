package store

import (
	"context"
	"io"
	"time"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Source is one uploaded dataset. Name is informational (original filename);
// the loaded table is always named "data".
type Source struct {
	Name   string
	Format Format
	Reader io.Reader
}

type Schema struct {
	Columns  []string
	RowCount int64
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// ExecutionError reports a query the engine rejected. Message carries the
// engine's error text verbatim; it is fed back into the fix prompt, so it
// must not be paraphrased or truncated.
type ExecutionError struct {
	SQL     string
	Message string
}

func (e *ExecutionError) Error() string {
	return e.Message
}

// Store holds one loaded dataset and runs SQL against it. Load fully
// replaces any previously loaded table; Columns reflects the current
// dataset only.
type Store interface {
	Load(ctx context.Context, src Source) (Schema, error)
	Columns() []string
	Execute(ctx context.Context, sqlText string, rowLimit int) (Result, error)
	Close() error
}
