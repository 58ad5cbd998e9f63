package nl2sql

import (
	"context"
	"fmt"
)

// Request asks for a first SQL candidate for a question against the
// current dataset schema.
type Request struct {
	Question string
	Columns  []string
}

// FixRequest asks for a corrected candidate. SQL and ErrorMessage must be
// the exact failing statement and the exact engine error; the model's
// correction quality depends on seeing precisely what went wrong.
type FixRequest struct {
	SQL          string
	ErrorMessage string
	Columns      []string
}

type Result struct {
	SQL      string
	Provider string
	Model    string
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
	Fix(ctx context.Context, req FixRequest) (Result, error)
}

// GenerationError reports a failed model call (transport, auth, quota,
// unusable response). It is never retried by the answer loop.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("sql generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
