package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/store"
)

// DefaultMaxFixRetries bounds corrective model calls per question, so a
// model stuck hallucinating the same bad column cannot loop forever.
const DefaultMaxFixRetries = 2

type state int

const (
	stateGenerating state = iota
	stateExecuting
	stateFixing
	stateSucceeded
	stateFailed
)

// Answerer turns a natural-language question into executed rows. One call
// to Answer is one cycle: generate, execute, and on engine rejection fix
// and re-execute until success or the retry bound.
type Answerer struct {
	Translator    nl2sql.Translator
	Store         store.Store
	MaxFixRetries int
	RowLimit      int
	Logger        *slog.Logger
}

type Answer struct {
	SQL      string
	Columns  []string
	Rows     [][]any
	Attempts int
	Duration time.Duration
}

// RetriesExhausted is the terminal failure after the fix bound is reached.
// It carries the last SQL attempted and the last engine error.
type RetriesExhausted struct {
	SQL      string
	Attempts int
	LastErr  *store.ExecutionError
}

func (e *RetriesExhausted) Error() string {
	return fmt.Sprintf("no executable SQL after %d attempts: %s", e.Attempts, e.LastErr.Message)
}

func (e *RetriesExhausted) Unwrap() error {
	return e.LastErr
}

func (a *Answerer) Answer(ctx context.Context, question string) (Answer, error) {
	maxFixRetries := a.MaxFixRetries
	if maxFixRetries < 0 {
		maxFixRetries = 0
	}

	start := time.Now()
	current := stateGenerating
	attempts := 0
	var candidate string
	var result store.Result
	var lastExecErr *store.ExecutionError

	for {
		switch current {
		case stateGenerating:
			// Columns are read fresh from the store for every prompt, so a
			// re-uploaded dataset can never leak a stale schema.
			translated, err := a.Translator.Translate(ctx, nl2sql.Request{
				Question: question,
				Columns:  a.Store.Columns(),
			})
			if err != nil {
				observability.ObserveQuestion("generation_failed", time.Since(start))
				return Answer{}, err
			}
			candidate = translated.SQL
			current = stateExecuting

		case stateExecuting:
			attempts++
			executed, err := a.Store.Execute(ctx, candidate, a.RowLimit)
			if err == nil {
				observability.ObserveSQLCandidate("ok")
				result = executed
				current = stateSucceeded
				continue
			}
			var execErr *store.ExecutionError
			if !errors.As(err, &execErr) {
				observability.ObserveQuestion("store_failed", time.Since(start))
				return Answer{}, err
			}
			observability.ObserveSQLCandidate("error")
			if a.Logger != nil {
				a.Logger.WarnContext(ctx, "sql candidate rejected",
					slog.Int("attempt", attempts),
					slog.String("sql", execErr.SQL),
					slog.String("engine_error", execErr.Message),
				)
			}
			lastExecErr = execErr
			current = stateFixing

		case stateFixing:
			if attempts > maxFixRetries {
				current = stateFailed
				continue
			}
			observability.IncrementFixAttempts()
			fixed, err := a.Translator.Fix(ctx, nl2sql.FixRequest{
				SQL:          lastExecErr.SQL,
				ErrorMessage: lastExecErr.Message,
				Columns:      a.Store.Columns(),
			})
			if err != nil {
				observability.ObserveQuestion("generation_failed", time.Since(start))
				return Answer{}, err
			}
			candidate = fixed.SQL
			current = stateExecuting

		case stateSucceeded:
			elapsed := time.Since(start)
			observability.ObserveQuestion("succeeded", elapsed)
			if a.Logger != nil {
				a.Logger.InfoContext(ctx, "question answered",
					slog.Int("attempts", attempts),
					slog.String("sql", candidate),
					slog.String("duration", elapsed.String()),
				)
			}
			return Answer{
				SQL:      candidate,
				Columns:  result.Columns,
				Rows:     result.Rows,
				Attempts: attempts,
				Duration: elapsed,
			}, nil

		case stateFailed:
			observability.IncrementRetriesExhausted()
			observability.ObserveQuestion("retries_exhausted", time.Since(start))
			return Answer{}, &RetriesExhausted{
				SQL:      lastExecErr.SQL,
				Attempts: attempts,
				LastErr:  lastExecErr,
			}
		}
	}
}
