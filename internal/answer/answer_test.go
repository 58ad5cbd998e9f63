package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/tablechat/tablechat/internal/nl2sql"
	"github.com/tablechat/tablechat/internal/store"
)

type fakeTranslator struct {
	translateSQL string
	translateErr error
	fixSQL       []string
	fixErr       error

	translateReqs []nl2sql.Request
	fixReqs       []nl2sql.FixRequest
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.translateReqs = append(f.translateReqs, req)
	if f.translateErr != nil {
		return nl2sql.Result{}, f.translateErr
	}
	return nl2sql.Result{SQL: f.translateSQL, Provider: "fake", Model: "fake-model"}, nil
}

func (f *fakeTranslator) Fix(_ context.Context, req nl2sql.FixRequest) (nl2sql.Result, error) {
	f.fixReqs = append(f.fixReqs, req)
	if f.fixErr != nil {
		return nl2sql.Result{}, f.fixErr
	}
	index := len(f.fixReqs) - 1
	if index >= len(f.fixSQL) {
		index = len(f.fixSQL) - 1
	}
	return nl2sql.Result{SQL: f.fixSQL[index], Provider: "fake", Model: "fake-model"}, nil
}

type execOutcome struct {
	result store.Result
	err    error
}

type fakeStore struct {
	columns  []string
	outcomes map[string]execOutcome
	executed []string
}

func (f *fakeStore) Load(context.Context, store.Source) (store.Schema, error) {
	return store.Schema{Columns: f.columns}, nil
}

func (f *fakeStore) Columns() []string { return f.columns }

func (f *fakeStore) Execute(_ context.Context, sqlText string, _ int) (store.Result, error) {
	f.executed = append(f.executed, sqlText)
	outcome, ok := f.outcomes[sqlText]
	if !ok {
		return store.Result{}, &store.ExecutionError{SQL: sqlText, Message: "unexpected sql"}
	}
	return outcome.result, outcome.err
}

func (f *fakeStore) Close() error { return nil }

func TestFirstCandidateSuccessSkipsFixing(t *testing.T) {
	translator := &fakeTranslator{translateSQL: "SELECT COUNT(*) FROM data"}
	dataStore := &fakeStore{
		columns: []string{"region", "sales"},
		outcomes: map[string]execOutcome{
			"SELECT COUNT(*) FROM data": {result: store.Result{Columns: []string{"count"}, Rows: [][]any{{int64(5)}}}},
		},
	}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 2}

	got, err := a.Answer(context.Background(), "how many rows?")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got.SQL != "SELECT COUNT(*) FROM data" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if got.Attempts != 1 {
		t.Fatalf("Attempts = %d", got.Attempts)
	}
	if got.Rows[0][0] != int64(5) {
		t.Fatalf("rows = %#v", got.Rows)
	}
	if len(translator.fixReqs) != 0 {
		t.Fatalf("fix calls = %d, want none on first success", len(translator.fixReqs))
	}
	if len(dataStore.executed) != 1 {
		t.Fatalf("executions = %d", len(dataStore.executed))
	}
}

func TestFixReceivesExactSQLAndErrorThenSucceeds(t *testing.T) {
	badSQL := "SELECT regoin, SUM(sales) FROM data GROUP BY regoin"
	goodSQL := "SELECT region, SUM(sales) AS sales FROM data GROUP BY region"
	engineError := `Binder Error: Referenced column "regoin" not found in FROM clause!`

	translator := &fakeTranslator{translateSQL: badSQL, fixSQL: []string{goodSQL}}
	dataStore := &fakeStore{
		columns: []string{"region", "sales"},
		outcomes: map[string]execOutcome{
			badSQL:  {err: &store.ExecutionError{SQL: badSQL, Message: engineError}},
			goodSQL: {result: store.Result{Columns: []string{"region", "sales"}, Rows: [][]any{{"A", int64(15)}, {"B", int64(20)}}}},
		},
	}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 2}

	got, err := a.Answer(context.Background(), "total sales by region")
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got.SQL != goodSQL {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if got.Attempts != 2 {
		t.Fatalf("Attempts = %d", got.Attempts)
	}
	if len(translator.fixReqs) != 1 {
		t.Fatalf("fix calls = %d, want exactly one between attempts", len(translator.fixReqs))
	}
	fixReq := translator.fixReqs[0]
	if fixReq.SQL != badSQL {
		t.Fatalf("fix SQL = %q, want exact failing SQL", fixReq.SQL)
	}
	if fixReq.ErrorMessage != engineError {
		t.Fatalf("fix error = %q, want exact engine error", fixReq.ErrorMessage)
	}
}

func TestRetriesExhaustedAfterBound(t *testing.T) {
	badSQL := "SELECT nope FROM data"
	stillBad := "SELECT still_nope FROM data"
	engineError := `Binder Error: Referenced column "nope" not found`

	translator := &fakeTranslator{translateSQL: badSQL, fixSQL: []string{stillBad, stillBad}}
	dataStore := &fakeStore{
		columns: []string{"region", "sales"},
		outcomes: map[string]execOutcome{
			badSQL:   {err: &store.ExecutionError{SQL: badSQL, Message: engineError}},
			stillBad: {err: &store.ExecutionError{SQL: stillBad, Message: engineError}},
		},
	}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 2}

	_, err := a.Answer(context.Background(), "impossible question")
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	var exhausted *RetriesExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("error type = %T", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("Attempts = %d, want 3 total executions", exhausted.Attempts)
	}
	if exhausted.SQL != stillBad {
		t.Fatalf("SQL = %q, want last attempted candidate", exhausted.SQL)
	}
	if exhausted.LastErr.Message != engineError {
		t.Fatalf("LastErr.Message = %q", exhausted.LastErr.Message)
	}
	if len(dataStore.executed) != 3 {
		t.Fatalf("executions = %d, want exactly 3", len(dataStore.executed))
	}
	if len(translator.fixReqs) != 2 {
		t.Fatalf("fix calls = %d, want exactly MaxFixRetries", len(translator.fixReqs))
	}
	var execErr *store.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatal("RetriesExhausted should unwrap to the last ExecutionError")
	}
}

func TestGenerationErrorPropagatesWithoutExecution(t *testing.T) {
	genErr := &nl2sql.GenerationError{Err: errors.New("connection refused")}
	translator := &fakeTranslator{translateErr: genErr}
	dataStore := &fakeStore{columns: []string{"region"}}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 2}

	_, err := a.Answer(context.Background(), "anything")
	var typed *nl2sql.GenerationError
	if !errors.As(err, &typed) {
		t.Fatalf("error = %v, want GenerationError", err)
	}
	if len(dataStore.executed) != 0 {
		t.Fatalf("executions = %d, want none", len(dataStore.executed))
	}
	if len(translator.fixReqs) != 0 {
		t.Fatalf("fix calls = %d, want none", len(translator.fixReqs))
	}
}

func TestGenerationErrorDuringFixPropagates(t *testing.T) {
	badSQL := "SELECT nope FROM data"
	translator := &fakeTranslator{
		translateSQL: badSQL,
		fixErr:       &nl2sql.GenerationError{Err: errors.New("quota exceeded")},
	}
	dataStore := &fakeStore{
		columns: []string{"region"},
		outcomes: map[string]execOutcome{
			badSQL: {err: &store.ExecutionError{SQL: badSQL, Message: "boom"}},
		},
	}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 2}

	_, err := a.Answer(context.Background(), "anything")
	var typed *nl2sql.GenerationError
	if !errors.As(err, &typed) {
		t.Fatalf("error = %v, want GenerationError", err)
	}
	if len(dataStore.executed) != 1 {
		t.Fatalf("executions = %d, want one before the failed fix", len(dataStore.executed))
	}
}

func TestEveryPromptSeesCurrentColumns(t *testing.T) {
	badSQL := "SELECT x FROM data"
	goodSQL := "SELECT region FROM data"
	translator := &fakeTranslator{translateSQL: badSQL, fixSQL: []string{goodSQL}}
	dataStore := &fakeStore{
		columns: []string{"region", "sales"},
		outcomes: map[string]execOutcome{
			badSQL:  {err: &store.ExecutionError{SQL: badSQL, Message: "bad"}},
			goodSQL: {result: store.Result{Columns: []string{"region"}}},
		},
	}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 2}

	if _, err := a.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	for _, req := range translator.translateReqs {
		if len(req.Columns) != 2 || req.Columns[0] != "region" || req.Columns[1] != "sales" {
			t.Fatalf("translate columns = %#v", req.Columns)
		}
	}
	for _, req := range translator.fixReqs {
		if len(req.Columns) != 2 || req.Columns[0] != "region" || req.Columns[1] != "sales" {
			t.Fatalf("fix columns = %#v", req.Columns)
		}
	}
}

func TestZeroRetriesFailsOnFirstRejection(t *testing.T) {
	badSQL := "SELECT nope FROM data"
	translator := &fakeTranslator{translateSQL: badSQL, fixSQL: []string{badSQL}}
	dataStore := &fakeStore{
		columns: []string{"region"},
		outcomes: map[string]execOutcome{
			badSQL: {err: &store.ExecutionError{SQL: badSQL, Message: "boom"}},
		},
	}
	a := &Answerer{Translator: translator, Store: dataStore, MaxFixRetries: 0}

	_, err := a.Answer(context.Background(), "q")
	var exhausted *RetriesExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("error type = %T", err)
	}
	if exhausted.Attempts != 1 {
		t.Fatalf("Attempts = %d", exhausted.Attempts)
	}
	if len(translator.fixReqs) != 0 {
		t.Fatalf("fix calls = %d, want none with zero retries", len(translator.fixReqs))
	}
}
