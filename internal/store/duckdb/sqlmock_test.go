package duckdb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/tablechat/tablechat/internal/store"
)

// Driver-level failures must surface as ExecutionError with the driver
// message untouched, regardless of which engine sits underneath.
func TestExecuteWrapsDriverErrorVerbatim(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	s := NewWithDB(db)
	s.columns = []string{"region", "sales"}

	engineMessage := `Binder Error: Referenced column "regoin" not found in FROM clause!`
	mock.ExpectQuery(regexp.QuoteMeta("SELECT regoin FROM data")).
		WillReturnError(errors.New(engineMessage))

	failing := "SELECT regoin FROM data"
	_, execErr := s.Execute(context.Background(), failing, 0)
	if execErr == nil {
		t.Fatal("expected execution error")
	}
	var typed *store.ExecutionError
	if !errors.As(execErr, &typed) {
		t.Fatalf("error type = %T", execErr)
	}
	if typed.Message != engineMessage {
		t.Fatalf("Message = %q, want verbatim %q", typed.Message, engineMessage)
	}
	if typed.SQL != failing {
		t.Fatalf("SQL = %q", typed.SQL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecuteScansMockRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	s := NewWithDB(db)
	s.columns = []string{"region", "sales"}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT region, sales FROM data")).
		WillReturnRows(sqlmock.NewRows([]string{"region", "sales"}).
			AddRow([]byte("A"), int64(10)).
			AddRow([]byte("B"), int64(20)))

	result, err := s.Execute(context.Background(), "SELECT region, sales FROM data", 0)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("rows = %#v", result.Rows)
	}
	if result.Rows[0][0] != "A" {
		t.Fatalf("byte column should normalize to string, got %#v", result.Rows[0][0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
