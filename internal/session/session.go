package session

import (
	"context"
	"sync"
	"time"

	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/store"
)

// Session owns one dataset and one query-engine handle. All access to the
// underlying store is serialized here, so a re-upload can never race an
// in-flight question within the same session.
type Session struct {
	id        string
	createdAt time.Time
	now       func() time.Time

	mu          sync.Mutex
	dataStore   store.Store
	datasetName string
	rowCount    int64
	lastUsed    time.Time
	closed      bool
}

func (s *Session) ID() string { return s.id }

func (s *Session) DatasetName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.datasetName
}

func (s *Session) RowCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowCount
}

func (s *Session) Load(ctx context.Context, src store.Source) (store.Schema, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	schema, err := s.dataStore.Load(ctx, src)
	if err != nil {
		return store.Schema{}, err
	}
	s.datasetName = src.Name
	s.rowCount = schema.RowCount
	s.lastUsed = s.now()
	observability.ObserveDatasetLoad()
	return schema, nil
}

func (s *Session) Columns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataStore.Columns()
}

func (s *Session) Execute(ctx context.Context, sqlText string, rowLimit int) (store.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = s.now()
	return s.dataStore.Execute(ctx, sqlText, rowLimit)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.dataStore.Close()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

var _ store.Store = (*Session)(nil)
