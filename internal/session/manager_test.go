package session

import (
	"context"
	"testing"
	"time"

	"github.com/tablechat/tablechat/internal/store"
)

type stubStore struct {
	columns []string
	closed  bool
}

func (s *stubStore) Load(_ context.Context, src store.Source) (store.Schema, error) {
	return store.Schema{Columns: s.columns, RowCount: 3}, nil
}

func (s *stubStore) Columns() []string { return s.columns }

func (s *stubStore) Execute(context.Context, string, int) (store.Result, error) {
	return store.Result{Columns: s.columns}, nil
}

func (s *stubStore) Close() error {
	s.closed = true
	return nil
}

func newTestManager(ttl time.Duration) (*Manager, *[]*stubStore) {
	opened := &[]*stubStore{}
	manager := NewManager(func() (store.Store, error) {
		s := &stubStore{columns: []string{"region", "sales"}}
		*opened = append(*opened, s)
		return s, nil
	}, ttl, nil)
	return manager, opened
}

func TestCreateAssignsDistinctIDs(t *testing.T) {
	manager, _ := newTestManager(time.Hour)

	first, err := manager.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := manager.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID() == second.ID() {
		t.Fatalf("session IDs collide: %q", first.ID())
	}
	if manager.Count() != 2 {
		t.Fatalf("Count() = %d", manager.Count())
	}
}

func TestGetReturnsLiveSession(t *testing.T) {
	manager, _ := newTestManager(time.Hour)
	created, err := manager.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, ok := manager.Get(created.ID())
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.ID() != created.ID() {
		t.Fatalf("ID = %q", got.ID())
	}
	if _, ok := manager.Get("missing"); ok {
		t.Fatal("did not expect missing session")
	}
}

func TestDeleteClosesStore(t *testing.T) {
	manager, opened := newTestManager(time.Hour)
	created, err := manager.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !manager.Delete(created.ID()) {
		t.Fatal("Delete() = false")
	}
	if !(*opened)[0].closed {
		t.Fatal("store should be closed on delete")
	}
	if manager.Delete(created.ID()) {
		t.Fatal("second delete should report false")
	}
}

func TestSweepIdleDropsExpiredSessions(t *testing.T) {
	manager, opened := newTestManager(time.Minute)
	if _, err := manager.Create(); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fresh, err := manager.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Move the clock: the first session becomes idle, the second is touched.
	base := time.Now()
	manager.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := fresh.Execute(context.Background(), "SELECT 1", 0); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	swept := manager.SweepIdle()
	if swept != 1 {
		t.Fatalf("SweepIdle() = %d", swept)
	}
	if manager.Count() != 1 {
		t.Fatalf("Count() = %d", manager.Count())
	}
	if !(*opened)[0].closed {
		t.Fatal("idle store should be closed")
	}
	if (*opened)[1].closed {
		t.Fatal("fresh store should stay open")
	}
}

func TestSessionLoadUpdatesMetadata(t *testing.T) {
	manager, _ := newTestManager(time.Hour)
	session, err := manager.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	schema, err := session.Load(context.Background(), store.Source{Name: "sales.csv", Format: store.FormatCSV})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if schema.RowCount != 3 {
		t.Fatalf("RowCount = %d", schema.RowCount)
	}
	if session.DatasetName() != "sales.csv" {
		t.Fatalf("DatasetName = %q", session.DatasetName())
	}
	if session.RowCount() != 3 {
		t.Fatalf("RowCount() = %d", session.RowCount())
	}
}

func TestCloseAllClosesEverything(t *testing.T) {
	manager, opened := newTestManager(time.Hour)
	for i := 0; i < 3; i++ {
		if _, err := manager.Create(); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	manager.CloseAll()
	if manager.Count() != 0 {
		t.Fatalf("Count() = %d", manager.Count())
	}
	for i, s := range *opened {
		if !s.closed {
			t.Fatalf("store %d not closed", i)
		}
	}
}
