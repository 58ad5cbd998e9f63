package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablechat/tablechat/internal/observability"
	"github.com/tablechat/tablechat/internal/store"
)

// OpenStoreFunc creates a fresh data store for a new session.
type OpenStoreFunc func() (store.Store, error)

type Manager struct {
	openStore OpenStoreFunc
	idleTTL   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(openStore OpenStoreFunc, idleTTL time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		openStore: openStore,
		idleTTL:   idleTTL,
		logger:    logger,
		now:       time.Now,
		sessions:  map[string]*Session{},
	}
}

func (m *Manager) Create() (*Session, error) {
	if m.openStore == nil {
		return nil, fmt.Errorf("store factory is required")
	}
	dataStore, err := m.openStore()
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	now := m.now()
	session := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		now:       func() time.Time { return m.now() },
		dataStore: dataStore,
		lastUsed:  now,
	}

	m.mu.Lock()
	m.sessions[session.id] = session
	count := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(count)
	return session, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	return session, ok
}

func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := session.Close(); err != nil && m.logger != nil {
		m.logger.Warn("failed to close session store", slog.String("session_id", id), slog.Any("error", err))
	}
	observability.SetActiveSessions(count)
	return true
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// SweepIdle closes sessions idle longer than the TTL and reports how many
// were dropped. A TTL of zero disables sweeping.
func (m *Manager) SweepIdle() int {
	if m.idleTTL <= 0 {
		return 0
	}
	now := m.now()

	m.mu.Lock()
	expired := make([]*Session, 0)
	for id, session := range m.sessions {
		if session.idleSince(now) > m.idleTTL {
			expired = append(expired, session)
			delete(m.sessions, id)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, session := range expired {
		if err := session.Close(); err != nil && m.logger != nil {
			m.logger.Warn("failed to close idle session", slog.String("session_id", session.id), slog.Any("error", err))
		}
	}
	if len(expired) > 0 {
		observability.SetActiveSessions(count)
		if m.logger != nil {
			m.logger.Info("swept idle sessions", slog.Int("count", len(expired)))
		}
	}
	return len(expired)
}

// Run sweeps idle sessions on the given interval until the context ends,
// then closes every remaining session.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.SweepIdle()
		}
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for id, session := range m.sessions {
		remaining = append(remaining, session)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, session := range remaining {
		_ = session.Close()
	}
	observability.SetActiveSessions(0)
}
