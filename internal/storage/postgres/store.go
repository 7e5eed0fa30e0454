package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/storage"
	"github.com/jkaninda/soga/internal/task"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu            sync.Mutex
	conversations chat.ConversationStore
	messages      chat.MessageStore
	tasks         task.Store
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via autoMigrate.
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying DB for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}

// --- Sub-store accessors ---

func (s *Store) Conversations() chat.ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = NewConversationRepository(s.pgDB.GormDB())
	}
	return s.conversations
}

func (s *Store) Messages() chat.MessageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = NewMessageRepository(s.pgDB.GormDB())
	}
	return s.messages
}

func (s *Store) Tasks() task.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = NewTaskRepository(s.pgDB.GormDB())
	}
	return s.tasks
}

func (s *Store) PurgeIdleConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	return NewConversationRepository(s.pgDB.GormDB()).PurgeIdleBefore(ctx, cutoff)
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
