// Package sqlite implements the unified Store interface using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - No connection pooling (single file, WAL handles concurrency)
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/storage"
	pgstore "github.com/jkaninda/soga/internal/storage/postgres"
	"github.com/jkaninda/soga/internal/task"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	// Sub-store instances (created lazily on first access).
	mu            sync.Mutex
	conversations chat.ConversationStore
	messages      chat.MessageStore
	tasks         task.Store
}

// Open creates a new SQLite-backed Store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// Single connection: concurrent transactions on separate connections
	// would hit SQLITE_BUSY on write upgrades even in WAL mode.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	s := &Store{
		db:     db,
		logger: slogger,
		path:   cfg.Path,
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// Migrate runs GORM AutoMigrate to create/update tables.
// Uses the same models as the PostgreSQL backend.
func (s *Store) Migrate(_ context.Context) error {
	return s.db.AutoMigrate(
		&pgstore.ConversationModel{},
		&pgstore.MessageModel{},
		&pgstore.TaskModel{},
	)
}

// Ping checks the database connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// GormDB returns the underlying GORM DB for sub-store construction.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// --- Sub-store accessors ---
// All sub-stores reuse the PostgreSQL repository implementations since
// they operate on the same GORM models. GORM's SQLite dialect handles
// the SQL differences transparently.

func (s *Store) Conversations() chat.ConversationStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversations == nil {
		s.conversations = pgstore.NewConversationRepository(s.db)
	}
	return s.conversations
}

func (s *Store) Messages() chat.MessageStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = pgstore.NewMessageRepository(s.db)
	}
	return s.messages
}

func (s *Store) Tasks() task.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = pgstore.NewTaskRepository(s.db)
	}
	return s.tasks
}

func (s *Store) PurgeIdleConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	return pgstore.NewConversationRepository(s.db).PurgeIdleBefore(ctx, cutoff)
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
