// Package storage defines the unified Store interface that abstracts all persistence operations.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"
	"time"

	"github.com/jkaninda/soga/internal/chat"
	"github.com/jkaninda/soga/internal/task"
)

// Store is the unified persistence interface for Soga.
// It provides access to the domain-specific sub-stores through accessor
// methods. Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	// Sub-store accessors. The returned stores share the same
	// underlying connection.
	Conversations() chat.ConversationStore
	Messages() chat.MessageStore
	Tasks() task.Store

	// PurgeIdleConversations deletes conversations (and their messages)
	// whose UpdatedAt is before cutoff. Used by the retention sweeper.
	PurgeIdleConversations(ctx context.Context, cutoff time.Time) (int64, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
