package dbmanager

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

type Db interface {
	// Conn returns a new connection to the database.
	Conn(ctx context.Context) (Conn, error)
	// Stats returns the number of connection requests and returns.
	Stats() (requests, returns uint64)
}

type Conn interface {
	// Conn returns the underlying *sql.Conn. Do not close this directly.
	// Use Conn.Close(ctx) to return the connection to the pool safely.
	Conn() *sql.Conn
	// Close returns the connection back to the pool.
	Close(ctx context.Context)
}

// NewDb returns a pooled database handle. Each request checks out a single
// connection and does not spawn further goroutines on it, so the connection
// is never shared across goroutines.
func NewDb(ctx context.Context, dbtype string) Db {
	switch dbtype {
	case "postgresql":
		db, err := NewPostgresqlDb()
		if err != nil || db == nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to create PostgreSQL DB")
			return nil
		}
		return db
	}
	return nil
}
