// Package repomanager hands out repositories bound to a particular database
// handle, so services can run the same repository against *sql.DB or a
// transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dsmirnov/credvault/internal/dbx"
	"github.com/dsmirnov/credvault/internal/server/repositories/credentials"
	"github.com/dsmirnov/credvault/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Credentials(db dbx.DBTX) credentials.Repository
}
