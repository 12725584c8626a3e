package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dsmirnov/credvault/internal/common"
	"github.com/dsmirnov/credvault/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (string, error) {
	query :=
		`SELECT encrypted_secret FROM credentials
		 WHERE user_id = $1
		 `

	var secret string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&secret)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}

	return secret, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, userID string, encryptedSecret string) error {
	query :=
		`INSERT INTO credentials (user_id, encrypted_secret)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id)
		 DO UPDATE SET encrypted_secret = EXCLUDED.encrypted_secret, updated_at = now()
		 `

	if _, err := r.db.ExecContext(ctx, query, userID, encryptedSecret); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	query :=
		`DELETE FROM credentials
		 WHERE user_id = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
