// Package services contains server-side business logic. This file implements
// UserService, which handles registration, login, and issuing/refreshing
// session token pairs.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dsmirnov/credvault/internal/common"
	"github.com/dsmirnov/credvault/internal/dbx"
	"github.com/dsmirnov/credvault/internal/server/auth"
	"github.com/dsmirnov/credvault/internal/server/models"
	"github.com/dsmirnov/credvault/internal/server/password"
	"github.com/dsmirnov/credvault/internal/server/repositories/repomanager"
)

// ErrInvalidEmail rejects registration input that is not shaped like an
// email address.
var ErrInvalidEmail = errors.New("invalid email format")

// UserService provides authentication-related operations:
// - Register: validate input, create users, mint tokens
// - Login: verify credentials and mint tokens
// - Refresh: verify a refresh token and mint a new pair
// - DeleteAccount: remove the user and their stored credential
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *password.Hasher
	tokens      *auth.TokenService
}

// NewUserService constructs a UserService from its collaborators. The token
// service and hasher carry the process-wide secrets; nothing here reads
// ambient state.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, hasher *password.Hasher, tokens *auth.TokenService) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		tokens:      tokens,
	}
}

// Register validates the email shape and password strength (reporting the
// first failing rule), creates the user, and returns it with a fresh token
// pair. A duplicate email yields common.ErrorAlreadyExists.
func (s *UserService) Register(ctx context.Context, email, pwd string) (*models.User, *auth.TokenPair, error) {
	if !password.ValidateEmail(email) {
		return nil, nil, ErrInvalidEmail
	}
	if err := password.ValidateStrength(pwd); err != nil {
		return nil, nil, err
	}

	hash, err := s.hasher.Hash(pwd)
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	user := &models.User{ID: uuid.NewString(), Email: email, PasswordHash: hash}
	repo := s.repomanager.Users(s.db)
	u, err := repo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, nil, common.ErrorAlreadyExists
		}
		return nil, nil, fmt.Errorf("error creating user: %w", err)
	}

	pair, err := s.tokens.IssuePair(auth.Payload{UserID: u.ID, Email: u.Email})
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	return u, pair, nil
}

// Login verifies the password against the stored hash and, on success,
// returns the user and a new token pair. Unknown emails and wrong passwords
// are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, pwd string) (*models.User, *auth.TokenPair, error) {
	repo := s.repomanager.Users(s.db)
	user, err := repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, common.ErrorUnauthorized
		}
		return nil, nil, common.ErrorInternal
	}

	if !s.hasher.Verify(pwd, user.PasswordHash) {
		return nil, nil, common.ErrorUnauthorized
	}

	pair, err := s.tokens.IssuePair(auth.Payload{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, nil, common.ErrorInternal
	}

	return user, pair, nil
}

// Refresh verifies a refresh token and mints a new pair. Verification is
// stateless: no server-side record is consulted, so the token is good until
// its embedded expiry. Token failures pass through unchanged
// (auth.ErrTokenExpired and friends).
func (s *UserService) Refresh(refreshToken string) (*auth.TokenPair, error) {
	payload, err := s.tokens.Verify(refreshToken)
	if err != nil {
		return nil, err
	}
	return s.tokens.IssuePair(payload)
}

// DeleteAccount removes the user's stored credential and the user row in one
// transaction.
func (s *UserService) DeleteAccount(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Credentials(tx).Delete(ctx, userID); err != nil {
			return fmt.Errorf("error deleting credential: %w", err)
		}
		if err := s.repomanager.Users(tx).Delete(ctx, userID); err != nil {
			return fmt.Errorf("error deleting user: %w", err)
		}
		return nil
	})
}
