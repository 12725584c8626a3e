package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dsmirnov/credvault/internal/common"
	"github.com/dsmirnov/credvault/internal/cryptox"
	"github.com/dsmirnov/credvault/internal/server/provider"
	"github.com/dsmirnov/credvault/internal/server/repositories/repomanager"
)

var (
	// ErrNotConnected means no provider credential is stored for the user;
	// the user has to (re-)authorize before a client can be built.
	ErrNotConnected = errors.New("no provider credential stored, connect the account first")

	// ErrDecryptionFailed means a credential is stored but unusable: it was
	// written under a different key, corrupted, or malformed. It must be
	// re-issued by reconnecting, not retried.
	ErrDecryptionFailed = errors.New("stored credential cannot be decrypted, reconnect the account")
)

// CredentialGate turns a user's stored encrypted secret into a usable
// downstream client. The gate itself is stateless; the encryption key lives
// inside the injected cipher.
type CredentialGate struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      *cryptox.SecretCipher
	clients     provider.Factory
}

func NewCredentialGate(db *sql.DB, m repomanager.RepositoryManager, cipher *cryptox.SecretCipher, clients provider.Factory) *CredentialGate {
	return &CredentialGate{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		clients:     clients,
	}
}

// HasCredential reports whether a non-empty encrypted secret is stored for
// the user. No decryption is attempted.
func (g *CredentialGate) HasCredential(ctx context.Context, userID string) (bool, error) {
	secret, err := g.repomanager.Credentials(g.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, err
	}
	return secret != "", nil
}

// BuildClient fetches the user's encrypted secret, decrypts it, and
// constructs the downstream client. An absent secret yields ErrNotConnected;
// a stored but unusable secret (failed authentication, malformed format, or
// an unparsable payload) yields ErrDecryptionFailed wrapping the cause.
func (g *CredentialGate) BuildClient(ctx context.Context, userID string) (provider.Client, error) {
	secret, err := g.repomanager.Credentials(g.db).Get(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("error fetching credential: %w", err)
	}
	if secret == "" {
		return nil, ErrNotConnected
	}

	plaintext, err := g.cipher.Decrypt(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	client, err := g.clients.NewClient(ctx, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return client, nil
}

// ValidateCredential builds the client and runs its validation probe. Every
// failure kind (missing credential, decryption failure, storage error, or a
// failed probe) collapses to false on purpose; callers needing diagnostic
// detail use BuildClient directly.
func (g *CredentialGate) ValidateCredential(ctx context.Context, userID string) bool {
	client, err := g.BuildClient(ctx, userID)
	if err != nil {
		return false
	}
	return client.ValidateToken(ctx)
}

// Connect encrypts the provider token and stores it for the user, replacing
// any previous credential.
func (g *CredentialGate) Connect(ctx context.Context, userID string, token []byte) error {
	encrypted, err := g.cipher.Encrypt(token)
	if err != nil {
		return common.ErrorInternal
	}

	if err := g.repomanager.Credentials(g.db).Upsert(ctx, userID, encrypted); err != nil {
		return fmt.Errorf("error storing credential: %w", err)
	}
	return nil
}

// Disconnect removes the user's stored credential, if any.
func (g *CredentialGate) Disconnect(ctx context.Context, userID string) error {
	if err := g.repomanager.Credentials(g.db).Delete(ctx, userID); err != nil {
		return fmt.Errorf("error deleting credential: %w", err)
	}
	return nil
}
