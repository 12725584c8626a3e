// Package credentials persists encrypted third-party secrets, one per user.
// The repository only moves opaque serialized strings; encryption and
// decryption happen in the service layer.
package credentials

import "context"

type Repository interface {
	// Get returns the serialized encrypted secret for the user, or
	// common.ErrorNotFound when none is stored.
	Get(ctx context.Context, userID string) (string, error)

	// Upsert stores or replaces the user's encrypted secret.
	Upsert(ctx context.Context, userID string, encryptedSecret string) error

	// Delete removes the user's encrypted secret, if any.
	Delete(ctx context.Context, userID string) error
}
