// Package provider builds the downstream client a user's decrypted
// credential unlocks. The rest of the system treats the credential bytes as
// opaque; only this package knows they are JSON access keys for an
// S3-compatible storage provider.
package provider

import "context"

// Client is the downstream handle built from a user's decrypted credential.
type Client interface {
	// ValidateToken probes the provider with the credential and reports
	// whether it is accepted. Every failure, including network errors,
	// becomes false; the probe never panics past this boundary.
	ValidateToken(ctx context.Context) bool
}

// Factory constructs Clients from decrypted credential bytes.
type Factory interface {
	NewClient(ctx context.Context, token []byte) (Client, error)
}
