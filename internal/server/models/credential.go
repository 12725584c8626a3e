package models

import "time"

// Credential is a user's stored third-party secret in its encrypted,
// serialized form (hex(iv):hex(tag):hex(ciphertext)). The plaintext never
// touches the database.
type Credential struct {
	UserID          string
	EncryptedSecret string
	UpdatedAt       time.Time
}
