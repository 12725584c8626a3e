package config

import "os"

// parseEnv overlays environment variables. Secrets usually arrive this way
// in deployments; env wins over file and flags.
func parseEnv(config *Config) {
	if v, ok := os.LookupEnv("CREDVAULT_SIGNING_SECRET"); ok {
		config.SigningSecret = v
	}
	if v, ok := os.LookupEnv("CREDVAULT_ENCRYPTION_KEY"); ok {
		config.EncryptionKeyBase64 = v
	}
	if v, ok := os.LookupEnv("CREDVAULT_DATABASE_DSN"); ok {
		config.DatabaseDSN = v
	}
}
