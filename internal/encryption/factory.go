package encryption

import (
	"fmt"

	"hubsync/internal/config"
	"hubsync/internal/hub"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Type "none" yields a nil Encryptor and snapshots are stored in plaintext.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (hub.Encryptor, error) {
	switch cfg.Type {
	case "age", "":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
