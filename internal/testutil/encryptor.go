package testutil

import (
	"hubsync/internal/encryption"
	"hubsync/internal/hub"
)

// NewTestEncryptor creates a new test encryptor for testing.
func NewTestEncryptor() hub.Encryptor {
	return encryption.NewTestEncryptor()
}
