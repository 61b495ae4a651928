package testutil

import (
	"hubsync/internal/hub"
	"hubsync/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() hub.Vault {
	return vault.NewMemoryVault("test-vault")
}
