package hub

import "io"

// Encryptor protects snapshot documents at rest.
// Encryption uses the public key only, so scheduled backups need no passphrase.
// Decryption requires the passphrase to unlock the private key.
type Encryptor interface {
	// Setup generates a key pair and stores the private key encrypted with
	// passphrase. Called during `hubsync config init`.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory for the
// duration of a restore.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
