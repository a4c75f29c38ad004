package settings

import "io"

// Archive stores change records written after each applied save or delete.
// Keys are slash separated and sort by the time the record was written.
type Archive interface {
	// Put stores size bytes read from r under key, replacing any previous value.
	Put(key string, r io.Reader, size int64) error

	// Get writes the value stored under key to w.
	Get(key string, w io.Writer) error

	// List returns the stored keys that start with prefix, in ascending order.
	List(prefix string) ([]string, error)

	// Name identifies the archive in command output.
	Name() string

	// ValidateSetup verifies that the archive is accessible.
	ValidateSetup() error
}

// Encryptor seals archived change records. Sealing only needs the public
// key; reading records back needs the passphrase.
type Encryptor interface {
	// Setup generates the key pair, protecting the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt writes the ciphertext of r to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock returns a DecryptionContext, or an error if passphrase is wrong.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if the key pair exists.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for one session.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
