// Package encryption protects metadata database exports with a passphrase.
package encryption

import (
	"fmt"
	"io"
)

// Encryptor encrypts and decrypts a byte stream under a passphrase.
// Used for metadata database export snapshots; document content is never
// encrypted by the core.
type Encryptor interface {
	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(passphrase string, r io.Reader, w io.Writer) error

	// Decrypt reads ciphertext from r and writes plaintext to w.
	// Returns an error if the passphrase is incorrect.
	Decrypt(passphrase string, r io.Reader, w io.Writer) error
}

// New creates an Encryptor for the given type: "age" (default) or "test".
func New(kind string) (Encryptor, error) {
	switch kind {
	case "age", "":
		return NewAgeEncryptor(), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", kind)
	}
}
