// Package crypto implements the per-chunk AEAD layer described by the
// container format: every chunk on the wire is
//
//	nonce (12B) || ciphertext (N-28B) || auth tag (16B)
//
// sealed and opened with AES-256-GCM. Each container derives its own key
// from the user password and a random per-container salt (see kdf.go), so
// key reuse never crosses container boundaries even when the same password
// protects many containers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/cascadefs/waterfall/internal/errors"
)

const (
	// KeySize is the size in bytes of an AES-256 key.
	KeySize = 32

	// NonceSize is the size in bytes of the GCM nonce stored at the front
	// of every chunk.
	NonceSize = 12

	// TagSize is the size in bytes of the GCM authentication tag stored at
	// the end of every chunk.
	TagSize = 16

	// Overhead is the number of bytes a chunk is enlarged by relative to
	// its plaintext payload: nonce + tag.
	Overhead = NonceSize + TagSize
)

// Key is the symmetric key used to seal and open the chunks of a single
// container. It is derived fresh per container by KDF (see kdf.go); keys are
// never persisted to the manifest, only the salt they were derived from is.
type Key struct {
	gcm cipher.AEAD
}

// NewKey wraps a raw 32-byte key in a Key ready to encrypt or decrypt
// chunks. It panics if raw is not KeySize bytes, matching the teacher's
// convention of panicking on programmer error rather than environmental
// error (which is always returned, never panicked on).
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		panic("crypto: NewKey called with wrong key size")
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, errors.Wrap(err, "aes.NewCipher")
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, errors.Wrap(err, "cipher.NewGCM")
	}

	return &Key{gcm: gcm}, nil
}

// NewRandomNonce returns a fresh, cryptographically random nonce of
// NonceSize bytes. Nonces must never repeat under the same key; since every
// container gets its own key, a random nonce per chunk is sufficient.
func NewRandomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "rand.Read")
	}
	return nonce, nil
}

// Encrypt seals chunk in place. chunk must be exactly N bytes with
// plaintext occupying chunk[NonceSize : N-TagSize]; a fresh nonce is
// written to chunk[:NonceSize] and the auth tag to chunk[N-TagSize:].
// Encrypting identical plaintext twice produces different ciphertext, since
// the nonce is freshly randomized on every call.
func (k *Key) Encrypt(chunk []byte) error {
	if len(chunk) < Overhead {
		return errors.Errorf("crypto: chunk too small to encrypt: %d bytes", len(chunk))
	}

	nonce, err := NewRandomNonce()
	if err != nil {
		return err
	}
	copy(chunk[:NonceSize], nonce)

	plaintext := chunk[NonceSize : len(chunk)-TagSize]
	sealed := k.gcm.Seal(plaintext[:0], nonce, plaintext, nil)

	tag := sealed[len(sealed)-TagSize:]
	copy(chunk[len(chunk)-TagSize:], tag)

	return nil
}

// Decrypt verifies and opens chunk in place. On success the plaintext is
// left at chunk[NonceSize : len(chunk)-TagSize]. On any tag mismatch it
// returns errors.ErrAuthFailure; the chunk's contents are then undefined.
func (k *Key) Decrypt(chunk []byte) error {
	if len(chunk) < Overhead {
		return errors.Errorf("crypto: chunk too small to decrypt: %d bytes", len(chunk))
	}

	nonce := chunk[:NonceSize]
	ciphertextAndTag := chunk[NonceSize:]

	// dst and ciphertext alias the same backing array starting at the same
	// offset, which Open permits ("exact overlap"); the opened plaintext
	// ends up written back into chunk in place.
	_, err := k.gcm.Open(ciphertextAndTag[:0], nonce, ciphertextAndTag, nil)
	if err != nil {
		return errors.ErrAuthFailure
	}

	return nil
}
