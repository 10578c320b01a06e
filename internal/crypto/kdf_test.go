package crypto

import (
	"bytes"
	"testing"

	"github.com/cascadefs/waterfall/internal/rtest"
)

func TestDerivePBKDF2Deterministic(t *testing.T) {
	salt := rtest.Random(10, SaltSize)

	k1, err := DerivePBKDF2("correct horse battery staple", salt)
	rtest.OK(t, err)
	k2, err := DerivePBKDF2("correct horse battery staple", salt)
	rtest.OK(t, err)

	plaintext := rtest.Random(11, 64)
	size := len(plaintext) + Overhead

	chunk := make([]byte, size)
	copy(chunk[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, k1.Encrypt(chunk))
	rtest.OK(t, k2.Decrypt(chunk))

	rtest.Assert(t, bytes.Equal(chunk[NonceSize:size-TagSize], plaintext),
		"same password+salt did not derive the same key")
}

func TestDerivePBKDF2DifferentSalts(t *testing.T) {
	saltA := rtest.Random(12, SaltSize)
	saltB := rtest.Random(13, SaltSize)

	kA, err := DerivePBKDF2("hunter2", saltA)
	rtest.OK(t, err)
	kB, err := DerivePBKDF2("hunter2", saltB)
	rtest.OK(t, err)

	plaintext := rtest.Random(14, 64)
	size := len(plaintext) + Overhead
	chunk := make([]byte, size)
	copy(chunk[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, kA.Encrypt(chunk))

	err = kB.Decrypt(chunk)
	rtest.Assert(t, err != nil, "different salts derived the same key")
}

func TestDerivePBKDF2RejectsWrongSaltSize(t *testing.T) {
	_, err := DerivePBKDF2("pw", make([]byte, SaltSize-1))
	rtest.Assert(t, err != nil, "expected error for wrong salt size")
}

func TestDeriveScryptRoundtrip(t *testing.T) {
	salt := rtest.Random(15, SaltSize)
	params := ScryptParams{N: 1 << 10, R: 8, P: 1}

	k1, err := DeriveScrypt("correct horse battery staple", salt, params)
	rtest.OK(t, err)
	k2, err := DeriveScrypt("correct horse battery staple", salt, params)
	rtest.OK(t, err)

	plaintext := rtest.Random(16, 64)
	size := len(plaintext) + Overhead
	chunk := make([]byte, size)
	copy(chunk[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, k1.Encrypt(chunk))
	rtest.OK(t, k2.Decrypt(chunk))

	rtest.Assert(t, bytes.Equal(chunk[NonceSize:size-TagSize], plaintext),
		"scrypt derivation was not deterministic for the same password+salt+params")
}

func TestNewSaltIsRandom(t *testing.T) {
	a := NewSalt()
	b := NewSalt()
	rtest.Assert(t, len(a) == SaltSize, "unexpected salt length %d", len(a))
	rtest.Assert(t, !bytes.Equal(a, b), "two calls to NewSalt produced identical salt")
}
