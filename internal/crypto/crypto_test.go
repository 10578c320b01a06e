package crypto

import (
	"bytes"
	"testing"

	"github.com/cascadefs/waterfall/internal/rtest"
)

func testKey(t testing.TB) *Key {
	raw := rtest.Random(23, KeySize)
	key, err := NewKey(raw)
	rtest.OK(t, err)
	return key
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key := testKey(t)

	for _, size := range []int{Overhead, Overhead + 1, 512, 64 * 1024} {
		plaintext := rtest.Random(size, size-Overhead)

		chunk := make([]byte, size)
		copy(chunk[NonceSize:size-TagSize], plaintext)

		rtest.OK(t, key.Encrypt(chunk))
		rtest.OK(t, key.Decrypt(chunk))

		got := chunk[NonceSize : size-TagSize]
		rtest.Assert(t, bytes.Equal(got, plaintext), "roundtrip mismatch for size %d", size)
	}
}

func TestEncryptIsRandomized(t *testing.T) {
	key := testKey(t)

	plaintext := rtest.Random(1, 100)
	size := len(plaintext) + Overhead

	chunkA := make([]byte, size)
	copy(chunkA[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, key.Encrypt(chunkA))

	chunkB := make([]byte, size)
	copy(chunkB[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, key.Encrypt(chunkB))

	rtest.Assert(t, !bytes.Equal(chunkA, chunkB),
		"encrypting the same plaintext twice produced identical chunks")
}

func TestDecryptDetectsTamperedCiphertext(t *testing.T) {
	key := testKey(t)

	plaintext := rtest.Random(2, 200)
	size := len(plaintext) + Overhead
	chunk := make([]byte, size)
	copy(chunk[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, key.Encrypt(chunk))

	chunk[NonceSize] ^= 0xff

	err := key.Decrypt(chunk)
	rtest.Assert(t, err != nil, "expected auth failure on tampered ciphertext")
}

func TestDecryptDetectsTamperedTag(t *testing.T) {
	key := testKey(t)

	plaintext := rtest.Random(3, 200)
	size := len(plaintext) + Overhead
	chunk := make([]byte, size)
	copy(chunk[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, key.Encrypt(chunk))

	chunk[size-1] ^= 0xff

	err := key.Decrypt(chunk)
	rtest.Assert(t, err != nil, "expected auth failure on tampered tag")
}

func TestDecryptDetectsTamperedNonce(t *testing.T) {
	key := testKey(t)

	plaintext := rtest.Random(4, 200)
	size := len(plaintext) + Overhead
	chunk := make([]byte, size)
	copy(chunk[NonceSize:size-TagSize], plaintext)
	rtest.OK(t, key.Encrypt(chunk))

	chunk[0] ^= 0xff

	err := key.Decrypt(chunk)
	rtest.Assert(t, err != nil, "expected auth failure on tampered nonce")
}

func TestEncryptRejectsUndersizedChunk(t *testing.T) {
	key := testKey(t)
	err := key.Encrypt(make([]byte, Overhead-1))
	rtest.Assert(t, err != nil, "expected error encrypting undersized chunk")
}

func TestDecryptRejectsUndersizedChunk(t *testing.T) {
	key := testKey(t)
	err := key.Decrypt(make([]byte, Overhead-1))
	rtest.Assert(t, err != nil, "expected error decrypting undersized chunk")
}

func TestNewKeyPanicsOnWrongSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic constructing Key from wrong-sized raw key")
		}
	}()
	_, _ = NewKey(make([]byte, KeySize-1))
}
