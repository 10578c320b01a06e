package debug_test

import (
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/cascadefs/waterfall/internal/debug"
)

func randomHexID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func BenchmarkLogStatic(b *testing.B) {
	for i := 0; i < b.N; i++ {
		debug.Log("Static string")
	}
}

func BenchmarkLogContainerID(b *testing.B) {
	id := randomHexID()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		debug.Log("container: %s", id)
	}
}
