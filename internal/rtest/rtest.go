// Package rtest bundles the small testing helpers used throughout
// waterfall's test files, in the same spirit as restic's internal/test
// package (OK/Equals/Assert/Random).
package rtest

import (
	"math/rand"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
)

// OK fails the test immediately if err is not nil.
func OK(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("%s:%d: unexpected error: %+v", filepath.Base(file), line, err)
	}
}

// Equals fails the test if want != got.
func Equals(t testing.TB, want, got interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("%s:%d: expected %#v, got %#v", filepath.Base(file), line, want, got)
	}
}

// Assert fails the test if the condition is false.
func Assert(t testing.TB, condition bool, msg string, args ...interface{}) {
	t.Helper()
	if !condition {
		_, file, line, _ := runtime.Caller(1)
		t.Fatalf("%s:%d: "+msg, append([]interface{}{filepath.Base(file), line}, args...)...)
	}
}

// Random returns length pseudo-random bytes generated from seed, so tests
// are reproducible without needing to embed fixtures.
func Random(seed, length int) []byte {
	rnd := rand.New(rand.NewSource(int64(seed)))
	buf := make([]byte, length)
	_, _ = rnd.Read(buf)
	return buf
}

// TempDir returns a fresh temporary directory that is removed when the test
// completes.
func TempDir(t testing.TB) string {
	t.Helper()
	return t.TempDir()
}
