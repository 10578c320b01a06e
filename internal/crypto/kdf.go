package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"time"

	"github.com/cascadefs/waterfall/internal/errors"
	sscrypt "github.com/elithrar/simple-scrypt"
	"golang.org/x/crypto/pbkdf2"
)

// SaltSize is the size in bytes of a container's salt, as stored in the
// manifest's container entry.
const SaltSize = 16

// pbkdf2Iterations is pinned at 10,000 per the container format's key
// derivation (§4.2, §9 open question 2): it is below current PBKDF2
// guidance, but raising it would silently break every manifest already
// written, and the manifest format carries no version field to gate a
// change on. DeriveScrypt exists alongside it, but neither the upload nor
// the download path calls it.
const pbkdf2Iterations = 10000

// NewSalt returns fresh random salt bytes for a new container. Panics if
// the system RNG is unavailable, since that is a situation no container
// can safely be created in.
func NewSalt() []byte {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		panic("crypto: unable to read enough random bytes for new salt: " + err.Error())
	}
	return salt
}

// DerivePBKDF2 derives a container Key from password and salt using
// PBKDF2-HMAC-SHA256 with the pinned iteration count. This is the only KDF
// this repository will ever read back from an existing manifest.
func DerivePBKDF2(password string, salt []byte) (*Key, error) {
	if len(salt) != SaltSize {
		return nil, errors.Errorf("crypto: PBKDF2 salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	raw := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, KeySize, sha256.New)
	return NewKey(raw)
}

// ScryptParams mirrors the teacher's calibratable scrypt cost parameters
// used by DeriveScrypt. No command-line option selects scrypt: manifests
// are written and read with DerivePBKDF2 only, and the manifest records no
// KDF identifier.
type ScryptParams struct {
	N int
	R int
	P int
}

// DefaultScryptParams are simple-scrypt's interactive-use defaults.
var DefaultScryptParams = ScryptParams{
	N: sscrypt.DefaultParams.N,
	R: sscrypt.DefaultParams.R,
	P: sscrypt.DefaultParams.P,
}

// CalibrateScrypt determines scrypt cost parameters that take approximately
// timeout to compute on the current hardware, within the given memory
// budget in bytes.
func CalibrateScrypt(timeout time.Duration, memory int) (ScryptParams, error) {
	defaults := sscrypt.Params{
		N:       DefaultScryptParams.N,
		R:       DefaultScryptParams.R,
		P:       DefaultScryptParams.P,
		DKLen:   sscrypt.DefaultParams.DKLen,
		SaltLen: sscrypt.DefaultParams.SaltLen,
	}

	params, err := sscrypt.Calibrate(timeout, memory, defaults)
	if err != nil {
		return DefaultScryptParams, errors.Wrap(err, "scrypt.Calibrate")
	}

	return ScryptParams{N: params.N, R: params.R, P: params.P}, nil
}

// DeriveScrypt derives a container Key using scrypt instead of PBKDF2. The
// upload and download commands do not call it, and the downloader always
// derives with DerivePBKDF2, so a container sealed under a DeriveScrypt key
// cannot be opened by download.ContainerOpener.
func DeriveScrypt(password string, salt []byte, p ScryptParams) (*Key, error) {
	if len(salt) != SaltSize {
		return nil, errors.Errorf("crypto: scrypt salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	params := sscrypt.Params{
		N:       p.N,
		R:       p.R,
		P:       p.P,
		DKLen:   KeySize,
		SaltLen: len(salt),
	}
	if err := params.Check(); err != nil {
		return nil, errors.Wrap(err, "Check")
	}

	raw, err := sscrypt.Key([]byte(password), salt, params)
	if err != nil {
		return nil, errors.Wrap(err, "scrypt.Key")
	}

	return NewKey(raw)
}
