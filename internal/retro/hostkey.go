package retro

import (
	"crypto/subtle"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

// verifierParams are sized for random UUID secrets, not user passwords.
var verifierParams = &argon2id.Params{
	Memory:      16 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func newHostSecret() string {
	return uuid.NewString()
}

// hostVerifier derives the value peers use to authorize host events without
// ever learning the secret itself.
func hostVerifier(secret string) (string, error) {
	return argon2id.CreateHash(secret, verifierParams)
}

// authorizeHost reports whether secret is the session's host secret.
func (s *Session) authorizeHost(secret string) bool {
	if secret == "" {
		return false
	}
	if s.HostSecret != "" {
		return subtle.ConstantTimeCompare([]byte(secret), []byte(s.HostSecret)) == 1
	}
	if s.HostVerifier == "" {
		return false
	}
	ok, err := argon2id.ComparePasswordAndHash(secret, s.HostVerifier)
	return err == nil && ok
}

// ensureVerifier fills HostVerifier from HostSecret when it is missing.
func (s *Session) ensureVerifier() error {
	if s.HostVerifier != "" || s.HostSecret == "" {
		return nil
	}
	v, err := hostVerifier(s.HostSecret)
	if err != nil {
		return err
	}
	s.HostVerifier = v
	return nil
}
