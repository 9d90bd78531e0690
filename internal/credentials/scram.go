package credentials

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/pbkdf2"

	"github.com/outpostdb/outpost/internal/domain"
)

// The HTTP-fronted password path receives the password itself (the
// request already arrived over TLS), so there is no multi-round-trip
// SASL negotiation to drive here — unlike the teacher's pool/scram.go,
// which speaks SCRAM-SHA-256 outward to a real backend over a plain
// socket. This is a server-side verification instead: derive what the
// stored secret would be from the presented password and compare,
// reusing the teacher's PBKDF2/HMAC-SHA-256 primitives directly.
func deriveScramSecret(password string, salt []byte, iterations int) *domain.ScramSecret {
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)
	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	return &domain.ScramSecret{
		Iterations: iterations,
		Salt:       salt,
		StoredKey:  storedKey,
		ServerKey:  serverKey,
	}
}

// verifyPasswordAndExchange is spec §4.D step 5's "Run SCRAM
// password-and-exchange": derive the secret the presented password
// would produce and compare it, in constant time, against the cached
// one. On success the derived secret (identical to the cached one, but
// freshly computed) becomes the credentials' keys for downstream
// passthrough auth against the real backend.
func verifyPasswordAndExchange(cached *domain.ScramSecret, password string) (*domain.ScramSecret, bool) {
	derived := deriveScramSecret(password, cached.Salt, cached.Iterations)
	if subtle.ConstantTimeCompare(derived.StoredKey, cached.StoredKey) != 1 {
		return nil, false
	}
	return derived, true
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}
