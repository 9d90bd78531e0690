package credentials

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/outpostdb/outpost/internal/domain"
)

type fakeJWKSSource struct {
	raw []byte
	err error
}

func (f *fakeJWKSSource) FetchJWKS(ctx context.Context, endpoint string) ([]byte, error) {
	return f.raw, f.err
}

func rsaJWKSFixture(t *testing.T, kid string) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	eBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(eBuf, uint64(key.PublicKey.E))
	trimmed := eBuf
	for len(trimmed) > 1 && trimmed[0] == 0 {
		trimmed = trimmed[1:]
	}

	set := jwkSet{Keys: []jwk{{
		Kty: "RSA",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(trimmed),
	}}}
	raw, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return key, raw
}

func TestTokenAuthenticateControlPlaneSuccess(t *testing.T) {
	key, raw := rsaJWKSFixture(t, "key1")
	cache := NewJWKSCache(&fakeJWKSSource{raw: raw}, 16, time.Minute)
	a := &TokenAuthenticator{Backend: BackendControlPlane, JWKS: cache}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "alice"})
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	user := domain.ComputeUserInfo{Endpoint: "ep1", User: "alice"}
	creds, err := a.Authenticate(context.Background(), user, signed)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if creds.Kind != domain.CredentialKindNone {
		t.Fatalf("Kind = %v, want CredentialKindNone", creds.Kind)
	}
}

func TestTokenAuthenticateControlPlaneWrongSubject(t *testing.T) {
	key, raw := rsaJWKSFixture(t, "key1")
	cache := NewJWKSCache(&fakeJWKSSource{raw: raw}, 16, time.Minute)
	a := &TokenAuthenticator{Backend: BackendControlPlane, JWKS: cache}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "mallory"})
	token.Header["kid"] = "key1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	user := domain.ComputeUserInfo{Endpoint: "ep1", User: "alice"}
	_, err = a.Authenticate(context.Background(), user, signed)
	if err == nil {
		t.Fatalf("Authenticate succeeded despite a subject/role mismatch")
	}
}

func TestTokenAuthenticateLocalDispatchesToStaticRules(t *testing.T) {
	secret := []byte("local-secret")
	rules := NewStaticRuleSet([]StaticRule{{Endpoint: "ep1", User: "alice", Secret: secret}})
	a := &TokenAuthenticator{Backend: BackendLocal, StaticRules: rules}

	signed := signHS256(t, secret, jwt.MapClaims{"sub": "alice"})
	user := domain.ComputeUserInfo{Endpoint: "ep1", User: "alice"}
	creds, err := a.Authenticate(context.Background(), user, signed)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if creds.Kind != domain.CredentialKindNone {
		t.Fatalf("Kind = %v, want CredentialKindNone (no ScramKeys attached to the rule)", creds.Kind)
	}
}
