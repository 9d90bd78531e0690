// Package localsetup implements component H: the one-time
// `select auth.init($1, $2)` call issued against a Local-backend
// compute node to install per-connection session state for subsequent
// authorization. Grounded on internal/connectmech's pgconn usage for
// the backend call and a process-held P-256 key for the JWK argument
// (crypto/ecdsa — stdlib, justified in DESIGN.md: no library in the
// example pack offers JWK marshaling, and this is a single fixed-shape
// RFC 7517 object, not a general-purpose JWK consumer).
package localsetup

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Backend distinguishes a Local auth-backend compute node from any
// other kind. Calling Init against a non-Local backend is a programmer
// error: the caller is expected to know which backend it is talking to
// before reaching this package.
type Backend int

const (
	BackendLocal Backend = iota
	BackendOther
)

// Key holds the process-wide P-256 signing key whose public half is
// installed on every Local backend this process initializes.
type Key struct {
	private *ecdsa.PrivateKey
}

// NewKey generates a fresh process-held P-256 key.
func NewKey() (*Key, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating local-setup key: %w", err)
	}
	return &Key{private: priv}, nil
}

// jwk is the minimal RFC 7517 JSON Web Key shape auth.init expects: an
// EC public key, no private material.
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (k *Key) publicJWK() jwk {
	pub := k.private.PublicKey
	size := (pub.Curve.Params().BitSize + 7) / 8
	return jwk{
		Kty: "EC",
		Crv: "P-256",
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

// Init issues `select auth.init($1, $2)` against conn, a connection
// already established to a Local-backend compute node. backend must be
// BackendLocal; any other value panics, matching spec.md §4.H's "a
// programmer error and must abort the process."
func (k *Key) Init(ctx context.Context, conn *pgconn.PgConn, backend Backend) error {
	if backend != BackendLocal {
		panic("localsetup: Init called against a non-Local backend")
	}

	pid := conn.PID()
	jwkJSON, err := json.Marshal(k.publicJWK())
	if err != nil {
		return fmt.Errorf("marshaling local-setup jwk: %w", err)
	}

	result := conn.ExecParams(ctx, "select auth.init($1, $2)",
		[][]byte{int8Bytes(int64(pid)), jwkJSON},
		nil, nil, nil,
	)
	_, err = result.Close()
	if err != nil {
		return fmt.Errorf("auth.init: %w", err)
	}
	return nil
}

func int8Bytes(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}
