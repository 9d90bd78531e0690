package credentials

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/outpostdb/outpost/internal/controlplane"
)

// jwk is the subset of RFC 7517 fields this cache understands: RSA and
// EC public keys, the only two families control-plane-issued endpoint
// JWKS documents use.
type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// JWKSCache fetches and caches, per endpoint, the JSON Web Key Set used
// to verify signed-token auth (spec §4.D's token path). Entries expire
// on a TTL so a rotated signing key is picked up without a restart.
type JWKSCache struct {
	source controlplane.JWKSSource
	cache  *expirable.LRU[string, map[string]any]
}

// NewJWKSCache builds a cache holding up to capacity endpoints' key
// sets, each expiring after ttl.
func NewJWKSCache(source controlplane.JWKSSource, capacity int, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		source: source,
		cache:  expirable.NewLRU[string, map[string]any](capacity, nil, ttl),
	}
}

func (c *JWKSCache) keysFor(ctx context.Context, endpoint string) (map[string]any, error) {
	if keys, ok := c.cache.Get(endpoint); ok {
		return keys, nil
	}

	raw, err := c.source.FetchJWKS(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks for %s: %w", endpoint, err)
	}

	var set jwkSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parsing jwks for %s: %w", endpoint, err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		pub, err := k.publicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.cache.Add(endpoint, keys)
	return keys, nil
}

// Keyfunc returns a golang-jwt Keyfunc bound to a single endpoint,
// resolving the token's kid header against that endpoint's cached key
// set.
func (c *JWKSCache) Keyfunc(endpoint string) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		keys, err := c.keysFor(context.Background(), endpoint)
		if err != nil {
			return nil, err
		}
		key, ok := keys[kid]
		if !ok {
			return nil, fmt.Errorf("no key with kid %q for endpoint %s", kid, endpoint)
		}
		return key, nil
	}
}

func (k jwk) publicKey() (any, error) {
	switch k.Kty {
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, err
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, err
		}
		eBuf := make([]byte, 8)
		copy(eBuf[8-len(eBytes):], eBytes)
		e := int(binary.BigEndian.Uint64(eBuf))
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
	case "EC":
		return ecPublicKey(k)
	default:
		return nil, fmt.Errorf("unsupported jwk kty %q", k.Kty)
	}
}

func ecPublicKey(k jwk) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch k.Crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported jwk crv %q", k.Crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
