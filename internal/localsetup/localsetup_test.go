package localsetup

import (
	"context"
	"encoding/base64"
	"testing"
)

func TestPublicJWKShape(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	j := k.publicJWK()
	if j.Kty != "EC" || j.Crv != "P-256" {
		t.Fatalf("unexpected kty/crv: %+v", j)
	}

	for name, v := range map[string]string{"x": j.X, "y": j.Y} {
		decoded, err := base64.RawURLEncoding.DecodeString(v)
		if err != nil {
			t.Fatalf("%s not valid base64url: %v", name, err)
		}
		if len(decoded) != 32 {
			t.Errorf("%s: expected 32 bytes for P-256, got %d", name, len(decoded))
		}
	}
}

func TestPublicJWKDeterministicPerKey(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	first := k.publicJWK()
	second := k.publicJWK()
	if first.X != second.X || first.Y != second.Y {
		t.Errorf("publicJWK should be stable across calls on the same key")
	}
}

func TestInitPanicsOnNonLocalBackend(t *testing.T) {
	k, err := NewKey()
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Errorf("expected Init to panic for a non-Local backend")
		}
	}()

	_ = k.Init(context.Background(), nil, BackendOther)
}

func TestInt8BytesRoundTrip(t *testing.T) {
	cases := []int64{0, 1, 255, 256, 1<<32 - 1, 1 << 40}
	for _, v := range cases {
		b := int8Bytes(v)
		if len(b) != 8 {
			t.Fatalf("expected 8 bytes, got %d", len(b))
		}
		var got int64
		for _, by := range b {
			got = got<<8 | int64(by)
		}
		if got != v {
			t.Errorf("int8Bytes(%d) round-tripped to %d", v, got)
		}
	}
}
