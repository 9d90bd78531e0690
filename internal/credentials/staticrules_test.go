package credentials

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"

	"github.com/outpostdb/outpost/internal/domain"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestStaticRuleSetValidateSuccess(t *testing.T) {
	secret := []byte("local-dev-secret")
	keys := testSecret("unused")
	rules := NewStaticRuleSet([]StaticRule{
		{Endpoint: "ep1", User: "alice", Secret: secret, ScramKeys: keys},
	})

	token := signHS256(t, secret, jwt.MapClaims{"sub": "alice"})
	got, err := rules.Validate(domain.ComputeUserInfo{Endpoint: "ep1", User: "alice"}, token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != keys {
		t.Fatalf("Validate returned different keys than the rule's")
	}
}

func TestStaticRuleSetValidateUnknownRule(t *testing.T) {
	rules := NewStaticRuleSet(nil)
	_, err := rules.Validate(domain.ComputeUserInfo{Endpoint: "ep1", User: "alice"}, "whatever")
	if err == nil {
		t.Fatalf("Validate succeeded with no matching rule")
	}
}

func TestStaticRuleSetValidateWrongSecret(t *testing.T) {
	rules := NewStaticRuleSet([]StaticRule{
		{Endpoint: "ep1", User: "alice", Secret: []byte("correct-secret")},
	})
	token := signHS256(t, []byte("wrong-secret"), jwt.MapClaims{"sub": "alice"})
	_, err := rules.Validate(domain.ComputeUserInfo{Endpoint: "ep1", User: "alice"}, token)
	if err == nil {
		t.Fatalf("Validate succeeded with a token signed by the wrong secret")
	}
}
