package credentials

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/outpostdb/outpost/internal/domain"
)

// StaticRule pins one allowed (endpoint, user) pair to the HMAC secret
// its tokens must be signed with and, optionally, the SCRAM keys the
// connect mechanism should present to the local Postgres on its behalf.
// This is the "small static rule set" spec §4.D's Local auth-backend
// variant validates against, in place of a control-plane JWKS lookup.
type StaticRule struct {
	Endpoint  string
	User      string
	Secret    []byte
	ScramKeys *domain.ScramSecret
}

// StaticRuleSet is an in-memory table of StaticRule, the Go analog of
// the fixed rule list a Local deployment loads once at startup.
type StaticRuleSet struct {
	rules map[string]StaticRule
}

// NewStaticRuleSet indexes rules by endpoint+user.
func NewStaticRuleSet(rules []StaticRule) *StaticRuleSet {
	s := &StaticRuleSet{rules: make(map[string]StaticRule, len(rules))}
	for _, r := range rules {
		s.rules[ruleKey(r.Endpoint, r.User)] = r
	}
	return s
}

func ruleKey(endpoint, user string) string {
	return endpoint + "/" + user
}

// Validate checks token against the rule pinned to user.Endpoint and
// user.User, returning the rule's attached keys (if any) on success.
func (s *StaticRuleSet) Validate(user domain.ComputeUserInfo, token string) (*domain.ScramSecret, error) {
	rule, ok := s.rules[ruleKey(user.Endpoint, user.User)]
	if !ok {
		return nil, fmt.Errorf("no static rule for endpoint %q user %q", user.Endpoint, user.User)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return rule.Secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token failed static rule validation")
	}

	return rule.ScramKeys, nil
}
