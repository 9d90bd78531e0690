package credentials

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/proxyerr"
)

// Backend selects which of the two token-validation paths spec §4.D
// describes a given endpoint uses.
type Backend int

const (
	// BackendControlPlane validates against the console's published
	// JWKS; on success the credentials carry no further keys.
	BackendControlPlane Backend = iota
	// BackendLocal validates against a small static rule set; on
	// success the credentials carry the keys validation produced.
	BackendLocal
)

// TokenAuthenticator implements spec §4.D's token-authentication path.
type TokenAuthenticator struct {
	Backend     Backend
	JWKS        *JWKSCache
	StaticRules *StaticRuleSet
}

// Authenticate parses and verifies token, dispatching on Backend.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, user domain.ComputeUserInfo, token string) (domain.ComputeCredentials, error) {
	switch a.Backend {
	case BackendControlPlane:
		return a.authenticateControlPlane(user, token)
	case BackendLocal:
		return a.authenticateLocal(user, token)
	default:
		return domain.ComputeCredentials{}, proxyerr.NewAuthFailedError(user.User, errors.New("unknown auth backend"))
	}
}

func (a *TokenAuthenticator) authenticateControlPlane(user domain.ComputeUserInfo, token string) (domain.ComputeCredentials, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.JWKS.Keyfunc(user.Endpoint))
	if err != nil || !parsed.Valid {
		return domain.ComputeCredentials{}, proxyerr.NewAuthFailedError(user.User, errOrInvalid(err))
	}
	if sub, _ := claims["sub"].(string); sub != "" && sub != user.User {
		return domain.ComputeCredentials{}, proxyerr.NewAuthFailedError(user.User, errors.New("token subject does not match requested role"))
	}
	return domain.ComputeCredentials{Info: user, Kind: domain.CredentialKindNone}, nil
}

func (a *TokenAuthenticator) authenticateLocal(user domain.ComputeUserInfo, token string) (domain.ComputeCredentials, error) {
	keys, err := a.StaticRules.Validate(user, token)
	if err != nil {
		return domain.ComputeCredentials{}, proxyerr.NewAuthFailedError(user.User, err)
	}
	kind := domain.CredentialKindNone
	if keys != nil {
		kind = domain.CredentialKindScramKeys
	}
	return domain.ComputeCredentials{Info: user, Kind: kind, Keys: keys}, nil
}

func errOrInvalid(err error) error {
	if err != nil {
		return err
	}
	return errors.New("token failed validation")
}
