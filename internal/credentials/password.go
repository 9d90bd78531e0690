package credentials

import (
	"context"
	"errors"
	"net/netip"

	"github.com/outpostdb/outpost/internal/controlplane"
	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/proxyerr"
)

// PasswordAuthenticator implements spec §4.D's password-authentication
// path for the HTTP-fronted serverless entry point: the client presents
// a plaintext password over an already-TLS-terminated connection, and
// this component verifies it against the cached (or freshly fetched)
// SCRAM secret without any further round trip to the client.
type PasswordAuthenticator struct {
	AllowedIPs   controlplane.AllowedIPsFetcher
	RoleSecrets  controlplane.RoleSecretFetcher
	Limiters     *RateLimiters
	ScramWorkers *ScramPool
}

// Authenticate runs spec §4.D steps 1-6 for a presented password. On
// success it returns credentials carrying the freshly derived SCRAM
// keys, which the connect mechanism presents to the real backend in
// place of the plaintext password.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, peer netip.Addr, user domain.ComputeUserInfo, password string) (domain.ComputeCredentials, error) {
	info, err := a.AllowedIPs.GetAllowedIPsAndSecret(ctx, user.Endpoint, user.User)
	if err != nil {
		return domain.ComputeCredentials{}, proxyerr.NewAuthFailedError(user.User, err)
	}

	if !peerAllowed(peer, info.AllowedIPs) {
		return domain.ComputeCredentials{}, proxyerr.NewIPAddressNotAllowedError(peer.String())
	}

	if !a.Limiters.AllowConnection(user.Endpoint) {
		return domain.ComputeCredentials{}, proxyerr.NewTooManyConnectionsError()
	}

	secret, err := a.cachedOrFetchedSecret(ctx, info, user)
	if err != nil {
		return domain.ComputeCredentials{}, err
	}

	if !a.Limiters.AllowAuthAttempt(user.Endpoint) {
		return domain.ComputeCredentials{}, proxyerr.NewAuthAttemptRateLimitedError()
	}

	keys, err := a.verifyOnWorker(ctx, secret, password)
	if err != nil {
		return domain.ComputeCredentials{}, proxyerr.NewAuthFailedError(user.User, err)
	}

	return domain.ComputeCredentials{Info: user, Kind: domain.CredentialKindScramKeys, Keys: keys}, nil
}

func (a *PasswordAuthenticator) cachedOrFetchedSecret(ctx context.Context, info domain.DatabaseInfo, user domain.ComputeUserInfo) (*domain.ScramSecret, error) {
	if a.RoleSecrets == nil {
		return nil, proxyerr.NewAuthFailedError(user.User, errors.New("no role secret available"))
	}
	secret, err := a.RoleSecrets.GetRoleSecret(ctx, user.Endpoint, user.User)
	if err != nil {
		return nil, proxyerr.NewAuthFailedError(user.User, err)
	}
	if secret == nil {
		return nil, proxyerr.NewAuthFailedError(user.User, errors.New("no role secret on record"))
	}
	return secret, nil
}

// verifyOnWorker runs the PBKDF2-bound comparison on the shared
// ScramPool, keeping the CPU cost off whatever goroutine is driving the
// client's HTTP request.
func (a *PasswordAuthenticator) verifyOnWorker(ctx context.Context, secret *domain.ScramSecret, password string) (*domain.ScramSecret, error) {
	type outcome struct {
		keys *domain.ScramSecret
		ok   bool
	}
	resCh := make(chan outcome, 1)
	err := a.ScramWorkers.Submit(ctx, func() {
		keys, ok := verifyPasswordAndExchange(secret, password)
		resCh <- outcome{keys: keys, ok: ok}
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-resCh:
		if !res.ok {
			return nil, errors.New("password did not match stored SCRAM verifier")
		}
		return res.keys, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func peerAllowed(peer netip.Addr, allowed []netip.Prefix) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, p := range allowed {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}
