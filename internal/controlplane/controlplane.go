// Package controlplane declares the narrow interfaces this module
// consumes from the control plane. internal/controlplaneclient
// implements them over HTTP for the binary; tests use fakes that
// satisfy these interfaces directly.
package controlplane

import (
	"context"

	"github.com/outpostdb/outpost/internal/domain"
)

// WakeComputeClient starts (or confirms already-running) a compute node
// for an endpoint and returns where to find it.
type WakeComputeClient interface {
	WakeCompute(ctx context.Context, endpoint string) (domain.NodeInfo, error)
}

// RoleSecretFetcher looks up the cached SCRAM verifier for a role. A nil
// secret with a nil error means the role has no cached secret yet.
type RoleSecretFetcher interface {
	GetRoleSecret(ctx context.Context, endpoint, user string) (*domain.ScramSecret, error)
}

// AllowedIPsFetcher looks up an endpoint's allow-list, returned in
// DatabaseInfo.AllowedIPs. It returns no role secret: the password path
// fetches that through RoleSecretFetcher on every attempt.
type AllowedIPsFetcher interface {
	GetAllowedIPsAndSecret(ctx context.Context, endpoint, user string) (domain.DatabaseInfo, error)
}

// JWKSSource fetches the raw JSON Web Key Set document published for an
// endpoint's local auth rules.
type JWKSSource interface {
	FetchJWKS(ctx context.Context, endpoint string) ([]byte, error)
}
