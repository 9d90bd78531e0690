// Package dispatch is the retry/wake controller (spec §4.G):
// wake-or-reuse a compute node, attempt to connect, classify the
// error, and possibly retry with a forced wake. Backoff is
// github.com/sethvargo/go-retry (a direct dependency of the pack's
// hexagonal-API repo, used there for the same bounded-retry-with-
// backoff role); the wake_compute RPC is wrapped in
// github.com/sony/gobreaker so a flapping control plane trips the
// breaker instead of every attempt compounding load on it.
package dispatch

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/outpostdb/outpost/internal/computepool"
	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/proxyerr"
)

// Mechanism is the contract both connect strategies in
// internal/connectmech satisfy. creds carries the credential material
// authentication already derived (SCRAM keys from a password, or none
// for the console-redirect path, which authenticates the backend with
// node.Password instead) for the mechanism to present to the real
// backend in place of whatever the client originally sent.
type Mechanism[C computepool.Closer] interface {
	ConnectOnce(ctx context.Context, node domain.NodeInfo, key domain.ConnInfo, creds domain.ComputeCredentials, timeout time.Duration) (*computepool.CheckedOut[C], error)
}

// WakeComputeClient wakes a suspended compute node for an endpoint.
type WakeComputeClient interface {
	WakeCompute(ctx context.Context, endpoint string) (domain.NodeInfo, error)
}

// Policy bundles the two retry budgets spec.md's config table names:
// wake_compute_retry_config and connect_to_compute_retry_config.
type Policy struct {
	WakeBackoff           retry.Backoff
	ConnectBackoff        retry.Backoff
	ConnectAttemptTimeout time.Duration
}

// Controller orchestrates one component F mechanism against one
// component E pool, generic over the payload both share.
type Controller[C computepool.Closer] struct {
	Mechanism   Mechanism[C]
	Pool        *computepool.Pool[C]
	WakeCompute WakeComputeClient
	Breaker     *gobreaker.CircuitBreaker
	NodeCache   *lru.Cache[string, domain.NodeInfo]
	Policy      Policy
}

// NewController wires a fresh circuit breaker and node-info cache
// around the supplied mechanism and pool.
func NewController[C computepool.Closer](mech Mechanism[C], pool *computepool.Pool[C], wake WakeComputeClient, policy Policy) *Controller[C] {
	cache, _ := lru.New[string, domain.NodeInfo](1024)
	return &Controller[C]{
		Mechanism:   mech,
		Pool:        pool,
		WakeCompute: wake,
		Breaker:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "wake_compute"}),
		NodeCache:   cache,
		Policy:      policy,
	}
}

// Connect produces a live backend connection for key, reusing a pooled
// entry when one exists. presetNode, when non-nil, is the node info
// already resolved by authentication (console-redirect or the Local
// auth-backend variant) and is used in place of a wake_compute call —
// step 1 of spec §4.G. creds, mirroring the Rust original's
// backend: Cached<ComputeCredentials> passed into connect_to_compute,
// is forwarded to the mechanism so a freshly dialed connection can
// present the derived credential material to the real backend; a
// pooled hit skips this entirely since that connection authenticated
// at Install time.
func (c *Controller[C]) Connect(ctx context.Context, endpoint string, key domain.ConnInfo, presetNode *domain.NodeInfo, creds domain.ComputeCredentials) (*computepool.CheckedOut[C], error) {
	if co, ok := c.Pool.Get(key); ok {
		return co, nil
	}

	var lastErr error
	var result *computepool.CheckedOut[C]
	forceWake := false

	err := retry.Do(ctx, c.Policy.ConnectBackoff, func(ctx context.Context) error {
		node, err := c.resolveNode(ctx, endpoint, presetNode, forceWake)
		if err != nil {
			lastErr = err
			return err // resolveNode already retried wake_compute per WakeBackoff
		}

		co, connErr := c.Mechanism.ConnectOnce(ctx, node, key, creds, c.Policy.ConnectAttemptTimeout)
		if connErr == nil {
			lastErr = nil
			result = co
			return nil
		}

		lastErr = connErr
		classified, ok := connErr.(proxyerr.Classified)
		if !ok || !classified.CouldRetry() {
			return connErr
		}
		if classified.ShouldRetryWakeCompute() {
			forceWake = true
			if presetNode == nil {
				c.NodeCache.Remove(endpoint)
			}
		}
		return retry.RetryableError(connErr)
	})

	if err != nil {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return result, nil
}

// resolveNode implements spec §4.G step 1: use the preset node info
// when authentication already supplied one, otherwise serve from the
// cache unless forceWake requires a fresh wake_compute call.
func (c *Controller[C]) resolveNode(ctx context.Context, endpoint string, presetNode *domain.NodeInfo, forceWake bool) (domain.NodeInfo, error) {
	if presetNode != nil {
		return *presetNode, nil
	}

	if !forceWake {
		if cached, ok := c.NodeCache.Get(endpoint); ok {
			return cached, nil
		}
	}

	var node domain.NodeInfo
	err := retry.Do(ctx, c.Policy.WakeBackoff, func(ctx context.Context) error {
		result, err := c.Breaker.Execute(func() (interface{}, error) {
			return c.WakeCompute.WakeCompute(ctx, endpoint)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return err // breaker is rejecting outright; retrying won't help until it half-opens
			}
			return retry.RetryableError(err)
		}
		node = result.(domain.NodeInfo)
		return nil
	})
	if err != nil {
		return domain.NodeInfo{}, proxyerr.NewWakeComputeError(err, false)
	}
	c.NodeCache.Add(endpoint, node)
	return node, nil
}
