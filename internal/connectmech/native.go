package connectmech

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/outpostdb/outpost/internal/computepool"
	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/proxyerr"
)

// NativeConn adapts *pgconn.PgConn to computepool.Closer (whose Close
// takes no context) and computepool.Pinger (a cheap liveness check the
// reaper can poll without round-tripping to the backend).
type NativeConn struct {
	*pgconn.PgConn
}

func (c *NativeConn) Close() error {
	return c.PgConn.Close(context.Background())
}

func (c *NativeConn) Ping() error {
	if c.PgConn.IsClosed() {
		return errors.New("connectmech: native connection is closed")
	}
	return nil
}

// NativeMechanism performs a TCP+Postgres connect and installs the
// result into the native pool, mirroring the teacher's
// pool.TenantPool.dial + authenticatePG, generalized to a single real
// backend per node.Host:node.Port key instead of one dial per tenant.
type NativeMechanism struct {
	Permits *PermitLimiter
	Pool    *computepool.Pool[*NativeConn]
}

// ConnectOnce performs a single connect attempt under a per-host
// permit, overriding user/dbname/timeout from key, exactly as spec
// §4.F describes. The permit is released with the attempt's outcome
// before this function returns, whatever the result.
// ConnectOnce dials the real node directly. creds is unused here: the
// console-redirect path this mechanism serves never goes through
// internal/credentials, so node.Password (set by the console-redirect
// authenticator itself) is already the right thing to present.
func (m *NativeMechanism) ConnectOnce(ctx context.Context, node domain.NodeInfo, key domain.ConnInfo, creds domain.ComputeCredentials, timeout time.Duration) (co *computepool.CheckedOut[*NativeConn], err error) {
	permit, err := m.Permits.Acquire(ctx, node.Host)
	if err != nil {
		return nil, proxyerr.NewPermitAcquireFailedError(err)
	}
	defer func() { permit.ReleaseResult(err) }()

	// pgconn.ConnectConfig only accepts a Config built by ParseConfig.
	cfg, cfgErr := pgconn.ParseConfig("sslmode=disable")
	if cfgErr != nil {
		err = proxyerr.NewPostgresConnectError(cfgErr, false, false)
		return nil, err
	}
	cfg.Host = node.Host
	cfg.Port = key.Port
	cfg.Database = key.DBName
	cfg.User = key.User
	cfg.Password = node.Password
	cfg.ConnectTimeout = timeout
	if !node.RequireTLS {
		cfg.TLSConfig = nil
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pc, connErr := pgconn.ConnectConfig(attemptCtx, cfg)
	if connErr != nil {
		err = classifyPostgresConnectError(connErr)
		return nil, err
	}

	wrapped := &NativeConn{PgConn: pc}
	co = m.Pool.Install(key, wrapped, node.Aux)
	return co, nil
}

// classifyPostgresConnectError maps a pgconn error onto the retry
// predicates in spec §7's PostgresConnect row ("delegated"/"delegated"):
// network-shaped failures (anything that isn't a well-formed Postgres
// error response from the backend) are treated as transient and worth
// a fresh wake; a clean backend-issued error (wrong password, database
// does not exist, and the like) is not.
func classifyPostgresConnectError(err error) *proxyerr.PostgresConnectError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return proxyerr.NewPostgresConnectError(err, false, false)
	}
	return proxyerr.NewPostgresConnectError(err, true, true)
}
