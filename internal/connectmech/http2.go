package connectmech

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/http2"

	"github.com/outpostdb/outpost/internal/computepool"
	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/proxyerr"
)

// HTTP2Conn adapts *http2.ClientConn to computepool.Closer/Pinger.
type HTTP2Conn struct {
	cc    *http2.ClientConn
	creds domain.ComputeCredentials
}

func (c *HTTP2Conn) Close() error { return c.cc.Close() }

func (c *HTTP2Conn) Ping() error {
	if !c.cc.CanTakeNewRequest() {
		return fmt.Errorf("connectmech: http2 connection cannot take new requests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.cc.Ping(ctx)
}

// ClientConn exposes the underlying *http2.ClientConn for issuing
// requests once checked out.
func (c *HTTP2Conn) ClientConn() *http2.ClientConn { return c.cc }

// Credentials returns the credential material this tunnel was dialed
// with, for the handler to present to the real backend in place of
// whatever the client originally sent.
func (c *HTTP2Conn) Credentials() domain.ComputeCredentials { return c.creds }

// localProxySuffix is appended to the pool key's User when installing an
// HTTP/2 tunnel connection, so tunnel entries are keyed apart from the
// caller's own ConnInfo — a detail present in the original control-plane
// source but dropped from the distilled spec prose (see SPEC_FULL.md).
const localProxySuffix = "-local-proxy"

// HTTP2Mechanism establishes an HTTP/2 tunnel to a local sub-proxy.
// Grounded on spec §4.F's keep-alive parameters (20s interval, 5s
// timeout); Go's http2.Transport exposes ReadIdleTimeout/PingTimeout as
// the closest native equivalents to hyper's keep_alive_interval/
// keep_alive_timeout (there is no separate keep-alive-while-idle flag
// to set — ReadIdleTimeout itself only fires while otherwise idle).
type HTTP2Mechanism struct {
	Permits *PermitLimiter
	Pool    *computepool.Pool[*HTTP2Conn]
	Dialer  net.Dialer
}

// ConnectOnce resolves host:port, tries every resolved address in turn
// within timeout (mirroring the original's lookup_host + per-address
// timeout loop), performs a cleartext HTTP/2 handshake, and installs
// the result into the HTTP/2 pool. creds is attached to the resulting
// HTTP2Conn so the serverless handler can present the derived
// credential material to the real backend on every request tunnelled
// over this connection, mirroring the Rust original's
// backend: Cached<ComputeCredentials> argument to connect_to_compute.
func (m *HTTP2Mechanism) ConnectOnce(ctx context.Context, node domain.NodeInfo, key domain.ConnInfo, creds domain.ComputeCredentials, timeout time.Duration) (co *computepool.CheckedOut[*HTTP2Conn], err error) {
	permit, err := m.Permits.Acquire(ctx, node.Host)
	if err != nil {
		return nil, proxyerr.NewPermitAcquireFailedError(err)
	}
	defer func() { permit.ReleaseResult(err) }()

	conn, dialErr := m.dialAny(ctx, node.Host, node.Port, timeout)
	if dialErr != nil {
		err = proxyerr.NewHTTPTunnelError(dialErr)
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	transport := &http2.Transport{
		AllowHTTP:        true,
		ReadIdleTimeout:  20 * time.Second,
		PingTimeout:      5 * time.Second,
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			return nil, fmt.Errorf("connectmech: unexpected TLS dial for cleartext http2 tunnel")
		},
	}

	cc, hsErr := transport.NewClientConn(conn)
	if hsErr != nil {
		_ = conn.Close()
		err = proxyerr.NewHTTPTunnelError(fmt.Errorf("http2 handshake: %w", hsErr))
		return nil, err
	}

	tunnelKey := key
	tunnelKey.User = key.User + localProxySuffix

	wrapped := &HTTP2Conn{cc: cc, creds: creds}
	co = m.Pool.Install(tunnelKey, wrapped, node.Aux)
	return co, nil
}

func (m *HTTP2Mechanism) dialAny(ctx context.Context, host string, port uint16, timeout time.Duration) (net.Conn, error) {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		addrs = []string{host}
	}

	var lastErr error
	for _, addr := range addrs {
		dialCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			dialCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		conn, dialErr := m.Dialer.DialContext(dialCtx, "tcp", fmt.Sprintf("%s:%d", addr, port))
		if cancel != nil {
			cancel()
		}
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
	}
	return nil, fmt.Errorf("connecting to %s:%d: %w", host, port, lastErr)
}
