// Package consoleauth implements the console-redirect rendezvous: park
// the client on a freshly-minted session id, show them a link, and
// await the control plane's out-of-band callback carrying the resolved
// backend. Grounded on the teacher's internal/proxy.PostgresHandler for
// the on-wire mechanics, generalized from the teacher's hand-rolled
// framing to github.com/jackc/pgx/v5/pgproto3 — the wire-codec
// collaborator this module treats as external.
package consoleauth

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/proxyerr"
	"github.com/outpostdb/outpost/internal/sessionid"
	"github.com/outpostdb/outpost/internal/waiterreg"
)

// Telemetry receives the identifying fields the authenticator resolves,
// purely for observability. Metrics/tracing wiring lives outside this
// module's scope (spec treats it as an external collaborator); nil is
// a valid Telemetry and every method is a no-op in that case.
type Telemetry interface {
	SetAuthMethod(method string)
	SetDBName(name string)
	SetUser(name string)
	SetAux(aux domain.MetricsAuxInfo)
}

type noopTelemetry struct{}

func (noopTelemetry) SetAuthMethod(string)             {}
func (noopTelemetry) SetDBName(string)                 {}
func (noopTelemetry) SetUser(string)                   {}
func (noopTelemetry) SetAux(domain.MetricsAuxInfo)     {}

// defaultMaxRegisterAttempts resolves the spec's open question: the
// waiter-registration retry loop has no stated upper bound, but an
// unbounded loop is not something we are willing to ship. Eight
// attempts against a healthy registry fails with a probability far
// below any other source of unreliability in the system.
const defaultMaxRegisterAttempts = 8

// Authenticator drives the console-redirect handshake described in
// spec §4.C.
type Authenticator struct {
	Registry *waiterreg.Registry

	// ConsoleURI is the base URL the session id is appended to, e.g.
	// "https://console.example.com/psql_session/".
	ConsoleURI string

	// ConfirmationTimeout bounds the wait for the control plane's
	// callback (webauth_confirmation_timeout).
	ConfirmationTimeout time.Duration

	// IPAllowlistCheckEnabled gates the allow-list enforcement in step 5.
	IPAllowlistCheckEnabled bool

	// MaxRegisterAttempts caps the remint loop in step 2. Zero selects
	// defaultMaxRegisterAttempts.
	MaxRegisterAttempts int
}

func (a *Authenticator) maxRegisterAttempts() int {
	if a.MaxRegisterAttempts > 0 {
		return a.MaxRegisterAttempts
	}
	return defaultMaxRegisterAttempts
}

// Authenticate runs the full console-redirect protocol against be (an
// already SSL-negotiated, startup-message-consumed backend stream) and
// peer (the client's address, for the allow-list check). tel may be
// nil.
func (a *Authenticator) Authenticate(ctx context.Context, be *pgproto3.Backend, peer netip.Addr, tel Telemetry) (domain.NodeInfo, error) {
	if tel == nil {
		tel = noopTelemetry{}
	}

	// Step 1.
	tel.SetAuthMethod("web")

	// Step 2: mint + register, reminting on collision.
	id, waiter, err := a.registerWithRetry()
	if err != nil {
		return domain.NodeInfo{}, err
	}

	// Step 3: greeting, unflushed AuthenticationOk + ParameterStatus,
	// flushed NoticeResponse.
	greeting := helloMessage(a.ConsoleURI, id)
	be.Send(&pgproto3.AuthenticationOk{})
	be.Send(&pgproto3.ParameterStatus{Name: "client_encoding", Value: "UTF8"})
	be.Send(&pgproto3.NoticeResponse{Severity: "NOTICE", Message: greeting})
	if err := be.Flush(); err != nil {
		return domain.NodeInfo{}, proxyerr.NewWaiterWaitError(fmt.Errorf("flushing greeting: %w", err))
	}

	// Step 4: await the callback, bounded by ConfirmationTimeout.
	waitCtx, cancel := context.WithTimeout(ctx, a.ConfirmationTimeout)
	defer cancel()
	dbInfo, err := waiter.Wait(waitCtx)
	if err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			return domain.NodeInfo{}, proxyerr.NewConfirmationTimeoutError(a.ConfirmationTimeout.String())
		}
		return domain.NodeInfo{}, proxyerr.NewWaiterWaitError(err)
	}

	// Step 5: allow-list check.
	if a.IPAllowlistCheckEnabled && len(dbInfo.AllowedIPs) > 0 {
		if !peerAllowed(peer, dbInfo.AllowedIPs) {
			return domain.NodeInfo{}, proxyerr.NewIPAddressNotAllowedError(peer.String())
		}
	}

	// Step 6: unflushed, flushed downstream by the connect path.
	be.Send(&pgproto3.NoticeResponse{Severity: "NOTICE", Message: "Connecting to database."})

	// Steps 7-9: build a self-contained NodeInfo from the control
	// plane's answer, never from the client's own startup message.
	node := domain.NodeInfo{
		Host:                   dbInfo.Host,
		Port:                   dbInfo.Port,
		DBName:                 dbInfo.DBName,
		User:                   dbInfo.User,
		Password:               dbInfo.Password,
		Aux:                    dbInfo.Aux,
		AllowSelfSignedCompute: false,
		// Step 8: the "--" SNI heuristic, preserved byte-for-byte per
		// the open design question — remove only when the downstream
		// SNI proxy is universal.
		RequireTLS: containsDoubleDash(dbInfo.Host),
	}

	tel.SetDBName(node.DBName)
	tel.SetUser(node.User)
	tel.SetAux(node.Aux)

	return node, nil
}

func (a *Authenticator) registerWithRetry() (domain.SessionID, *waiterreg.Waiter, error) {
	var lastErr error
	for attempt := 0; attempt < a.maxRegisterAttempts(); attempt++ {
		id, err := sessionid.New()
		if err != nil {
			return "", nil, proxyerr.NewWaiterRegisterError(err)
		}
		sid := domain.SessionID(id)
		w, err := a.Registry.Register(sid)
		if err == nil {
			return sid, w, nil
		}
		lastErr = err
	}
	return "", nil, proxyerr.NewWaiterRegisterError(fmt.Errorf("%d consecutive collisions: %w", a.maxRegisterAttempts(), lastErr))
}

func helloMessage(redirectURI, sessionID string) string {
	return fmt.Sprintf("Welcome to Neon!\nAuthenticate by visiting:\n    %s%s\n\n", redirectURI, sessionID)
}

func containsDoubleDash(host string) bool {
	for i := 0; i+1 < len(host); i++ {
		if host[i] == '-' && host[i+1] == '-' {
			return true
		}
	}
	return false
}

func peerAllowed(peer netip.Addr, allowed []netip.Prefix) bool {
	for _, p := range allowed {
		if p.Contains(peer) {
			return true
		}
	}
	return false
}
