// Package proxy wires the authentication components (A-D) and the
// compute-dispatch components (E-G) into the two entry points a client
// actually connects through: a native Postgres listener driving the
// console-redirect handshake, and a serverless dispatcher driving
// password/token credential checks ahead of an HTTP/2 tunnel. Query
// routing, SQL parsing, and anything past handing the client a live
// backend connection are out of scope; the relay step below is a plain
// byte copy, not a protocol-aware proxy.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/outpostdb/outpost/internal/connectmech"
	"github.com/outpostdb/outpost/internal/consoleauth"
	"github.com/outpostdb/outpost/internal/credentials"
	"github.com/outpostdb/outpost/internal/dispatch"
	"github.com/outpostdb/outpost/internal/domain"
)

// NativeSession drives one client connection through the
// console-redirect handshake (component C) and the retry/wake
// controller (component G) to a live backend connection on the native
// pool, then relays bytes until either side closes.
type NativeSession struct {
	Authenticator *consoleauth.Authenticator
	Controller    *dispatch.Controller[*connectmech.NativeConn]
	Log           *slog.Logger
}

func (s *NativeSession) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Handle consumes the startup message, runs the console-redirect
// handshake, dispatches to a backend, and relays until the session
// ends.
func (s *NativeSession) Handle(ctx context.Context, conn net.Conn) error {
	peer, err := peerAddrFromHost(conn.RemoteAddr().String())
	if err != nil {
		return fmt.Errorf("resolving peer address: %w", err)
	}

	be := pgproto3.NewBackend(conn, conn)
	if _, err := be.ReceiveStartupMessage(); err != nil {
		return fmt.Errorf("reading startup message: %w", err)
	}

	node, err := s.Authenticator.Authenticate(ctx, be, peer, nil)
	if err != nil {
		s.logger().Warn("console-redirect auth failed", slog.String("err", err.Error()), slog.String("peer", peer.String()))
		sendFatal(be, "28000", classifiedMessage(err))
		return fmt.Errorf("console-redirect auth: %w", err)
	}

	key := domain.ConnInfo{Host: node.Host, Port: node.Port, DBName: node.DBName, User: node.User}
	co, err := s.Controller.Connect(ctx, node.Aux.EndpointID, key, &node, domain.ComputeCredentials{})
	if err != nil {
		s.logger().Error("compute dispatch failed", slog.String("err", err.Error()), slog.String("endpoint", node.Aux.EndpointID))
		sendFatal(be, "08006", classifiedMessage(err))
		return fmt.Errorf("connecting to compute: %w", err)
	}

	if err := be.Flush(); err != nil {
		co.Release(false)
		return fmt.Errorf("flushing pre-relay notices: %w", err)
	}

	backendConn := co.Conn().Conn()
	err = relay(ctx, conn, backendConn)
	// The protocol state downstream of a raw relay is unknown, so the
	// entry is never returned to the idle set — the native connect
	// mechanism installs a fresh one for the next session instead.
	co.Release(false)
	return err
}

// ServerlessSession drives the HTTP-fronted credential-then-dispatch
// path (component D into component G over the HTTP/2 mechanism): a
// caller that has already terminated TLS and parsed its own request
// supplies the presented password or token here.
type ServerlessSession struct {
	Passwords  *credentials.PasswordAuthenticator
	Tokens     *credentials.TokenAuthenticator
	Controller *dispatch.Controller[*connectmech.HTTP2Conn]
}

// ConnectWithPassword runs component D's password path then dispatches
// to a live HTTP/2 tunnel connection.
func (s *ServerlessSession) ConnectWithPassword(ctx context.Context, peer netip.Addr, user domain.ComputeUserInfo, password string) (*dispatchResult, error) {
	creds, err := s.Passwords.Authenticate(ctx, peer, user, password)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, user, creds)
}

// ConnectWithToken runs component D's token path then dispatches to a
// live HTTP/2 tunnel connection.
func (s *ServerlessSession) ConnectWithToken(ctx context.Context, user domain.ComputeUserInfo, token string) (*dispatchResult, error) {
	creds, err := s.Tokens.Authenticate(ctx, user, token)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, user, creds)
}

type dispatchResult struct {
	Conn    *connectmech.HTTP2Conn
	release func(reusable bool)
}

// Release must be called exactly once when the tunnel use is finished.
func (r *dispatchResult) Release(reusable bool) { r.release(reusable) }

func (s *ServerlessSession) dispatch(ctx context.Context, user domain.ComputeUserInfo, creds domain.ComputeCredentials) (*dispatchResult, error) {
	key := domain.ConnInfo{Host: user.Endpoint, DBName: user.DBName, User: user.User}
	co, err := s.Controller.Connect(ctx, user.Endpoint, key, nil, creds)
	if err != nil {
		return nil, err
	}
	return &dispatchResult{Conn: co.Conn(), release: co.Release}, nil
}

func peerAddrFromHost(hostport string) (netip.Addr, error) {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr, nil
}

func sendFatal(be *pgproto3.Backend, code, message string) {
	be.Send(&pgproto3.ErrorResponse{
		Severity: "FATAL",
		Code:     code,
		Message:  message,
	})
	_ = be.Flush()
}

func classifiedMessage(err error) string {
	type classified interface{ ClientMessage() string }
	if c, ok := err.(classified); ok {
		return c.ClientMessage()
	}
	return "internal error"
}
