// Package proxyerr is the error taxonomy shared by every component:
// what to tell the client, what bucket to report it under, and whether
// the retry/wake controller should try again.
package proxyerr

import "fmt"

// ReportableKind buckets an error for metrics/alerting, mirroring the
// four-way split the control plane's own error reporting uses.
type ReportableKind int

const (
	KindClientDisconnect ReportableKind = iota
	KindUser
	KindService
	KindCompute
)

func (k ReportableKind) String() string {
	switch k {
	case KindClientDisconnect:
		return "client_disconnect"
	case KindUser:
		return "user"
	case KindService:
		return "service"
	case KindCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// Classified is implemented by every error type the core can return.
type Classified interface {
	error
	Kind() ReportableKind
	ClientMessage() string
	CouldRetry() bool
	ShouldRetryWakeCompute() bool
}

// base supplies the four accessors so each concrete error type need
// only fill in the fields that differ.
type base struct {
	kind           ReportableKind
	clientMsg      string
	couldRetry     bool
	retryWake      bool
	wrapped        error
	wrappedContext string
}

func (b base) Kind() ReportableKind        { return b.kind }
func (b base) ClientMessage() string       { return b.clientMsg }
func (b base) CouldRetry() bool            { return b.couldRetry }
func (b base) ShouldRetryWakeCompute() bool { return b.retryWake }

func (b base) Error() string {
	if b.wrapped != nil {
		return fmt.Sprintf("%s: %v", b.wrappedContext, b.wrapped)
	}
	return b.wrappedContext
}

func (b base) Unwrap() error { return b.wrapped }

// WaiterRegisterError is returned when a minted session id collides
// with one already registered in the waiter registry.
type WaiterRegisterError struct{ base }

func NewWaiterRegisterError(err error) *WaiterRegisterError {
	return &WaiterRegisterError{base{
		kind: KindService, clientMsg: "Internal error",
		couldRetry: false, retryWake: false,
		wrapped: err, wrappedContext: "registering waiter",
	}}
}

// WaiterWaitError is returned when the console-redirect handshake fails
// before a resolution arrives for other reasons than the confirmation
// timeout: the greeting could not be flushed, the control plane
// delivered an error, or the wait was cancelled.
type WaiterWaitError struct{ base }

func NewWaiterWaitError(err error) *WaiterWaitError {
	return &WaiterWaitError{base{
		kind: KindService, clientMsg: "Internal error",
		couldRetry: false, retryWake: false,
		wrapped: err, wrappedContext: "waiting for console reply",
	}}
}

// ConfirmationTimeoutError is returned when webauth_confirmation_timeout
// elapses before the control plane replies.
type ConfirmationTimeoutError struct{ base }

func NewConfirmationTimeoutError(timeoutDesc string) *ConfirmationTimeoutError {
	return &ConfirmationTimeoutError{base{
		kind:           KindUser,
		clientMsg:      fmt.Sprintf("timed out waiting for authentication: %s", timeoutDesc),
		couldRetry:     false,
		retryWake:      false,
		wrappedContext: "confirmation timeout after " + timeoutDesc,
	}}
}

// IPAddressNotAllowedError is returned when a peer address fails the
// allow-list check for its endpoint.
type IPAddressNotAllowedError struct{ base }

func NewIPAddressNotAllowedError(addr string) *IPAddressNotAllowedError {
	return &IPAddressNotAllowedError{base{
		kind:           KindUser,
		clientMsg:      "Your IP address is not allowed to access this endpoint",
		couldRetry:     false,
		retryWake:      false,
		wrappedContext: "ip address not allowed: " + addr,
	}}
}

// AuthFailedError covers any credential check failing (wrong password,
// bad SCRAM proof, unverifiable JWT). The reason is logged, not echoed
// to the client.
type AuthFailedError struct{ base }

func NewAuthFailedError(user string, reason error) *AuthFailedError {
	return &AuthFailedError{base{
		kind:           KindUser,
		clientMsg:      fmt.Sprintf("password authentication failed for user %q", user),
		couldRetry:     false,
		retryWake:      false,
		wrapped:        reason,
		wrappedContext: "auth failed for " + user,
	}}
}

// TooManyConnectionsError is returned when the endpoint-level connection
// rate limiter rejects a new attempt.
type TooManyConnectionsError struct{ base }

func NewTooManyConnectionsError() *TooManyConnectionsError {
	return &TooManyConnectionsError{base{
		kind:           KindUser,
		clientMsg:      "Connection rate limit exceeded for this endpoint",
		couldRetry:     false,
		retryWake:      false,
		wrappedContext: "too many connections",
	}}
}

// AuthAttemptRateLimitedError is returned when the per-endpoint
// auth-attempt limiter (tighter than the connection limiter, since a
// password guesser sends many attempts per connection) rejects a try.
type AuthAttemptRateLimitedError struct{ base }

func NewAuthAttemptRateLimitedError() *AuthAttemptRateLimitedError {
	return &AuthAttemptRateLimitedError{base{
		kind:           KindUser,
		clientMsg:      "Too many authentication attempts for this endpoint, please wait and retry",
		couldRetry:     false,
		retryWake:      false,
		wrappedContext: "auth attempt rate limited",
	}}
}

// PermitAcquireFailedError is returned when a per-host connect permit
// could not be acquired before its deadline.
type PermitAcquireFailedError struct{ base }

func NewPermitAcquireFailedError(err error) *PermitAcquireFailedError {
	return &PermitAcquireFailedError{base{
		kind:           KindService,
		clientMsg:      "Failed to acquire permit to connect to the database",
		couldRetry:     false,
		retryWake:      false,
		wrapped:        err,
		wrappedContext: "acquiring connect permit",
	}}
}

// PostgresConnectError wraps a failure from the native Postgres connect
// mechanism. CouldRetry/ShouldRetryWakeCompute are set by the caller
// based on the underlying pgconn error classification, since only the
// connect mechanism can inspect it (e.g. invalid_password vs
// connection_refused behave differently).
type PostgresConnectError struct {
	base
}

func NewPostgresConnectError(err error, couldRetry, retryWake bool) *PostgresConnectError {
	return &PostgresConnectError{base{
		kind:           KindCompute,
		clientMsg:      "Failed to connect to the database",
		couldRetry:     couldRetry,
		retryWake:      retryWake,
		wrapped:        err,
		wrappedContext: "connecting to compute",
	}}
}

// HTTPTunnelError wraps a failure establishing or using the HTTP/2
// local-proxy tunnel.
type HTTPTunnelError struct{ base }

func NewHTTPTunnelError(err error) *HTTPTunnelError {
	return &HTTPTunnelError{base{
		kind:           KindCompute,
		clientMsg:      "Failed to connect to the database",
		couldRetry:     false,
		retryWake:      true,
		wrapped:        err,
		wrappedContext: "connecting over http2 tunnel",
	}}
}

// ConnectionClosedAbruptlyError is returned when a pooled entry's
// driver task observes the underlying connection close without a
// clean shutdown.
type ConnectionClosedAbruptlyError struct{ base }

func NewConnectionClosedAbruptlyError(err error) *ConnectionClosedAbruptlyError {
	return &ConnectionClosedAbruptlyError{base{
		kind:           KindCompute,
		clientMsg:      "Connection closed unexpectedly",
		couldRetry:     false,
		retryWake:      true,
		wrapped:        err,
		wrappedContext: "connection closed abruptly",
	}}
}

// JWTPayloadError is returned when a presented token fails structural
// or signature validation.
type JWTPayloadError struct{ base }

func NewJWTPayloadError(err error) *JWTPayloadError {
	return &JWTPayloadError{base{
		kind:           KindUser,
		clientMsg:      "invalid JWT",
		couldRetry:     false,
		retryWake:      false,
		wrapped:        err,
		wrappedContext: "jwt payload",
	}}
}

// WakeComputeError wraps a failure from the control plane's wake_compute
// RPC (including the circuit breaker tripping).
type WakeComputeError struct{ base }

func NewWakeComputeError(err error, couldRetry bool) *WakeComputeError {
	return &WakeComputeError{base{
		kind:           KindService,
		clientMsg:      "Failed to wake the database",
		couldRetry:     couldRetry,
		retryWake:      false,
		wrapped:        err,
		wrappedContext: "wake_compute",
	}}
}
