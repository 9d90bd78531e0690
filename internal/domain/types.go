// Package domain holds the shared value types passed between the
// authentication and compute-dispatch components. None of these types
// owns I/O; they are plain data, the same way the teacher keeps its
// tenant/config structs free of behavior.
package domain

import "net/netip"

// SessionID identifies a console-redirect rendezvous in flight. It is
// the value embedded in the link shown to the user and the key the
// control plane uses to deliver its reply.
type SessionID string

// ScramSecret is a cached SCRAM-SHA-256 verifier for a role, as handed
// back by a control plane's role-secret lookup. None of the fields are
// recoverable into the original password.
type ScramSecret struct {
	Iterations int
	Salt       []byte
	StoredKey  []byte
	ServerKey  []byte
}

// DatabaseInfo is what the control plane hands back once a console
// rendezvous resolves (or once a password/token auth resolves a compute
// node): where to connect, as whom, and whether that address came with
// a password already (console-redirect path) or needs SCRAM/JWT
// verification performed locally (serverless path).
type DatabaseInfo struct {
	Host       string
	Port       uint16
	DBName     string
	User       string
	Password   string // present only on the console-redirect path
	AllowedIPs []netip.Prefix
	Aux        MetricsAuxInfo
}

// MetricsAuxInfo carries the project/branch/endpoint identifiers that
// get attached to a session purely for downstream observability; no
// component here branches on its contents.
type MetricsAuxInfo struct {
	ProjectID  string
	BranchID   string
	EndpointID string
}

// NodeInfo is the resolved address of a compute node plus the
// connection parameters needed to reach it, handed from authentication
// to the connect mechanisms.
type NodeInfo struct {
	Host                   string
	Port                   uint16
	DBName                 string
	User                   string
	Password               string
	RequireTLS             bool // the "--" SNI heuristic result
	Aux                    MetricsAuxInfo
	AllowSelfSignedCompute bool
}

// ComputeUserInfo identifies who is asking to connect, from the HTTP
// serverless path (spec §4.D): an endpoint id, not yet a resolved host.
type ComputeUserInfo struct {
	Endpoint string
	User     string
	DBName   string
}

// CredentialKind distinguishes the two ways ComputeCredentials can be
// populated: SCRAM-derived connection keys, or none (the console-redirect
// path already has a live NodeInfo with a password, so there is nothing
// further to carry).
type CredentialKind int

const (
	CredentialKindNone CredentialKind = iota
	CredentialKindScramKeys
)

// ComputeCredentials is the outcome of Component D: either nothing
// further is needed (None) or a set of SCRAM keys the connect mechanism
// must present to the real backend in place of a plaintext password.
type ComputeCredentials struct {
	Info ComputeUserInfo
	Kind CredentialKind
	Keys *ScramSecret
}

// ConnInfo is the pool lookup key: which user, against which database,
// on which node. Two requests that resolve to the same ConnInfo may
// share a pooled connection.
type ConnInfo struct {
	Host   string
	Port   uint16
	DBName string
	User   string
}
