package proxy

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/outpostdb/outpost/internal/domain"
)

var errUnparseableAuth = errors.New("proxy: missing or unparseable Authorization header")

// ServerlessHandler is the HTTP entry point for the tunnelled path: a
// plain HTTP request carrying either HTTP Basic credentials (password
// auth) or a bearer token, routed to the resolved compute node's HTTP/2
// tunnel and back. The request's own wire framing past this point is an
// external collaborator; this handler only establishes the tunnel and
// forwards the request through it.
type ServerlessHandler struct {
	Session *ServerlessSession
	Log     *slog.Logger
}

func (h *ServerlessHandler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *ServerlessHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := domain.ComputeUserInfo{
		Endpoint: r.Header.Get("X-Outpost-Endpoint"),
		User:     r.Header.Get("X-Outpost-User"),
		DBName:   r.Header.Get("X-Outpost-Database"),
	}
	if user.Endpoint == "" || user.User == "" {
		http.Error(w, "missing X-Outpost-Endpoint/X-Outpost-User headers", http.StatusBadRequest)
		return
	}

	result, err := h.authenticate(r, user)
	if err != nil {
		h.logger().Warn("serverless auth failed", slog.String("err", err.Error()), slog.String("endpoint", user.Endpoint))
		http.Error(w, classifiedMessage(err), http.StatusUnauthorized)
		return
	}

	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	presentCredentials(outReq, result.Conn.Credentials())

	resp, err := result.Conn.ClientConn().RoundTrip(outReq)
	if err != nil {
		h.logger().Error("tunnel round trip failed", slog.String("err", err.Error()), slog.String("endpoint", user.Endpoint))
		result.Release(false)
		http.Error(w, "failed to reach compute", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	result.Release(true)

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (h *ServerlessHandler) authenticate(r *http.Request, user domain.ComputeUserInfo) (*dispatchResult, error) {
	peer, err := peerAddrFromHost(r.RemoteAddr)
	if err != nil {
		return nil, err
	}

	auth := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(auth, "Basic "):
		_, password, ok := basicAuth(auth)
		if !ok {
			return nil, errUnparseableAuth
		}
		return h.Session.ConnectWithPassword(r.Context(), peer, user, password)
	case strings.HasPrefix(auth, "Bearer "):
		token := strings.TrimPrefix(auth, "Bearer ")
		return h.Session.ConnectWithToken(r.Context(), user, token)
	default:
		return nil, errUnparseableAuth
	}
}

// presentCredentials replaces the client's own Authorization header
// with one built from the credentials authentication already derived,
// so the real backend sees the proxy's verified SCRAM keys rather than
// the plaintext password the client sent. Bearer-token auth that
// resolved to CredentialKindNone (the control-plane JWKS path) leaves
// the original header untouched — the token itself is what the
// backend checks.
func presentCredentials(req *http.Request, creds domain.ComputeCredentials) {
	if creds.Kind != domain.CredentialKindScramKeys || creds.Keys == nil {
		return
	}
	raw := creds.Info.User + ":" + base64.StdEncoding.EncodeToString(creds.Keys.StoredKey)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(raw)))
}

func basicAuth(header string) (user, password string, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic "))
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
