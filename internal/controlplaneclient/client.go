// Package controlplaneclient is the thin HTTP adapter that satisfies
// internal/controlplane's interfaces against a real control plane.
// Production wiring of these interfaces is explicitly out of scope
// (spec.md §1 treats "the control-plane HTTP client" as an external
// collaborator); this adapter exists only so the binary in cmd/ has
// something concrete to run against, and is deliberately the simplest
// possible REST-over-JSON client rather than a feature-complete one.
// Built on net/http + encoding/json (stdlib): no library in the example
// pack offers a bespoke REST client that would serve this better than
// the standard library does, see DESIGN.md.
package controlplaneclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/outpostdb/outpost/internal/domain"
)

// Client calls a control plane's wake_compute, role-secret, allowed-IP,
// and JWKS endpoints over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New builds a Client with a sane request timeout.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type wakeComputeResponse struct {
	Host       string               `json:"host"`
	Port       uint16               `json:"port"`
	DBName     string               `json:"dbname"`
	User       string               `json:"user"`
	Password   string               `json:"password"`
	RequireTLS bool                 `json:"require_tls"`
	Aux        domain.MetricsAuxInfo `json:"aux"`
}

// WakeCompute implements dispatch.WakeComputeClient and
// controlplane.WakeComputeClient.
func (c *Client) WakeCompute(ctx context.Context, endpoint string) (domain.NodeInfo, error) {
	var resp wakeComputeResponse
	if err := c.postJSON(ctx, "/wake_compute", map[string]string{"endpoint": endpoint}, &resp); err != nil {
		return domain.NodeInfo{}, err
	}
	return domain.NodeInfo{
		Host:       resp.Host,
		Port:       resp.Port,
		DBName:     resp.DBName,
		User:       resp.User,
		Password:   resp.Password,
		RequireTLS: resp.RequireTLS,
		Aux:        resp.Aux,
	}, nil
}

type roleSecretResponse struct {
	Found      bool   `json:"found"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	StoredKey  []byte `json:"stored_key"`
	ServerKey  []byte `json:"server_key"`
}

// GetRoleSecret implements controlplane.RoleSecretFetcher.
func (c *Client) GetRoleSecret(ctx context.Context, endpoint, user string) (*domain.ScramSecret, error) {
	var resp roleSecretResponse
	if err := c.postJSON(ctx, "/get_role_secret", map[string]string{"endpoint": endpoint, "user": user}, &resp); err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, nil
	}
	return &domain.ScramSecret{
		Iterations: resp.Iterations,
		Salt:       resp.Salt,
		StoredKey:  resp.StoredKey,
		ServerKey:  resp.ServerKey,
	}, nil
}

type allowedIPsResponse struct {
	Host       string                `json:"host"`
	Port       uint16                `json:"port"`
	DBName     string                `json:"dbname"`
	AllowedIPs []string              `json:"allowed_ips"`
	Aux        domain.MetricsAuxInfo `json:"aux"`
}

// GetAllowedIPsAndSecret implements controlplane.AllowedIPsFetcher.
func (c *Client) GetAllowedIPsAndSecret(ctx context.Context, endpoint, user string) (domain.DatabaseInfo, error) {
	var resp allowedIPsResponse
	if err := c.postJSON(ctx, "/get_endpoint_access_control", map[string]string{"endpoint": endpoint, "user": user}, &resp); err != nil {
		return domain.DatabaseInfo{}, err
	}

	prefixes := make([]netip.Prefix, 0, len(resp.AllowedIPs))
	for _, raw := range resp.AllowedIPs {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return domain.DatabaseInfo{}, fmt.Errorf("parsing allowed IP %q: %w", raw, err)
		}
		prefixes = append(prefixes, p)
	}

	return domain.DatabaseInfo{
		Host:       resp.Host,
		Port:       resp.Port,
		DBName:     resp.DBName,
		AllowedIPs: prefixes,
		Aux:        resp.Aux,
	}, nil
}

// FetchJWKS implements controlplane.JWKSSource.
func (c *Client) FetchJWKS(ctx context.Context, endpoint string) ([]byte, error) {
	url := fmt.Sprintf("%s/get_jwks?endpoint=%s", c.BaseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks for %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("control plane returned %d fetching jwks for %s", resp.StatusCode, endpoint)
	}

	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("reading jwks response: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control plane returned %d from %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
