// Package config loads the process's immutable startup configuration.
// There is no reconfiguration pathway: every field here is fixed for
// the lifetime of the process, matching the design note that nothing
// downstream may assume a value can change out from under it.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the proxy core.
type Config struct {
	Listen      ListenConfig      `yaml:"listen"`
	ConsoleAuth ConsoleAuthConfig `yaml:"console_auth"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Pool        PoolConfig        `yaml:"pool"`
	Retry       RetryConfig       `yaml:"retry"`
}

// ListenConfig defines the ports and bind addresses the core listens on.
type ListenConfig struct {
	PostgresPort   int    `yaml:"postgres_port"`
	ServerlessPort int    `yaml:"serverless_port"`
	APIPort        int    `yaml:"api_port"`
	APIBind        string `yaml:"api_bind"`
	APIKey         string `yaml:"api_key"`
	TLSCert        string `yaml:"tls_cert"`
	TLSKey         string `yaml:"tls_key"`
}

// TLSEnabled returns true if both TLS cert and key paths are configured.
func (lc ListenConfig) TLSEnabled() bool {
	return lc.TLSCert != "" && lc.TLSKey != ""
}

// ConsoleAuthConfig configures component C, the console-redirect
// authenticator.
type ConsoleAuthConfig struct {
	ConsoleURI                string        `yaml:"console_uri"`
	WebauthConfirmationTimeout time.Duration `yaml:"webauth_confirmation_timeout"`
	IPAllowlistCheckEnabled    bool          `yaml:"ip_allowlist_check_enabled"`
	MaxRegisterAttempts        int           `yaml:"max_register_attempts"`
}

// CredentialsConfig configures component D.
type CredentialsConfig struct {
	EndpointConnectionRPS   int    `yaml:"endpoint_connection_rps"`
	EndpointConnectionBurst int    `yaml:"endpoint_connection_burst"`
	EndpointAuthRPS         int    `yaml:"endpoint_auth_rps"`
	EndpointAuthBurst       int    `yaml:"endpoint_auth_burst"`
	ThreadPoolWorkers       int    `yaml:"thread_pool_workers"`
	ThreadPoolQueueDepth    int    `yaml:"thread_pool_queue_depth"`
	ControlPlaneURI         string `yaml:"control_plane_uri"`
	JWKSCacheCapacity       int    `yaml:"jwks_cache_capacity"`
	JWKSCacheTTL            time.Duration `yaml:"jwks_cache_ttl"`
	// LocalAuthBackend selects credentials.BackendLocal token
	// validation (a static rule set) over the default control-plane
	// JWKS path, matching spec §4.D's Local auth-backend variant.
	LocalAuthBackend bool `yaml:"local_auth_backend"`
}

// PoolConfig configures component E, the connection-pool façade.
type PoolConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	ReapInterval  time.Duration `yaml:"reap_interval"`
	PerHostLimit  int64         `yaml:"per_host_connect_limit"`
}

// RetryConfig configures component G, the retry/wake controller.
type RetryConfig struct {
	WakeComputeRetryConfig       BackoffConfig `yaml:"wake_compute_retry_config"`
	ConnectToComputeRetryConfig  BackoffConfig `yaml:"connect_to_compute_retry_config"`
	ConnectAttemptTimeout        time.Duration `yaml:"connect_attempt_timeout"`
}

// BackoffConfig is a constant-interval, max-attempts backoff budget —
// the fields sethvargo/go-retry's NewConstant + WithMaxRetries consume.
type BackoffConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxRetries uint64        `yaml:"max_retries"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment
// variable values, the same mechanism the teacher's config loader uses.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen.PostgresPort == 0 {
		cfg.Listen.PostgresPort = 6432
	}
	if cfg.Listen.ServerlessPort == 0 {
		cfg.Listen.ServerlessPort = 4444
	}
	if cfg.Listen.APIPort == 0 {
		cfg.Listen.APIPort = 8080
	}
	if cfg.Listen.APIBind == "" {
		cfg.Listen.APIBind = "127.0.0.1"
	}
	if cfg.ConsoleAuth.WebauthConfirmationTimeout == 0 {
		cfg.ConsoleAuth.WebauthConfirmationTimeout = 2 * time.Minute
	}
	if cfg.ConsoleAuth.MaxRegisterAttempts == 0 {
		cfg.ConsoleAuth.MaxRegisterAttempts = 8
	}
	if cfg.Credentials.EndpointConnectionRPS == 0 {
		cfg.Credentials.EndpointConnectionRPS = 20
	}
	if cfg.Credentials.EndpointConnectionBurst == 0 {
		cfg.Credentials.EndpointConnectionBurst = 20
	}
	if cfg.Credentials.EndpointAuthRPS == 0 {
		cfg.Credentials.EndpointAuthRPS = 4
	}
	if cfg.Credentials.EndpointAuthBurst == 0 {
		cfg.Credentials.EndpointAuthBurst = 4
	}
	if cfg.Credentials.ThreadPoolWorkers == 0 {
		cfg.Credentials.ThreadPoolWorkers = 4
	}
	if cfg.Credentials.ThreadPoolQueueDepth == 0 {
		cfg.Credentials.ThreadPoolQueueDepth = 64
	}
	if cfg.Credentials.JWKSCacheCapacity == 0 {
		cfg.Credentials.JWKSCacheCapacity = 256
	}
	if cfg.Credentials.JWKSCacheTTL == 0 {
		cfg.Credentials.JWKSCacheTTL = 10 * time.Minute
	}
	if cfg.Pool.IdleTimeout == 0 {
		cfg.Pool.IdleTimeout = 5 * time.Minute
	}
	if cfg.Pool.ReapInterval == 0 {
		cfg.Pool.ReapInterval = 30 * time.Second
	}
	if cfg.Pool.PerHostLimit == 0 {
		cfg.Pool.PerHostLimit = 100
	}
	if cfg.Retry.WakeComputeRetryConfig.Interval == 0 {
		cfg.Retry.WakeComputeRetryConfig = BackoffConfig{Interval: 100 * time.Millisecond, MaxRetries: 5}
	}
	if cfg.Retry.ConnectToComputeRetryConfig.Interval == 0 {
		cfg.Retry.ConnectToComputeRetryConfig = BackoffConfig{Interval: 200 * time.Millisecond, MaxRetries: 3}
	}
	if cfg.Retry.ConnectAttemptTimeout == 0 {
		cfg.Retry.ConnectAttemptTimeout = 5 * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.ConsoleAuth.ConsoleURI == "" {
		return fmt.Errorf("console_auth.console_uri is required")
	}
	return nil
}
