// Command outpost is the proxy core's entry point: it loads
// configuration, wires components A through H together, and serves the
// native Postgres listener, the HTTP-fronted serverless tunnel, and the
// admin/metrics surface until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/outpostdb/outpost/internal/api"
	"github.com/outpostdb/outpost/internal/computepool"
	"github.com/outpostdb/outpost/internal/config"
	"github.com/outpostdb/outpost/internal/connectmech"
	"github.com/outpostdb/outpost/internal/consoleauth"
	"github.com/outpostdb/outpost/internal/controlplaneclient"
	"github.com/outpostdb/outpost/internal/credentials"
	"github.com/outpostdb/outpost/internal/dispatch"
	"github.com/outpostdb/outpost/internal/localsetup"
	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/proxy"
	"github.com/outpostdb/outpost/internal/waiterreg"
)

func main() {
	configPath := flag.String("config", "configs/outpost.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("outpost starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	log.Printf("configuration loaded from %s", *configPath)

	m := metrics.New()
	waiters := waiterreg.New()
	cp := controlplaneclient.New(cfg.Credentials.ControlPlaneURI)

	// localKey is only consumed by a Local-backend deployment's compute
	// nodes (component H); a control-plane-backed deployment never
	// calls Init. Generated unconditionally so it's ready either way.
	localKey, err := localsetup.NewKey()
	if err != nil {
		log.Fatalf("failed to generate local-setup key: %v", err)
	}
	_ = localKey

	nativePool := computepool.New[*connectmech.NativeConn](cfg.Pool.IdleTimeout, cfg.Pool.ReapInterval)
	http2Pool := computepool.New[*connectmech.HTTP2Conn](cfg.Pool.IdleTimeout, cfg.Pool.ReapInterval)

	permits := connectmech.NewPermitLimiter(cfg.Pool.PerHostLimit)
	nativeMech := &connectmech.NativeMechanism{Permits: permits, Pool: nativePool}
	http2Mech := &connectmech.HTTP2Mechanism{Permits: permits, Pool: http2Pool}

	policy := retryPolicy(cfg.Retry)
	nativeController := dispatch.NewController[*connectmech.NativeConn](nativeMech, nativePool, cp, policy)
	http2Controller := dispatch.NewController[*connectmech.HTTP2Conn](http2Mech, http2Pool, cp, policy)

	authenticator := &consoleauth.Authenticator{
		Registry:                waiters,
		ConsoleURI:              cfg.ConsoleAuth.ConsoleURI,
		ConfirmationTimeout:     cfg.ConsoleAuth.WebauthConfirmationTimeout,
		IPAllowlistCheckEnabled: cfg.ConsoleAuth.IPAllowlistCheckEnabled,
		MaxRegisterAttempts:     cfg.ConsoleAuth.MaxRegisterAttempts,
	}

	scramWorkers := credentials.NewScramPool(cfg.Credentials.ThreadPoolWorkers, cfg.Credentials.ThreadPoolQueueDepth)
	defer scramWorkers.Close()

	passwords := &credentials.PasswordAuthenticator{
		AllowedIPs:   cp,
		RoleSecrets:  cp,
		Limiters:     credentials.NewRateLimiters(cfg.Credentials.EndpointConnectionRPS, cfg.Credentials.EndpointConnectionBurst, cfg.Credentials.EndpointAuthRPS, cfg.Credentials.EndpointAuthBurst),
		ScramWorkers: scramWorkers,
	}

	tokenBackend := credentials.BackendControlPlane
	if cfg.Credentials.LocalAuthBackend {
		tokenBackend = credentials.BackendLocal
	}
	tokens := &credentials.TokenAuthenticator{
		Backend:     tokenBackend,
		JWKS:        credentials.NewJWKSCache(cp, cfg.Credentials.JWKSCacheCapacity, cfg.Credentials.JWKSCacheTTL),
		StaticRules: credentials.NewStaticRuleSet(nil),
	}

	nativeSession := &proxy.NativeSession{Authenticator: authenticator, Controller: nativeController}
	serverlessSession := &proxy.ServerlessSession{Passwords: passwords, Tokens: tokens, Controller: http2Controller}

	proxyServer := proxy.NewServer(nativeSession, cfg.Listen)
	if err := proxyServer.ListenPostgres(cfg.Listen.PostgresPort); err != nil {
		log.Fatalf("failed to start postgres listener: %v", err)
	}

	serverlessHandler := &proxy.ServerlessHandler{Session: serverlessSession}
	serverlessServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Listen.ServerlessPort),
		Handler: serverlessHandler,
	}
	go func() {
		if err := serverlessServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serverless listener failed: %v", err)
		}
	}()

	apiServer := api.NewServer(nativePool, http2Pool, m, waiters, cfg.Listen)
	if err := apiServer.Start(cfg.Listen.APIPort); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}

	log.Printf("outpost ready - postgres:%d serverless:%d api:%d",
		cfg.Listen.PostgresPort, cfg.Listen.ServerlessPort, cfg.Listen.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %s, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	apiServer.Stop()
	_ = serverlessServer.Shutdown(shutdownCtx)
	proxyServer.Stop()
	nativePool.Close()
	http2Pool.Close()

	log.Printf("outpost stopped")
}

func retryPolicy(cfg config.RetryConfig) dispatch.Policy {
	wakeBackoff, err := retry.NewConstant(cfg.WakeComputeRetryConfig.Interval)
	if err != nil {
		log.Fatalf("invalid wake_compute_retry_config: %v", err)
	}
	connectBackoff, err := retry.NewConstant(cfg.ConnectToComputeRetryConfig.Interval)
	if err != nil {
		log.Fatalf("invalid connect_to_compute_retry_config: %v", err)
	}

	return dispatch.Policy{
		WakeBackoff:           retry.WithMaxRetries(cfg.WakeComputeRetryConfig.MaxRetries, wakeBackoff),
		ConnectBackoff:        retry.WithMaxRetries(cfg.ConnectToComputeRetryConfig.MaxRetries, connectBackoff),
		ConnectAttemptTimeout: cfg.ConnectAttemptTimeout,
	}
}
