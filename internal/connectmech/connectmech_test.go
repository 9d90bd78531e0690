package connectmech

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPermitLimiterBoundsPerHost(t *testing.T) {
	l := NewPermitLimiter(1)

	p1, err := l.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, "host-a"); err == nil {
		t.Fatalf("second Acquire for the same host succeeded while the first is held")
	}

	// A different host is unaffected.
	p2, err := l.Acquire(context.Background(), "host-b")
	if err != nil {
		t.Fatalf("Acquire for a different host: %v", err)
	}
	p2.Release()
	p1.Release()
}

func TestPermitReleaseIsIdempotent(t *testing.T) {
	l := NewPermitLimiter(1)
	p, err := l.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	p.Release()
	p.Release() // must not double-release the semaphore

	p2, err := l.Acquire(context.Background(), "host-a")
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	p2.Release()
}

func TestClassifyPostgresConnectErrorBackendError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "28P01", Message: "password authentication failed"}
	wrapped := fmt.Errorf("connect: %w", pgErr)

	classified := classifyPostgresConnectError(wrapped)
	if classified.CouldRetry() {
		t.Fatalf("a clean backend error must not be retried")
	}
	if classified.ShouldRetryWakeCompute() {
		t.Fatalf("a clean backend error must not force a re-wake")
	}
}

func TestClassifyPostgresConnectErrorNetworkError(t *testing.T) {
	classified := classifyPostgresConnectError(errors.New("dial tcp: connection refused"))
	if !classified.CouldRetry() {
		t.Fatalf("a network-shaped error should be retryable")
	}
	if !classified.ShouldRetryWakeCompute() {
		t.Fatalf("a network-shaped error should force a re-wake")
	}
}
