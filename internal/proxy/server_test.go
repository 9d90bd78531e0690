package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/outpostdb/outpost/internal/config"
)

// TestServerListenPostgresAndStop exercises the listener lifecycle
// without driving a connection through the full authentication stack:
// the probe dial closes without sending a startup message, so
// handleConnection returns at ReceiveStartupMessage before the
// authenticator is ever used.
func TestServerListenPostgresAndStop(t *testing.T) {
	srv := NewServer(&NativeSession{}, config.ListenConfig{})

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	if err := srv.ListenPostgres(port); err != nil {
		t.Fatalf("ListenPostgres: %v", err)
	}

	// The listener should now be reachable.
	addr := (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}).String()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	conn.Close()

	srv.Stop()

	// A second Stop must not hang or panic.
	srv.Stop()
}

func TestNewServerWithoutTLSConfigured(t *testing.T) {
	srv := NewServer(&NativeSession{}, config.ListenConfig{})
	if srv.tlsConfig != nil {
		t.Errorf("expected no TLS config when cert/key are unset")
	}
}
