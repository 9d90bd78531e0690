package consoleauth

import (
	"context"
	"net"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/waiterreg"
)

func TestContainsDoubleDash(t *testing.T) {
	cases := map[string]bool{
		"h--1.db":  true,
		"plain.db": false,
		"a-b-c":    false,
		"a--b":     true,
	}
	for host, want := range cases {
		if got := containsDoubleDash(host); got != want {
			t.Errorf("containsDoubleDash(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestAuthenticateHappyPathRequiresTLSOnDashHost(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	be := pgproto3.NewBackend(serverConn, serverConn)
	fe := pgproto3.NewFrontend(clientConn, clientConn)

	reg := waiterreg.New()
	auth := &Authenticator{
		Registry:                reg,
		ConsoleURI:               "https://c.example/psql_session/",
		ConfirmationTimeout:      time.Second,
		IPAllowlistCheckEnabled:  true,
	}

	type outcome struct {
		node domain.NodeInfo
		err  error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		node, err := auth.Authenticate(context.Background(), be, netip.MustParseAddr("192.0.2.5"), nil)
		resultCh <- outcome{node, err}
	}()

	var sessionID string
	for i := 0; i < 3; i++ {
		msg, err := fe.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
		case *pgproto3.ParameterStatus:
			if m.Name != "client_encoding" || m.Value != "UTF8" {
				t.Fatalf("unexpected ParameterStatus: %+v", m)
			}
		case *pgproto3.NoticeResponse:
			idx := strings.Index(m.Message, "psql_session/")
			if idx < 0 {
				t.Fatalf("greeting missing redirect uri: %q", m.Message)
			}
			rest := m.Message[idx+len("psql_session/"):]
			sessionID = strings.SplitN(rest, "\n", 2)[0]
			if len(sessionID) != 16 {
				t.Fatalf("session id %q has len %d, want 16", sessionID, len(sessionID))
			}
		default:
			t.Fatalf("unexpected message %T", m)
		}
	}

	if !reg.Notify(domain.SessionID(sessionID), domain.DatabaseInfo{
		Host: "h--1.db", Port: 5432, DBName: "d", User: "u",
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("192.0.2.0/24")},
	}) {
		t.Fatalf("Notify found no waiter for session id %q", sessionID)
	}

	got := <-resultCh
	if got.err != nil {
		t.Fatalf("Authenticate: %v", got.err)
	}

	// "Connecting to database." notice. Authenticate leaves it unflushed
	// for the connect path; flush it here the way that path would.
	go be.Flush()
	msg, err := fe.Receive()
	if err != nil {
		t.Fatalf("Receive connecting notice: %v", err)
	}
	n, ok := msg.(*pgproto3.NoticeResponse)
	if !ok || n.Message != "Connecting to database." {
		t.Fatalf("unexpected message %+v", msg)
	}

	if !got.node.RequireTLS {
		t.Fatalf("RequireTLS = false for a host containing \"--\"")
	}
	if got.node.Host != "h--1.db" || got.node.User != "u" || got.node.DBName != "d" {
		t.Fatalf("unexpected NodeInfo: %+v", got.node)
	}
}

func TestAuthenticateIPNotAllowed(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	be := pgproto3.NewBackend(serverConn, serverConn)
	fe := pgproto3.NewFrontend(clientConn, clientConn)

	reg := waiterreg.New()
	auth := &Authenticator{
		Registry:                reg,
		ConsoleURI:               "https://c.example/psql_session/",
		ConfirmationTimeout:      time.Second,
		IPAllowlistCheckEnabled:  true,
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := auth.Authenticate(context.Background(), be, netip.MustParseAddr("203.0.113.9"), nil)
		errCh <- err
	}()

	var sessionID string
	for i := 0; i < 3; i++ {
		msg, err := fe.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if n, ok := msg.(*pgproto3.NoticeResponse); ok {
			idx := strings.Index(n.Message, "psql_session/")
			rest := n.Message[idx+len("psql_session/"):]
			sessionID = strings.SplitN(rest, "\n", 2)[0]
		}
	}

	reg.Notify(domain.SessionID(sessionID), domain.DatabaseInfo{
		Host: "plain.db", Port: 5432, DBName: "d", User: "u",
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
	})

	if err := <-errCh; err == nil {
		t.Fatalf("Authenticate succeeded for a disallowed peer")
	}
}

func TestAuthenticateConfirmationTimeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	be := pgproto3.NewBackend(serverConn, serverConn)
	fe := pgproto3.NewFrontend(clientConn, clientConn)

	auth := &Authenticator{
		Registry:                waiterreg.New(),
		ConsoleURI:               "https://c.example/psql_session/",
		ConfirmationTimeout:      20 * time.Millisecond,
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := auth.Authenticate(context.Background(), be, netip.MustParseAddr("192.0.2.5"), nil)
		errCh <- err
	}()

	for i := 0; i < 3; i++ {
		if _, err := fe.Receive(); err != nil {
			t.Fatalf("Receive: %v", err)
		}
	}

	if err := <-errCh; err == nil {
		t.Fatalf("Authenticate did not time out")
	}
}
