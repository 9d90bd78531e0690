package proxy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/outpostdb/outpost/internal/config"
)

// Server is the native Postgres listener. It accepts connections, hands
// each one to a NativeSession for the console-redirect handshake and
// compute dispatch, then relays bytes until either side closes.
type Server struct {
	session   *NativeSession
	tlsConfig *tls.Config

	listener net.Listener

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new native Postgres proxy server.
func NewServer(session *NativeSession, lc config.ListenConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}

	if lc.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(lc.TLSCert, lc.TLSKey)
		if err != nil {
			slog.Warn("failed to load TLS cert/key, TLS disabled", slog.String("err", err.Error()))
		} else {
			s.tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			slog.Info("TLS enabled", slog.String("cert", lc.TLSCert))
		}
	}

	return s
}

// ListenPostgres starts the PostgreSQL proxy listener.
func (s *Server) ListenPostgres(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s for postgres: %w", addr, err)
	}
	s.listener = ln
	slog.Info("postgres proxy listening", slog.String("addr", addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()

	return nil
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Warn("accept error", slog.String("err", err.Error()))
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(clientConn net.Conn) {
	defer clientConn.Close()

	if s.tlsConfig != nil {
		clientConn = tls.Server(clientConn, s.tlsConfig)
	}

	if err := s.session.Handle(s.ctx, clientConn); err != nil {
		slog.Warn("connection error", slog.String("err", err.Error()), slog.String("peer", clientConn.RemoteAddr().String()))
	}
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	slog.Info("proxy server stopped")
}
