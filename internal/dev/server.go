// Package dev implements the developer service: developer
// authentication, bundle uploads into the storage tree, catalogue
// management and review browsing.
package dev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/gamehub/internal/bundle"
	"github.com/udisondev/gamehub/internal/config"
	"github.com/udisondev/gamehub/internal/db"
	"github.com/udisondev/gamehub/internal/protocol"
)

// Server accepts developer connections and serves framed commands.
type Server struct {
	cfg     config.DevServer
	db      *db.Client
	storage *bundle.Storage

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a developer server.
func NewServer(cfg config.DevServer, dbClient *db.Client, storage *bundle.Storage) *Server {
	return &Server{cfg: cfg, db: dbClient, storage: storage}
}

// Addr returns the listening address, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close shuts the listener down.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a ready listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("developer server started", "address", ln.Addr())

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("failed to accept connection", "err", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	wg.Wait()
	return nil
}

// session is the per-connection state: the connection itself (the
// upload path switches it to raw mode) and the authenticated
// developer, empty until LOGIN succeeds.
type session struct {
	conn net.Conn
	user string
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	slog.Info("developer connected", "remote", remote)

	sess := &session{conn: conn}

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("developer connection error", "remote", remote, "err", err)
			}
			break
		}

		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			slog.Warn("malformed developer request", "remote", remote, "err", err)
			break
		}

		resp := s.handle(ctx, sess, req)

		if err := protocol.WriteJSON(conn, resp); err != nil {
			slog.Warn("failed to write response", "remote", remote, "err", err)
			break
		}
	}

	slog.Info("developer disconnected", "remote", remote, "user", sess.user)
}
