// Package lobby implements the player-facing service: authentication,
// catalogue browsing, bundle download, the room state machine and
// supervision of per-room game-server children.
package lobby

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

// Server accepts player connections and serves framed commands.
type Server struct {
	cfg      config.LobbyServer
	db       *db.Client
	storage  *bundle.Storage
	launcher *Launcher
	online   *Online
	rooms    *Rooms

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a lobby server.
func NewServer(cfg config.LobbyServer, dbClient *db.Client) *Server {
	storage := bundle.NewStorage(cfg.StorageDir)
	return &Server{
		cfg:      cfg,
		db:       dbClient,
		storage:  storage,
		launcher: NewLauncher(storage, cfg.GamePortMin, cfg.GamePortMax),
		online:   NewOnline(),
		rooms:    NewRooms(),
	}
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

	slog.Info("lobby server started", "address", ln.Addr())

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

// session is the per-connection state: the connection (download
// streaming writes to it directly) and the authenticated player.
type session struct {
	conn net.Conn
	user string
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	slog.Info("player connected", "remote", remote)

	sess := &session{conn: conn}
	defer s.cleanupDisconnect(sess)

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("lobby connection error", "remote", remote, "err", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(payload, &req); err != nil {
			slog.Warn("malformed lobby request", "remote", remote, "err", err)
			return
		}

		resp := s.handle(ctx, sess, req)
		if resp == nil {
			// Command streamed its own reply (bundle download).
			continue
		}

		if err := protocol.WriteJSON(conn, *resp); err != nil {
			slog.Warn("failed to write response", "remote", remote, "err", err)
			return
		}
	}
}

// cleanupDisconnect tears down everything a vanished player owned:
// the online entry, any room they hosted (child included), and their
// seat in rooms where they were a guest.
func (s *Server) cleanupDisconnect(sess *session) {
	if sess.user == "" {
		return
	}

	slog.Info("player disconnected, cleaning up", "user", sess.user)
	s.online.Remove(sess.user)

	for _, id := range s.rooms.DropUser(sess.user) {
		s.destroyRoom(id, "host disconnected")
	}
}

// destroyRoom removes the room, terminates its child and resets the
// remaining members to Idle. Idempotent: the child waiter and the
// explicit teardown paths both land here.
func (s *Server) destroyRoom(id, cause string) {
	r, ok := s.rooms.Remove(id)
	if !ok {
		return
	}

	slog.Info("closing room", "room", id, "cause", cause)

	for _, p := range r.Players {
		s.online.SetStatus(p, StatusIdle)
	}
	if r.Proc != nil {
		r.Proc.Terminate()
	}
}

// watchRoom waits for the room's child to exit and tears the room
// down, whatever state it was in.
func (s *Server) watchRoom(id string, proc *Process) {
	if err := proc.Wait(); err != nil {
		slog.Debug("game server exited", "room", id, "err", err)
	}
	s.destroyRoom(id, "game server exited")
}
