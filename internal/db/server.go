package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/gamehub/internal/config"
	"github.com/udisondev/gamehub/internal/model"
	"github.com/udisondev/gamehub/internal/protocol"
)

// Request is one framed database request.
type Request struct {
	Collection string          `json:"collection"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Response is the framed reply. Payload fields are populated per
// action; Reason carries the failure code when OK is false.
type Response struct {
	OK          bool                `json:"ok"`
	Reason      string              `json:"reason,omitempty"`
	PlayHistory []string            `json:"play_history,omitempty"`
	Games       []model.GameSummary `json:"games,omitempty"`
	Game        *model.Game         `json:"game,omitempty"`
	Reviews     []model.Review      `json:"reviews,omitempty"`
	Data        json.RawMessage     `json:"data,omitempty"`
}

func okResponse() Response { return Response{OK: true} }

func failResponse(reason string) Response { return Response{OK: false, Reason: reason} }

// Server serves framed {collection, action, data} requests over TCP.
type Server struct {
	cfg   config.DBServer
	store *Store

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a database server on top of an opened store.
func NewServer(cfg config.DBServer, store *Store) *Server {
	return &Server{cfg: cfg, store: store}
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

// Serve runs the accept loop on a ready listener. Split out so tests
// can pass a 127.0.0.1:0 listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("db server started", "address", ln.Addr())

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
			s.handleConnection(conn)
		}()
	}

	wg.Wait()
	return nil
}

// handleConnection serves one request/response pair at a time until
// the peer disconnects.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	for {
		payload, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("db connection error", "remote", conn.RemoteAddr(), "err", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(payload, &req); err != nil {
			slog.Warn("malformed db request", "remote", conn.RemoteAddr(), "err", err)
			return
		}

		resp := s.route(req)

		if err := protocol.WriteJSON(conn, resp); err != nil {
			slog.Warn("failed to write db response", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

// reasonOf maps store errors to wire reason codes.
func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrWrongPassword),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrMustPlayFirst):
		return err.Error()
	default:
		return "DB_ERROR"
	}
}

func result(err error) Response {
	if err != nil {
		return failResponse(reasonOf(err))
	}
	return okResponse()
}

type credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type userRef struct {
	User string `json:"user"`
}

type playRecord struct {
	User   string `json:"user"`
	GameID string `json:"game_id"`
}

type gameUpload struct {
	GameID      string              `json:"game_id"`
	Metadata    GameMetadata        `json:"metadata"`
	VersionInfo *model.VersionEntry `json:"version_info,omitempty"`
}

type gameList struct {
	IncludeInactive bool `json:"include_inactive"`
}

type gameActive struct {
	GameID   string `json:"game_id"`
	IsActive bool   `json:"is_active"`
}

type gameRef struct {
	GameID string `json:"game_id"`
}

type reviewSubmit struct {
	GameID  string `json:"game_id"`
	User    string `json:"user"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// route dispatches one request to the store. Unknown collection or
// action pairs answer UNKNOWN_CMD.
func (s *Server) route(req Request) Response {
	switch req.Collection {
	case "Users_Dev":
		switch req.Action {
		case "register":
			var c credentials
			if err := json.Unmarshal(req.Data, &c); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.RegisterDeveloper(c.User, c.Password))
		case "auth":
			var c credentials
			if err := json.Unmarshal(req.Data, &c); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.AuthDeveloper(c.User, c.Password))
		case "get":
			var u userRef
			if err := json.Unmarshal(req.Data, &u); err != nil {
				return failResponse("DB_ERROR")
			}
			acc, err := s.store.GetDeveloper(u.User)
			if err != nil {
				return failResponse(reasonOf(err))
			}
			data, _ := json.Marshal(acc)
			return Response{OK: true, Data: data}
		}

	case "Users_Player":
		switch req.Action {
		case "register":
			var c credentials
			if err := json.Unmarshal(req.Data, &c); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.RegisterPlayer(c.User, c.Password))
		case "auth":
			var c credentials
			if err := json.Unmarshal(req.Data, &c); err != nil {
				return failResponse("DB_ERROR")
			}
			history, err := s.store.AuthPlayer(c.User, c.Password)
			if err != nil {
				return failResponse(reasonOf(err))
			}
			return Response{OK: true, PlayHistory: history}
		case "record_play":
			var p playRecord
			if err := json.Unmarshal(req.Data, &p); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.RecordPlay(p.User, p.GameID))
		case "get":
			var u userRef
			if err := json.Unmarshal(req.Data, &u); err != nil {
				return failResponse("DB_ERROR")
			}
			acc, err := s.store.GetPlayer(u.User)
			if err != nil {
				return failResponse(reasonOf(err))
			}
			data, _ := json.Marshal(acc)
			return Response{OK: true, Data: data}
		}

	case "Games":
		switch req.Action {
		case "upload":
			var g gameUpload
			if err := json.Unmarshal(req.Data, &g); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.UploadGame(g.GameID, g.Metadata, g.VersionInfo))
		case "list":
			var l gameList
			if len(req.Data) > 0 {
				if err := json.Unmarshal(req.Data, &l); err != nil {
					return failResponse("DB_ERROR")
				}
			}
			return Response{OK: true, Games: s.store.ListGames(l.IncludeInactive)}
		case "set_active":
			var a gameActive
			if err := json.Unmarshal(req.Data, &a); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.SetGameActive(a.GameID, a.IsActive))
		case "get":
			var g gameRef
			if err := json.Unmarshal(req.Data, &g); err != nil {
				return failResponse("DB_ERROR")
			}
			game, err := s.store.GetGame(g.GameID)
			if err != nil {
				return failResponse(reasonOf(err))
			}
			return Response{OK: true, Game: game}
		}

	case "Reviews":
		switch req.Action {
		case "submit":
			var r reviewSubmit
			if err := json.Unmarshal(req.Data, &r); err != nil {
				return failResponse("DB_ERROR")
			}
			return result(s.store.SubmitReview(r.User, r.GameID, r.Rating, r.Comment))
		case "list":
			var g gameRef
			if err := json.Unmarshal(req.Data, &g); err != nil {
				return failResponse("DB_ERROR")
			}
			return Response{OK: true, Reviews: s.store.ListReviews(g.GameID)}
		}
	}

	return failResponse("UNKNOWN_CMD")
}
