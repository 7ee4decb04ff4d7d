package dev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/udisondev/gamehub/internal/bundle"
	"github.com/udisondev/gamehub/internal/db"
	"github.com/udisondev/gamehub/internal/model"
	"github.com/udisondev/gamehub/internal/protocol"
)

// Developer command set.
const (
	CmdLogin          = "LOGIN"
	CmdRegister       = "REGISTER"
	CmdUploadInit     = "UPLOAD_INIT"
	CmdUploadComplete = "UPLOAD_COMPLETE"
	CmdListMyGames    = "LIST_MY_GAMES"
	CmdOffshelf       = "OFFSHELF"
	CmdListReviews    = "LIST_REVIEWS"
)

const (
	statusOK          = "OK"
	statusFail        = "FAIL"
	statusReadyToRecv = "READY_TO_RECV"
)

// request is the developer command envelope; fields beyond Type are
// populated per command.
type request struct {
	Type     string      `json:"type"`
	User     string      `json:"user,omitempty"`
	Password string      `json:"password,omitempty"`
	GameID   string      `json:"game_id,omitempty"`
	Version  string      `json:"version,omitempty"`
	FileSize int64       `json:"file_size,omitempty"`
	Metadata *uploadMeta `json:"metadata,omitempty"`
}

// uploadMeta is the catalogue metadata attached to UPLOAD_INIT.
type uploadMeta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	MinPlayers  int    `json:"min_players"`
	MaxPlayers  int    `json:"max_players"`
}

// response echoes the command type with a status and optional payload.
type response struct {
	Type    string              `json:"type"`
	Status  string              `json:"status"`
	Reason  string              `json:"reason,omitempty"`
	User    string              `json:"user,omitempty"`
	GameID  string              `json:"game_id,omitempty"`
	Games   []model.GameSummary `json:"games,omitempty"`
	Reviews []model.Review      `json:"reviews,omitempty"`
}

func ok(cmd string) response { return response{Type: cmd, Status: statusOK} }

func fail(cmd, reason string) response { return response{Type: cmd, Status: statusFail, Reason: reason} }

// handle dispatches one developer command. UPLOAD_INIT manages its own
// framed/raw exchange and returns the final UPLOAD_COMPLETE frame.
func (s *Server) handle(ctx context.Context, sess *session, req request) response {
	switch req.Type {
	case CmdLogin:
		return s.handleLogin(ctx, sess, req)
	case CmdRegister:
		return s.handleRegister(ctx, req)
	case CmdUploadInit:
		return s.handleUpload(ctx, sess, req)
	case CmdListMyGames:
		return s.handleListMyGames(ctx, sess)
	case CmdOffshelf:
		return s.handleOffshelf(ctx, sess, req)
	case CmdListReviews:
		return s.handleListReviews(ctx, req)
	default:
		slog.Warn("unknown developer command", "type", req.Type)
		return fail(req.Type, "UNKNOWN_CMD")
	}
}

func (s *Server) handleLogin(ctx context.Context, sess *session, req request) response {
	res, err := s.db.AuthDeveloper(ctx, req.User, req.Password)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdLogin, "err", err)
		return fail(CmdLogin, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdLogin, res.Reason)
	}

	sess.user = req.User
	slog.Info("developer logged in", "user", req.User)

	resp := ok(CmdLogin)
	resp.User = req.User
	return resp
}

func (s *Server) handleRegister(ctx context.Context, req request) response {
	res, err := s.db.RegisterDeveloper(ctx, req.User, req.Password)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdRegister, "err", err)
		return fail(CmdRegister, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdRegister, res.Reason)
	}
	return ok(CmdRegister)
}

// handleUpload runs the full upload exchange: READY_TO_RECV frame, raw
// receipt of exactly file_size bytes into the archive path, in-place
// extraction, catalogue record. The connection reverts to framed mode
// once the byte count is consumed.
func (s *Server) handleUpload(ctx context.Context, sess *session, req request) response {
	if sess.user == "" {
		return fail(CmdUploadInit, "NOT_LOGIN")
	}
	if req.Metadata == nil || req.Version == "" || req.FileSize < 0 {
		return fail(CmdUploadInit, "BAD_REQUEST")
	}

	gameID := req.GameID
	if gameID == "" {
		gameID = bundle.CanonicalID(req.Metadata.Name)
	}

	versionDir, err := s.storage.EnsureVersionDir(gameID, req.Version)
	if err != nil {
		slog.Error("failed to create version dir", "game", gameID, "version", req.Version, "err", err)
		return fail(CmdUploadInit, "STORAGE_ERROR")
	}
	archivePath := s.storage.ArchivePath(gameID, req.Version)

	ready := response{Type: CmdUploadInit, Status: statusReadyToRecv, GameID: gameID}
	if err := protocol.WriteJSON(sess.conn, ready); err != nil {
		slog.Warn("failed to send READY_TO_RECV", "err", err)
		return fail(CmdUploadInit, "PROTOCOL_ERROR")
	}

	if err := receiveArchive(sess.conn, archivePath, req.FileSize); err != nil {
		slog.Error("archive receipt failed", "game", gameID, "version", req.Version, "err", err)
		return fail(CmdUploadComplete, "TRANSFER_ERROR")
	}

	slog.Info("bundle received", "game", gameID, "version", req.Version, "size", req.FileSize)

	if err := bundle.Extract(archivePath, versionDir); err != nil {
		slog.Error("bundle extraction failed", "game", gameID, "version", req.Version, "err", err)
		return fail(CmdUploadComplete, "BAD_ZIP")
	}

	meta := db.GameMetadata{
		Author:      sess.user,
		Name:        req.Metadata.Name,
		Description: req.Metadata.Description,
		Type:        req.Metadata.Type,
		MinPlayers:  req.Metadata.MinPlayers,
		MaxPlayers:  req.Metadata.MaxPlayers,
	}
	versionInfo := &model.VersionEntry{
		Version:    req.Version,
		FilePath:   archivePath,
		UploadedAt: time.Now().Unix(),
	}

	res, err := s.db.UploadGame(ctx, gameID, meta, versionInfo)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdUploadInit, "err", err)
		return fail(CmdUploadComplete, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdUploadComplete, res.Reason)
	}

	slog.Info("game uploaded", "game", gameID, "version", req.Version, "author", sess.user)

	resp := ok(CmdUploadComplete)
	resp.GameID = gameID
	return resp
}

// receiveArchive consumes exactly size raw bytes from r into path.
func receiveArchive(r io.Reader, path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	if _, err := io.CopyN(f, r, size); err != nil {
		f.Close()
		return fmt.Errorf("receiving %d bytes: %w", size, err)
	}
	return f.Close()
}

func (s *Server) handleListMyGames(ctx context.Context, sess *session) response {
	if sess.user == "" {
		return fail(CmdListMyGames, "NOT_LOGIN")
	}

	res, err := s.db.ListGames(ctx, true)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdListMyGames, "err", err)
		return fail(CmdListMyGames, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdListMyGames, res.Reason)
	}

	mine := make([]model.GameSummary, 0, len(res.Games))
	for _, g := range res.Games {
		if g.Author == sess.user {
			mine = append(mine, g)
		}
	}

	resp := ok(CmdListMyGames)
	resp.Games = mine
	return resp
}

// handleOffshelf hides a game from the player catalogue. Only the
// authoring developer may do it.
func (s *Server) handleOffshelf(ctx context.Context, sess *session, req request) response {
	if sess.user == "" {
		return fail(CmdOffshelf, "NOT_LOGIN")
	}

	res, err := s.db.GetGame(ctx, req.GameID)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdOffshelf, "err", err)
		return fail(CmdOffshelf, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdOffshelf, res.Reason)
	}
	if res.Game.Author != sess.user {
		slog.Warn("offshelf rejected", "game", req.GameID, "author", res.Game.Author, "caller", sess.user)
		return fail(CmdOffshelf, "NOT_OWNER")
	}

	res, err = s.db.SetGameActive(ctx, req.GameID, false)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdOffshelf, "err", err)
		return fail(CmdOffshelf, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdOffshelf, res.Reason)
	}

	slog.Info("game off-shelved", "game", req.GameID, "user", sess.user)
	return ok(CmdOffshelf)
}

func (s *Server) handleListReviews(ctx context.Context, req request) response {
	res, err := s.db.ListReviews(ctx, req.GameID)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdListReviews, "err", err)
		return fail(CmdListReviews, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdListReviews, res.Reason)
	}

	resp := ok(CmdListReviews)
	resp.Reviews = res.Reviews
	return resp
}
