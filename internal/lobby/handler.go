package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/udisondev/gamehub/internal/model"
	"github.com/udisondev/gamehub/internal/protocol"
)

// Lobby command set.
const (
	CmdLogin        = "LOGIN"
	CmdRegister     = "REGISTER"
	CmdListGames    = "LIST_GAMES"
	CmdDownloadGame = "DOWNLOAD_GAME"
	CmdSubmitReview = "SUBMIT_REVIEW"
	CmdListReviews  = "LIST_REVIEWS"
	CmdListOnline   = "LIST_ONLINE"
	CmdCreateRoom   = "CREATE_ROOM"
	CmdJoinRoom     = "JOIN_ROOM"
	CmdRoomStatus   = "ROOM_STATUS"
	CmdStartGame    = "START_GAME"
	CmdLeaveRoom    = "LEAVE_ROOM"
)

const (
	statusOK   = "OK"
	statusFail = "FAIL"
)

// request is the lobby command envelope; fields beyond Type are
// populated per command.
type request struct {
	Type        string `json:"type"`
	User        string `json:"user,omitempty"`
	Password    string `json:"password,omitempty"`
	GameID      string `json:"game_id,omitempty"`
	GameVersion string `json:"game_version,omitempty"`
	RoomID      string `json:"room_id,omitempty"`
	Rating      int    `json:"rating,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

// response echoes the command type with a status and optional payload.
type response struct {
	Type       string              `json:"type"`
	Status     string              `json:"status"`
	Reason     string              `json:"reason,omitempty"`
	User       string              `json:"user,omitempty"`
	Games      []model.GameSummary `json:"games,omitempty"`
	Reviews    []model.Review      `json:"reviews,omitempty"`
	Users      []UserStatus        `json:"users,omitempty"`
	Rooms      []RoomSummary       `json:"rooms,omitempty"`
	RoomID     string              `json:"room_id,omitempty"`
	Port       int                 `json:"port,omitempty"`
	Token      string              `json:"token,omitempty"`
	Host       string              `json:"host,omitempty"`
	MinPlayers int                 `json:"min_players,omitempty"`
	RoomStatus string              `json:"room_status,omitempty"`
	Players    []string            `json:"players,omitempty"`
	Size       int64               `json:"size,omitempty"`
	Version    string              `json:"version,omitempty"`
	Filename   string              `json:"filename,omitempty"`
}

func ok(cmd string) *response { return &response{Type: cmd, Status: statusOK} }

func fail(cmd, reason string) *response {
	return &response{Type: cmd, Status: statusFail, Reason: reason}
}

// handle dispatches one lobby command. A nil return means the command
// wrote its own frames (the raw download path).
func (s *Server) handle(ctx context.Context, sess *session, req request) *response {
	switch req.Type {
	case CmdLogin:
		return s.handleLogin(ctx, sess, req)
	case CmdRegister:
		return s.handleRegister(ctx, req)
	}

	// Everything else requires an authenticated session.
	if sess.user == "" {
		return fail(req.Type, "NOT_LOGIN")
	}

	switch req.Type {
	case CmdListGames:
		return s.handleListGames(ctx)
	case CmdDownloadGame:
		return s.handleDownloadGame(ctx, sess, req)
	case CmdSubmitReview:
		return s.handleSubmitReview(ctx, sess, req)
	case CmdListReviews:
		return s.handleListReviews(ctx, req)
	case CmdListOnline:
		return s.handleListOnline()
	case CmdCreateRoom:
		return s.handleCreateRoom(ctx, sess, req)
	case CmdJoinRoom:
		return s.handleJoinRoom(ctx, sess, req)
	case CmdRoomStatus:
		return s.handleRoomStatus(req)
	case CmdStartGame:
		return s.handleStartGame(sess, req)
	case CmdLeaveRoom:
		return s.handleLeaveRoom(sess, req)
	default:
		slog.Warn("unknown lobby command", "type", req.Type)
		return fail(req.Type, "UNKNOWN_CMD")
	}
}

func (s *Server) handleLogin(ctx context.Context, sess *session, req request) *response {
	if s.online.Contains(req.User) {
		return fail(CmdLogin, "ALREADY_LOGGED_IN")
	}

	res, err := s.db.AuthPlayer(ctx, req.User, req.Password)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdLogin, "err", err)
		return fail(CmdLogin, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdLogin, res.Reason)
	}

	if !s.online.Add(req.User) {
		// Lost the race against a concurrent login of the same name.
		return fail(CmdLogin, "ALREADY_LOGGED_IN")
	}
	sess.user = req.User
	slog.Info("player logged in", "user", req.User)

	resp := ok(CmdLogin)
	resp.User = req.User
	return resp
}

func (s *Server) handleRegister(ctx context.Context, req request) *response {
	res, err := s.db.RegisterPlayer(ctx, req.User, req.Password)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdRegister, "err", err)
		return fail(CmdRegister, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdRegister, res.Reason)
	}
	return ok(CmdRegister)
}

func (s *Server) handleListGames(ctx context.Context) *response {
	res, err := s.db.ListGames(ctx, false)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdListGames, "err", err)
		return fail(CmdListGames, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdListGames, res.Reason)
	}

	resp := ok(CmdListGames)
	resp.Games = res.Games
	return resp
}

// handleDownloadGame resolves the latest version's archive and, after
// a framed OK carrying the byte count, streams it raw. Returns nil:
// both frames and bytes are already on the wire.
func (s *Server) handleDownloadGame(ctx context.Context, sess *session, req request) *response {
	res, err := s.db.GetGame(ctx, req.GameID)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdDownloadGame, "err", err)
		return fail(CmdDownloadGame, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdDownloadGame, "GAME_NOT_FOUND")
	}

	game := res.Game
	entry := game.VersionEntryFor(game.LatestVersion)
	if entry == nil {
		return fail(CmdDownloadGame, "VERSION_NOT_FOUND")
	}

	f, err := os.Open(entry.FilePath)
	if err != nil {
		slog.Warn("archive missing on disk", "game", req.GameID, "path", entry.FilePath, "err", err)
		return fail(CmdDownloadGame, "FILE_MISSING")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(CmdDownloadGame, "FILE_MISSING")
	}

	header := ok(CmdDownloadGame)
	header.Size = info.Size()
	header.Version = game.LatestVersion
	header.Filename = fmt.Sprintf("%s_%s.zip", game.ID, game.LatestVersion)
	if err := protocol.WriteJSON(sess.conn, *header); err != nil {
		slog.Warn("failed to send download header", "err", err)
		return nil
	}

	if _, err := io.Copy(sess.conn, f); err != nil {
		slog.Warn("bundle streaming failed", "game", req.GameID, "err", err)
		return nil
	}

	slog.Info("bundle downloaded", "game", req.GameID, "version", game.LatestVersion, "size", info.Size(), "user", sess.user)
	return nil
}

func (s *Server) handleSubmitReview(ctx context.Context, sess *session, req request) *response {
	res, err := s.db.SubmitReview(ctx, sess.user, req.GameID, req.Rating, req.Comment)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdSubmitReview, "err", err)
		return fail(CmdSubmitReview, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdSubmitReview, res.Reason)
	}
	return ok(CmdSubmitReview)
}

func (s *Server) handleListReviews(ctx context.Context, req request) *response {
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

func (s *Server) handleListOnline() *response {
	resp := ok(CmdListOnline)
	resp.Users = s.online.Snapshot()
	resp.Rooms = s.rooms.Snapshot()
	return resp
}

// handleCreateRoom runs the WAITING entry of the room state machine:
// version check against the catalogue's latest, resource allocation
// (id, token, port), child spawn, then registration. A spawn failure
// leaves no room behind.
func (s *Server) handleCreateRoom(ctx context.Context, sess *session, req request) *response {
	res, err := s.db.GetGame(ctx, req.GameID)
	if err != nil {
		slog.Error("db call failed", "cmd", CmdCreateRoom, "err", err)
		return fail(CmdCreateRoom, "DB_ERROR")
	}
	if !res.OK {
		return fail(CmdCreateRoom, "GAME_NOT_FOUND")
	}

	game := res.Game
	if req.GameVersion != game.LatestVersion {
		return fail(CmdCreateRoom, "VERSION_MISMATCH")
	}

	roomID := uuid.NewString()[:8]
	token := uuid.NewString()

	proc, port, err := s.launcher.Start(game.ID, game.LatestVersion, roomID, token)
	if err != nil {
		slog.Error("game server launch failed", "game", game.ID, "version", game.LatestVersion, "err", err)
		return fail(CmdCreateRoom, "LAUNCH_FAIL")
	}

	room := &Room{
		ID:          roomID,
		GameID:      game.ID,
		GameVersion: game.LatestVersion,
		MinPlayers:  game.MinPlayers,
		MaxPlayers:  game.MaxPlayers,
		Status:      RoomWaiting,
		Host:        sess.user,
		Port:        port,
		Token:       token,
		Players:     []string{sess.user},
		Proc:        proc,
	}
	s.rooms.Add(room)
	go s.watchRoom(roomID, proc)

	s.online.SetStatus(sess.user, InRoomStatus(roomID))
	s.recordPlay(ctx, sess.user, game.ID)

	slog.Info("room created", "room", roomID, "game", game.ID, "host", sess.user, "port", port, "pid", proc.Pid())

	resp := ok(CmdCreateRoom)
	resp.RoomID = roomID
	resp.Port = port
	resp.Token = token
	resp.MinPlayers = game.MinPlayers
	resp.Host = s.cfg.PublicHost
	return resp
}

func (s *Server) handleJoinRoom(ctx context.Context, sess *session, req request) *response {
	room, err := s.rooms.Join(req.RoomID, sess.user, req.GameVersion)
	if err != nil {
		return fail(CmdJoinRoom, roomReason(err))
	}

	s.online.SetStatus(sess.user, InRoomStatus(room.ID))
	s.recordPlay(ctx, sess.user, room.GameID)

	slog.Info("player joined room", "room", room.ID, "user", sess.user, "players", len(room.Players))

	resp := ok(CmdJoinRoom)
	resp.RoomID = room.ID
	resp.Port = room.Port
	resp.Token = room.Token
	resp.Host = s.cfg.PublicHost
	return resp
}

func (s *Server) handleRoomStatus(req request) *response {
	room, found := s.rooms.Get(req.RoomID)
	if !found {
		return fail(CmdRoomStatus, "ROOM_NOT_FOUND")
	}

	resp := ok(CmdRoomStatus)
	resp.RoomStatus = room.Status
	resp.Players = room.Players
	resp.MinPlayers = room.MinPlayers
	return resp
}

func (s *Server) handleStartGame(sess *session, req request) *response {
	players, err := s.rooms.Start(req.RoomID, sess.user)
	if err != nil {
		return fail(CmdStartGame, roomReason(err))
	}

	for _, p := range players {
		s.online.SetStatus(p, StatusPlaying)
	}

	slog.Info("game started", "room", req.RoomID, "players", len(players))
	return ok(CmdStartGame)
}

// handleLeaveRoom removes the player from the room. The host leaving,
// or the room emptying, destroys it. Leaving an unknown room is not
// an error.
func (s *Server) handleLeaveRoom(sess *session, req request) *response {
	member, destroy := s.rooms.Leave(req.RoomID, sess.user)
	if member {
		s.online.SetStatus(sess.user, StatusIdle)
	}
	if destroy {
		s.destroyRoom(req.RoomID, "host left")
	}
	return ok(CmdLeaveRoom)
}

// recordPlay marks the game in the player's history. Failures are
// logged, not surfaced: the room operation already succeeded.
func (s *Server) recordPlay(ctx context.Context, user, gameID string) {
	res, err := s.db.RecordPlay(ctx, user, gameID)
	if err != nil {
		slog.Error("db call failed", "cmd", "record_play", "user", user, "game", gameID, "err", err)
		return
	}
	if !res.OK {
		slog.Warn("record_play rejected", "user", user, "game", gameID, "reason", res.Reason)
	}
}

// roomReason maps room state machine errors to wire reason codes.
func roomReason(err error) string {
	for _, known := range []error{
		ErrRoomNotFound,
		ErrVersionMismatch,
		ErrRoomFull,
		ErrGameAlreadyStarted,
		ErrNotHost,
		ErrNeedMorePlayers,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "ROOM_ERROR"
}
