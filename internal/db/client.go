package db

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/udisondev/gamehub/internal/model"
	"github.com/udisondev/gamehub/internal/protocol"
)

// Client reaches the database service over the framed protocol. Each
// call opens a short-lived connection: dial, one request, one
// response, close. Business failures come back inside the Response;
// an error return means the round trip itself failed.
type Client struct {
	addr   string
	dialer net.Dialer
}

// NewClient creates a client for the database service at host:port.
func NewClient(host string, port int) *Client {
	return &Client{addr: net.JoinHostPort(host, fmt.Sprintf("%d", port))}
}

// Addr returns the target address.
func (c *Client) Addr() string {
	return c.addr
}

// Call performs one request/response round trip.
func (c *Client) Call(ctx context.Context, collection, action string, data any) (Response, error) {
	var resp Response

	payload, err := json.Marshal(data)
	if err != nil {
		return resp, fmt.Errorf("marshaling request data: %w", err)
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return resp, fmt.Errorf("dialing database at %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return resp, fmt.Errorf("setting deadline: %w", err)
		}
	}

	req := Request{Collection: collection, Action: action, Data: payload}
	if err := protocol.WriteJSON(conn, req); err != nil {
		return resp, fmt.Errorf("sending request: %w", err)
	}
	if err := protocol.ReadJSON(conn, &resp); err != nil {
		return resp, fmt.Errorf("reading response: %w", err)
	}
	return resp, nil
}

// AuthDeveloper checks developer credentials.
func (c *Client) AuthDeveloper(ctx context.Context, user, password string) (Response, error) {
	return c.Call(ctx, "Users_Dev", "auth", credentials{User: user, Password: password})
}

// RegisterDeveloper creates a developer account.
func (c *Client) RegisterDeveloper(ctx context.Context, user, password string) (Response, error) {
	return c.Call(ctx, "Users_Dev", "register", credentials{User: user, Password: password})
}

// AuthPlayer checks player credentials; the response carries the play
// history on success.
func (c *Client) AuthPlayer(ctx context.Context, user, password string) (Response, error) {
	return c.Call(ctx, "Users_Player", "auth", credentials{User: user, Password: password})
}

// RegisterPlayer creates a player account.
func (c *Client) RegisterPlayer(ctx context.Context, user, password string) (Response, error) {
	return c.Call(ctx, "Users_Player", "register", credentials{User: user, Password: password})
}

// GetDeveloper fetches a developer account; the record rides in Data.
func (c *Client) GetDeveloper(ctx context.Context, user string) (Response, error) {
	return c.Call(ctx, "Users_Dev", "get", userRef{User: user})
}

// GetPlayer fetches a player account; the record rides in Data.
func (c *Client) GetPlayer(ctx context.Context, user string) (Response, error) {
	return c.Call(ctx, "Users_Player", "get", userRef{User: user})
}

// RecordPlay appends gameID to the player's play history if absent.
func (c *Client) RecordPlay(ctx context.Context, user, gameID string) (Response, error) {
	return c.Call(ctx, "Users_Player", "record_play", playRecord{User: user, GameID: gameID})
}

// UploadGame creates or updates a catalogue entry, optionally
// appending a version.
func (c *Client) UploadGame(ctx context.Context, gameID string, meta GameMetadata, versionInfo *model.VersionEntry) (Response, error) {
	return c.Call(ctx, "Games", "upload", gameUpload{GameID: gameID, Metadata: meta, VersionInfo: versionInfo})
}

// ListGames returns catalogue projections.
func (c *Client) ListGames(ctx context.Context, includeInactive bool) (Response, error) {
	return c.Call(ctx, "Games", "list", gameList{IncludeInactive: includeInactive})
}

// SetGameActive flips a game's is_active flag.
func (c *Client) SetGameActive(ctx context.Context, gameID string, active bool) (Response, error) {
	return c.Call(ctx, "Games", "set_active", gameActive{GameID: gameID, IsActive: active})
}

// GetGame returns the full game record.
func (c *Client) GetGame(ctx context.Context, gameID string) (Response, error) {
	return c.Call(ctx, "Games", "get", gameRef{GameID: gameID})
}

// SubmitReview creates or mutates the player's review of a game.
func (c *Client) SubmitReview(ctx context.Context, user, gameID string, rating int, comment string) (Response, error) {
	return c.Call(ctx, "Reviews", "submit", reviewSubmit{GameID: gameID, User: user, Rating: rating, Comment: comment})
}

// ListReviews returns all reviews of a game.
func (c *Client) ListReviews(ctx context.Context, gameID string) (Response, error) {
	return c.Call(ctx, "Reviews", "list", gameRef{GameID: gameID})
}
