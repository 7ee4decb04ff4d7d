package db

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gamehub/internal/config"
	"github.com/udisondev/gamehub/internal/model"
	"github.com/udisondev/gamehub/internal/protocol"
)

// startTestServer runs a db server on an ephemeral port and returns a
// client pointed at it.
func startTestServer(t *testing.T) *Client {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)

	srv := NewServer(config.DefaultDBServer(), store)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, ln)

	addr := ln.Addr().(*net.TCPAddr)
	return NewClient("127.0.0.1", addr.Port)
}

func TestServer_PlayerRegisterAuthRoundTrip(t *testing.T) {
	client := startTestServer(t)
	ctx := context.Background()

	res, err := client.RegisterPlayer(ctx, "bob", "p")
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = client.RegisterPlayer(ctx, "bob", "p")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "ACCOUNT_EXISTS", res.Reason)

	res, err = client.AuthPlayer(ctx, "bob", "wrong")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "WRONG_PASSWORD", res.Reason)

	res, err = client.AuthPlayer(ctx, "nobody", "p")
	require.NoError(t, err)
	assert.Equal(t, "USER_NOT_FOUND", res.Reason)

	res, err = client.AuthPlayer(ctx, "bob", "p")
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Empty(t, res.PlayHistory)
}

func TestServer_GameFlow(t *testing.T) {
	client := startTestServer(t)
	ctx := context.Background()

	meta := GameMetadata{Author: "alice", Name: "Demo", Type: "CLI", MinPlayers: 1, MaxPlayers: 2}
	res, err := client.UploadGame(ctx, "demo", meta, &model.VersionEntry{Version: "1.0", FilePath: "/tmp/x.zip"})
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = client.GetGame(ctx, "demo")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.NotNil(t, res.Game)
	assert.Equal(t, "1.0", res.Game.LatestVersion)
	assert.Equal(t, "alice", res.Game.Author)

	res, err = client.GetGame(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "NOT_FOUND", res.Reason)

	res, err = client.SetGameActive(ctx, "demo", false)
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = client.ListGames(ctx, false)
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Empty(t, res.Games)

	res, err = client.ListGames(ctx, true)
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Len(t, res.Games, 1)
	assert.False(t, res.Games[0].IsActive)
}

func TestServer_ReviewFlow(t *testing.T) {
	client := startTestServer(t)
	ctx := context.Background()

	meta := GameMetadata{Author: "alice", Name: "Demo", MinPlayers: 1, MaxPlayers: 2}
	_, err := client.UploadGame(ctx, "demo", meta, &model.VersionEntry{Version: "1.0"})
	require.NoError(t, err)
	_, err = client.RegisterPlayer(ctx, "carol", "p")
	require.NoError(t, err)

	res, err := client.SubmitReview(ctx, "carol", "demo", 5, "good")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "MUST_PLAY_FIRST", res.Reason)

	res, err = client.RecordPlay(ctx, "carol", "demo")
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = client.SubmitReview(ctx, "carol", "demo", 5, "good")
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = client.ListReviews(ctx, "demo")
	require.NoError(t, err)
	require.True(t, res.OK)
	require.Len(t, res.Reviews, 1)
	assert.Equal(t, "carol", res.Reviews[0].User)
	assert.Equal(t, 5, res.Reviews[0].Rating)
}

func TestServer_UnknownCommand(t *testing.T) {
	client := startTestServer(t)
	ctx := context.Background()

	res, err := client.Call(ctx, "Nope", "what", map[string]any{})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, "UNKNOWN_CMD", res.Reason)

	res, err = client.Call(ctx, "Games", "frobnicate", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN_CMD", res.Reason)
}

// A single connection may carry many request/response pairs; the
// lobby and developer services instead redial per call. Both patterns
// must work against the same server.
func TestServer_PersistentConnection(t *testing.T) {
	client := startTestServer(t)

	conn, err := net.Dial("tcp", client.Addr())
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		req := Request{Collection: "Games", Action: "list"}
		require.NoError(t, protocol.WriteJSON(conn, req))

		var resp Response
		require.NoError(t, protocol.ReadJSON(conn, &resp), "round trip %d", i)
		assert.True(t, resp.OK)
	}
}
