package dev

import (
	"archive/zip"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/gamehub/internal/bundle"
	"github.com/udisondev/gamehub/internal/config"
	"github.com/udisondev/gamehub/internal/db"
	"github.com/udisondev/gamehub/internal/protocol"
)

// testEnv wires a real db server and a dev server on ephemeral ports.
type testEnv struct {
	storageDir string
	dbClient   *db.Client
	devAddr    string
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store, err := db.Open(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	dbSrv := db.NewServer(config.DefaultDBServer(), store)
	dbLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go dbSrv.Serve(ctx, dbLn)

	dbClient := db.NewClient("127.0.0.1", dbLn.Addr().(*net.TCPAddr).Port)

	storageDir := t.TempDir()
	cfg := config.DefaultDevServer()
	devSrv := NewServer(cfg, dbClient, bundle.NewStorage(storageDir))
	devLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go devSrv.Serve(ctx, devLn)

	return &testEnv{
		storageDir: storageDir,
		dbClient:   dbClient,
		devAddr:    devLn.Addr().String(),
	}
}

func (e *testEnv) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", e.devAddr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, req request) response {
	t.Helper()
	require.NoError(t, protocol.WriteJSON(conn, req))
	var resp response
	require.NoError(t, protocol.ReadJSON(conn, &resp))
	return resp
}

func makeBundleZip(t *testing.T, manifest string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(bundle.ManifestFileName)
	require.NoError(t, err)
	_, err = w.Write([]byte(manifest))
	require.NoError(t, err)

	w, err = zw.Create("server.py")
	require.NoError(t, err)
	_, err = w.Write([]byte("print('server')"))
	require.NoError(t, err)

	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func registerAndLogin(t *testing.T, conn net.Conn, user string) {
	t.Helper()
	resp := send(t, conn, request{Type: CmdRegister, User: user, Password: "p"})
	require.Equal(t, statusOK, resp.Status)
	resp = send(t, conn, request{Type: CmdLogin, User: user, Password: "p"})
	require.Equal(t, statusOK, resp.Status)
	require.Equal(t, user, resp.User)
}

func upload(t *testing.T, conn net.Conn, gameID, version string, payload []byte) response {
	t.Helper()

	req := request{
		Type:     CmdUploadInit,
		GameID:   gameID,
		Version:  version,
		FileSize: int64(len(payload)),
		Metadata: &uploadMeta{
			Name:        "Demo",
			Description: "d",
			Type:        "CLI",
			MinPlayers:  1,
			MaxPlayers:  2,
		},
	}
	ready := send(t, conn, req)
	require.Equal(t, statusReadyToRecv, ready.Status)
	require.NotEmpty(t, ready.GameID)

	_, err := conn.Write(payload)
	require.NoError(t, err)

	var complete response
	require.NoError(t, protocol.ReadJSON(conn, &complete))
	require.Equal(t, CmdUploadComplete, complete.Type)
	return complete
}

func TestDev_LoginFailures(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)

	resp := send(t, conn, request{Type: CmdLogin, User: "nobody", Password: "p"})
	assert.Equal(t, statusFail, resp.Status)
	assert.Equal(t, "USER_NOT_FOUND", resp.Reason)

	resp = send(t, conn, request{Type: CmdRegister, User: "alice", Password: "p"})
	require.Equal(t, statusOK, resp.Status)

	resp = send(t, conn, request{Type: CmdLogin, User: "alice", Password: "wrong"})
	assert.Equal(t, statusFail, resp.Status)
	assert.Equal(t, "WRONG_PASSWORD", resp.Reason)
}

func TestDev_UploadRequiresLogin(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)

	resp := send(t, conn, request{
		Type:     CmdUploadInit,
		GameID:   "demo",
		Version:  "1.0",
		FileSize: 10,
		Metadata: &uploadMeta{Name: "Demo"},
	})
	assert.Equal(t, statusFail, resp.Status)
	assert.Equal(t, "NOT_LOGIN", resp.Reason)
}

func TestDev_UploadFlow(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)
	registerAndLogin(t, conn, "alice")

	payload := makeBundleZip(t, `{"name":"Demo","version":"1.0","server_cmd":["python3","server.py"]}`)
	complete := upload(t, conn, "demo", "1.0", payload)
	require.Equal(t, statusOK, complete.Status)
	assert.Equal(t, "demo", complete.GameID)

	// Archive and extracted files land in the version directory.
	storage := bundle.NewStorage(env.storageDir)
	_, err := os.Stat(storage.ArchivePath("demo", "1.0"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(storage.VersionDir("demo", "1.0"), "server.py"))
	require.NoError(t, err)

	m, err := bundle.LoadManifest(storage.VersionDir("demo", "1.0"))
	require.NoError(t, err)
	assert.Equal(t, "Demo", m.Name)

	// The catalogue entry exists with the right author and version.
	res, err := env.dbClient.GetGame(context.Background(), "demo")
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, "alice", res.Game.Author)
	assert.Equal(t, "1.0", res.Game.LatestVersion)

	resp := send(t, conn, request{Type: CmdListMyGames})
	require.Equal(t, statusOK, resp.Status)
	require.Len(t, resp.Games, 1)
	assert.Equal(t, "demo", resp.Games[0].ID)
}

func TestDev_UploadBadZip(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)
	registerAndLogin(t, conn, "alice")

	complete := upload(t, conn, "broken", "1.0", []byte("not a zip archive"))
	assert.Equal(t, statusFail, complete.Status)
	assert.Equal(t, "BAD_ZIP", complete.Reason)

	// No catalogue entry for a failed upload.
	res, err := env.dbClient.GetGame(context.Background(), "broken")
	require.NoError(t, err)
	assert.False(t, res.OK)
}

func TestDev_UploadDerivesGameIDFromName(t *testing.T) {
	env := startEnv(t)
	conn := env.dial(t)
	registerAndLogin(t, conn, "alice")

	payload := makeBundleZip(t, `{"name":"Rock Paper Scissors"}`)
	req := request{
		Type:     CmdUploadInit,
		Version:  "1.0",
		FileSize: int64(len(payload)),
		Metadata: &uploadMeta{Name: "Rock Paper Scissors", MinPlayers: 2, MaxPlayers: 2},
	}
	ready := send(t, conn, req)
	require.Equal(t, statusReadyToRecv, ready.Status)
	assert.Equal(t, "rock_paper_scissors", ready.GameID)

	_, err := conn.Write(payload)
	require.NoError(t, err)
	var complete response
	require.NoError(t, protocol.ReadJSON(conn, &complete))
	require.Equal(t, statusOK, complete.Status)
}

func TestDev_ListMyGamesFiltersByAuthor(t *testing.T) {
	env := startEnv(t)

	aliceConn := env.dial(t)
	registerAndLogin(t, aliceConn, "alice")
	upload(t, aliceConn, "demo", "1.0", makeBundleZip(t, `{"name":"Demo"}`))

	bobConn := env.dial(t)
	registerAndLogin(t, bobConn, "bob")
	resp := send(t, bobConn, request{Type: CmdListMyGames})
	require.Equal(t, statusOK, resp.Status)
	assert.Empty(t, resp.Games)
}

func TestDev_OffshelfOwnership(t *testing.T) {
	env := startEnv(t)

	aliceConn := env.dial(t)
	registerAndLogin(t, aliceConn, "alice")
	upload(t, aliceConn, "demo", "1.0", makeBundleZip(t, `{"name":"Demo"}`))

	// A different developer may not off-shelve alice's game.
	bobConn := env.dial(t)
	registerAndLogin(t, bobConn, "bob")
	resp := send(t, bobConn, request{Type: CmdOffshelf, GameID: "demo"})
	assert.Equal(t, statusFail, resp.Status)
	assert.Equal(t, "NOT_OWNER", resp.Reason)

	resp = send(t, bobConn, request{Type: CmdOffshelf, GameID: "ghost"})
	assert.Equal(t, statusFail, resp.Status)
	assert.Equal(t, "NOT_FOUND", resp.Reason)

	// The author may.
	resp = send(t, aliceConn, request{Type: CmdOffshelf, GameID: "demo"})
	require.Equal(t, statusOK, resp.Status)

	res, err := env.dbClient.GetGame(context.Background(), "demo")
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.False(t, res.Game.IsActive)

	// Off-shelved games still show up in the author's own list.
	resp = send(t, aliceConn, request{Type: CmdListMyGames})
	require.Equal(t, statusOK, resp.Status)
	require.Len(t, resp.Games, 1)
	assert.False(t, resp.Games[0].IsActive)
}

func TestDev_ListReviews(t *testing.T) {
	env := startEnv(t)
	ctx := context.Background()

	conn := env.dial(t)
	registerAndLogin(t, conn, "alice")
	upload(t, conn, "demo", "1.0", makeBundleZip(t, `{"name":"Demo"}`))

	_, err := env.dbClient.RegisterPlayer(ctx, "carol", "p")
	require.NoError(t, err)
	_, err = env.dbClient.RecordPlay(ctx, "carol", "demo")
	require.NoError(t, err)
	_, err = env.dbClient.SubmitReview(ctx, "carol", "demo", 4, "solid")
	require.NoError(t, err)

	resp := send(t, conn, request{Type: CmdListReviews, GameID: "demo"})
	require.Equal(t, statusOK, resp.Status)
	require.Len(t, resp.Reviews, 1)
	assert.Equal(t, 4, resp.Reviews[0].Rating)
}
