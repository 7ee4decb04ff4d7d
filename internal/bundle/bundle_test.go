package bundle

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "Demo", want: "demo"},
		{name: "spaces", in: "Rock Paper Scissors", want: "rock_paper_scissors"},
		{name: "already canonical", in: "demo_game", want: "demo_game"},
		{name: "mixed case", in: "Multi Clicker", want: "multi_clicker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalID(tt.in))
		})
	}
}

func TestStorage_Paths(t *testing.T) {
	s := NewStorage("/srv/games")

	assert.Equal(t, filepath.Join("/srv/games", "demo", "1.0"), s.VersionDir("demo", "1.0"))
	assert.Equal(t, filepath.Join("/srv/games", "demo", "1.0", "game_1.0.zip"), s.ArchivePath("demo", "1.0"))
}

func TestStorage_EnsureVersionDir(t *testing.T) {
	s := NewStorage(t.TempDir())

	dir, err := s.EnsureVersionDir("demo", "2.1")
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// makeZip builds an archive from name->content pairs.
func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "bundle.zip")
	payload := makeZip(t, map[string]string{
		"game_config.json": `{"name":"Demo","version":"1.0","server_cmd":["python3","server.py"]}`,
		"src/server.py":    "print('hi')",
	})
	require.NoError(t, os.WriteFile(zipPath, payload, 0o644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, Extract(zipPath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "src", "server.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(data))

	m, err := LoadManifest(dest)
	require.NoError(t, err)
	assert.Equal(t, "Demo", m.Name)
	assert.Equal(t, []string{"python3", "server.py"}, m.ServerCmd)
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	payload := makeZip(t, map[string]string{
		"../escape.txt": "gotcha",
	})
	require.NoError(t, os.WriteFile(zipPath, payload, 0o644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	err := Extract(zipPath, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")

	_, statErr := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtract_NotAZip(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "garbage.zip")
	require.NoError(t, os.WriteFile(zipPath, []byte("this is not a zip"), 0o644))

	assert.Error(t, Extract(zipPath, dir))
}

func TestLoadManifest_Missing(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	require.Error(t, err)
}
