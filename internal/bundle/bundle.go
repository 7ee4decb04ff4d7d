// Package bundle defines the on-disk shape of a game bundle: the
// storage tree <root>/<game_id>/<version>/ holding the uploaded
// archive plus its extracted files, and the game_config.json manifest
// describing how to launch the game.
package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestFileName is the manifest's name at the version dir root.
const ManifestFileName = "game_config.json"

// Manifest is a bundle's configuration. ServerCmd is the argv prefix
// the lobby spawns for the game server (cwd = version directory); the
// lobby appends `--port <port> --token <token> --room-id <id>`.
// RunCmd is the argv prefix a player client invokes locally; it gets
// `--host <lobby-host> --port <port> --token <token> --room-id <id>`
// appended. Whatever the game speaks over that connection is opaque
// to the platform.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	MinPlayers  int      `json:"min_players"`
	MaxPlayers  int      `json:"max_players"`
	ServerCmd   []string `json:"server_cmd"`
	RunCmd      []string `json:"run_cmd"`
}

// CanonicalID derives a game id from its display name: lowercase,
// spaces to underscores.
func CanonicalID(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// Storage is the bundle storage tree rooted at a directory. Written
// only by the developer service; the lobby and spawned children read
// it. Version directories are immutable once an upload completes.
type Storage struct {
	root string
}

// NewStorage creates a storage handle rooted at dir.
func NewStorage(dir string) *Storage {
	return &Storage{root: dir}
}

// Root returns the storage root directory.
func (s *Storage) Root() string {
	return s.root
}

// VersionDir returns <root>/<gameID>/<version>.
func (s *Storage) VersionDir(gameID, version string) string {
	return filepath.Join(s.root, gameID, version)
}

// ArchivePath returns the archive location inside the version dir.
func (s *Storage) ArchivePath(gameID, version string) string {
	return filepath.Join(s.VersionDir(gameID, version), fmt.Sprintf("game_%s.zip", version))
}

// EnsureVersionDir creates the version directory and returns it.
func (s *Storage) EnsureVersionDir(gameID, version string) (string, error) {
	dir := s.VersionDir(gameID, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating version dir %s: %w", dir, err)
	}
	return dir, nil
}

// LoadManifest reads game_config.json from a version directory.
func LoadManifest(versionDir string) (Manifest, error) {
	var m Manifest

	path := filepath.Join(versionDir, ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return m, nil
}

// Extract unpacks a zip archive into destDir, preserving file modes.
// Entries escaping destDir are rejected.
func Extract(zipPath, destDir string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", zipPath, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := extractEntry(f, destDir); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.Clean(f.Name))

	// Zip-slip guard.
	rel, err := filepath.Rel(destDir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry escapes destination: %q", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("creating dir: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent dir: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening entry: %w", err)
	}
	defer rc.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("writing file: %w", err)
	}
	return out.Close()
}
