// Package db implements the database service: a single-writer JSON
// document store with crash-safe persistence, plus the framed TCP
// server exposing it and the client the other services use to reach
// it.
package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/udisondev/gamehub/internal/model"
)

// Business failures carried to clients as reason codes.
var (
	ErrAccountExists = errors.New("ACCOUNT_EXISTS")
	ErrUserNotFound  = errors.New("USER_NOT_FOUND")
	ErrWrongPassword = errors.New("WRONG_PASSWORD")
	ErrNotFound      = errors.New("NOT_FOUND")
	ErrMustPlayFirst = errors.New("MUST_PLAY_FIRST")
)

// document is the entire persisted state, serialised as one JSON file.
type document struct {
	Developers map[string]*model.DeveloperAccount `json:"users_dev"`
	Players    map[string]*model.PlayerAccount    `json:"users_player"`
	Games      map[string]*model.Game             `json:"games"`
	Reviews    map[string]*model.Review           `json:"reviews"`
	Counters   map[string]int64                   `json:"_counters"`
}

func newDocument() document {
	return document{
		Developers: make(map[string]*model.DeveloperAccount),
		Players:    make(map[string]*model.PlayerAccount),
		Games:      make(map[string]*model.Game),
		Reviews:    make(map[string]*model.Review),
		Counters:   map[string]int64{"room": 0, "review": 0},
	}
}

// ensureCollections injects any top-level collection missing from a
// loaded file.
func (d *document) ensureCollections() {
	if d.Developers == nil {
		d.Developers = make(map[string]*model.DeveloperAccount)
	}
	if d.Players == nil {
		d.Players = make(map[string]*model.PlayerAccount)
	}
	if d.Games == nil {
		d.Games = make(map[string]*model.Game)
	}
	if d.Reviews == nil {
		d.Reviews = make(map[string]*model.Review)
	}
	if d.Counters == nil {
		d.Counters = map[string]int64{"room": 0, "review": 0}
	}
}

// Store owns the in-memory document and its on-disk snapshot. One
// mutex serialises every action; reads take it too so they observe a
// consistent snapshot. The save inside the critical section is the
// linearisation point.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document
	now  func() int64
}

// Open loads the store from path, creating a fresh file if it is
// absent or empty. A malformed file is reported and left untouched on
// disk; the store starts empty in memory and only overwrites the file
// on the next mutation.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc:  newDocument(),
		now:  func() int64 { return time.Now().Unix() },
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Info("database file not found, creating new", "path", path)
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("initializing database file: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading database file %s: %w", path, err)
	case len(strings.TrimSpace(string(data))) == 0:
		slog.Info("database file is empty, initializing", "path", path)
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("initializing database file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			slog.Error("database file is malformed, starting with empty state", "path", path, "err", err)
			s.doc = newDocument()
			break
		}
		s.doc.ensureCollections()
		slog.Info("database loaded", "path", path,
			"developers", len(s.doc.Developers),
			"players", len(s.doc.Players),
			"games", len(s.doc.Games),
			"reviews", len(s.doc.Reviews))
	}

	return s, nil
}

// save serialises the document and atomically replaces the canonical
// file: write sibling tmp, fsync, rename. Must be called with s.mu
// held (or before the store is shared).
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling database: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// persist runs save and swallows I/O failures: the in-memory mutation
// is retained so the next successful save catches up.
func (s *Store) persist() {
	if err := s.save(); err != nil {
		slog.Error("database save failed, keeping in-memory state", "err", err)
	}
}

// nextID issues the next monotonic id for kind.
func (s *Store) nextID(kind string) string {
	s.doc.Counters[kind]++
	return strconv.FormatInt(s.doc.Counters[kind], 10)
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

// RegisterDeveloper creates a developer account.
func (s *Store) RegisterDeveloper(user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Developers[user]; ok {
		return ErrAccountExists
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	s.doc.Developers[user] = &model.DeveloperAccount{
		Username:     user,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	s.persist()
	return nil
}

// AuthDeveloper checks developer credentials.
func (s *Store) AuthDeveloper(user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.doc.Developers[user]
	if !ok {
		return ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// GetDeveloper returns a copy of the developer account.
func (s *Store) GetDeveloper(user string) (*model.DeveloperAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.doc.Developers[user]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

// RegisterPlayer creates a player account with status Idle and empty
// play history.
func (s *Store) RegisterPlayer(user, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.doc.Players[user]; ok {
		return ErrAccountExists
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	s.doc.Players[user] = &model.PlayerAccount{
		Username:     user,
		PasswordHash: hash,
		Status:       "Idle",
		PlayHistory:  []string{},
		CreatedAt:    s.now(),
	}
	s.persist()
	return nil
}

// AuthPlayer checks player credentials and returns the play history
// on success.
func (s *Store) AuthPlayer(user, password string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.doc.Players[user]
	if !ok {
		return nil, ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)) != nil {
		return nil, ErrWrongPassword
	}
	history := make([]string, len(acc.PlayHistory))
	copy(history, acc.PlayHistory)
	return history, nil
}

// RecordPlay appends gameID to the player's play history if absent.
// An unknown player is a no-op, matching the lenient contract callers
// rely on during room churn.
func (s *Store) RecordPlay(user, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.doc.Players[user]
	if !ok {
		return nil
	}
	if acc.HasPlayed(gameID) {
		return nil
	}
	acc.PlayHistory = append(acc.PlayHistory, gameID)
	s.persist()
	return nil
}

// GetPlayer returns a copy of the player account.
func (s *Store) GetPlayer(user string) (*model.PlayerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.doc.Players[user]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *acc
	cp.PlayHistory = append([]string(nil), acc.PlayHistory...)
	return &cp, nil
}

// GameMetadata is the mutable catalogue metadata carried by an upload.
type GameMetadata struct {
	Author      string `json:"author"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	MinPlayers  int    `json:"min_players"`
	MaxPlayers  int    `json:"max_players"`
}

// UploadGame creates the game on first upload or overwrites its
// metadata on subsequent ones, preserving ratings and versions. Any
// upload re-lists an off-shelved title. A supplied version entry is
// appended and becomes the latest version.
func (s *Store) UploadGame(gameID string, meta GameMetadata, versionInfo *model.VersionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.doc.Games[gameID]
	if !ok {
		g = &model.Game{
			ID:       gameID,
			Versions: []model.VersionEntry{},
		}
		s.doc.Games[gameID] = g
	}

	g.Author = meta.Author
	g.Name = meta.Name
	g.Description = meta.Description
	g.Type = meta.Type
	g.MinPlayers = meta.MinPlayers
	g.MaxPlayers = meta.MaxPlayers
	g.IsActive = true

	if versionInfo != nil {
		g.Versions = append(g.Versions, *versionInfo)
		g.LatestVersion = versionInfo.Version
	}

	s.persist()
	return nil
}

// ListGames returns catalogue projections sorted by game id. Inactive
// titles are skipped unless includeInactive is set.
func (s *Store) ListGames(includeInactive bool) []model.GameSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.GameSummary, 0, len(s.doc.Games))
	for _, g := range s.doc.Games {
		if !includeInactive && !g.IsActive {
			continue
		}
		out = append(out, g.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetGameActive flips the is_active flag.
func (s *Store) SetGameActive(gameID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.doc.Games[gameID]
	if !ok {
		return ErrNotFound
	}
	g.IsActive = active
	s.persist()
	return nil
}

// GetGame returns a copy of the full game record.
func (s *Store) GetGame(gameID string) (*model.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.doc.Games[gameID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	cp.Versions = append([]model.VersionEntry(nil), g.Versions...)
	return &cp, nil
}

// SubmitReview creates or mutates the single review per (game, user).
// The player must have the game in their play history. On
// resubmission the game's rating_sum moves by new−old and the count
// stays put; otherwise a fresh review id is allocated and the count
// grows. average_rating is recomputed either way.
func (s *Store) SubmitReview(user, gameID string, rating int, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.doc.Players[user]
	if !ok || !acc.HasPlayed(gameID) {
		return ErrMustPlayFirst
	}

	g := s.doc.Games[gameID]

	for _, r := range s.doc.Reviews {
		if r.GameID != gameID || r.User != user {
			continue
		}
		old := r.Rating
		r.Rating = rating
		r.Comment = comment
		r.Timestamp = s.now()
		if g != nil {
			g.RatingSum += rating - old
			if g.RatingCount > 0 {
				g.AverageRating = float64(g.RatingSum) / float64(g.RatingCount)
			}
		}
		s.persist()
		return nil
	}

	id := s.nextID("review")
	s.doc.Reviews[id] = &model.Review{
		ID:        id,
		GameID:    gameID,
		User:      user,
		Rating:    rating,
		Comment:   comment,
		Timestamp: s.now(),
	}
	if g != nil {
		g.RatingSum += rating
		g.RatingCount++
		g.AverageRating = float64(g.RatingSum) / float64(g.RatingCount)
	}
	s.persist()
	return nil
}

// ListReviews returns the reviews of a game ordered by review id.
func (s *Store) ListReviews(gameID string) []model.Review {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Review, 0, 4)
	for _, r := range s.doc.Reviews {
		if r.GameID == gameID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.ParseInt(out[i].ID, 10, 64)
		b, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return a < b
	})
	return out
}
