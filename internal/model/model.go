// Package model holds the persisted and wire-visible entities of the
// platform: accounts, games, versions and reviews. Rooms are runtime
// state and live in the lobby package.
package model

// DeveloperAccount is a developer login record.
type DeveloperAccount struct {
	Username     string `json:"user"`
	PasswordHash string `json:"password"`
	CreatedAt    int64  `json:"created_at"`
}

// PlayerAccount is a player login record. Status is transient lobby
// state persisted only as a convenience snapshot; PlayHistory is the
// deduplicated set of game ids the player has ever entered a room for
// and gates review submission.
type PlayerAccount struct {
	Username     string   `json:"user"`
	PasswordHash string   `json:"password"`
	Status       string   `json:"status"`
	PlayHistory  []string `json:"play_history"`
	CreatedAt    int64    `json:"created_at"`
}

// HasPlayed reports whether gameID is in the player's play history.
func (p *PlayerAccount) HasPlayed(gameID string) bool {
	for _, id := range p.PlayHistory {
		if id == gameID {
			return true
		}
	}
	return false
}

// VersionEntry is one uploaded version of a game. Immutable once
// appended.
type VersionEntry struct {
	Version    string `json:"version"`
	FilePath   string `json:"file_path"`
	UploadedAt int64  `json:"uploaded_at"`
}

// Game is a catalogue entry. LatestVersion always equals the version
// of the last element of Versions.
type Game struct {
	ID            string         `json:"id"`
	Author        string         `json:"author"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Type          string         `json:"type"`
	MinPlayers    int            `json:"min_players"`
	MaxPlayers    int            `json:"max_players"`
	LatestVersion string         `json:"latest_version"`
	Versions      []VersionEntry `json:"versions"`
	RatingSum     int            `json:"rating_sum"`
	RatingCount   int            `json:"rating_count"`
	AverageRating float64        `json:"average_rating"`
	IsActive      bool           `json:"is_active"`
}

// VersionEntryFor returns the entry matching version, or nil.
func (g *Game) VersionEntryFor(version string) *VersionEntry {
	for i := range g.Versions {
		if g.Versions[i].Version == version {
			return &g.Versions[i]
		}
	}
	return nil
}

// GameSummary is the catalogue projection returned by Games.list.
type GameSummary struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Author        string  `json:"author"`
	LatestVersion string  `json:"latest_version"`
	Description   string  `json:"description"`
	RatingAvg     float64 `json:"rating_avg"`
	RatingCount   int     `json:"rating_count"`
	IsActive      bool    `json:"is_active"`
	Type          string  `json:"type"`
	MinPlayers    int     `json:"min_players"`
	MaxPlayers    int     `json:"max_players"`
}

// Summary builds the list projection of a game.
func (g *Game) Summary() GameSummary {
	return GameSummary{
		ID:            g.ID,
		Name:          g.Name,
		Author:        g.Author,
		LatestVersion: g.LatestVersion,
		Description:   g.Description,
		RatingAvg:     g.AverageRating,
		RatingCount:   g.RatingCount,
		IsActive:      g.IsActive,
		Type:          g.Type,
		MinPlayers:    g.MinPlayers,
		MaxPlayers:    g.MaxPlayers,
	}
}

// Review is one player's review of one game. At most one review
// exists per (game id, user) pair; resubmission mutates it in place.
type Review struct {
	ID        string `json:"id"`
	GameID    string `json:"game_id"`
	User      string `json:"user"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	Timestamp int64  `json:"timestamp"`
}
