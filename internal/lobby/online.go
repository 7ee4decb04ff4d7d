package lobby

import "sync"

// Player statuses shown in LIST_ONLINE.
const (
	StatusIdle    = "Idle"
	StatusPlaying = "Playing"
)

// UserStatus is the public projection of one online player.
type UserStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Online tracks authenticated players for the lifetime of their
// connection. Keyed by username: a second LOGIN for a name already
// present is rejected, it does not replace the first session.
type Online struct {
	mu      sync.Mutex
	players map[string]string // username -> status
}

// NewOnline creates an empty online registry.
func NewOnline() *Online {
	return &Online{players: make(map[string]string)}
}

// Add registers a player with status Idle. Returns false if the
// username is already online.
func (o *Online) Add(user string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.players[user]; ok {
		return false
	}
	o.players[user] = StatusIdle
	return true
}

// Remove drops a player from the registry.
func (o *Online) Remove(user string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.players, user)
}

// Contains reports whether the username is online.
func (o *Online) Contains(user string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.players[user]
	return ok
}

// SetStatus updates a player's status. Unknown players are ignored:
// room teardown may outlive a member's connection.
func (o *Online) SetStatus(user, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.players[user]; ok {
		o.players[user] = status
	}
}

// Status returns a player's current status.
func (o *Online) Status(user string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.players[user]
	return st, ok
}

// Snapshot returns the current users with their statuses.
func (o *Online) Snapshot() []UserStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]UserStatus, 0, len(o.players))
	for name, status := range o.players {
		out = append(out, UserStatus{Name: name, Status: status})
	}
	return out
}

// Count returns the number of online players.
func (o *Online) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.players)
}
