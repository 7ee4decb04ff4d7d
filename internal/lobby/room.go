package lobby

import (
	"errors"
	"fmt"
	"sync"
)

// Room statuses. A room only ever moves forward: WAITING → PLAYING →
// CLOSED.
const (
	RoomWaiting = "WAITING"
	RoomPlaying = "PLAYING"
	RoomClosed  = "CLOSED"
)

// Room lifecycle failures carried to clients as reason codes.
var (
	ErrRoomNotFound       = errors.New("ROOM_NOT_FOUND")
	ErrVersionMismatch    = errors.New("VERSION_MISMATCH")
	ErrRoomFull           = errors.New("ROOM_FULL")
	ErrGameAlreadyStarted = errors.New("GAME_ALREADY_STARTED")
	ErrNotHost            = errors.New("NOT_HOST")
	ErrNeedMorePlayers    = errors.New("NEED_MORE_PLAYERS")
)

// Room binds a set of players, a game version and a spawned child
// server process. Never persisted; it dies with its child, with its
// host, or with its last player.
type Room struct {
	ID          string
	GameID      string
	GameVersion string
	MinPlayers  int
	MaxPlayers  int
	Status      string
	Host        string
	Port        int
	Token       string
	Players     []string // host first
	Proc        *Process
}

// InRoomStatus is the player status while a member of room id.
func InRoomStatus(id string) string {
	return fmt.Sprintf("In Room %s", id)
}

// RoomSummary is the public projection shown by LIST_ONLINE.
type RoomSummary struct {
	ID      string `json:"id"`
	GameID  string `json:"game_id"`
	Host    string `json:"host"`
	Players int    `json:"players"`
	Status  string `json:"status"`
}

// Rooms is the lobby's room registry. One mutex serialises every room
// mutation, standing in for the original's single event loop.
type Rooms struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRooms creates an empty registry.
func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[string]*Room)}
}

// Add registers a freshly created room.
func (rs *Rooms) Add(r *Room) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rooms[r.ID] = r
}

// Get returns a copy of the room state, detached from the live record.
func (rs *Rooms) Get(id string) (Room, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[id]
	if !ok {
		return Room{}, false
	}
	cp := *r
	cp.Players = append([]string(nil), r.Players...)
	return cp, true
}

// Join validates and appends user to the room. The version check is
// against the room's bound version, not the catalogue's latest.
func (rs *Rooms) Join(id, user, version string) (Room, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[id]
	if !ok {
		return Room{}, ErrRoomNotFound
	}
	if version != r.GameVersion {
		return Room{}, ErrVersionMismatch
	}
	if len(r.Players) >= r.MaxPlayers {
		return Room{}, ErrRoomFull
	}
	if r.Status != RoomWaiting {
		return Room{}, ErrGameAlreadyStarted
	}

	r.Players = append(r.Players, user)

	cp := *r
	cp.Players = append([]string(nil), r.Players...)
	return cp, nil
}

// Start transitions the room to PLAYING. Host-only; the room must
// hold at least min_players members. Returns the member list for
// status bookkeeping.
func (rs *Rooms) Start(id, user string) ([]string, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.Host != user {
		return nil, ErrNotHost
	}
	if len(r.Players) < r.MinPlayers {
		return nil, ErrNeedMorePlayers
	}

	r.Status = RoomPlaying
	return append([]string(nil), r.Players...), nil
}

// Leave removes user from the room if they are a member. destroy
// reports that the room must be torn down: the host left or the room
// emptied.
func (rs *Rooms) Leave(id, user string) (member, destroy bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[id]
	if !ok {
		return false, false
	}

	for i, p := range r.Players {
		if p != user {
			continue
		}
		r.Players = append(r.Players[:i], r.Players[i+1:]...)
		return true, r.Host == user || len(r.Players) == 0
	}
	return false, false
}

// Remove deletes the room and returns it. The false return makes
// teardown idempotent: the child waiter and an explicit destroy may
// race for the same room.
func (rs *Rooms) Remove(id string) (*Room, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	r, ok := rs.rooms[id]
	if !ok {
		return nil, false
	}
	delete(rs.rooms, id)
	r.Status = RoomClosed
	return r, true
}

// DropUser removes user from every room. Rooms they hosted are
// returned for destruction; rooms where they were a guest just lose
// the member.
func (rs *Rooms) DropUser(user string) (hosted []string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for id, r := range rs.rooms {
		if r.Host == user {
			hosted = append(hosted, id)
			continue
		}
		for i, p := range r.Players {
			if p == user {
				r.Players = append(r.Players[:i], r.Players[i+1:]...)
				break
			}
		}
	}
	return hosted
}

// Snapshot returns the public projection of every room.
func (rs *Rooms) Snapshot() []RoomSummary {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]RoomSummary, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		out = append(out, RoomSummary{
			ID:      r.ID,
			GameID:  r.GameID,
			Host:    r.Host,
			Players: len(r.Players),
			Status:  r.Status,
		})
	}
	return out
}

// Count returns the number of live rooms.
func (rs *Rooms) Count() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.rooms)
}
