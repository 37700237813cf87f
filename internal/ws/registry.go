package ws

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"social-events/internal/observability"
)

// Member is one live connection as seen by the registry.
type Member interface {
	ID() string
	UserID() int64
	// Deliver queues payload without blocking. It returns false when the
	// member cannot accept it.
	Deliver(payload []byte) bool
	Close()
}

// Registry maps chat rooms to the connections currently joined to them.
// Rooms are created on first join and dropped when their last member leaves.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[int64]map[Member]struct{}
	memberships map[Member]map[int64]struct{}
	log         zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		rooms:       make(map[int64]map[Member]struct{}),
		memberships: make(map[Member]map[int64]struct{}),
		log:         log,
	}
}

// Add joins m to chatID. Adding twice is a no-op.
func (r *Registry) Add(chatID int64, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[chatID]; !ok {
		r.rooms[chatID] = make(map[Member]struct{})
	}
	r.rooms[chatID][m] = struct{}{}

	if _, ok := r.memberships[m]; !ok {
		r.memberships[m] = make(map[int64]struct{})
	}
	r.memberships[m][chatID] = struct{}{}
	observability.SetActiveRooms(len(r.rooms))
}

// Remove takes m out of chatID.
func (r *Registry) Remove(chatID int64, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(chatID, m)
	observability.SetActiveRooms(len(r.rooms))
}

// RemoveAll takes m out of every room and returns the rooms it left.
// Unknown members are ignored.
func (r *Registry) RemoveAll(m Member) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]int64, 0, len(r.memberships[m]))
	for chatID := range r.memberships[m] {
		chats = append(chats, chatID)
	}
	for _, chatID := range chats {
		r.removeLocked(chatID, m)
	}
	observability.SetActiveRooms(len(r.rooms))
	sortIDs(chats)
	return chats
}

func (r *Registry) removeLocked(chatID int64, m Member) {
	if members, ok := r.rooms[chatID]; ok {
		delete(members, m)
		if len(members) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if chats, ok := r.memberships[m]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.memberships, m)
		}
	}
}

func (r *Registry) Members(chatID int64) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]Member, 0, len(r.rooms[chatID]))
	for m := range r.rooms[chatID] {
		members = append(members, m)
	}
	return members
}

func (r *Registry) Rooms(m Member) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := make([]int64, 0, len(r.memberships[m]))
	for chatID := range r.memberships[m] {
		chats = append(chats, chatID)
	}
	sortIDs(chats)
	return chats
}

func (r *Registry) InRoom(chatID int64, m Member) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[chatID][m]
	return ok
}

// Broadcast delivers payload to every member of chatID and returns how many
// accepted it. A member whose send buffer is full is evicted from all rooms
// and closed so one slow reader cannot hold up the room.
func (r *Registry) Broadcast(chatID int64, payload []byte) int {
	members := r.Members(chatID)

	delivered := 0
	var slow []Member
	for _, m := range members {
		if m.Deliver(payload) {
			delivered++
			continue
		}
		slow = append(slow, m)
	}

	for _, m := range slow {
		r.RemoveAll(m)
		m.Close()
		r.log.Warn().
			Int64("chat_id", chatID).
			Str("conn_id", m.ID()).
			Int64("user_id", m.UserID()).
			Msg("evicted slow websocket member")
	}
	observability.AddBroadcastDeliveries(delivered, len(slow))
	return delivered
}

type MemberSnapshot struct {
	ConnID string `json:"connId"`
	UserID int64  `json:"userId"`
}

type RoomSnapshot struct {
	ChatID  int64            `json:"chatId"`
	Members []MemberSnapshot `json:"members"`
}

// Snapshot lists every room and its members, ordered by chat id.
func (r *Registry) Snapshot() []RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]RoomSnapshot, 0, len(r.rooms))
	for chatID, members := range r.rooms {
		room := RoomSnapshot{ChatID: chatID, Members: make([]MemberSnapshot, 0, len(members))}
		for m := range members {
			room.Members = append(room.Members, MemberSnapshot{ConnID: m.ID(), UserID: m.UserID()})
		}
		sort.Slice(room.Members, func(i, j int) bool { return room.Members[i].ConnID < room.Members[j].ConnID })
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ChatID < rooms[j].ChatID })
	return rooms
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
