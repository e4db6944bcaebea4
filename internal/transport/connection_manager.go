package transport

import (
	"sync"

	"github.com/vdmkenny/rpg-engine-sub003/internal/protocol"
)

// ConnectionManager is the Connection Manager (spec.md §4.7, C8): the
// session registry and connections_by_map fanout index. Guarded by its own
// mutex, per spec.md §5's "shared-mutable, guarded by their own atomic
// primitives" guidance.
type ConnectionManager struct {
	mu        sync.RWMutex
	byPlayer  map[int64]*Session
	byMap     map[string]map[int64]*Session
}

// NewConnectionManager constructs an empty registry.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byPlayer: make(map[int64]*Session),
		byMap:    make(map[string]map[int64]*Session),
	}
}

// Register adds an authenticated session to the registry and its map's
// fanout set.
func (cm *ConnectionManager) Register(s *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.byPlayer[s.PlayerID] = s
	set, ok := cm.byMap[s.MapID]
	if !ok {
		set = make(map[int64]*Session)
		cm.byMap[s.MapID] = set
	}
	set[s.PlayerID] = s
}

// Unregister removes a session from the registry and its map's fanout set.
func (cm *ConnectionManager) Unregister(s *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.byPlayer, s.PlayerID)
	if set, ok := cm.byMap[s.MapID]; ok {
		delete(set, s.PlayerID)
		if len(set) == 0 {
			delete(cm.byMap, s.MapID)
		}
	}
}

// Move updates a session's map membership, used when a player changes maps.
func (cm *ConnectionManager) Move(s *Session, newMapID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if set, ok := cm.byMap[s.MapID]; ok {
		delete(set, s.PlayerID)
		if len(set) == 0 {
			delete(cm.byMap, s.MapID)
		}
	}
	s.MapID = newMapID
	set, ok := cm.byMap[newMapID]
	if !ok {
		set = make(map[int64]*Session)
		cm.byMap[newMapID] = set
	}
	set[s.PlayerID] = s
}

// SessionFor looks up a session by player id.
func (cm *ConnectionManager) SessionFor(playerID int64) (*Session, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	s, ok := cm.byPlayer[playerID]
	return s, ok
}

// OnlinePlayerIDs returns every currently-registered player id, used by the
// shutdown drain.
func (cm *ConnectionManager) OnlinePlayerIDs() []int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]int64, 0, len(cm.byPlayer))
	for id := range cm.byPlayer {
		out = append(out, id)
	}
	return out
}

// Predicate filters which sessions on a map receive a fanout envelope.
type Predicate func(*Session) bool

// AllSessions is a Predicate that matches every session on the map.
func AllSessions(*Session) bool { return true }

// ExceptPlayer builds a Predicate excluding one player, useful so a mover
// doesn't receive its own position-delta via broadcast (it already got a
// resp_success).
func ExceptPlayer(playerID int64) Predicate {
	return func(s *Session) bool { return s.PlayerID != playerID }
}

// Fanout delivers an envelope to every session on a map matching predicate.
// Best-effort and FIFO per session, per spec.md §4.7/§4.8.
func (cm *ConnectionManager) Fanout(mapID string, predicate Predicate, env protocol.Envelope) {
	cm.mu.RLock()
	set := cm.byMap[mapID]
	sessions := make([]*Session, 0, len(set))
	for _, s := range set {
		sessions = append(sessions, s)
	}
	cm.mu.RUnlock()

	for _, s := range sessions {
		if predicate(s) {
			_ = s.Send(env)
		}
	}
}
