// Package router dispatches protocol messages from websocket
// connections to the room coordinator and fans room snapshots back out
// to every connection subscribed to the room.
package router

import (
	"fmt"
	"sync"
)

// Binding is the (userId, roomId) association recorded for a
// connection when it creates or joins a room.
type Binding struct {
	UserID string
	RoomID string
}

// Sessions tracks which user and room each connection is bound to, and
// the reverse mapping from room to subscribed connections. This is
// transport-layer state; the coordinator only ever sees explicit ids.
// All methods are safe for concurrent use.
type Sessions struct {
	mu        sync.RWMutex
	byConn    map[string]Binding         // connID → binding
	roomConns map[string]map[string]bool // roomID → set of connIDs
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{
		byConn:    make(map[string]Binding),
		roomConns: make(map[string]map[string]bool),
	}
}

// Bind records the connection's association and subscribes it to the
// room's broadcasts.
//
// Precondition: connID, userID, and roomID must be non-empty.
// Postcondition: Returns an error if the connection is already bound.
func (s *Sessions) Bind(connID, userID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byConn[connID]; exists {
		return fmt.Errorf("connection %q already bound", connID)
	}

	s.byConn[connID] = Binding{UserID: userID, RoomID: roomID}
	if s.roomConns[roomID] == nil {
		s.roomConns[roomID] = make(map[string]bool)
	}
	s.roomConns[roomID][connID] = true
	return nil
}

// Unbind removes the connection's association and unsubscribes it.
//
// Postcondition: Returns (binding, true) with the removed association,
// or (zero, false) if the connection was not bound.
func (s *Sessions) Unbind(connID string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.byConn[connID]
	if !ok {
		return Binding{}, false
	}

	if rc, ok := s.roomConns[b.RoomID]; ok {
		delete(rc, connID)
		if len(rc) == 0 {
			delete(s.roomConns, b.RoomID)
		}
	}
	delete(s.byConn, connID)
	return b, true
}

// Lookup returns the connection's association.
//
// Postcondition: Returns (binding, true) if bound, or (zero, false) otherwise.
func (s *Sessions) Lookup(connID string) (Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byConn[connID]
	return b, ok
}

// ConnsInRoom returns the ids of all connections subscribed to the room.
//
// Postcondition: Returns a slice of connection ids (may be empty).
func (s *Sessions) ConnsInRoom(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns, ok := s.roomConns[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// Count returns the number of bound connections.
func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byConn)
}
