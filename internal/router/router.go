package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/planningpoker/internal/poker"
)

// Sender delivers one encoded protocol frame to a single connection.
// Implementations must not block; a full outbound queue is an error.
type Sender interface {
	Send(data []byte) error
}

// Router is the session router: it owns the connection registry, maps
// inbound protocol messages to coordinator operations, and forwards
// each result to the calling connection and to the room's subscribers.
type Router struct {
	coord    *poker.Coordinator
	deck     *poker.Deck
	sessions *Sessions
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]Sender // connID → transport endpoint
}

// New creates a Router.
//
// Precondition: coord, deck, and logger must be non-nil.
func New(coord *poker.Coordinator, deck *poker.Deck, logger *zap.Logger) *Router {
	return &Router{
		coord:    coord,
		deck:     deck,
		sessions: NewSessions(),
		logger:   logger,
		clients:  make(map[string]Sender),
	}
}

// Attach registers a connected transport endpoint.
//
// Precondition: connID must be unique among attached connections.
func (r *Router) Attach(connID string, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[connID] = s
	r.logger.Info("client connected", zap.String("conn", connID))
}

// Detach removes the endpoint and, if the connection was bound to a
// room, leaves that room. The transport must call this exactly once
// per lost connection.
func (r *Router) Detach(connID string) {
	r.mu.Lock()
	delete(r.clients, connID)
	r.mu.Unlock()

	r.leave(connID)
	r.logger.Info("client disconnected", zap.String("conn", connID))
}

// HandleMessage decodes one inbound frame from the connection and
// dispatches it to the coordinator.
func (r *Router) HandleMessage(connID string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("malformed frame",
			zap.String("conn", connID),
			zap.Error(err),
		)
		return
	}

	switch env.Event {
	case EventCreateRoom:
		r.handleCreateRoom(connID, env.Payload)
	case EventJoinRoom:
		r.handleJoinRoom(connID, env.Payload)
	case EventLeaveRoom:
		r.leave(connID)
	case EventCreateStory:
		r.handleCreateStory(connID, env.Payload)
	case EventUpdateStory:
		r.handleUpdateStory(connID, env.Payload)
	case EventDeleteStory:
		r.handleDeleteStory(connID, env.Payload)
	case EventSetActiveStory:
		r.handleSetActiveStory(connID, env.Payload)
	case EventSubmitVote:
		r.handleSubmitVote(connID, env.Payload)
	case EventRevealVotes:
		r.handleRevealVotes(connID, env.Payload)
	case EventResetVotes:
		r.handleResetVotes(connID, env.Payload)
	default:
		r.logger.Warn("unknown event",
			zap.String("conn", connID),
			zap.String("event", string(env.Event)),
		)
	}
}

func (r *Router) handleCreateRoom(connID string, payload json.RawMessage) {
	var p CreateRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeCreateRoomError, "failed to create room")
		return
	}

	room, user := r.coord.CreateRoom(p.UserName, p.RoomName)
	if err := r.sessions.Bind(connID, user.ID, room.ID); err != nil {
		r.logger.Warn("binding connection", zap.String("conn", connID), zap.Error(err))
		r.sendError(connID, CodeCreateRoomError, "failed to create room")
		return
	}

	r.send(connID, EventCreateRoom, RoomAck{Room: room, User: user, Deck: r.deck})
	r.logger.Info("room created",
		zap.String("room", room.ID),
		zap.String("user", user.ID),
	)
}

func (r *Router) handleJoinRoom(connID string, payload json.RawMessage) {
	var p JoinRoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeJoinRoomError, "failed to join room")
		return
	}

	room, user := r.coord.JoinRoom(p.RoomID, p.UserName)
	if room == nil {
		r.sendError(connID, CodeRoomNotFound, fmt.Sprintf("room with ID %s not found", p.RoomID))
		return
	}
	if err := r.sessions.Bind(connID, user.ID, room.ID); err != nil {
		r.logger.Warn("binding connection", zap.String("conn", connID), zap.Error(err))
		r.sendError(connID, CodeJoinRoomError, "failed to join room")
		return
	}

	r.send(connID, EventJoinRoom, RoomAck{Room: room, User: user, Deck: r.deck})
	r.broadcastExcept(room.ID, connID, EventUserJoined, UserJoinedPayload{User: user, RoomID: room.ID})
	r.broadcastExcept(room.ID, connID, EventRoomUpdated, room)
	r.logger.Info("user joined room",
		zap.String("room", room.ID),
		zap.String("user", user.ID),
	)
}

// leave handles both the explicit leaveRoom message and disconnects.
// An unbound connection is a silent no-op, as is an unknown room or
// user: nothing is broadcast in those cases.
func (r *Router) leave(connID string) {
	b, ok := r.sessions.Lookup(connID)
	if !ok {
		return
	}

	room := r.coord.LeaveRoom(b.UserID, b.RoomID)
	r.sessions.Unbind(connID)

	if room != nil {
		r.broadcast(room.ID, EventRoomUpdated, room)
		r.broadcast(room.ID, EventUserLeft, UserLeftPayload{UserID: b.UserID, RoomID: b.RoomID})
	}
	r.logger.Info("user left room",
		zap.String("room", b.RoomID),
		zap.String("user", b.UserID),
		zap.Bool("room_deleted", room == nil),
	)
}

func (r *Router) handleCreateStory(connID string, payload json.RawMessage) {
	var p CreateStoryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeCreateStoryError, "failed to create story")
		return
	}

	room := r.coord.CreateStory(p.RoomID, p.Title, p.Description)
	if room == nil {
		r.sendError(connID, CodeRoomNotFound, fmt.Sprintf("room with ID %s not found", p.RoomID))
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

func (r *Router) handleUpdateStory(connID string, payload json.RawMessage) {
	var p UpdateStoryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeUpdateStoryError, "failed to update story")
		return
	}

	room := r.coord.UpdateStory(p.RoomID, p.StoryID, p.Title, p.Description)
	if room == nil {
		r.sendError(connID, CodeStoryNotFound, fmt.Sprintf("story not found in room %s", p.RoomID))
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

func (r *Router) handleDeleteStory(connID string, payload json.RawMessage) {
	var p DeleteStoryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeDeleteStoryError, "failed to delete story")
		return
	}

	room := r.coord.DeleteStory(p.RoomID, p.StoryID)
	if room == nil {
		r.sendError(connID, CodeStoryNotFound, fmt.Sprintf("story not found in room %s", p.RoomID))
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

func (r *Router) handleSetActiveStory(connID string, payload json.RawMessage) {
	var p SetActiveStoryPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeSetActiveStoryError, "failed to set active story")
		return
	}

	room := r.coord.SetActiveStory(p.RoomID, p.StoryID)
	if room == nil {
		r.sendError(connID, CodeStoryNotFound, fmt.Sprintf("story not found in room %s", p.RoomID))
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

func (r *Router) handleSubmitVote(connID string, payload json.RawMessage) {
	var p SubmitVotePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeSubmitVoteError, "failed to submit vote")
		return
	}

	room := r.coord.SubmitVote(p.RoomID, p.UserID, p.Value)
	if room == nil {
		r.sendError(connID, CodeSubmitVoteError, "failed to submit vote")
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

func (r *Router) handleRevealVotes(connID string, payload json.RawMessage) {
	var p RevealVotesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeRevealVotesError, "failed to reveal votes")
		return
	}

	room := r.coord.RevealVotes(p.RoomID)
	if room == nil {
		r.sendError(connID, CodeRoomNotFound, fmt.Sprintf("room with ID %s not found", p.RoomID))
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

func (r *Router) handleResetVotes(connID string, payload json.RawMessage) {
	var p ResetVotesPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.sendError(connID, CodeResetVotesError, "failed to reset votes")
		return
	}

	room := r.coord.ResetVotes(p.RoomID)
	if room == nil {
		r.sendError(connID, CodeRoomNotFound, fmt.Sprintf("room with ID %s not found", p.RoomID))
		return
	}
	r.broadcast(room.ID, EventRoomUpdated, room)
}

// send encodes and delivers one frame to a single connection.
func (r *Router) send(connID string, event Event, payload any) {
	data, err := Encode(event, payload)
	if err != nil {
		r.logger.Error("encoding frame", zap.String("event", string(event)), zap.Error(err))
		return
	}

	r.mu.RLock()
	client, ok := r.clients[connID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := client.Send(data); err != nil {
		r.logger.Warn("dropping frame",
			zap.String("conn", connID),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func (r *Router) sendError(connID, code, message string) {
	r.send(connID, EventError, ErrorPayload{Code: code, Message: message})
}

// broadcast delivers one frame to every connection subscribed to the room.
func (r *Router) broadcast(roomID string, event Event, payload any) {
	r.broadcastExcept(roomID, "", event, payload)
}

// broadcastExcept delivers to every subscriber except the named
// connection (used so join acks are not duplicated to the joiner).
func (r *Router) broadcastExcept(roomID, exceptConnID string, event Event, payload any) {
	data, err := Encode(event, payload)
	if err != nil {
		r.logger.Error("encoding frame", zap.String("event", string(event)), zap.Error(err))
		return
	}

	for _, connID := range r.sessions.ConnsInRoom(roomID) {
		if connID == exceptConnID {
			continue
		}
		r.mu.RLock()
		client, ok := r.clients[connID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := client.Send(data); err != nil {
			r.logger.Warn("dropping frame",
				zap.String("conn", connID),
				zap.String("event", string(event)),
				zap.Error(err),
			)
		}
	}
}
