package router

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/planningpoker/internal/poker"
)

// Event names the protocol message type. The same names are used for
// inbound requests and their acknowledgements.
type Event string

const (
	EventCreateRoom     Event = "createRoom"
	EventJoinRoom       Event = "joinRoom"
	EventLeaveRoom      Event = "leaveRoom"
	EventRoomUpdated    Event = "roomUpdated"
	EventUserJoined     Event = "userJoined"
	EventUserLeft       Event = "userLeft"
	EventCreateStory    Event = "createStory"
	EventUpdateStory    Event = "updateStory"
	EventDeleteStory    Event = "deleteStory"
	EventSetActiveStory Event = "setActiveStory"
	EventSubmitVote     Event = "submitVote"
	EventRevealVotes    Event = "revealVotes"
	EventResetVotes     Event = "resetVotes"
	EventError          Event = "error"
)

// Machine-readable error codes surfaced to clients. The coordinator
// itself only returns nil sentinels; the router owns the mapping.
const (
	CodeRoomNotFound        = "ROOM_NOT_FOUND"
	CodeStoryNotFound       = "STORY_NOT_FOUND"
	CodeCreateRoomError     = "CREATE_ROOM_ERROR"
	CodeJoinRoomError       = "JOIN_ROOM_ERROR"
	CodeCreateStoryError    = "CREATE_STORY_ERROR"
	CodeUpdateStoryError    = "UPDATE_STORY_ERROR"
	CodeDeleteStoryError    = "DELETE_STORY_ERROR"
	CodeSetActiveStoryError = "SET_ACTIVE_STORY_ERROR"
	CodeSubmitVoteError     = "SUBMIT_VOTE_ERROR"
	CodeRevealVotesError    = "REVEAL_VOTES_ERROR"
	CodeResetVotesError     = "RESET_VOTES_ERROR"
)

// Envelope is the wire frame carried in both directions.
type Envelope struct {
	Event   Event           `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals a payload into an enveloped wire frame.
//
// Postcondition: Returns the encoded frame or a non-nil error.
func Encode(event Event, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", event, err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", event, err)
	}
	return data, nil
}

// CreateRoomPayload opens a new room with the sender as moderator.
type CreateRoomPayload struct {
	UserName string `json:"userName"`
	RoomName string `json:"roomName"`
}

// JoinRoomPayload adds the sender to an existing room.
type JoinRoomPayload struct {
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
}

// RoomAck acknowledges createRoom/joinRoom to the calling connection.
type RoomAck struct {
	Room *poker.Room        `json:"room"`
	User *poker.Participant `json:"user"`
	Deck *poker.Deck        `json:"deck,omitempty"`
}

// CreateStoryPayload appends a story to a room.
type CreateStoryPayload struct {
	RoomID      string `json:"roomId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// UpdateStoryPayload edits a story in place. Omitted fields are left
// unchanged.
type UpdateStoryPayload struct {
	RoomID      string  `json:"roomId"`
	StoryID     string  `json:"storyId"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

// DeleteStoryPayload removes a story from a room.
type DeleteStoryPayload struct {
	RoomID  string `json:"roomId"`
	StoryID string `json:"storyId"`
}

// SetActiveStoryPayload activates a story and restarts voting.
type SetActiveStoryPayload struct {
	RoomID  string `json:"roomId"`
	StoryID string `json:"storyId"`
}

// SubmitVotePayload plays a card. A null value is the uncertain card.
type SubmitVotePayload struct {
	RoomID string          `json:"roomId"`
	UserID string          `json:"userId"`
	Value  poker.VoteValue `json:"value"`
}

// RevealVotesPayload closes voting in a room.
type RevealVotesPayload struct {
	RoomID string `json:"roomId"`
}

// ResetVotesPayload reopens voting in a room.
type ResetVotesPayload struct {
	RoomID string `json:"roomId"`
}

// UserJoinedPayload announces a new participant to the rest of the room.
type UserJoinedPayload struct {
	User   *poker.Participant `json:"user"`
	RoomID string             `json:"roomId"`
}

// UserLeftPayload announces a departure to the rest of the room.
type UserLeftPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// ErrorPayload carries a machine-readable code and a human-readable
// message to the calling connection.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
