package poker

import (
	"sync"

	"github.com/google/uuid"
)

// Coordinator owns the full room collection and is the only component
// allowed to mutate it. Every operation is atomic with respect to the
// room it touches; expected absence (unknown room, story, or user) is
// reported as a nil result, never an error.
//
// All methods are safe for concurrent use. A single mutex serializes
// mutations; no operation touches two rooms, blocks, or suspends, so
// the critical sections are short and cross-room calls never observe
// partial state.
type Coordinator struct {
	mu    sync.RWMutex
	rooms map[string]*Room // room id → room
}

// NewCoordinator creates a Coordinator with no rooms.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		rooms: make(map[string]*Room),
	}
}

// CreateRoom allocates a new room containing a single moderator
// participant and registers it.
//
// Postcondition: Returns snapshots of the created room and participant.
// Never fails; names are accepted as-is, including empty strings.
func (c *Coordinator) CreateRoom(userName, roomName string) (*Room, *Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	roomID := uuid.NewString()
	user := &Participant{
		ID:     uuid.NewString(),
		Name:   userName,
		Role:   RoleModerator,
		RoomID: roomID,
	}
	room := &Room{
		ID:           roomID,
		Name:         roomName,
		Participants: []*Participant{user},
		Stories:      []*Story{},
		VotingState:  VotingStateVoting,
	}
	c.rooms[roomID] = room

	snap := room.clone()
	return snap, snap.Participants[0]
}

// JoinRoom adds a new participant to an existing room.
//
// Postcondition: Returns snapshots of the updated room and the new
// participant, or (nil, nil) if the room does not exist.
func (c *Coordinator) JoinRoom(roomID, userName string) (*Room, *Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil, nil
	}

	user := &Participant{
		ID:     uuid.NewString(),
		Name:   userName,
		Role:   RoleParticipant,
		RoomID: roomID,
	}
	room.Participants = append(room.Participants, user)

	snap := room.clone()
	return snap, snap.Participants[len(snap.Participants)-1]
}

// LeaveRoom removes the participant from the room. The last participant
// leaving deletes the room. If the departing participant was the
// moderator, the longest-tenured remaining participant is promoted.
//
// Postcondition: Returns a snapshot of the remaining room, or nil when
// the room was deleted or when the room or user does not exist. A nil
// result means there is nothing to broadcast.
func (c *Coordinator) LeaveRoom(userID, roomID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}

	idx := -1
	for i, p := range room.Participants {
		if p.ID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}
	room.Participants = append(room.Participants[:idx], room.Participants[idx+1:]...)

	if len(room.Participants) == 0 {
		delete(c.rooms, roomID)
		return nil
	}

	hasModerator := false
	for _, p := range room.Participants {
		if p.Role == RoleModerator {
			hasModerator = true
			break
		}
	}
	if !hasModerator {
		room.Participants[0].Role = RoleModerator
	}

	return room.clone()
}

// GetRoom returns a snapshot of the room.
//
// Postcondition: Returns (snapshot, true) if found, or (nil, false) otherwise.
func (c *Coordinator) GetRoom(roomID string) (*Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil, false
	}
	return room.clone(), true
}

// RoomCount returns the number of registered rooms.
func (c *Coordinator) RoomCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// CreateStory appends a new story to the room. The first story created
// in a room becomes active automatically; later ones stay inactive
// until SetActiveStory names them.
//
// Postcondition: Returns a room snapshot, or nil if the room does not exist.
func (c *Coordinator) CreateStory(roomID, title, description string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}

	story := &Story{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Votes:       []Vote{},
	}
	room.Stories = append(room.Stories, story)

	if len(room.Stories) == 1 {
		room.ActiveStoryID = story.ID
		story.IsActive = true
	}

	return room.clone()
}

// UpdateStory edits the story's title and/or description in place.
// Nil fields are left unchanged. Votes and the active flag are untouched.
//
// Postcondition: Returns a room snapshot, or nil if the room or story
// does not exist.
func (c *Coordinator) UpdateStory(roomID, storyID string, title, description *string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	story := room.story(storyID)
	if story == nil {
		return nil
	}

	if title != nil {
		story.Title = *title
	}
	if description != nil {
		story.Description = *description
	}

	return room.clone()
}

// DeleteStory removes the story from the room. Deleting the active
// story clears ActiveStoryID; no other story is activated in its place.
//
// Postcondition: Returns a room snapshot, or nil if the room or story
// does not exist.
func (c *Coordinator) DeleteStory(roomID, storyID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}

	idx := -1
	for i, s := range room.Stories {
		if s.ID == storyID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	if room.ActiveStoryID == storyID {
		room.ActiveStoryID = ""
	}
	room.Stories = append(room.Stories[:idx], room.Stories[idx+1:]...)

	return room.clone()
}

// SetActiveStory activates the named story and restarts voting: every
// other story is deactivated, the voting state returns to VOTING, and
// every participant's card is cleared. This is the only operation that
// implicitly restarts voting.
//
// Postcondition: Returns a room snapshot, or nil without mutation if
// the room or story does not exist.
func (c *Coordinator) SetActiveStory(roomID, storyID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	story := room.story(storyID)
	if story == nil {
		return nil
	}

	for _, s := range room.Stories {
		s.IsActive = false
	}
	story.IsActive = true
	room.ActiveStoryID = storyID
	room.VotingState = VotingStateVoting
	room.clearVotes()

	return room.clone()
}

// SubmitVote records the participant's card and upserts a vote on the
// active story. Rejected without mutation when the room is unknown,
// voting is already revealed, or the user is not a participant. When no
// story is active only the participant-level card is recorded.
//
// Postcondition: Returns a room snapshot, or nil when rejected.
func (c *Coordinator) SubmitVote(roomID, userID string, value VoteValue) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok || room.VotingState == VotingStateRevealed {
		return nil
	}
	user := room.participant(userID)
	if user == nil {
		return nil
	}

	v := value
	user.Vote = &v
	user.HasVoted = true

	if room.ActiveStoryID != "" {
		if story := room.story(room.ActiveStoryID); story != nil {
			upserted := false
			for i := range story.Votes {
				if story.Votes[i].UserID == userID {
					story.Votes[i].Value = value
					upserted = true
					break
				}
			}
			if !upserted {
				story.Votes = append(story.Votes, Vote{UserID: userID, Value: value})
			}
		}
	}

	return room.clone()
}

// RevealVotes closes voting and, when the active story has at least one
// numeric vote, records the computed average as its final estimation.
//
// Postcondition: Returns a room snapshot, or nil if the room does not exist.
func (c *Coordinator) RevealVotes(roomID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}

	room.VotingState = VotingStateRevealed

	if room.ActiveStoryID != "" {
		if story := room.story(room.ActiveStoryID); story != nil {
			if stats, ok := CalculateStats(story.Votes); ok {
				avg := stats.Average
				story.FinalEstimation = &avg
			}
		}
	}

	return room.clone()
}

// ResetVotes reopens voting on the current story: participant cards are
// cleared and the active story's votes and final estimation are erased.
// The active story does not change.
//
// Postcondition: Returns a room snapshot, or nil if the room does not exist.
func (c *Coordinator) ResetVotes(roomID string) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, ok := c.rooms[roomID]
	if !ok {
		return nil
	}

	room.VotingState = VotingStateVoting
	room.clearVotes()

	if room.ActiveStoryID != "" {
		if story := room.story(room.ActiveStoryID); story != nil {
			story.Votes = []Vote{}
			story.FinalEstimation = nil
		}
	}

	return room.clone()
}
