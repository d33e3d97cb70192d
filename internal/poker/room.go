// Package poker implements the planning poker room coordinator: the
// in-memory state machine owning room, participant, story, and vote
// lifecycle. It performs no I/O and never logs; callers map its nil
// sentinels to user-facing error codes.
package poker

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Role is a participant's privilege level within a room.
type Role string

const (
	// RoleModerator may reveal and reset votes and manage stories.
	// Exactly one participant per non-empty room holds it.
	RoleModerator Role = "MODERATOR"
	// RoleParticipant is every other member of the room.
	RoleParticipant Role = "PARTICIPANT"
)

// VotingState is the room-wide voting phase.
type VotingState string

const (
	// VotingStateVoting means votes are hidden and may still be submitted.
	VotingStateVoting VotingState = "VOTING"
	// VotingStateRevealed means votes are visible and frozen until reset.
	VotingStateRevealed VotingState = "REVEALED"
)

// VoteValue is a planning poker card: either a numeric estimate or the
// uncertain "?" card. The tagged representation keeps the
// statistics-exclusion rule type-checked instead of convention-based.
type VoteValue struct {
	Number  float64
	Unknown bool
}

// NumericVote returns the card for the numeric estimate n.
func NumericVote(n float64) VoteValue {
	return VoteValue{Number: n}
}

// UnknownVote returns the uncertain "?" card.
func UnknownVote() VoteValue {
	return VoteValue{Unknown: true}
}

// MarshalJSON encodes the card in the wire format: a JSON number, or
// null for the uncertain card.
func (v VoteValue) MarshalJSON() ([]byte, error) {
	if v.Unknown {
		return []byte("null"), nil
	}
	return json.Marshal(v.Number)
}

// UnmarshalJSON decodes the wire format. JSON null is the uncertain card.
func (v *VoteValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = VoteValue{Unknown: true}
		return nil
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("vote value must be a number or null: %w", err)
	}
	*v = VoteValue{Number: n}
	return nil
}

// UnmarshalYAML decodes a deck card. The uncertain card is written as
// "?" (or an explicit null) in deck files.
func (v *VoteValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!null" || node.Value == "?" {
		*v = VoteValue{Unknown: true}
		return nil
	}
	var n float64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("deck card must be a number or \"?\": %w", err)
	}
	*v = VoteValue{Number: n}
	return nil
}

// Vote is one participant's recorded estimate on a story. A
// resubmission overwrites the prior value in place.
type Vote struct {
	UserID string    `json:"userId"`
	Value  VoteValue `json:"value"`
}

// Participant is a user attached to exactly one room.
type Participant struct {
	// ID is the unique participant identifier.
	ID string `json:"id"`
	// Name is the display name supplied at create/join time.
	Name string `json:"name"`
	// Role is MODERATOR or PARTICIPANT.
	Role Role `json:"role"`
	// RoomID is the owning room.
	RoomID string `json:"roomId"`
	// Vote is the current card, or nil before voting or after a reset.
	Vote *VoteValue `json:"vote"`
	// HasVoted reports whether a card was played this round. It is true
	// for the uncertain card as well.
	HasVoted bool `json:"hasVoted"`
}

// Story is an estimable work item within a room.
type Story struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	// Votes holds one entry per voting participant, in first-vote order.
	Votes []Vote `json:"votes"`
	// IsActive mirrors the owning room's ActiveStoryID. It is a cached
	// projection maintained by every mutation, never set independently.
	IsActive    bool `json:"isActive"`
	IsCompleted bool `json:"isCompleted"`
	// FinalEstimation is the average of numeric votes, set on reveal.
	FinalEstimation *float64 `json:"finalEstimation"`
}

// Room is a single estimation session: the aggregate root owning its
// participants and stories.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// Participants is ordered by join time. The order is the
	// moderator-succession tie-break.
	Participants []*Participant `json:"participants"`
	// Stories preserves insertion order.
	Stories []*Story `json:"stories"`
	// ActiveStoryID names the story currently being estimated, or is
	// empty when none is active.
	ActiveStoryID string      `json:"activeStoryId,omitempty"`
	VotingState   VotingState `json:"votingState"`
}

// clone returns a deep copy of the room. Coordinator operations return
// clones so callers can serialize snapshots without holding the
// coordinator lock.
func (r *Room) clone() *Room {
	out := &Room{
		ID:            r.ID,
		Name:          r.Name,
		ActiveStoryID: r.ActiveStoryID,
		VotingState:   r.VotingState,
		Participants:  make([]*Participant, len(r.Participants)),
		Stories:       make([]*Story, len(r.Stories)),
	}
	for i, p := range r.Participants {
		cp := *p
		if p.Vote != nil {
			v := *p.Vote
			cp.Vote = &v
		}
		out.Participants[i] = &cp
	}
	for i, s := range r.Stories {
		cs := *s
		cs.Votes = make([]Vote, len(s.Votes))
		copy(cs.Votes, s.Votes)
		if s.FinalEstimation != nil {
			f := *s.FinalEstimation
			cs.FinalEstimation = &f
		}
		out.Stories[i] = &cs
	}
	return out
}

// participant returns the member with the given id, or nil.
func (r *Room) participant(userID string) *Participant {
	for _, p := range r.Participants {
		if p.ID == userID {
			return p
		}
	}
	return nil
}

// story returns the story with the given id, or nil.
func (r *Room) story(storyID string) *Story {
	for _, s := range r.Stories {
		if s.ID == storyID {
			return s
		}
	}
	return nil
}

// clearVotes resets every participant's card and voted flag.
func (r *Room) clearVotes() {
	for _, p := range r.Participants {
		p.Vote = nil
		p.HasVoted = false
	}
}
