package router

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/planningpoker/internal/poker"
)

// fakeConn records every frame the router delivers to one connection.
type fakeConn struct {
	mu     sync.Mutex
	frames []Envelope
}

func (f *fakeConn) Send(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, env)
	return nil
}

func (f *fakeConn) events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.frames))
	for _, env := range f.frames {
		out = append(out, env.Event)
	}
	return out
}

func (f *fakeConn) last(event Event) (Envelope, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Event == event {
			return f.frames[i], true
		}
	}
	return Envelope{}, false
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return New(poker.NewCoordinator(), poker.DefaultDeck(), zaptest.NewLogger(t))
}

func sendEvent(t *testing.T, r *Router, connID string, event Event, payload any) {
	t.Helper()
	data, err := Encode(event, payload)
	require.NoError(t, err)
	r.HandleMessage(connID, data)
}

// createTestRoom attaches the connection, creates a room through the
// protocol, and returns the acknowledgement.
func createTestRoom(t *testing.T, r *Router, connID, userName, roomName string) RoomAck {
	t.Helper()
	conn := &fakeConn{}
	r.Attach(connID, conn)
	sendEvent(t, r, connID, EventCreateRoom, CreateRoomPayload{UserName: userName, RoomName: roomName})
	env, ok := conn.last(EventCreateRoom)
	require.True(t, ok, "expected createRoom ack")
	return decodePayload[RoomAck](t, env)
}

func TestRouter_CreateRoom(t *testing.T) {
	r := newTestRouter(t)
	conn := &fakeConn{}
	r.Attach("c1", conn)

	sendEvent(t, r, "c1", EventCreateRoom, CreateRoomPayload{UserName: "Alice", RoomName: "Sprint 12"})

	env, ok := conn.last(EventCreateRoom)
	require.True(t, ok)
	ack := decodePayload[RoomAck](t, env)
	require.NotNil(t, ack.Room)
	require.NotNil(t, ack.User)
	assert.Equal(t, "Sprint 12", ack.Room.Name)
	assert.Equal(t, poker.RoleModerator, ack.User.Role)
	require.NotNil(t, ack.Deck)
	assert.Equal(t, "fibonacci", ack.Deck.ID)
}

func TestRouter_JoinRoom_BroadcastsPresence(t *testing.T) {
	r := newTestRouter(t)
	creatorConn := &fakeConn{}
	r.Attach("c1", creatorConn)
	sendEvent(t, r, "c1", EventCreateRoom, CreateRoomPayload{UserName: "Alice", RoomName: "R"})
	env, ok := creatorConn.last(EventCreateRoom)
	require.True(t, ok)
	ack := decodePayload[RoomAck](t, env)

	joinerConn := &fakeConn{}
	r.Attach("c2", joinerConn)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: ack.Room.ID})

	// Joiner gets the ack only.
	joinEnv, ok := joinerConn.last(EventJoinRoom)
	require.True(t, ok)
	joinAck := decodePayload[RoomAck](t, joinEnv)
	assert.Equal(t, "Bob", joinAck.User.Name)
	assert.Len(t, joinAck.Room.Participants, 2)
	assert.NotContains(t, joinerConn.events(), EventUserJoined)
	assert.NotContains(t, joinerConn.events(), EventRoomUpdated)

	// Creator hears about the newcomer, presence first.
	assert.Equal(t, []Event{EventCreateRoom, EventUserJoined, EventRoomUpdated}, creatorConn.events())
	presenceEnv, ok := creatorConn.last(EventUserJoined)
	require.True(t, ok)
	presence := decodePayload[UserJoinedPayload](t, presenceEnv)
	assert.Equal(t, "Bob", presence.User.Name)
	assert.Equal(t, ack.Room.ID, presence.RoomID)
}

func TestRouter_JoinRoom_NotFound(t *testing.T) {
	r := newTestRouter(t)
	conn := &fakeConn{}
	r.Attach("c1", conn)

	sendEvent(t, r, "c1", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: "missing"})

	env, ok := conn.last(EventError)
	require.True(t, ok)
	p := decodePayload[ErrorPayload](t, env)
	assert.Equal(t, CodeRoomNotFound, p.Code)
}

func TestRouter_StoryLifecycleBroadcasts(t *testing.T) {
	r := newTestRouter(t)
	ack := createTestRoom(t, r, "c1", "Alice", "R")

	joinerConn := &fakeConn{}
	r.Attach("c2", joinerConn)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: ack.Room.ID})
	joinerConn.reset()

	sendEvent(t, r, "c1", EventCreateStory, CreateStoryPayload{RoomID: ack.Room.ID, Title: "S1", Description: "d"})

	// Story mutations go to every subscriber, sender included.
	env, ok := joinerConn.last(EventRoomUpdated)
	require.True(t, ok)
	room := decodePayload[poker.Room](t, env)
	require.Len(t, room.Stories, 1)
	assert.True(t, room.Stories[0].IsActive)

	storyID := room.Stories[0].ID
	title := "S1 renamed"
	joinerConn.reset()
	sendEvent(t, r, "c1", EventUpdateStory, UpdateStoryPayload{RoomID: ack.Room.ID, StoryID: storyID, Title: &title})
	env, ok = joinerConn.last(EventRoomUpdated)
	require.True(t, ok)
	room = decodePayload[poker.Room](t, env)
	assert.Equal(t, "S1 renamed", room.Stories[0].Title)
	assert.Equal(t, "d", room.Stories[0].Description)

	joinerConn.reset()
	sendEvent(t, r, "c1", EventDeleteStory, DeleteStoryPayload{RoomID: ack.Room.ID, StoryID: storyID})
	env, ok = joinerConn.last(EventRoomUpdated)
	require.True(t, ok)
	room = decodePayload[poker.Room](t, env)
	assert.Empty(t, room.Stories)
	assert.Empty(t, room.ActiveStoryID)
}

func TestRouter_StoryNotFound(t *testing.T) {
	r := newTestRouter(t)
	ack := createTestRoom(t, r, "c1", "Alice", "R")

	conn := &fakeConn{}
	r.Attach("c2", conn)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: ack.Room.ID})
	conn.reset()

	sendEvent(t, r, "c2", EventSetActiveStory, SetActiveStoryPayload{RoomID: ack.Room.ID, StoryID: "missing"})
	env, ok := conn.last(EventError)
	require.True(t, ok)
	assert.Equal(t, CodeStoryNotFound, decodePayload[ErrorPayload](t, env).Code)
}

func TestRouter_VotingFlow(t *testing.T) {
	r := newTestRouter(t)
	ack := createTestRoom(t, r, "c1", "Alice", "R")
	roomID := ack.Room.ID

	joinerConn := &fakeConn{}
	r.Attach("c2", joinerConn)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: roomID})
	joinEnv, ok := joinerConn.last(EventJoinRoom)
	require.True(t, ok)
	bob := decodePayload[RoomAck](t, joinEnv).User

	sendEvent(t, r, "c1", EventCreateStory, CreateStoryPayload{RoomID: roomID, Title: "S1"})

	joinerConn.reset()
	sendEvent(t, r, "c1", EventSubmitVote, SubmitVotePayload{RoomID: roomID, UserID: ack.User.ID, Value: poker.NumericVote(5)})
	sendEvent(t, r, "c2", EventSubmitVote, SubmitVotePayload{RoomID: roomID, UserID: bob.ID, Value: poker.UnknownVote()})

	env, ok := joinerConn.last(EventRoomUpdated)
	require.True(t, ok)
	room := decodePayload[poker.Room](t, env)
	assert.True(t, room.Participants[0].HasVoted)
	assert.True(t, room.Participants[1].HasVoted)

	joinerConn.reset()
	sendEvent(t, r, "c1", EventRevealVotes, RevealVotesPayload{RoomID: roomID})
	env, ok = joinerConn.last(EventRoomUpdated)
	require.True(t, ok)
	room = decodePayload[poker.Room](t, env)
	assert.Equal(t, poker.VotingStateRevealed, room.VotingState)
	require.NotNil(t, room.Stories[0].FinalEstimation)
	assert.Equal(t, 5.0, *room.Stories[0].FinalEstimation)

	// Votes are frozen after reveal.
	joinerConn.reset()
	sendEvent(t, r, "c2", EventSubmitVote, SubmitVotePayload{RoomID: roomID, UserID: bob.ID, Value: poker.NumericVote(13)})
	errEnv, ok := joinerConn.last(EventError)
	require.True(t, ok)
	assert.Equal(t, CodeSubmitVoteError, decodePayload[ErrorPayload](t, errEnv).Code)
	assert.NotContains(t, joinerConn.events(), EventRoomUpdated)

	joinerConn.reset()
	sendEvent(t, r, "c1", EventResetVotes, ResetVotesPayload{RoomID: roomID})
	env, ok = joinerConn.last(EventRoomUpdated)
	require.True(t, ok)
	room = decodePayload[poker.Room](t, env)
	assert.Equal(t, poker.VotingStateVoting, room.VotingState)
	assert.Empty(t, room.Stories[0].Votes)
	assert.Nil(t, room.Stories[0].FinalEstimation)
}

func TestRouter_LeaveRoomBroadcasts(t *testing.T) {
	r := newTestRouter(t)
	ack := createTestRoom(t, r, "c1", "Alice", "R")

	creatorConn := &fakeConn{}
	// A second connection joins as Bob and observes the departure.
	r.Attach("c1-observer", creatorConn)
	sendEvent(t, r, "c1-observer", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: ack.Room.ID})
	bobEnv, ok := creatorConn.last(EventJoinRoom)
	require.True(t, ok)
	bob := decodePayload[RoomAck](t, bobEnv).User
	creatorConn.reset()

	sendEvent(t, r, "c1", EventLeaveRoom, nil)

	// Remaining subscriber sees the update then the departure, and Bob
	// inherits the moderator role.
	assert.Equal(t, []Event{EventRoomUpdated, EventUserLeft}, creatorConn.events())
	roomEnv, ok := creatorConn.last(EventRoomUpdated)
	require.True(t, ok)
	room := decodePayload[poker.Room](t, roomEnv)
	require.Len(t, room.Participants, 1)
	assert.Equal(t, bob.ID, room.Participants[0].ID)
	assert.Equal(t, poker.RoleModerator, room.Participants[0].Role)

	leftEnv, ok := creatorConn.last(EventUserLeft)
	require.True(t, ok)
	left := decodePayload[UserLeftPayload](t, leftEnv)
	assert.Equal(t, ack.User.ID, left.UserID)
	assert.Equal(t, ack.Room.ID, left.RoomID)
}

func TestRouter_DetachLeavesExactlyOnce(t *testing.T) {
	r := newTestRouter(t)
	ack := createTestRoom(t, r, "c1", "Alice", "R")

	observerConn := &fakeConn{}
	r.Attach("c2", observerConn)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: ack.Room.ID})

	joinerConn := &fakeConn{}
	r.Attach("c3", joinerConn)
	sendEvent(t, r, "c3", EventJoinRoom, JoinRoomPayload{UserName: "Carol", RoomID: ack.Room.ID})
	observerConn.reset()

	r.Detach("c3")
	assert.Equal(t, []Event{EventRoomUpdated, EventUserLeft}, observerConn.events())

	// A second detach for the same connection must not fire another leave.
	observerConn.reset()
	r.Detach("c3")
	assert.Empty(t, observerConn.events())
}

func TestRouter_DetachLastParticipantIsSilent(t *testing.T) {
	r := newTestRouter(t)
	conn := &fakeConn{}
	r.Attach("c1", conn)
	sendEvent(t, r, "c1", EventCreateRoom, CreateRoomPayload{UserName: "Alice", RoomName: "R"})
	env, ok := conn.last(EventCreateRoom)
	require.True(t, ok)
	ack := decodePayload[RoomAck](t, env)
	conn.reset()

	r.Detach("c1")
	assert.Empty(t, conn.events())

	// Room is gone; a later join fails.
	other := &fakeConn{}
	r.Attach("c2", other)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: ack.Room.ID})
	errEnv, ok := other.last(EventError)
	require.True(t, ok)
	assert.Equal(t, CodeRoomNotFound, decodePayload[ErrorPayload](t, errEnv).Code)
}

func TestRouter_MalformedPayload(t *testing.T) {
	r := newTestRouter(t)
	conn := &fakeConn{}
	r.Attach("c1", conn)

	r.HandleMessage("c1", []byte(`{"event":"createStory","payload":"not an object"}`))

	env, ok := conn.last(EventError)
	require.True(t, ok)
	assert.Equal(t, CodeCreateStoryError, decodePayload[ErrorPayload](t, env).Code)
}

func TestRouter_UnknownEventIgnored(t *testing.T) {
	r := newTestRouter(t)
	conn := &fakeConn{}
	r.Attach("c1", conn)

	r.HandleMessage("c1", []byte(`{"event":"timeTravel"}`))
	r.HandleMessage("c1", []byte(`not json`))
	assert.Empty(t, conn.events())
}

func TestRouter_NullVoteOnTheWire(t *testing.T) {
	r := newTestRouter(t)
	ack := createTestRoom(t, r, "c1", "Alice", "R")
	roomID := ack.Room.ID
	sendEvent(t, r, "c1", EventCreateStory, CreateStoryPayload{RoomID: roomID, Title: "S1"})

	conn := &fakeConn{}
	r.Attach("c2", conn)
	sendEvent(t, r, "c2", EventJoinRoom, JoinRoomPayload{UserName: "Bob", RoomID: roomID})
	joinEnv, ok := conn.last(EventJoinRoom)
	require.True(t, ok)
	bob := decodePayload[RoomAck](t, joinEnv).User
	conn.reset()

	// A raw null value is the uncertain card.
	frame := []byte(`{"event":"submitVote","payload":{"roomId":"` + roomID + `","userId":"` + bob.ID + `","value":null}}`)
	r.HandleMessage("c2", frame)

	env, ok := conn.last(EventRoomUpdated)
	require.True(t, ok)
	room := decodePayload[poker.Room](t, env)
	var bobNow *poker.Participant
	for _, p := range room.Participants {
		if p.ID == bob.ID {
			bobNow = p
		}
	}
	require.NotNil(t, bobNow)
	assert.True(t, bobNow.HasVoted)

	// The uncertain card is recorded on the story and stays out of the
	// statistics.
	require.Len(t, room.Stories[0].Votes, 1)
	assert.True(t, room.Stories[0].Votes[0].Value.Unknown)
	stats, statsOK := poker.CalculateStats(room.Stories[0].Votes)
	assert.False(t, statsOK)
	assert.Zero(t, stats.Count)
}
