package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/signal"
)

type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *fakeSender) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSender) events(t *testing.T) []signal.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	events := make([]signal.Event, 0, len(s.frames))
	for _, frame := range s.frames {
		env := &signal.Envelope{}
		require.NoError(t, json.Unmarshal(frame, env))
		events = append(events, env.Event)
	}
	return events
}

type fakeBus struct {
	mu        sync.Mutex
	published map[core.RoomID][][]byte
	handler   func(core.RoomID, []byte)
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: make(map[core.RoomID][][]byte)}
}

func (b *fakeBus) Publish(roomID core.RoomID, frame []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[roomID] = append(b.published[roomID], frame)
	return nil
}

func (b *fakeBus) Subscribe(handler func(core.RoomID, []byte)) error {
	b.handler = handler
	return nil
}

func (b *fakeBus) Close() error { return nil }

func connect(r *Relay, id core.ConnectionID) *fakeSender {
	sender := &fakeSender{}
	r.Connect(id, sender)
	return sender
}

func TestBroadcastExcludesSenderAndNonMembers(t *testing.T) {
	r := New(nil)

	a := connect(r, "a")
	b := connect(r, "b")
	c := connect(r, "c")
	outsider := connect(r, "outsider")

	r.Join("a", "room1")
	r.Join("b", "room1")
	r.Join("c", "room1")
	r.Join("outsider", "room2")

	r.BroadcastToRoom("room1", signal.CodeUpdateEvent, "x = 1", "a")

	assert.Empty(t, a.events(t))
	assert.Equal(t, []signal.Event{signal.CodeUpdateEvent}, b.events(t))
	assert.Equal(t, []signal.Event{signal.CodeUpdateEvent}, c.events(t))
	assert.Empty(t, outsider.events(t))
}

func TestBroadcastWithoutExclusionReachesWholeRoom(t *testing.T) {
	r := New(nil)

	a := connect(r, "a")
	b := connect(r, "b")
	r.Join("a", "room1")
	r.Join("b", "room1")

	r.BroadcastToRoom("room1", signal.RoomUpdatedEvent, nil, "")

	assert.Equal(t, []signal.Event{signal.RoomUpdatedEvent}, a.events(t))
	assert.Equal(t, []signal.Event{signal.RoomUpdatedEvent}, b.events(t))
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	r := New(nil)

	connect(r, "a")
	connect(r, "b")

	r.Join("a", "room1")
	r.Join("a", "room1")
	r.Join("b", "room1")

	assert.ElementsMatch(t, []core.ConnectionID{"a", "b"}, r.Members("room1"))

	r.Leave("a", "room1")
	r.Leave("a", "room1")

	assert.ElementsMatch(t, []core.ConnectionID{"b"}, r.Members("room1"))

	r.Leave("b", "room1")
	assert.Empty(t, r.Members("room1"))
}

func TestMembershipMatchesJoinLeaveReplay(t *testing.T) {
	r := New(nil)

	for _, id := range []core.ConnectionID{"a", "b", "c", "d"} {
		connect(r, id)
	}

	ops := []struct {
		join bool
		id   core.ConnectionID
	}{
		{true, "a"}, {true, "b"}, {true, "a"}, {true, "c"},
		{false, "b"}, {true, "d"}, {false, "a"}, {false, "x"},
	}
	for _, op := range ops {
		if op.join {
			r.Join(op.id, "room1")
		} else {
			r.Leave(op.id, "room1")
		}
	}

	assert.ElementsMatch(t, []core.ConnectionID{"c", "d"}, r.Members("room1"))
}

func TestSendToMissingConnectionIsDropped(t *testing.T) {
	r := New(nil)

	assert.NotPanics(t, func() {
		r.SendToConnection("ghost", signal.OfferEvent, nil)
	})
}

func TestSendToConnection(t *testing.T) {
	r := New(nil)

	a := connect(r, "a")
	b := connect(r, "b")

	r.SendToConnection("b", signal.AnswerEvent, signal.Answer{From: "a"})

	assert.Empty(t, a.events(t))
	assert.Equal(t, []signal.Event{signal.AnswerEvent}, b.events(t))
}

func TestFailedWriteIsSwallowed(t *testing.T) {
	r := New(nil)

	broken := &fakeSender{err: errors.New("gone")}
	r.Connect("a", broken)
	healthy := connect(r, "b")
	r.Join("a", "room1")
	r.Join("b", "room1")

	assert.NotPanics(t, func() {
		r.BroadcastToRoom("room1", signal.CodeUpdateEvent, "x", "")
	})
	assert.Len(t, healthy.events(t), 1)
}

func TestDisconnectRemovesAllMemberships(t *testing.T) {
	r := New(nil)

	connect(r, "a")
	connect(r, "b")
	r.Join("a", "room1")
	r.Join("a", "room2")
	r.Join("b", "room1")

	assert.ElementsMatch(t, []core.RoomID{"room1", "room2"}, r.RoomsOf("a"))

	r.Disconnect("a")

	assert.Empty(t, r.RoomsOf("a"))
	assert.ElementsMatch(t, []core.ConnectionID{"b"}, r.Members("room1"))
	assert.Empty(t, r.Members("room2"))
}

func TestBroadcastIsMirroredToBus(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)

	connect(r, "a")
	r.Join("a", "room1")

	r.BroadcastToRoom("room1", signal.CodeUpdateEvent, "x", "a")

	require.Len(t, bus.published["room1"], 1)
	env := &signal.Envelope{}
	require.NoError(t, json.Unmarshal(bus.published["room1"][0], env))
	assert.Equal(t, signal.CodeUpdateEvent, env.Event)
}

func TestRemoteFrameReachesLocalMembers(t *testing.T) {
	bus := newFakeBus()
	r := New(bus)
	require.NotNil(t, bus.handler)

	a := connect(r, "a")
	b := connect(r, "b")
	r.Join("a", "room1")
	r.Join("b", "room1")

	frame, err := signal.Encode(signal.CodeUpdateEvent, "remote")
	require.NoError(t, err)
	bus.handler("room1", frame)

	assert.Equal(t, []signal.Event{signal.CodeUpdateEvent}, a.events(t))
	assert.Equal(t, []signal.Event{signal.CodeUpdateEvent}, b.events(t))
}
