package relay

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/signal"
	"github.com/peerpad/peerpad/internal/telemetry"
)

// Sender is the write side of one client connection. melody sessions
// satisfy it; tests substitute an in-memory fake.
type Sender interface {
	Write(data []byte) error
}

type connection struct {
	id     core.ConnectionID
	sender Sender
	rooms  map[core.RoomID]struct{}
}

// Relay is pure forwarding infrastructure: it tracks which connection is in
// which room and fans frames out. It holds no domain knowledge and never
// validates payloads. Every operation runs to completion under one lock, so
// membership mutation and fan-out are atomic per event.
type Relay struct {
	mu    sync.Mutex
	conns map[core.ConnectionID]*connection
	rooms map[core.RoomID]map[core.ConnectionID]*connection

	bus Bus
	log zerolog.Logger
}

func New(bus Bus) *Relay {
	if bus == nil {
		bus = NoopBus{}
	}
	r := &Relay{
		conns: make(map[core.ConnectionID]*connection),
		rooms: make(map[core.RoomID]map[core.ConnectionID]*connection),
		bus:   bus,
		log:   log.With().Str("service", "relay").Logger(),
	}
	if err := bus.Subscribe(r.deliverRemote); err != nil {
		r.log.Error().Err(err).Msg("can't subscribe to relay bus")
	}
	return r
}

// Connect registers a transport endpoint. It must be called before any
// Join for the same connection id.
func (r *Relay) Connect(id core.ConnectionID, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[id] = &connection{
		id:     id,
		sender: sender,
		rooms:  make(map[core.RoomID]struct{}),
	}
	telemetry.ConnectionOpened()
}

// Disconnect removes the connection from every room it joined and forgets
// it. Presence fan-out (user-left) is the coordinator's job and must happen
// before this call, while memberships can still be enumerated.
func (r *Relay) Disconnect(id core.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return
	}
	for roomID := range conn.rooms {
		r.removeLocked(conn, roomID)
	}
	delete(r.conns, id)
	telemetry.ConnectionClosed()
}

// Join adds the connection to a room. Idempotent; the room is created
// implicitly on first join.
func (r *Relay) Join(id core.ConnectionID, roomID core.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		r.log.Warn().Str("conn", id.String()).Str("room", roomID.String()).Msg("join from unknown connection")
		return
	}
	conn.rooms[roomID] = struct{}{}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[core.ConnectionID]*connection)
		r.rooms[roomID] = members
	}
	members[id] = conn
}

// Leave removes the connection from a room. Idempotent; an empty room
// vanishes.
func (r *Relay) Leave(id core.ConnectionID, roomID core.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return
	}
	r.removeLocked(conn, roomID)
}

// RoomsOf returns the rooms the connection currently belongs to.
func (r *Relay) RoomsOf(id core.ConnectionID) []core.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]core.RoomID, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// Members returns the current member connection ids of a room.
func (r *Relay) Members(roomID core.RoomID) []core.ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]core.ConnectionID, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		members = append(members, id)
	}
	return members
}

// BroadcastToRoom delivers the event to every current member except
// exclude. Pass an empty exclude id to reach the whole room. Delivery is
// fire-and-forget: a failed write is logged and dropped, never surfaced to
// the sender.
func (r *Relay) BroadcastToRoom(roomID core.RoomID, event signal.Event, payload interface{}, exclude core.ConnectionID) {
	frame, err := signal.Encode(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(event)).Msg("can't encode broadcast frame")
		return
	}

	r.mu.Lock()
	for id, conn := range r.rooms[roomID] {
		if id == exclude {
			continue
		}
		if err := conn.sender.Write(frame); err != nil {
			r.log.Debug().Err(err).Str("conn", id.String()).Msg("dropped frame")
		}
	}
	r.mu.Unlock()

	telemetry.EventRelayed(string(event))

	if err := r.bus.Publish(roomID, frame); err != nil {
		r.log.Error().Err(err).Str("room", roomID.String()).Msg("can't mirror broadcast to bus")
	}
}

// SendToConnection delivers the event to exactly one connection. A missing
// or disconnected target is silently dropped.
func (r *Relay) SendToConnection(id core.ConnectionID, event signal.Event, payload interface{}) {
	frame, err := signal.Encode(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(event)).Msg("can't encode frame")
		return
	}

	r.mu.Lock()
	conn, ok := r.conns[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := conn.sender.Write(frame); err != nil {
		r.log.Debug().Err(err).Str("conn", id.String()).Msg("dropped frame")
		return
	}
	telemetry.EventRelayed(string(event))
}

// deliverRemote replays a frame broadcast on another relay node to the
// local members of the room. Sender exclusion already happened on the
// origin node.
func (r *Relay) deliverRemote(roomID core.RoomID, frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.rooms[roomID] {
		if err := conn.sender.Write(frame); err != nil {
			r.log.Debug().Err(err).Str("conn", id.String()).Msg("dropped remote frame")
		}
	}
}

func (r *Relay) removeLocked(conn *connection, roomID core.RoomID) {
	delete(conn.rooms, roomID)
	members, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(members, conn.id)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
}
