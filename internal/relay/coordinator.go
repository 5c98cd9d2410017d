package relay

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/signal"
)

// LiveStater mirrors the co-edit channel into a store late joiners can
// read. Updates are best effort; failures never block forwarding.
type LiveStater interface {
	SetCode(ctx context.Context, roomID core.RoomID, code string) error
	SetInput(ctx context.Context, roomID core.RoomID, input string) error
	SetOutput(ctx context.Context, roomID core.RoomID, output string) error
	SetLanguage(ctx context.Context, roomID core.RoomID, language string) error
}

// Coordinator implements the signaling protocol on top of the relay: it
// decodes inbound frames and applies the forwarding rule of each event.
// It keeps no per-call state; all it knows is which event goes where.
type Coordinator struct {
	relay *Relay
	state LiveStater
	log   zerolog.Logger
}

func NewCoordinator(relay *Relay, state LiveStater) *Coordinator {
	return &Coordinator{
		relay: relay,
		state: state,
		log:   log.With().Str("service", "coordinator").Logger(),
	}
}

// HandleMessage dispatches one inbound frame from the given connection.
// Malformed frames and unknown events are logged and dropped.
func (c *Coordinator) HandleMessage(connID core.ConnectionID, data []byte) {
	env, err := signal.EnvelopeFromReader(bytes.NewReader(data))
	if err != nil {
		c.log.Warn().Err(err).Str("conn", connID.String()).Msg("malformed frame")
		return
	}

	switch env.Event {
	case signal.JoinRoomEvent:
		c.handleJoinRoom(connID, env.Data)
	case signal.CodeChangeEvent:
		c.handleCodeChange(connID, env.Data)
	case signal.InputChangeEvent:
		c.handleInputChange(connID, env.Data)
	case signal.OutputChangeEvent:
		c.handleOutputChange(connID, env.Data)
	case signal.LanguageChangeEvent:
		c.handleLanguageChange(connID, env.Data)
	case signal.JoinVideoRoomEvent:
		c.handleJoinVideoRoom(connID, env.Data)
	case signal.OfferEvent:
		c.handleOffer(connID, env.Data)
	case signal.AnswerEvent:
		c.handleAnswer(connID, env.Data)
	case signal.ICECandidateEvent:
		c.handleICECandidate(connID, env.Data)
	case signal.ToggleAudioEvent:
		c.handleToggleAudio(connID, env.Data)
	case signal.ToggleVideoEvent:
		c.handleToggleVideo(connID, env.Data)
	default:
		c.log.Warn().Str("event", string(env.Event)).Msg("unknown event")
	}
}

// HandleDisconnect fans user-left out to every room the connection was in,
// then drops the connection. Best effort: peers must tolerate duplicate or
// missing leave notifications.
func (c *Coordinator) HandleDisconnect(connID core.ConnectionID) {
	for _, roomID := range c.relay.RoomsOf(connID) {
		c.relay.BroadcastToRoom(roomID, signal.UserLeftEvent, signal.UserLeft{SocketID: connID}, connID)
	}
	c.relay.Disconnect(connID)
}

func (c *Coordinator) handleJoinRoom(connID core.ConnectionID, data []byte) {
	var p signal.JoinRoom
	if !c.decode(connID, signal.JoinRoomEvent, data, &p) {
		return
	}
	c.relay.Join(connID, p.RoomID)
	// The whole room, joiner included, refreshes its member list.
	c.relay.BroadcastToRoom(p.RoomID, signal.RoomUpdatedEvent, nil, "")
}

func (c *Coordinator) handleCodeChange(connID core.ConnectionID, data []byte) {
	var p signal.CodeChange
	if !c.decode(connID, signal.CodeChangeEvent, data, &p) {
		return
	}
	c.relay.BroadcastToRoom(p.RoomID, signal.CodeUpdateEvent, p.Code, connID)
	if c.state != nil {
		if err := c.state.SetCode(context.Background(), p.RoomID, p.Code); err != nil {
			c.log.Error().Err(err).Str("room", p.RoomID.String()).Msg("can't mirror code state")
		}
	}
}

func (c *Coordinator) handleInputChange(connID core.ConnectionID, data []byte) {
	var p signal.InputChange
	if !c.decode(connID, signal.InputChangeEvent, data, &p) {
		return
	}
	c.relay.BroadcastToRoom(p.RoomID, signal.InputUpdateEvent, p.Input, connID)
	if c.state != nil {
		if err := c.state.SetInput(context.Background(), p.RoomID, p.Input); err != nil {
			c.log.Error().Err(err).Str("room", p.RoomID.String()).Msg("can't mirror input state")
		}
	}
}

func (c *Coordinator) handleOutputChange(connID core.ConnectionID, data []byte) {
	var p signal.OutputChange
	if !c.decode(connID, signal.OutputChangeEvent, data, &p) {
		return
	}
	c.relay.BroadcastToRoom(p.RoomID, signal.OutputUpdateEvent, p.Output, connID)
	if c.state != nil {
		if err := c.state.SetOutput(context.Background(), p.RoomID, p.Output); err != nil {
			c.log.Error().Err(err).Str("room", p.RoomID.String()).Msg("can't mirror output state")
		}
	}
}

func (c *Coordinator) handleLanguageChange(connID core.ConnectionID, data []byte) {
	var p signal.LanguageChange
	if !c.decode(connID, signal.LanguageChangeEvent, data, &p) {
		return
	}
	c.relay.BroadcastToRoom(p.RoomID, signal.LanguageUpdateEvent, p.Language, connID)
	if c.state != nil {
		if err := c.state.SetLanguage(context.Background(), p.RoomID, p.Language); err != nil {
			c.log.Error().Err(err).Str("room", p.RoomID.String()).Msg("can't mirror language state")
		}
	}
}

func (c *Coordinator) handleJoinVideoRoom(connID core.ConnectionID, data []byte) {
	var p signal.JoinVideoRoom
	if !c.decode(connID, signal.JoinVideoRoomEvent, data, &p) {
		return
	}
	c.relay.Join(connID, p.RoomID)
	// Existing members learn about the newcomer and become the offer
	// initiators for their pair. Exactly one side of each pair sees this
	// event, which is what keeps the mesh glare-free.
	c.relay.BroadcastToRoom(p.RoomID, signal.UserJoinedEvent, signal.UserJoined{
		SocketID: connID,
		UserID:   p.UserID,
		Name:     p.Name,
		Avatar:   p.Avatar,
	}, connID)
}

func (c *Coordinator) handleOffer(connID core.ConnectionID, data []byte) {
	var p signal.Offer
	if !c.decode(connID, signal.OfferEvent, data, &p) {
		return
	}
	c.relay.SendToConnection(p.To, signal.OfferEvent, signal.Offer{
		Offer:  p.Offer,
		From:   p.From,
		Name:   p.Name,
		Avatar: p.Avatar,
	})
}

func (c *Coordinator) handleAnswer(connID core.ConnectionID, data []byte) {
	var p signal.Answer
	if !c.decode(connID, signal.AnswerEvent, data, &p) {
		return
	}
	c.relay.SendToConnection(p.To, signal.AnswerEvent, signal.Answer{
		Answer: p.Answer,
		From:   p.From,
	})
}

func (c *Coordinator) handleICECandidate(connID core.ConnectionID, data []byte) {
	var p signal.ICECandidate
	if !c.decode(connID, signal.ICECandidateEvent, data, &p) {
		return
	}
	c.relay.SendToConnection(p.To, signal.ICECandidateEvent, signal.ICECandidate{
		Candidate: p.Candidate,
		From:      p.From,
	})
}

func (c *Coordinator) handleToggleAudio(connID core.ConnectionID, data []byte) {
	var p signal.ToggleAudio
	if !c.decode(connID, signal.ToggleAudioEvent, data, &p) {
		return
	}
	c.relay.BroadcastToRoom(p.RoomID, signal.UserToggledAudioEvent, signal.UserToggledAudio{
		SocketID: connID,
		IsMuted:  p.IsMuted,
	}, connID)
}

func (c *Coordinator) handleToggleVideo(connID core.ConnectionID, data []byte) {
	var p signal.ToggleVideo
	if !c.decode(connID, signal.ToggleVideoEvent, data, &p) {
		return
	}
	c.relay.BroadcastToRoom(p.RoomID, signal.UserToggledVideoEvent, signal.UserToggledVideo{
		SocketID:     connID,
		IsVideoMuted: p.IsVideoMuted,
	}, connID)
}

func (c *Coordinator) decode(connID core.ConnectionID, event signal.Event, data []byte, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn().Err(err).Str("conn", connID.String()).Str("event", string(event)).Msg("bad payload")
		return false
	}
	return true
}
